package main

import (
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/sensordata-cache/pkg/cache"
	"github.com/Sternrassler/sensordata-cache/pkg/coordinator"
	"github.com/Sternrassler/sensordata-cache/pkg/pagination"
)

const (
	sessionHeader = "X-Session-ID"
	sessionCookie = "sensor_session"

	defaultMaxSessions = 1024
	defaultSessionIdle = 30 * time.Minute
)

var validSessionID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

var (
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sensor_api_sessions",
		Help: "Current number of client sessions holding a coordinator",
	})

	sessionsEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensor_api_sessions_evicted_total",
		Help: "Total client sessions dropped by reason",
	}, []string{"reason"}) // "idle", "capacity"
)

type session struct {
	coord    *coordinator.Coordinator
	lastUsed time.Time
}

// sessions gives every client its own coordinator, so debounce windows,
// the active filter and pagination state never cross between clients. All
// coordinators share one page store.
type sessions struct {
	source pagination.Source
	store  cache.Store
	config coordinator.Config
	logger zerolog.Logger
	max    int
	idle   time.Duration
	now    func() time.Time

	mu     sync.Mutex
	byID   map[string]*session
	closed bool
}

func newSessions(source pagination.Source, store cache.Store, cfg coordinator.Config, max int, idle time.Duration, logger zerolog.Logger) *sessions {
	if store == nil {
		store = cache.NewMemoryStore()
	}
	if max <= 0 {
		max = defaultMaxSessions
	}
	if idle <= 0 {
		idle = defaultSessionIdle
	}
	return &sessions{
		source: source,
		store:  store,
		config: cfg,
		logger: logger,
		max:    max,
		idle:   idle,
		now:    time.Now,
		byID:   make(map[string]*session),
	}
}

// get returns the coordinator of id, creating the session when id is unknown.
// An empty or malformed id gets a freshly minted one.
func (s *sessions) get(id string) (*coordinator.Coordinator, string, bool) {
	if !validSessionID.MatchString(id) {
		id = uuid.NewString()
	}

	s.mu.Lock()
	now := s.now()
	if sess, ok := s.byID[id]; ok {
		sess.lastUsed = now
		s.mu.Unlock()
		return sess.coord, id, false
	}

	var evicted []*coordinator.Coordinator
	for key, sess := range s.byID {
		if now.Sub(sess.lastUsed) >= s.idle {
			evicted = append(evicted, sess.coord)
			delete(s.byID, key)
			sessionsEvicted.WithLabelValues("idle").Inc()
		}
	}
	for len(s.byID) >= s.max {
		oldest := ""
		for key, sess := range s.byID {
			if oldest == "" || sess.lastUsed.Before(s.byID[oldest].lastUsed) {
				oldest = key
			}
		}
		evicted = append(evicted, s.byID[oldest].coord)
		delete(s.byID, oldest)
		sessionsEvicted.WithLabelValues("capacity").Inc()
	}

	coord := coordinator.New(s.source, s.store, s.config, s.logger.With().Str("session", id).Logger())
	if s.closed {
		coord.Close()
	} else {
		s.byID[id] = &session{coord: coord, lastUsed: now}
	}
	sessionsActive.Set(float64(len(s.byID)))
	s.mu.Unlock()

	for _, c := range evicted {
		c.Close()
	}
	if len(evicted) > 0 {
		s.logger.Debug().Int("evicted", len(evicted)).Msg("Dropped client sessions")
	}
	return coord, id, true
}

// Len returns the number of live sessions.
func (s *sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Close closes every session coordinator. Later lookups get closed ones.
func (s *sessions) Close() {
	s.mu.Lock()
	s.closed = true
	all := s.byID
	s.byID = make(map[string]*session)
	sessionsActive.Set(0)
	s.mu.Unlock()

	for _, sess := range all {
		sess.coord.Close()
	}
}

// sessionID reads the client session from the header, then the cookie.
func sessionID(r *http.Request) string {
	if id := r.Header.Get(sessionHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return c.Value
	}
	return ""
}
