package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/sensordata-cache/pkg/coordinator"
	"github.com/Sternrassler/sensordata-cache/pkg/filter"
	"github.com/Sternrassler/sensordata-cache/pkg/metrics"
	"github.com/Sternrassler/sensordata-cache/pkg/pagination"
)

// RolePredicate decides whether a caller role may read sensor data.
type RolePredicate func(role string) bool

// allowRoles returns a predicate admitting the listed roles. An empty list
// admits everyone.
func allowRoles(roles []string) RolePredicate {
	if len(roles) == 0 {
		return func(string) bool { return true }
	}
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return func(role string) bool {
		_, ok := set[role]
		return ok
	}
}

type server struct {
	sessions *sessions
	allow    RolePredicate
	redis    *redis.Client
	logger   zerolog.Logger
}

// apiResponse wraps a snapshot. Error is set when the snapshot is the last
// good one shown after a failed fetch.
type apiResponse struct {
	Snapshot *coordinator.Snapshot `json:"snapshot,omitempty"`
	Error    string                `json:"error,omitempty"`
}

func (s *server) routes() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/sensor-data", s.handleRequestData)
	api.HandleFunc("POST /api/sensor-data/next", s.handleNextPage)
	api.HandleFunc("POST /api/sensor-data/refresh", s.handleRefresh)
	api.HandleFunc("GET /api/sensor-data/snapshot", s.handleSnapshot)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.Handle("/api/", s.roleGate(api))

	return s.requestID(mux)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok", "redis": "disabled"}
	code := http.StatusOK

	if s.redis != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.redis.Ping(ctx).Err(); err != nil {
			status["status"] = "degraded"
			status["redis"] = "unavailable"
			code = http.StatusServiceUnavailable
		} else {
			status["redis"] = "ok"
		}
	}

	writeJSON(w, code, status)
}

func (s *server) handleRequestData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	spec := filter.Spec{
		StartDate:  q.Get("start"),
		EndDate:    q.Get("end"),
		Location:   q.Get("location"),
		RecordType: q.Get("type"),
		SortOrder:  filter.SortOrder(q.Get("sort")),
	}

	var opts coordinator.Options
	var err error
	if opts.ForceRefresh, err = queryBool(q.Get("refresh")); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid refresh parameter"})
		return
	}
	if opts.AllowStale, err = queryBool(q.Get("stale")); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "invalid stale parameter"})
		return
	}

	coord := s.coordinatorFor(w, r)
	snap, err := coord.RequestData(r.Context(), spec, opts)
	s.respond(w, r, snap, err)
}

func (s *server) handleNextPage(w http.ResponseWriter, r *http.Request) {
	fp := filter.Fingerprint(r.URL.Query().Get("fp"))
	if fp == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "fp is required"})
		return
	}
	snap, err := s.coordinatorFor(w, r).LoadNextPage(r.Context(), fp)
	s.respond(w, r, snap, err)
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	coord := s.coordinatorFor(w, r)
	fp := filter.Fingerprint(r.URL.Query().Get("fp"))
	if fp == "" {
		fp = coord.Active()
	}
	if fp == "" {
		writeJSON(w, http.StatusBadRequest, apiResponse{Error: "fp is required"})
		return
	}
	snap, err := coord.ForceRefresh(r.Context(), fp)
	s.respond(w, r, snap, err)
}

func (s *server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.coordinatorFor(w, r).Snapshot(r.Context())
	s.respond(w, r, snap, err)
}

// coordinatorFor returns the caller's session coordinator and echoes the
// session id. A caller without a session is given a new one.
func (s *server) coordinatorFor(w http.ResponseWriter, r *http.Request) *coordinator.Coordinator {
	coord, id, created := s.sessions.get(sessionID(r))
	w.Header().Set(sessionHeader, id)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    id,
			Path:     "/api/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		zerolog.Ctx(r.Context()).Debug().Str("session", id).Msg("Session started")
	}
	return coord
}

// respond writes snap. A failed fetch that still has last good records to
// show is a 200 carrying the error text.
func (s *server) respond(w http.ResponseWriter, r *http.Request, snap *coordinator.Snapshot, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, apiResponse{Snapshot: snap})
		return
	}

	zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Sensor data request failed")

	status := statusFor(err)
	if snap != nil && len(snap.Records) > 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, apiResponse{Snapshot: snap, Error: err.Error()})
}

// statusFor maps coordinator errors to HTTP status codes.
func statusFor(err error) int {
	var fetchErr *pagination.FetchError
	var seqErr *pagination.SequenceError

	switch {
	case errors.Is(err, coordinator.ErrUnknownFingerprint):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &seqErr):
		return http.StatusConflict
	case errors.As(err, &fetchErr):
		if fetchErr.Timeout {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// roleGate rejects callers whose X-User-Role the predicate refuses.
func (s *server) roleGate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role := r.Header.Get("X-User-Role")
		if !s.allow(role) {
			zerolog.Ctx(r.Context()).Warn().Str("role", role).Msg("Role not allowed")
			writeJSON(w, http.StatusForbidden, apiResponse{Error: "role not allowed"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestID tags every request with an id, attaches a request logger to its
// context and logs the outcome.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		logger := s.logger.With().Str("request_id", id).Logger()
		r = r.WithContext(logger.WithContext(r.Context()))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func queryBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
