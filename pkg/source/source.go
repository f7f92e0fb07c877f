// Package source provides the HTTP adapter for the document-store gateway
// that serves sensor records one cursor page at a time.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/sensordata-cache/pkg/cache"
	"github.com/Sternrassler/sensordata-cache/pkg/pagination"
	"github.com/Sternrassler/sensordata-cache/pkg/ratelimit"
)

// maxBodyBytes bounds a decoded page body.
const maxBodyBytes = 32 << 20

// Prometheus metrics for gateway requests.
var (
	remoteRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensor_remote_requests_total",
		Help: "Total gateway requests by status",
	}, []string{"status"})

	remoteRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sensor_remote_request_duration_seconds",
		Help:    "Gateway request duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	remoteErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensor_remote_errors_total",
		Help: "Total gateway errors by class",
	}, []string{"class"})
)

// Config holds the gateway adapter configuration.
type Config struct {
	// BaseURL of the gateway, e.g. "https://records.example.com/v1"
	BaseURL string

	// User-Agent header, "AppName/Version (contact)"
	UserAgent string

	// Token is sent as a bearer token when set
	Token string

	// Timeout of the underlying HTTP client. Fetch deadlines come from the
	// request context; this only bounds a stuck connection.
	Timeout time.Duration

	// Quota gates requests on the gateway's reported quota. Optional.
	Quota *ratelimit.Tracker
}

// DefaultConfig returns a configuration for baseURL.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
	}
}

// HTTPSource implements pagination.Source over the gateway's /records
// endpoint.
type HTTPSource struct {
	httpClient *http.Client
	endpoint   *url.URL
	config     Config
	logger     zerolog.Logger
}

type recordsResponse struct {
	Records    []cache.Record `json:"records"`
	NextCursor string         `json:"next_cursor"`
}

// New creates a gateway adapter.
func New(cfg Config, logger zerolog.Logger) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &HTTPSource{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		endpoint:   base.JoinPath("records"),
		config:     cfg,
		logger:     logger.With().Str("component", "remote-source").Logger(),
	}, nil
}

// FetchPage fetches one page. It never retries; failures are returned as
// *RemoteError.
func (s *HTTPSource) FetchPage(ctx context.Context, req pagination.FetchRequest) (*pagination.FetchResult, error) {
	if s.config.Quota != nil {
		if err := s.config.Quota.Allow(ctx); err != nil {
			class := ErrorClassQuota
			if !errors.Is(err, ratelimit.ErrQuotaExhausted) {
				class = ErrorClassNetwork
			}
			remoteErrorsTotal.WithLabelValues(string(class)).Inc()
			remoteRequestsTotal.WithLabelValues("blocked").Inc()
			return nil, &RemoteError{ErrorClass: class, Message: "request not sent", Err: err}
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.requestURL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", s.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")
	if s.config.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.config.Token)
	}

	startTime := time.Now()
	defer func() {
		remoteRequestDuration.Observe(time.Since(startTime).Seconds())
	}()

	s.logger.Debug().
		Str("cursor", req.Cursor).
		Int("page_size", req.PageSize).
		Int("limit", req.Limit).
		Msg("Fetching page from gateway")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		remoteErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		remoteRequestsTotal.WithLabelValues("network_error").Inc()
		s.logger.Error().Err(err).Str("error_class", string(ErrorClassNetwork)).Msg("Gateway request failed")
		return nil, &RemoteError{ErrorClass: ErrorClassNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	remoteRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if s.config.Quota != nil {
		if err := s.config.Quota.UpdateFromHeaders(ctx, resp.Header); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to update quota from headers")
		}
	}

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		remoteErrorsTotal.WithLabelValues(string(class)).Inc()
		s.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Gateway request error")

		return nil, &RemoteError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    errorMessage(resp),
		}
	}

	var body recordsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		remoteErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return nil, &RemoteError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassServer,
			Message:    "malformed records body",
			Err:        err,
		}
	}

	return &pagination.FetchResult{
		Records:    body.Records,
		NextCursor: body.NextCursor,
	}, nil
}

// requestURL renders the query string of req. Empty parameters are omitted.
func (s *HTTPSource) requestURL(req pagination.FetchRequest) string {
	q := url.Values{}
	set := func(key, value string) {
		if value != "" {
			q.Set(key, value)
		}
	}
	set("start", req.Filter.StartDate)
	set("end", req.Filter.EndDate)
	set("location", req.Filter.Location)
	set("type", req.Filter.RecordType)
	set("sort", string(req.Filter.SortOrder))
	set("cursor", req.Cursor)
	if req.PageSize > 0 {
		q.Set("page_size", strconv.Itoa(req.PageSize))
	}
	if req.Limit > 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}

	u := *s.endpoint
	u.RawQuery = q.Encode()
	return u.String()
}

// errorMessage extracts {"error": "..."} from an error body, falling back to
// the status text.
func errorMessage(resp *http.Response) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error != "" {
		return body.Error
	}
	return resp.Status
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (s *HTTPSource) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}
