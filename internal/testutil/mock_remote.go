// Package testutil provides testing utilities for the sensor-data cache.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines a canned response of the mock remote store.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockRemote is a configurable mock of the document-store gateway.
// GET /records serves generated pages; cursors have the form c<page index>.
type MockRemote struct {
	server   *httptest.Server
	mu       sync.RWMutex
	override *MockResponse

	pages          int
	recordsPerPage int
	quota          http.Header

	// Tracking
	RequestCount      int
	LastQuery         url.Values
	LastRequestHeader http.Header
}

// NewMockRemote creates a mock remote serving pages of recordsPerPage records.
func NewMockRemote(pages, recordsPerPage int) *MockRemote {
	mock := &MockRemote{
		pages:          pages,
		recordsPerPage: recordsPerPage,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastQuery = r.URL.Query()
		mock.LastRequestHeader = r.Header.Clone()
		override := mock.override
		mock.mu.Unlock()

		if override != nil {
			writeMockResponse(w, *override)
			return
		}

		if r.URL.Path != "/records" {
			http.NotFound(w, r)
			return
		}
		mock.recordsHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockRemote) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockRemote) Close() {
	m.server.Close()
}

// Reset clears tracking counters and any override.
func (m *MockRemote) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.LastQuery = nil
	m.LastRequestHeader = nil
	m.override = nil
}

// SetResponse makes every request return resp.
func (m *MockRemote) SetResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.override = &resp
}

// SetQuota makes record responses carry X-RateLimit-* headers.
func (m *MockRemote) SetQuota(remaining, resetSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quota = http.Header{}
	m.quota.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	m.quota.Set("X-RateLimit-Reset", strconv.Itoa(resetSeconds))
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockRemote) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetLastQuery returns the query string of the last request.
func (m *MockRemote) GetLastQuery() url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastQuery
}

// GetLastHeader returns the headers of the last request.
func (m *MockRemote) GetLastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequestHeader
}

func (m *MockRemote) recordsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	index := 0
	if c := q.Get("cursor"); c != "" {
		n, err := strconv.Atoi(c[1:])
		if err != nil || c[0] != 'c' {
			writeMockResponse(w, NewBadRequestResponse("invalid cursor"))
			return
		}
		index = n
	}

	count := m.recordsPerPage
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 && limit < count {
		count = limit
	}

	records := make([]map[string]any, count)
	for i := range records {
		records[i] = map[string]any{
			"id":          fmt.Sprintf("%d-%d", index, i),
			"location":    q.Get("location"),
			"record_type": q.Get("type"),
			"value":       float64(i),
		}
	}

	next := ""
	if index+1 < m.pages {
		next = fmt.Sprintf("c%d", index+1)
	}

	m.mu.RLock()
	for key, values := range m.quota {
		w.Header()[key] = values
	}
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"records":     records,
		"next_cursor": next,
	})
}

func writeMockResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewBadRequestResponse creates a 400 Bad Request response.
func NewBadRequestResponse(msg string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       fmt.Sprintf(`{"error": %q}`, msg),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewSlowResponse creates a healthy but delayed empty page.
func NewSlowResponse(delay time.Duration) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"records": [], "next_cursor": ""}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
		Delay: delay,
	}
}
