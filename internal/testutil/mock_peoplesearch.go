// Package testutil provides testing utilities for the lead harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockSearchResponse defines the behavior for one mock people-search response.
type MockSearchResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// SearchRequest captures the decoded cursor of a request to the mock.
type SearchRequest struct {
	Type   string
	Page   int
	Limit  int
	Params map[string]any
}

// MockPeopleSearch is a configurable mock people-search upstream for testing.
// Responses can be scripted per page; unscripted pages are generated from a
// simple total/perPage dataset.
type MockPeopleSearch struct {
	server  *httptest.Server
	mu      sync.RWMutex
	pages   map[int][]MockSearchResponse
	total   int
	perPage int

	// Tracking
	RequestCount int
	PageCounts   map[int]int
	LastRequest  SearchRequest
}

// NewMockPeopleSearch creates a new mock upstream serving 30 generated
// records in pages of 10 until scripted otherwise.
func NewMockPeopleSearch() *MockPeopleSearch {
	mock := &MockPeopleSearch{
		pages:      make(map[int][]MockSearchResponse),
		total:      30,
		perPage:    10,
		PageCounts: make(map[int]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockPeopleSearch) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockPeopleSearch) Close() {
	m.server.Close()
}

// Reset clears all scripts and tracking counters.
func (m *MockPeopleSearch) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages = make(map[int][]MockSearchResponse)
	m.RequestCount = 0
	m.PageCounts = make(map[int]int)
	m.LastRequest = SearchRequest{}
}

// ServePages configures the generated dataset for unscripted pages.
func (m *MockPeopleSearch) ServePages(total, perPage int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = total
	m.perPage = perPage
}

// ScriptPage queues a response for the given page. Queued responses are
// served in order; the last one is sticky, so a page scripted with a single
// throttle keeps throttling across retries.
func (m *MockPeopleSearch) ScriptPage(page int, responses ...MockSearchResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[page] = append(m.pages[page], responses...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockPeopleSearch) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPageCount returns the number of requests made for a specific page.
func (m *MockPeopleSearch) GetPageCount(page int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PageCounts[page]
}

// GetLastRequest returns the most recently decoded request cursor.
func (m *MockPeopleSearch) GetLastRequest() SearchRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastRequest
}

func (m *MockPeopleSearch) handle(w http.ResponseWriter, r *http.Request) {
	req := decodeSearchRequest(r)

	m.mu.Lock()
	m.RequestCount++
	m.PageCounts[req.Page]++
	m.LastRequest = req

	var scripted *MockSearchResponse
	if queue := m.pages[req.Page]; len(queue) > 0 {
		resp := queue[0]
		if len(queue) > 1 {
			m.pages[req.Page] = queue[1:]
		}
		scripted = &resp
	}
	total, perPage := m.total, m.perPage
	m.mu.Unlock()

	if scripted != nil {
		writeMockResponse(w, *scripted)
		return
	}
	writeMockResponse(w, NewPageResponse(req.Page, perPage, total))
}

// decodeSearchRequest reads the page cursor from either a shaped POST body or
// a direct GET's query string.
func decodeSearchRequest(r *http.Request) SearchRequest {
	req := SearchRequest{Page: 1, Limit: 100, Params: map[string]any{}}

	if r.Method == http.MethodGet {
		q := r.URL.Query()
		req.Type = q.Get("type")
		if v, err := strconv.Atoi(q.Get("page")); err == nil {
			req.Page = v
		}
		if v, err := strconv.Atoi(q.Get("limit")); err == nil {
			req.Limit = v
		}
		return req
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return req
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return req
	}
	if v, ok := payload["type"].(string); ok {
		req.Type = v
	}
	if v, ok := payload["page"].(float64); ok {
		req.Page = int(v)
	}
	if v, ok := payload["limit"].(float64); ok {
		req.Limit = int(v)
	}
	req.Params = payload
	return req
}

func writeMockResponse(w http.ResponseWriter, resp MockSearchResponse) {
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

// NewPageResponse creates a healthy page of generated person records in the
// upstream's envelope.
func NewPageResponse(page, perPage, total int) MockSearchResponse {
	start := (page - 1) * perPage
	count := total - start
	if count < 0 {
		count = 0
	}
	if count > perPage {
		count = perPage
	}

	records := make([]map[string]any, count)
	for i := range records {
		n := start + i
		records[i] = map[string]any{
			"id":    fmt.Sprintf("person-%04d", n),
			"name":  fmt.Sprintf("Test Person %d", n),
			"city":  "Springfield",
			"state": "IL",
		}
	}

	payload := map[string]any{
		"success": true,
		"response": map[string]any{
			"data": records,
			"pagination": map[string]any{
				"total":   total,
				"count":   count,
				"start":   start,
				"hasMore": start+count < total,
			},
		},
	}
	body, _ := json.Marshal(payload)

	return MockSearchResponse{
		StatusCode: http.StatusOK,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response with a
// Retry-After header.
func NewRateLimitResponse(retryAfterSeconds int) MockSearchResponse {
	return MockSearchResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message": "Rate limit exceeded. Try again later."}`,
		Headers: map[string]string{
			"Retry-After":  strconv.Itoa(retryAfterSeconds),
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewFrozenResponse creates the account suspension response the upstream
// sends after sustained overuse.
func NewFrozenResponse(minutes int) MockSearchResponse {
	body := fmt.Sprintf(`{"message": "Account system frozen for %d mins due to unusual activity"}`, minutes)
	return MockSearchResponse{
		StatusCode: http.StatusForbidden,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewLogicalThrottleResponse creates a 200 OK whose body reports rate
// limiting, the way the upstream throttles without an HTTP error status.
func NewLogicalThrottleResponse(waitSeconds int) MockSearchResponse {
	body := fmt.Sprintf(`{"success": false, "rateLimited": true, "waitSeconds": %d, "message": "Too many requests"}`, waitSeconds)
	return MockSearchResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockSearchResponse {
	return MockSearchResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
