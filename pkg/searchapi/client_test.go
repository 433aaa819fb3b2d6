package searchapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()

	client, err := New(Config{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		APIHost:        "people-search.example.com",
		RequestTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectError bool
		errorMsg    string
	}{
		{
			name:        "valid config",
			config:      Config{BaseURL: "https://api.example.com", APIKey: "key"},
			expectError: false,
		},
		{
			name:        "missing api key",
			config:      Config{BaseURL: "https://api.example.com"},
			expectError: true,
			errorMsg:    "api key is required",
		},
		{
			name:        "base url optional for direct-url callers",
			config:      Config{APIKey: "key"},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := New(tt.config)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got nil")
					return
				}
				if tt.errorMsg != "" && err.Error() != tt.errorMsg {
					t.Errorf("Error message = %q, want %q", err.Error(), tt.errorMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Unexpected error: %v", err)
					return
				}
				if client == nil {
					t.Error("Client is nil")
				}
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("https://api.example.com", "key")

	if cfg.BaseURL != "https://api.example.com" {
		t.Errorf("BaseURL = %q, want the given url", cfg.BaseURL)
	}
	if cfg.APIKey != "key" {
		t.Errorf("APIKey = %q, want %q", cfg.APIKey, "key")
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %s, want 30s", cfg.RequestTimeout)
	}
	if cfg.UserAgent == "" {
		t.Error("UserAgent should have a default")
	}
}

func TestFetchPage_ShapedRequest(t *testing.T) {
	var gotMethod, gotPath, gotKey, gotHost string
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-RapidAPI-Key")
		gotHost = r.Header.Get("X-RapidAPI-Host")
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":[{"name":"Ada"}],"pagination":{"total":1,"count":1,"start":0,"hasMore":false}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	query := Query{
		ResultType: "person",
		Params:     map[string]string{"state": "CA", "page": "999"},
	}
	result, err := client.FetchPage(context.Background(), query, 2, 25)
	if err != nil {
		t.Fatalf("FetchPage() failed: %v", err)
	}

	if gotMethod != http.MethodPost || gotPath != "/search" {
		t.Errorf("Request = %s %s, want POST /search", gotMethod, gotPath)
	}
	if gotKey != "test-key" || gotHost != "people-search.example.com" {
		t.Errorf("Auth headers = %q/%q, want configured key and host", gotKey, gotHost)
	}
	if gotBody["type"] != "person" {
		t.Errorf("Body type = %v, want person", gotBody["type"])
	}
	if gotBody["page"] != float64(2) {
		t.Errorf("Body page = %v, want 2 (caller params must not override the cursor)", gotBody["page"])
	}
	if gotBody["limit"] != float64(25) {
		t.Errorf("Body limit = %v, want 25", gotBody["limit"])
	}
	if gotBody["state"] != "CA" {
		t.Errorf("Body state = %v, want CA", gotBody["state"])
	}
	if len(result.Records) != 1 {
		t.Errorf("len(Records) = %d, want 1", len(result.Records))
	}
}

func TestFetchPage_DirectURL(t *testing.T) {
	var gotQuery map[string][]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":[{"name":"Ada"}]}`))
	}))
	defer server.Close()

	// No base url configured: direct queries must still work.
	client, err := New(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	query := Query{DirectURL: server.URL + "/v2/people?source=saved"}
	if _, err := client.FetchPage(context.Background(), query, 3, 50); err != nil {
		t.Fatalf("FetchPage() failed: %v", err)
	}

	if got := gotQuery["source"]; len(got) != 1 || got[0] != "saved" {
		t.Errorf("source = %v, want the original query preserved", got)
	}
	if got := gotQuery["page"]; len(got) != 1 || got[0] != "3" {
		t.Errorf("page = %v, want [3]", got)
	}
	if got := gotQuery["limit"]; len(got) != 1 || got[0] != "50" {
		t.Errorf("limit = %v, want [50]", got)
	}
}

func TestFetchPage_ShapedQueryRequiresBaseURL(t *testing.T) {
	client, err := New(Config{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	_, err = client.FetchPage(context.Background(), Query{ResultType: "person"}, 1, 10)
	if err == nil {
		t.Fatal("Expected error for shaped query without base url")
	}
}

func TestFetchPage_SingleRequestPerCall(t *testing.T) {
	requestCount := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"rate limit exceeded"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.FetchPage(context.Background(), Query{}, 1, 10)
	if err == nil {
		t.Fatal("Expected error for throttled response")
	}
	if requestCount != 1 {
		t.Errorf("Request count = %d, want exactly 1 (the fetcher never retries)", requestCount)
	}
}

func TestFetchPage_DerivesHasMore(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		hasMore bool
	}{
		{
			name:    "more pages remain",
			body:    `{"data":[{"n":"a"}],"pagination":{"total":100,"count":20,"start":0}}`,
			hasMore: true,
		},
		{
			name:    "exactly consumed",
			body:    `{"data":[{"n":"a"}],"pagination":{"total":40,"count":20,"start":20}}`,
			hasMore: false,
		},
		{
			name:    "explicit hasMore wins over arithmetic",
			body:    `{"data":[{"n":"a"}],"pagination":{"total":100,"count":20,"start":0,"hasMore":false}}`,
			hasMore: false,
		},
		{
			name:    "no pagination at all",
			body:    `{"data":[{"n":"a"}]}`,
			hasMore: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := newTestClient(t, server.URL)

			result, err := client.FetchPage(context.Background(), Query{}, 1, 20)
			if err != nil {
				t.Fatalf("FetchPage() failed: %v", err)
			}
			if result.Pagination.HasMore != tt.hasMore {
				t.Errorf("HasMore = %v, want %v", result.Pagination.HasMore, tt.hasMore)
			}
		})
	}
}

func TestFetchPage_LogicalFailureInsideOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"success":false,"rateLimited":true,"retryAfter":15,"message":"slow down"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.FetchPage(context.Background(), Query{}, 1, 10)

	fe, ok := AsFetchError(err)
	if !ok {
		t.Fatalf("Expected FetchError, got %v", err)
	}
	if fe.Kind != KindRateLimited {
		t.Errorf("Kind = %q, want %q", fe.Kind, KindRateLimited)
	}
	if fe.RetryAfter != 15*time.Second {
		t.Errorf("RetryAfter = %s, want 15s", fe.RetryAfter)
	}
}

func TestFetchPage_ClassifiesHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"Too Many Requests"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.FetchPage(context.Background(), Query{}, 1, 10)

	fe, ok := AsFetchError(err)
	if !ok {
		t.Fatalf("Expected FetchError, got %v", err)
	}
	if fe.Kind != KindRateLimited {
		t.Errorf("Kind = %q, want %q", fe.Kind, KindRateLimited)
	}
	if fe.RetryAfter != 42*time.Second {
		t.Errorf("RetryAfter = %s, want 42s (from Retry-After header)", fe.RetryAfter)
	}
	if fe.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", fe.StatusCode)
	}
}

func TestFetchPage_TimeoutBecomesGeneric(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := New(Config{
		BaseURL:        server.URL,
		APIKey:         "test-key",
		RequestTimeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	_, err = client.FetchPage(context.Background(), Query{}, 1, 10)

	fe, ok := AsFetchError(err)
	if !ok {
		t.Fatalf("Expected FetchError for timeout, got %v", err)
	}
	if fe.Kind != KindGeneric {
		t.Errorf("Kind = %q, want %q (timeouts are not throttles)", fe.Kind, KindGeneric)
	}
	if fe.Message != "request timed out" {
		t.Errorf("Message = %q, want %q", fe.Message, "request timed out")
	}
}

func TestFetchPage_CancellationPassesThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := client.FetchPage(ctx, Query{}, 1, 10)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in the chain, got %v", err)
	}
	if _, ok := AsFetchError(err); ok {
		t.Error("Cancellation should not be classified as a fetch error")
	}
}

func TestFetchPage_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	result, err := client.FetchPage(context.Background(), Query{}, 1, 10)
	if err != nil {
		t.Fatalf("FetchPage() failed: %v", err)
	}
	if len(result.Records) != 0 {
		t.Errorf("len(Records) = %d, want 0", len(result.Records))
	}
	if result.Pagination.HasMore {
		t.Error("HasMore should be false for an empty body")
	}
}

func TestFetchPage_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data": [`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)

	_, err := client.FetchPage(context.Background(), Query{}, 1, 10)

	fe, ok := AsFetchError(err)
	if !ok {
		t.Fatalf("Expected FetchError, got %v", err)
	}
	if fe.Kind != KindGeneric {
		t.Errorf("Kind = %q, want %q", fe.Kind, KindGeneric)
	}
}

func TestFetchPage_RejectsInvalidPage(t *testing.T) {
	client := newTestClient(t, "http://unused.example.com")

	if _, err := client.FetchPage(context.Background(), Query{}, 0, 10); err == nil {
		t.Error("Expected error for page 0")
	}
}
