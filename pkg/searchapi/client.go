// Package searchapi provides the HTTP client for the upstream people-search
// API: request shaping, response normalization across the known envelope
// shapes, and typed error classification.
package searchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for upstream page fetches.
var (
	pageRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadharvest_page_requests_total",
		Help: "Total page fetches by outcome",
	}, []string{"outcome"})

	pageRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "leadharvest_page_request_duration_seconds",
		Help:    "Page fetch duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	})

	fetchErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadharvest_fetch_errors_total",
		Help: "Classified fetch errors by kind",
	}, []string{"kind"})
)

// DefaultPageLimit is used when the caller passes a non-positive limit.
const DefaultPageLimit = 100

// Query describes one search against the upstream endpoint. A Query is
// immutable for the lifetime of a harvest session.
type Query struct {
	// ResultType is the upstream result-type marker. Defaults to "person".
	ResultType string

	// Params are free-form search parameters passed through to the upstream.
	Params map[string]string

	// DirectURL bypasses request shaping and fetches the given endpoint
	// directly, with page and limit merged into its query string.
	DirectURL string
}

// Config holds the search client configuration.
type Config struct {
	// BaseURL of the people-search endpoint, without trailing slash.
	// Required unless every query carries a DirectURL.
	BaseURL string

	// APIKey is sent as X-RapidAPI-Key.
	APIKey string

	// APIHost is sent as X-RapidAPI-Host when set.
	APIHost string

	// UserAgent for outbound requests.
	UserAgent string

	// RequestTimeout bounds each page fetch. Defaults to 30s.
	RequestTimeout time.Duration

	// HTTPClient overrides the default transport (for testing).
	HTTPClient *http.Client
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, apiKey string) Config {
	return Config{
		BaseURL:        baseURL,
		APIKey:         apiKey,
		UserAgent:      "my-lead-engine/1.0",
		RequestTimeout: 30 * time.Second,
	}
}

// Client fetches single pages from the upstream people-search API. It
// performs exactly one HTTP request per call; retry and pacing decisions
// belong to the orchestrator.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new search client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "my-lead-engine/1.0"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     log.With().Str("component", "searchapi").Logger(),
	}, nil
}

// FetchPage retrieves one page of search results. It never retries: a failed
// call returns a classified *FetchError and the orchestrator decides what
// happens next. The call is bounded by the configured request timeout on top
// of the caller's context.
func (c *Client) FetchPage(ctx context.Context, query Query, page, limit int) (*PageResult, error) {
	if page < 1 {
		return nil, fmt.Errorf("page must be >= 1 (got %d)", page)
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := c.buildRequest(ctx, query, page, limit)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	pageRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, c.transportFailed(page, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, c.transportFailed(page, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 400 {
		fe := Classify(resp.StatusCode, resp.Header.Get("Retry-After"), body)
		c.observeError(page, fe)
		return nil, fe
	}

	var payload map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			fe := &FetchError{
				Kind:       KindGeneric,
				StatusCode: resp.StatusCode,
				Message:    "invalid response body",
				Err:        err,
			}
			c.observeError(page, fe)
			return nil, fe
		}
	}

	// Some endpoints report failure inside a 2xx envelope.
	if logicalFailure(payload) {
		fe := classifyPayload(resp.StatusCode, resp.Header.Get("Retry-After"), payload)
		c.observeError(page, fe)
		return nil, fe
	}

	result := normalizePayload(payload)
	if !result.Pagination.HasMoreSet {
		p := &result.Pagination
		p.HasMore = p.Start+p.Count < p.Total
	}

	pageRequestsTotal.WithLabelValues("ok").Inc()
	c.logger.Debug().
		Int("page", page).
		Int("records", len(result.Records)).
		Bool("has_more", result.Pagination.HasMore).
		Dur("duration", time.Since(start)).
		Msg("Page fetched")

	return result, nil
}

// buildRequest shapes the upstream request. Direct-URL queries go out as GET
// with the cursor merged into the query string; everything else is a JSON
// POST against the configured search endpoint.
func (c *Client) buildRequest(ctx context.Context, query Query, page, limit int) (*http.Request, error) {
	if query.DirectURL != "" {
		u, err := url.Parse(query.DirectURL)
		if err != nil {
			return nil, fmt.Errorf("parse direct url: %w", err)
		}
		q := u.Query()
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(limit))
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		c.setHeaders(req)
		return req, nil
	}

	if c.config.BaseURL == "" {
		return nil, fmt.Errorf("base url is required for shaped queries")
	}

	resultType := query.ResultType
	if resultType == "" {
		resultType = "person"
	}
	body := map[string]any{
		"type":  resultType,
		"page":  page,
		"limit": limit,
	}
	for k, v := range query.Params {
		// The cursor keys always win; callers cannot override them.
		if k == "type" || k == "page" || k == "limit" {
			continue
		}
		body[k] = v
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)
	return req, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("X-RapidAPI-Key", c.config.APIKey)
	if c.config.APIHost != "" {
		req.Header.Set("X-RapidAPI-Host", c.config.APIHost)
	}
}

// transportFailed maps transport-level errors. Cancellation passes through so
// callers can match it with errors.Is; timeouts and everything else become
// generic fetch errors.
func (c *Client) transportFailed(page int, err error) error {
	if errors.Is(err, context.Canceled) {
		pageRequestsTotal.WithLabelValues("cancelled").Inc()
		return fmt.Errorf("page %d fetch cancelled: %w", page, err)
	}

	fe := &FetchError{Kind: KindGeneric, Message: "request failed", Err: err}
	if errors.Is(err, context.DeadlineExceeded) {
		fe.Message = "request timed out"
	}
	c.observeError(page, fe)
	return fe
}

func (c *Client) observeError(page int, fe *FetchError) {
	fetchErrorsTotal.WithLabelValues(string(fe.Kind)).Inc()
	pageRequestsTotal.WithLabelValues(string(fe.Kind)).Inc()
	c.logger.Debug().
		Int("page", page).
		Int("status", fe.StatusCode).
		Str("error_kind", string(fe.Kind)).
		Msg("Page fetch failed")
}

// logicalFailure reports a failure flagged inside a 2xx envelope.
func logicalFailure(payload map[string]any) bool {
	success, ok := payload["success"].(bool)
	return ok && !success
}
