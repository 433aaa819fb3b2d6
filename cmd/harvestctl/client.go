package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linkpellow/my-lead-engine-sub001/pkg/runlog"
)

// apiClient is a minimal REST client for harvestd.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(daemonAddr, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type startRequest struct {
	Type       string            `json:"type,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
	DirectURL  string            `json:"directUrl,omitempty"`
	Target     string            `json:"target,omitempty"`
	MaxPages   int               `json:"maxPages,omitempty"`
	MaxResults int               `json:"maxResults,omitempty"`
	PageLimit  int               `json:"pageLimit,omitempty"`
}

type searchStatus struct {
	SessionID     string        `json:"sessionId"`
	State         string        `json:"state"`
	Page          int           `json:"page"`
	MaxPages      int           `json:"maxPages"`
	Records       int           `json:"records"`
	RecordsPerSec float64       `json:"recordsPerSec"`
	RemainingMs   int64         `json:"remainingMs"`
	StartedAt     int64         `json:"startedAt"`
	Reason        string        `json:"reason"`
	Message       string        `json:"message"`
	FinishedAt    int64         `json:"finishedAt"`
	Cooldown      *cooldownInfo `json:"cooldown"`
}

type cooldownInfo struct {
	Reason      string `json:"reason"`
	ExpiresAt   int64  `json:"expiresAt"`
	RemainingMs int64  `json:"remainingMs"`
}

type recordsPayload struct {
	SessionID string           `json:"sessionId"`
	Reason    string           `json:"reason"`
	Pages     int              `json:"pages"`
	Count     int              `json:"count"`
	Records   []map[string]any `json:"records"`
}

func (c *apiClient) startSearch(req startRequest) (string, error) {
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := c.do(http.MethodPost, "/v1/searches", req, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func (c *apiClient) status(id string) (*searchStatus, error) {
	var out searchStatus
	if err := c.do(http.MethodGet, "/v1/searches/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) records(id string) (*recordsPayload, error) {
	var out recordsPayload
	if err := c.do(http.MethodGet, "/v1/searches/"+id+"/records", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) cancel(id string) error {
	return c.do(http.MethodDelete, "/v1/searches/"+id, nil, nil)
}

// cooldown returns the active window, or nil when harvesting is allowed.
func (c *apiClient) cooldown() (*cooldownInfo, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/v1/cooldown", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("harvestd unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s", apiErrorMessage(resp.StatusCode, raw))
	}

	var out cooldownInfo
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func (c *apiClient) runs(target string, limit int) ([]runlog.RunRecord, error) {
	var out struct {
		Target string             `json:"target"`
		Runs   []runlog.RunRecord `json:"runs"`
	}
	path := fmt.Sprintf("/v1/targets/%s/runs?limit=%d", target, limit)
	if err := c.do(http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Runs, nil
}

func (c *apiClient) stats(target string) (map[string]string, error) {
	var out struct {
		Target string            `json:"target"`
		Stats  map[string]string `json:"stats"`
	}
	if err := c.do(http.MethodGet, "/v1/targets/"+target+"/stats", nil, &out); err != nil {
		return nil, err
	}
	return out.Stats, nil
}

func (c *apiClient) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("harvestd unreachable: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s", apiErrorMessage(resp.StatusCode, raw))
	}
	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// apiErrorMessage flattens harvestd's error envelope into a printable line.
func apiErrorMessage(status int, raw []byte) string {
	var payload struct {
		Error     string `json:"error"`
		Reason    string `json:"reason"`
		SessionID string `json:"sessionId"`
		ExpiresAt int64  `json:"expiresAt"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil || payload.Error == "" {
		return fmt.Sprintf("harvestd returned status %d", status)
	}

	msg := payload.Error
	if payload.Reason != "" && payload.ExpiresAt > 0 {
		until := time.UnixMilli(payload.ExpiresAt).Format(time.RFC3339)
		msg = fmt.Sprintf("%s (%s until %s)", msg, payload.Reason, until)
	}
	if payload.SessionID != "" {
		msg = fmt.Sprintf("%s (session %s)", msg, payload.SessionID)
	}
	return msg
}
