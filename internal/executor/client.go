package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// ActionClient is the HTTP Collaborator for the platform's action service.
type ActionClient struct {
	baseURL      string
	dispatchPath string
	statusPath   string
	apiKey       string
	httpClient   *http.Client
}

// NewActionClient constructs a client targeting the configured action service.
func NewActionClient(baseURL, dispatchPath, statusPath, apiKey string, timeout time.Duration) *ActionClient {
	return &ActionClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		dispatchPath: dispatchPath,
		statusPath:   statusPath,
		apiKey:       apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Dispatch posts the action request and maps the service's verdict.
func (c *ActionClient) Dispatch(ctx context.Context, request DispatchRequest) (DispatchResult, error) {
	if c == nil {
		return DispatchResult{}, fmt.Errorf("action client not initialised")
	}
	if c.baseURL == "" {
		return DispatchResult{}, fmt.Errorf("action service base URL not configured")
	}

	var response struct {
		Status      string    `json:"status"`
		Detail      string    `json:"detail"`
		CompletedAt time.Time `json:"completed_at"`
	}

	if err := c.postJSON(ctx, c.dispatchURL(), request.ExecutionID, request, &response); err != nil {
		return DispatchResult{}, fmt.Errorf("action dispatch failed: %w", err)
	}

	return DispatchResult{
		Status:      response.Status,
		Detail:      response.Detail,
		CompletedAt: response.CompletedAt,
	}, nil
}

// Status fetches the service's view of a previously dispatched execution.
// A 404 maps to DispatchUnknown rather than an error so recovery can tell
// "the service never saw this ID" apart from "the service is unreachable".
func (c *ActionClient) Status(ctx context.Context, executionID string) (DispatchResult, error) {
	if c == nil {
		return DispatchResult{}, fmt.Errorf("action client not initialised")
	}
	if c.baseURL == "" {
		return DispatchResult{}, fmt.Errorf("action service base URL not configured")
	}
	if executionID == "" {
		return DispatchResult{}, fmt.Errorf("execution ID required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusURL(executionID), nil)
	if err != nil {
		return DispatchResult{}, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("action status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return DispatchResult{Status: DispatchUnknown}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return DispatchResult{}, fmt.Errorf("action service returned %s", resp.Status)
	}

	var response struct {
		Status      string    `json:"status"`
		Detail      string    `json:"detail"`
		CompletedAt time.Time `json:"completed_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return DispatchResult{}, fmt.Errorf("decode response: %w", err)
	}

	return DispatchResult{
		Status:      response.Status,
		Detail:      response.Detail,
		CompletedAt: response.CompletedAt,
	}, nil
}

func (c *ActionClient) dispatchURL() string { return c.resolvePath(c.dispatchPath) }

func (c *ActionClient) statusURL(executionID string) string {
	return c.resolvePath(c.statusPath + "/" + executionID)
}

func (c *ActionClient) resolvePath(p string) string {
	if c.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *ActionClient) postJSON(ctx context.Context, endpoint, idempotencyKey string, payload any, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("action service returned %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
