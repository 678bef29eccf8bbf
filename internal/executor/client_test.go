package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(rt roundTripFunc) *http.Client {
	return &http.Client{Transport: rt}
}

func jsonResponse(t *testing.T, status int, payload any) *http.Response {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(bytes.NewReader(data)),
		Header:     make(http.Header),
	}
}

func TestActionClientDispatch(t *testing.T) {
	completedAt := time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC)
	client := NewActionClient("https://actions.example.com", "/api/v1/actions", "/api/v1/actions/status", "secret", time.Second)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", req.Method)
		}
		if req.URL.Path != "/api/v1/actions" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("X-API-Key"); got != "secret" {
			t.Fatalf("unexpected api key header: %q", got)
		}
		if got := req.Header.Get("X-Idempotency-Key"); got != "exec-1" {
			t.Fatalf("unexpected idempotency key: %q", got)
		}

		var body DispatchRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body.ExecutionID != "exec-1" || body.ActionType != "scale_up" || body.Target != "api-server" {
			t.Fatalf("unexpected request body: %+v", body)
		}
		if body.Parameters["amount"] != "2" {
			t.Fatalf("unexpected parameters: %+v", body.Parameters)
		}

		return jsonResponse(t, http.StatusOK, map[string]any{
			"status":       "succeeded",
			"detail":       "scaled api-server by 2",
			"completed_at": completedAt.Format(time.RFC3339),
		}), nil
	})

	result, err := client.Dispatch(context.Background(), DispatchRequest{
		ExecutionID: "exec-1",
		ActionType:  "scale_up",
		Target:      "api-server",
		Parameters:  map[string]string{"amount": "2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != DispatchSucceeded {
		t.Fatalf("unexpected status: %s", result.Status)
	}
	if result.Detail != "scaled api-server by 2" {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
	if !result.CompletedAt.Equal(completedAt) {
		t.Fatalf("unexpected completed_at: %v", result.CompletedAt)
	}
}

func TestActionClientDispatchUpstreamError(t *testing.T) {
	client := NewActionClient("https://actions.example.com", "/api/v1/actions", "/api/v1/actions/status", "", time.Second)
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusServiceUnavailable,
			Body:       io.NopCloser(bytes.NewReader(nil)),
			Header:     make(http.Header),
		}, nil
	})

	if _, err := client.Dispatch(context.Background(), DispatchRequest{ExecutionID: "exec-1"}); err == nil {
		t.Fatal("expected error for upstream failure")
	}
}

func TestActionClientStatus(t *testing.T) {
	client := NewActionClient("https://actions.example.com", "/api/v1/actions", "/api/v1/actions/status", "secret", time.Second)
	client.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodGet {
			t.Fatalf("unexpected method: %s", req.Method)
		}
		if req.URL.Path != "/api/v1/actions/status/exec-9" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if got := req.Header.Get("X-API-Key"); got != "secret" {
			t.Fatalf("unexpected api key header: %q", got)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"status": "running",
		}), nil
	})

	result, err := client.Status(context.Background(), "exec-9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != DispatchRunning {
		t.Fatalf("unexpected status: %s", result.Status)
	}
}

func TestActionClientStatusUnknownOn404(t *testing.T) {
	client := NewActionClient("https://actions.example.com", "/api/v1/actions", "/api/v1/actions/status", "", time.Second)
	client.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(bytes.NewReader(nil)),
			Header:     make(http.Header),
		}, nil
	})

	result, err := client.Status(context.Background(), "exec-gone")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != DispatchUnknown {
		t.Fatalf("expected unknown, got %s", result.Status)
	}
}

func TestActionClientRequiresBaseURL(t *testing.T) {
	client := NewActionClient("", "/api/v1/actions", "/api/v1/actions/status", "", time.Second)
	if _, err := client.Dispatch(context.Background(), DispatchRequest{ExecutionID: "exec-1"}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
	if _, err := client.Status(context.Background(), "exec-1"); err == nil {
		t.Fatal("expected error for missing base URL")
	}
}
