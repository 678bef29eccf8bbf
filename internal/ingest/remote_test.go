package ingest

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

func TestRemoteSourceCollect(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	source := NewRemoteSource("https://collector.example.com", "/api/v1/snapshot", time.Second)
	source.httpClient = newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/api/v1/snapshot" {
			t.Fatalf("unexpected path: %s", req.URL.Path)
		}
		if req.Method != http.MethodGet {
			t.Fatalf("unexpected method: %s", req.Method)
		}
		return jsonResponse(t, http.StatusOK, map[string]any{
			"timestamp": ts.Format(time.RFC3339),
			"metrics":   map[string]float64{"cpu_usage_percent": 91.5, "load1": 4.2},
		}), nil
	})

	snapshot, err := source.Collect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !snapshot.Timestamp.Equal(ts) {
		t.Fatalf("unexpected timestamp %v", snapshot.Timestamp)
	}
	if v, ok := snapshot.Metric("cpu_usage_percent"); !ok || v != 91.5 {
		t.Fatalf("unexpected cpu metric: %v %v", v, ok)
	}
}

func TestRemoteSourceStampsMissingTimestamp(t *testing.T) {
	source := NewRemoteSource("https://collector.example.com", "/api/v1/snapshot", time.Second)
	source.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusOK, map[string]any{
			"metrics": map[string]float64{"load1": 1.0},
		}), nil
	})

	before := time.Now().UTC()
	snapshot, err := source.Collect(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snapshot.Timestamp.Before(before) {
		t.Fatalf("expected stamped timestamp, got %v", snapshot.Timestamp)
	}
}

func TestRemoteSourceUpstreamError(t *testing.T) {
	source := NewRemoteSource("https://collector.example.com", "/api/v1/snapshot", time.Second)
	source.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadGateway,
			Body:       io.NopCloser(bytes.NewReader(nil)),
			Header:     make(http.Header),
		}, nil
	})

	if _, err := source.Collect(context.Background()); err == nil {
		t.Fatal("expected error for upstream failure")
	}
}

func TestRemoteSourceRejectsEmptySnapshot(t *testing.T) {
	source := NewRemoteSource("https://collector.example.com", "/api/v1/snapshot", time.Second)
	source.httpClient = newTestClient(func(*http.Request) (*http.Response, error) {
		return jsonResponse(t, http.StatusOK, map[string]any{
			"metrics": map[string]float64{},
		}), nil
	})

	if _, err := source.Collect(context.Background()); err == nil {
		t.Fatal("expected error for empty metrics")
	}
}

func TestRemoteSourceRequiresBaseURL(t *testing.T) {
	source := NewRemoteSource("", "/api/v1/snapshot", time.Second)
	if _, err := source.Collect(context.Background()); err == nil {
		t.Fatal("expected error for missing base URL")
	}
}
