package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// RemoteSource fetches the current snapshot from an external metrics
// collector over HTTP.
type RemoteSource struct {
	baseURL      string
	snapshotPath string
	httpClient   *http.Client
}

// NewRemoteSource constructs a client targeting the configured collector.
func NewRemoteSource(baseURL, snapshotPath string, timeout time.Duration) *RemoteSource {
	return &RemoteSource{
		baseURL:      strings.TrimRight(baseURL, "/"),
		snapshotPath: snapshotPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name identifies this source in logs and metrics.
func (s *RemoteSource) Name() string { return "remote" }

// Collect fetches a snapshot from the collector. A response without a
// timestamp is stamped with the current time before validation.
func (s *RemoteSource) Collect(ctx context.Context) (models.MetricSnapshot, error) {
	if s == nil {
		return models.MetricSnapshot{}, fmt.Errorf("collector client not initialised")
	}
	if s.baseURL == "" {
		return models.MetricSnapshot{}, fmt.Errorf("collector base URL not configured")
	}

	var response struct {
		Timestamp time.Time          `json:"timestamp"`
		Metrics   map[string]float64 `json:"metrics"`
	}

	if err := s.getJSON(ctx, s.snapshotURL(), &response); err != nil {
		return models.MetricSnapshot{}, fmt.Errorf("collector snapshot request failed: %w", err)
	}

	snapshot := models.MetricSnapshot{
		Timestamp: response.Timestamp,
		Metrics:   response.Metrics,
	}
	if snapshot.Timestamp.IsZero() {
		snapshot.Timestamp = time.Now().UTC()
	}
	if err := snapshot.Validate(); err != nil {
		return models.MetricSnapshot{}, fmt.Errorf("collector returned invalid snapshot: %w", err)
	}
	return snapshot, nil
}

func (s *RemoteSource) snapshotURL() string {
	if s.baseURL == "" {
		return ""
	}
	cleaned := "/" + strings.TrimLeft(s.snapshotPath, "/")
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return s.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (s *RemoteSource) getJSON(ctx context.Context, endpoint string, out any) error {
	if endpoint == "" {
		return fmt.Errorf("empty endpoint")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("collector returned %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
