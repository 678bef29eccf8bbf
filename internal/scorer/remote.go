package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// RemoteModel scores snapshots by calling an external model service over
// HTTP. Scores and confidences are clamped into [0, 1] so a misbehaving
// service cannot push nonsense through the gate.
type RemoteModel struct {
	url        string
	httpClient *http.Client
}

// NewRemoteModel constructs a client for the configured scoring endpoint.
func NewRemoteModel(url string, timeout time.Duration) *RemoteModel {
	return &RemoteModel{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Version labels results produced through this client. The authoritative
// version comes back with each response; this is the fallback when the
// service omits it.
func (m *RemoteModel) Version() string { return "remote" }

// Score posts the snapshot to the model service and maps its response.
func (m *RemoteModel) Score(ctx context.Context, snapshot models.MetricSnapshot) (models.AnomalyResult, error) {
	if m == nil || m.url == "" {
		return models.AnomalyResult{}, fmt.Errorf("scorer URL not configured")
	}

	payload := map[string]interface{}{
		"timestamp": snapshot.Timestamp.Format(time.RFC3339Nano),
		"metrics":   snapshot.Metrics,
	}

	var response struct {
		Score        float64 `json:"score"`
		Confidence   float64 `json:"confidence"`
		IsAnomaly    bool    `json:"is_anomaly"`
		ModelVersion string  `json:"model_version"`
	}

	if err := m.postJSON(ctx, payload, &response); err != nil {
		return models.AnomalyResult{}, fmt.Errorf("scorer request failed: %w", err)
	}

	version := response.ModelVersion
	if version == "" {
		version = m.Version()
	}
	return models.AnomalyResult{
		Score:        clamp01(response.Score),
		Confidence:   clamp01(response.Confidence),
		IsAnomaly:    response.IsAnomaly,
		ModelVersion: version,
		ProducedAt:   time.Now().UTC(),
	}, nil
}

func (m *RemoteModel) postJSON(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("scorer returned %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
