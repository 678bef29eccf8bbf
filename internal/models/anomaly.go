package models

import "time"

// AnomalyResult is the normalized output of an anomaly model for one
// snapshot. Results are created by the scorer adapter, never mutated, and
// consumed once by the rule engine.
type AnomalyResult struct {
	Score        float64   `json:"score"`
	Confidence   float64   `json:"confidence"`
	IsAnomaly    bool      `json:"is_anomaly"`
	ModelVersion string    `json:"model_version"`
	ProducedAt   time.Time `json:"produced_at"`

	// Degraded marks results synthesized after a model timeout or error.
	// Degraded results carry zero confidence, so no rule with a confidence
	// floor can fire on them.
	Degraded bool `json:"degraded,omitempty"`
}

// DegradedResult builds the fail-safe stand-in used when the model is
// unavailable: no anomaly, zero confidence.
func DegradedResult(modelVersion string, producedAt time.Time) AnomalyResult {
	return AnomalyResult{
		Score:        0,
		Confidence:   0,
		IsAnomaly:    false,
		ModelVersion: modelVersion,
		ProducedAt:   producedAt,
		Degraded:     true,
	}
}
