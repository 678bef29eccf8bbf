package scorer

import (
	"context"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// Model scores a snapshot for anomalies. Implementations must be safe for
// use from the remediation loop goroutine and honour context cancellation.
type Model interface {
	Score(ctx context.Context, snapshot models.MetricSnapshot) (models.AnomalyResult, error)
	Version() string
}
