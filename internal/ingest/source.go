package ingest

import (
	"context"
	"errors"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// Source produces metric snapshots for the remediation loop. Collect is
// called once per cycle; sources that have nothing to report return
// ErrNoSnapshot so the loop can idle instead of treating it as a failure.
type Source interface {
	Collect(ctx context.Context) (models.MetricSnapshot, error)
	Name() string
}

// ErrNoSnapshot signals that the source had no snapshot to offer this cycle.
var ErrNoSnapshot = errors.New("no snapshot available")
