package ingest

import (
	"context"
	"fmt"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// PushSource accepts snapshots pushed by external producers, typically via
// the HTTP API, and hands the most recent one to the remediation loop.
// When the buffer is full the oldest snapshot is evicted; stale data is
// worthless once a newer view of the system exists.
type PushSource struct {
	buf chan models.MetricSnapshot
}

// NewPushSource creates a push source buffering up to size snapshots.
func NewPushSource(size int) *PushSource {
	if size < 1 {
		size = 1
	}
	return &PushSource{buf: make(chan models.MetricSnapshot, size)}
}

// Name identifies this source in logs and metrics.
func (s *PushSource) Name() string { return "push" }

// Offer enqueues a snapshot after validating it, evicting the oldest
// buffered snapshot when the buffer is full.
func (s *PushSource) Offer(snapshot models.MetricSnapshot) error {
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}
	// The producer keeps its map; buffer a copy it cannot mutate.
	snapshot = snapshot.Clone()
	for {
		select {
		case s.buf <- snapshot:
			return nil
		default:
		}
		select {
		case <-s.buf:
		default:
		}
	}
}

// Collect drains everything buffered and returns the snapshot with the
// newest timestamp, or ErrNoSnapshot when nothing was pushed since the
// last cycle.
func (s *PushSource) Collect(_ context.Context) (models.MetricSnapshot, error) {
	var (
		latest models.MetricSnapshot
		found  bool
	)
	for {
		select {
		case snapshot := <-s.buf:
			if !found || snapshot.Timestamp.After(latest.Timestamp) {
				latest = snapshot
			}
			found = true
		default:
			if !found {
				return models.MetricSnapshot{}, ErrNoSnapshot
			}
			return latest, nil
		}
	}
}

// Pending reports how many snapshots are waiting, for status reporting.
func (s *PushSource) Pending() int { return len(s.buf) }
