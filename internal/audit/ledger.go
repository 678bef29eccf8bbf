package audit

import (
	"context"
	"sync"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// Ledger is the append-only record of every decision the engine makes:
// candidates, gate verdicts, dispatches, and results. Implementations
// assign monotonically increasing sequence numbers and never mutate
// history.
type Ledger interface {
	Append(ctx context.Context, entry models.AuditEntry) (int64, error)
	Range(ctx context.Context, from, to time.Time, limit int) ([]models.AuditEntry, error)
}

// MemoryLedger is an in-process Ledger for tests and ephemeral runs.
type MemoryLedger struct {
	mu      sync.Mutex
	entries []models.AuditEntry
	nextSeq int64
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{}
}

// Append records the entry and returns its sequence number.
func (l *MemoryLedger) Append(_ context.Context, entry models.AuditEntry) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSeq++
	entry.Seq = l.nextSeq
	l.entries = append(l.entries, entry)
	return entry.Seq, nil
}

// Range returns entries with from <= time < to in ledger order, up to
// limit. A non-positive limit returns the whole window.
func (l *MemoryLedger) Range(_ context.Context, from, to time.Time, limit int) ([]models.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.AuditEntry
	for _, entry := range l.entries {
		if entry.Time.Before(from) || !entry.Time.Before(to) {
			continue
		}
		out = append(out, entry)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// All returns a copy of every entry in ledger order.
func (l *MemoryLedger) All() []models.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
