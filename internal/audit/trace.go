package audit

import (
	"github.com/miradorstack/mirador-remediate/internal/models"
)

// Trace reconstructs the decision path of one execution from a window of
// ledger entries: the candidate record that led to it, followed by every
// entry carrying the execution's ID, in ledger order. Returns nil when the
// window holds nothing for that execution.
func Trace(entries []models.AuditEntry, executionID string) []models.AuditEntry {
	if executionID == "" {
		return nil
	}

	var (
		out      []models.AuditEntry
		ruleID   string
		firstSeq int64
	)
	for _, entry := range entries {
		if entry.ExecutionID != executionID {
			continue
		}
		if out == nil {
			ruleID = entry.RuleID
			firstSeq = entry.Seq
		}
		out = append(out, entry)
	}
	if out == nil {
		return nil
	}

	// The candidate entry precedes approval and carries only the rule ID;
	// the nearest one before the first execution entry belongs to this
	// trace.
	var candidate *models.AuditEntry
	for i := range entries {
		entry := entries[i]
		if entry.Kind != models.AuditCandidate || entry.RuleID != ruleID || entry.Seq >= firstSeq {
			continue
		}
		if candidate == nil || entry.Seq > candidate.Seq {
			candidate = &entries[i]
		}
	}
	if candidate != nil {
		out = append([]models.AuditEntry{*candidate}, out...)
	}
	return out
}
