package models

import "time"

// AuditKind enumerates the decision events recorded in the ledger.
type AuditKind string

const (
	// AuditCandidate records that a rule proposed an action for a snapshot.
	AuditCandidate AuditKind = "candidate"
	// AuditApproved records a candidate admitted by the safety gate.
	AuditApproved AuditKind = "approved"
	// AuditBlocked records a candidate refused by the safety gate, with reason.
	AuditBlocked AuditKind = "blocked"
	// AuditSuperseded records a candidate displaced by an equal-priority rule
	// in the same conflict class. Superseded is not blocked: the rule lost a
	// tie-break, not a safety check.
	AuditSuperseded AuditKind = "superseded"
	// AuditSkipped records a rule suspended because the scorer was unhealthy.
	AuditSkipped AuditKind = "skipped"
	// AuditDispatched records the start of an approved execution.
	AuditDispatched AuditKind = "dispatched"
	// AuditResult records an execution reaching a terminal status.
	AuditResult AuditKind = "result"
)

// AuditEntry is one immutable record of a decision. Entries are append-only
// and ordered by Seq; the ledger never updates or deletes history. The ledger
// alone answers "why did or didn't the system act".
type AuditEntry struct {
	Seq         int64     `json:"seq"`
	Time        time.Time `json:"time"`
	Kind        AuditKind `json:"kind"`
	RuleID      string    `json:"rule_id,omitempty"`
	ExecutionID string    `json:"execution_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Score       float64   `json:"score,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
}
