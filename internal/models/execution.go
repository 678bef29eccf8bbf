package models

import "time"

// ExecutionStatus tracks a remediation execution through its lifecycle:
// pending -> approved | blocked, approved -> executing -> succeeded | failed.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusApproved  ExecutionStatus = "approved"
	StatusBlocked   ExecutionStatus = "blocked"
	StatusExecuting ExecutionStatus = "executing"
	StatusSucceeded ExecutionStatus = "succeeded"
	StatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status is final. Terminal executions are
// immutable.
func (s ExecutionStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusBlocked
}

// Machine-readable reason codes attached to blocked decisions and failed
// executions. Every non-approval the system makes carries one of these.
const (
	ReasonLowConfidence       = "low_confidence"
	ReasonCooldownActive      = "cooldown_active"
	ReasonRuleConcurrency     = "rule_concurrency_limit"
	ReasonGlobalConcurrency   = "global_concurrency_limit"
	ReasonShutdown            = "shutdown"
	ReasonTimeout             = "timeout"
	ReasonDispatchFailed      = "dispatch_failed"
	ReasonUnknownAfterRestart = "unknown_after_restart"
)

// RemediationExecution is one dispatched, tracked remediation action. The
// safety gate creates it at approval and owns its status transitions; the
// executor fills in result fields.
type RemediationExecution struct {
	ID          string            `json:"execution_id"`
	RuleID      string            `json:"rule_id"`
	Action      ActionType        `json:"action"`
	Target      string            `json:"target"`
	Params      map[string]string `json:"params,omitempty"`
	Retries     int               `json:"retries"`
	Status      ExecutionStatus   `json:"status"`
	TriggeredAt time.Time         `json:"triggered_at"`
	StartedAt   time.Time         `json:"started_at,omitempty"`
	CompletedAt time.Time         `json:"completed_at,omitempty"`
	Detail      string            `json:"detail,omitempty"`
	Attempts    int               `json:"attempts"`
}

// CandidateTrigger is a rule's proposal to act on one snapshot. Candidates
// exist only within the evaluation cycle that produced them; the safety gate
// converts each into an approved execution or a blocked decision.
type CandidateTrigger struct {
	RuleID      string
	Rule        RemediationRule
	Snapshot    MetricSnapshot
	Anomaly     AnomalyResult
	EvaluatedAt time.Time
}

// ExecutionOutcome is the executor's terminal report for one execution:
// the final status, the reason code when failed, and the attempts consumed.
type ExecutionOutcome struct {
	Status      ExecutionStatus `json:"status"`
	Reason      string          `json:"reason,omitempty"`
	Detail      string          `json:"detail,omitempty"`
	Attempts    int             `json:"attempts"`
	CompletedAt time.Time       `json:"completed_at"`
}
