package executor

import (
	"context"
	"time"
)

// Statuses an action collaborator reports for a dispatch or status lookup.
const (
	DispatchSucceeded = "succeeded"
	DispatchFailed    = "failed"
	DispatchRunning   = "running"
	DispatchUnknown   = "unknown"
)

// DispatchRequest is the wire form of one remediation action handed to the
// collaborator. ExecutionID doubles as the idempotency key: a retried
// dispatch of the same execution must not run the action twice.
type DispatchRequest struct {
	ExecutionID string            `json:"execution_id"`
	ActionType  string            `json:"action_type"`
	Target      string            `json:"target"`
	Parameters  map[string]string `json:"parameters,omitempty"`
}

// DispatchResult is the collaborator's verdict on a dispatch or its view of
// a previously dispatched execution.
type DispatchResult struct {
	Status      string
	Detail      string
	CompletedAt time.Time
}

// Collaborator runs remediation actions on behalf of the engine. Status
// exists for reconciliation after a restart: it reports what became of an
// execution the engine no longer remembers dispatching, with DispatchUnknown
// meaning the collaborator never saw the ID.
type Collaborator interface {
	Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error)
	Status(ctx context.Context, executionID string) (DispatchResult, error)
}
