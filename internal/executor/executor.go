package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/metrics"
	"github.com/miradorstack/mirador-remediate/internal/models"
)

// Executor drives approved executions to a terminal status through a
// Collaborator. Every attempt runs under a hard timeout; retries happen only
// when the rule granted a retry budget, with exponential backoff, and never
// after the surrounding context is cancelled.
type Executor struct {
	collaborator Collaborator
	timeout      time.Duration
	backoffBase  time.Duration
	backoffCap   time.Duration
	logger       *slog.Logger
}

// NewExecutor wires an executor to its collaborator. Timeout bounds each
// dispatch attempt, not the whole attempt series.
func NewExecutor(collaborator Collaborator, timeout, backoffBase, backoffCap time.Duration, logger *slog.Logger) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if backoffBase <= 0 {
		backoffBase = 500 * time.Millisecond
	}
	if backoffCap < backoffBase {
		backoffCap = backoffBase
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		collaborator: collaborator,
		timeout:      timeout,
		backoffBase:  backoffBase,
		backoffCap:   backoffCap,
		logger:       logger,
	}
}

// Execute dispatches the execution until it succeeds, its attempt budget is
// spent, or the context is cancelled. The returned outcome is always
// terminal: succeeded, or failed with a reason code.
func (e *Executor) Execute(ctx context.Context, exec models.RemediationExecution) models.ExecutionOutcome {
	started := time.Now()

	request, err := buildRequest(exec)
	if err != nil {
		return e.finish(exec, started, models.StatusFailed, models.ReasonDispatchFailed, err.Error(), 0)
	}

	maxAttempts := 1 + exec.Retries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var reason, detail string
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			wait := e.backoff(attempt - 1)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return e.finish(exec, started, models.StatusFailed, models.ReasonShutdown, "cancelled before retry", attempt)
			case <-timer.C:
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		result, err := e.collaborator.Dispatch(attemptCtx, request)
		cancel()

		if err == nil && result.Status == DispatchSucceeded {
			return e.finish(exec, started, models.StatusSucceeded, "", result.Detail, attempt+1)
		}

		switch {
		case ctx.Err() != nil:
			return e.finish(exec, started, models.StatusFailed, models.ReasonShutdown, "cancelled during dispatch", attempt+1)
		case errors.Is(err, context.DeadlineExceeded):
			reason = models.ReasonTimeout
			detail = fmt.Sprintf("attempt %d timed out after %s", attempt+1, e.timeout)
		case err != nil:
			reason = models.ReasonDispatchFailed
			detail = err.Error()
		default:
			reason = models.ReasonDispatchFailed
			detail = result.Detail
			if detail == "" {
				detail = fmt.Sprintf("collaborator reported %s", result.Status)
			}
		}

		e.logger.Warn("action dispatch attempt failed",
			slog.String("execution_id", exec.ID),
			slog.String("rule_id", exec.RuleID),
			slog.String("action", string(exec.Action)),
			slog.Int("attempt", attempt+1),
			slog.String("reason", reason),
			slog.String("detail", detail))
	}

	return e.finish(exec, started, models.StatusFailed, reason, detail, maxAttempts)
}

func (e *Executor) finish(exec models.RemediationExecution, started time.Time, status models.ExecutionStatus, reason, detail string, attempts int) models.ExecutionOutcome {
	duration := time.Since(started)
	result := "succeeded"
	if status != models.StatusSucceeded {
		result = "failed"
	}
	metrics.ObserveExecution(string(exec.Action), result, duration)

	if status == models.StatusSucceeded {
		e.logger.Info("action succeeded",
			slog.String("execution_id", exec.ID),
			slog.String("rule_id", exec.RuleID),
			slog.String("action", string(exec.Action)),
			slog.String("target", exec.Target),
			slog.Int("attempts", attempts),
			slog.Duration("duration", duration.Round(time.Millisecond)))
	} else {
		e.logger.Error("action failed",
			slog.String("execution_id", exec.ID),
			slog.String("rule_id", exec.RuleID),
			slog.String("action", string(exec.Action)),
			slog.String("target", exec.Target),
			slog.Int("attempts", attempts),
			slog.String("reason", reason),
			slog.String("detail", detail))
	}

	return models.ExecutionOutcome{
		Status:      status,
		Reason:      reason,
		Detail:      detail,
		Attempts:    attempts,
		CompletedAt: time.Now().UTC(),
	}
}

// backoff returns the wait before retry number attempt+1: base doubled per
// failed attempt, capped.
func (e *Executor) backoff(attempt int) time.Duration {
	wait := e.backoffBase << attempt
	if wait <= 0 || wait > e.backoffCap {
		return e.backoffCap
	}
	return wait
}

// buildRequest maps the execution onto the collaborator's wire form. The
// switch is exhaustive over the closed action set: a new action type fails
// here until it gets a case.
func buildRequest(exec models.RemediationExecution) (DispatchRequest, error) {
	params := make(map[string]string, len(exec.Params)+1)
	for k, v := range exec.Params {
		params[k] = v
	}

	switch exec.Action {
	case models.ActionScaleUp, models.ActionScaleDown:
		if params["amount"] == "" {
			params["amount"] = "1"
		}
	case models.ActionRestartService:
		if params["mode"] == "" {
			params["mode"] = "rolling"
		}
	case models.ActionClearCache:
		if params["scope"] == "" {
			params["scope"] = "all"
		}
	case models.ActionCustom:
		if params["command"] == "" {
			return DispatchRequest{}, fmt.Errorf("custom action requires a command parameter")
		}
	default:
		return DispatchRequest{}, fmt.Errorf("unsupported action type %q", exec.Action)
	}

	return DispatchRequest{
		ExecutionID: exec.ID,
		ActionType:  string(exec.Action),
		Target:      exec.Target,
		Parameters:  params,
	}, nil
}
