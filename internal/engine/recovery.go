package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/executor"
	"github.com/miradorstack/mirador-remediate/internal/models"
)

// Recover reconciles executions a previous run left behind. Each one is
// resolved against the collaborator's status endpoint: reported terminal
// states are persisted as-is, still-running executions get their gate
// capacity back and a watcher, and anything the collaborator cannot account
// for fails with unknown_after_restart. Nothing is silently resumed.
// Cooldown stamps are rebuilt from the most recent execution per rule.
func (c *Coordinator) Recover(ctx context.Context) error {
	stale, err := c.store.ActiveExecutions(ctx)
	if err != nil {
		return fmt.Errorf("load active executions: %w", err)
	}

	watching := 0
	for _, exec := range stale {
		report, err := c.collaboratorStatus(ctx, exec.ID)
		switch {
		case err != nil:
			c.resolveStale(ctx, exec, models.StatusFailed, models.ReasonUnknownAfterRestart, fmt.Sprintf("status check failed: %v", err), time.Time{})
		case report.Status == executor.DispatchSucceeded:
			c.resolveStale(ctx, exec, models.StatusSucceeded, "", report.Detail, report.CompletedAt)
		case report.Status == executor.DispatchFailed:
			c.resolveStale(ctx, exec, models.StatusFailed, models.ReasonDispatchFailed, report.Detail, report.CompletedAt)
		case report.Status == executor.DispatchRunning:
			c.safetyGate.RestoreActive(exec.RuleID, exec.TriggeredAt)
			c.inflight.Add(1)
			go c.watch(exec)
			watching++
		default:
			c.resolveStale(ctx, exec, models.StatusFailed, models.ReasonUnknownAfterRestart, "collaborator does not know this execution", time.Time{})
		}
	}

	stamps, err := c.store.CooldownStamps(ctx)
	if err != nil {
		return fmt.Errorf("load cooldown stamps: %w", err)
	}
	for ruleID, triggeredAt := range stamps {
		c.safetyGate.RestoreCooldown(ruleID, triggeredAt)
	}

	if len(stale) > 0 || len(stamps) > 0 {
		c.logger.Info("recovery complete",
			slog.Int("stale_executions", len(stale)),
			slog.Int("still_running", watching),
			slog.Int("cooldowns", len(stamps)))
	}
	return nil
}

func (c *Coordinator) collaboratorStatus(ctx context.Context, executionID string) (executor.DispatchResult, error) {
	if c.collaborator == nil {
		return executor.DispatchResult{}, fmt.Errorf("no collaborator configured")
	}
	statusCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return c.collaborator.Status(statusCtx, executionID)
}

func (c *Coordinator) resolveStale(ctx context.Context, exec models.RemediationExecution, status models.ExecutionStatus, reason, detail string, completedAt time.Time) {
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	exec.Status = status
	exec.Detail = detail
	exec.CompletedAt = completedAt

	if err := c.store.CompleteExecution(ctx, exec); err != nil {
		c.logger.Error("persist reconciled execution failed", slog.String("execution_id", exec.ID), slog.Any("error", err))
	}
	c.appendAudit(ctx, models.AuditEntry{
		Time:        completedAt,
		Kind:        models.AuditResult,
		RuleID:      exec.RuleID,
		ExecutionID: exec.ID,
		Reason:      reason,
		Detail:      detail,
	})
	c.logger.Info("stale execution reconciled",
		slog.String("execution_id", exec.ID),
		slog.String("rule_id", exec.RuleID),
		slog.String("status", string(status)),
		slog.String("reason", reason))
}

// watch polls the collaborator for an execution that was still running when
// the engine restarted, completing it when the collaborator reports a
// terminal state. A drain past its deadline fails the execution instead of
// leaving it executing.
func (c *Coordinator) watch(exec models.RemediationExecution) {
	defer c.inflight.Done()

	ticker := time.NewTicker(c.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.execCtx.Done():
			c.complete(exec, models.ExecutionOutcome{
				Status:      models.StatusFailed,
				Reason:      models.ReasonShutdown,
				Detail:      "still running at shutdown",
				Attempts:    exec.Attempts,
				CompletedAt: time.Now().UTC(),
			})
			return
		case <-ticker.C:
			report, err := c.collaboratorStatus(c.execCtx, exec.ID)
			if err != nil {
				continue
			}
			switch report.Status {
			case executor.DispatchSucceeded:
				c.complete(exec, models.ExecutionOutcome{
					Status:      models.StatusSucceeded,
					Detail:      report.Detail,
					Attempts:    exec.Attempts,
					CompletedAt: completedOrNow(report.CompletedAt),
				})
				return
			case executor.DispatchFailed:
				c.complete(exec, models.ExecutionOutcome{
					Status:      models.StatusFailed,
					Reason:      models.ReasonDispatchFailed,
					Detail:      report.Detail,
					Attempts:    exec.Attempts,
					CompletedAt: completedOrNow(report.CompletedAt),
				})
				return
			case executor.DispatchUnknown:
				c.complete(exec, models.ExecutionOutcome{
					Status:      models.StatusFailed,
					Reason:      models.ReasonUnknownAfterRestart,
					Detail:      "collaborator lost track of this execution",
					Attempts:    exec.Attempts,
					CompletedAt: time.Now().UTC(),
				})
				return
			}
		}
	}
}

func completedOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
