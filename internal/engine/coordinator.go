package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/audit"
	"github.com/miradorstack/mirador-remediate/internal/executor"
	"github.com/miradorstack/mirador-remediate/internal/gate"
	"github.com/miradorstack/mirador-remediate/internal/ingest"
	"github.com/miradorstack/mirador-remediate/internal/metrics"
	"github.com/miradorstack/mirador-remediate/internal/models"
	"github.com/miradorstack/mirador-remediate/internal/rules"
	"github.com/miradorstack/mirador-remediate/internal/utils"
)

// AnomalyScorer is the scoring behaviour the coordinator consumes. Evaluate
// never fails: a degraded scorer hands back a zero-confidence result and
// Healthy reports the degradation.
type AnomalyScorer interface {
	Evaluate(ctx context.Context, snapshot models.MetricSnapshot) models.AnomalyResult
	Healthy() bool
}

// ActionRunner drives one approved execution to a terminal outcome.
type ActionRunner interface {
	Execute(ctx context.Context, exec models.RemediationExecution) models.ExecutionOutcome
}

// ExecutionStore is the persistence the coordinator requires: execution
// lifecycle writes plus the queries crash recovery rebuilds state from.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec models.RemediationExecution) error
	MarkExecuting(ctx context.Context, id string, startedAt time.Time) error
	CompleteExecution(ctx context.Context, exec models.RemediationExecution) error
	ActiveExecutions(ctx context.Context) ([]models.RemediationExecution, error)
	CooldownStamps(ctx context.Context) (map[string]time.Time, error)
}

// Coordinator runs the decision loop: collect a snapshot, score it, evaluate
// rules, gate the candidates, dispatch approvals, and record every step in
// the ledger. One cycle per collector interval; dispatches run concurrently
// and never block the loop.
type Coordinator struct {
	logger       *slog.Logger
	source       ingest.Source
	scorer       AnomalyScorer
	rulesEngine  *rules.Engine
	safetyGate   *gate.SafetyGate
	runner       ActionRunner
	collaborator executor.Collaborator
	store        ExecutionStore
	ledger       audit.Ledger

	interval      time.Duration
	drainTimeout  time.Duration
	watchInterval time.Duration

	latencies *utils.LatencyTracker
	inflight  sync.WaitGroup

	// Executions run on their own context so a shutdown can drain them
	// instead of killing them with the run context.
	execCtx    context.Context
	execCancel context.CancelFunc
}

// NewCoordinator wires the decision loop to its collaborators.
func NewCoordinator(
	logger *slog.Logger,
	source ingest.Source,
	scorer AnomalyScorer,
	rulesEngine *rules.Engine,
	safetyGate *gate.SafetyGate,
	runner ActionRunner,
	collaborator executor.Collaborator,
	store ExecutionStore,
	ledger audit.Ledger,
	interval time.Duration,
	drainTimeout time.Duration,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if drainTimeout <= 0 {
		drainTimeout = 30 * time.Second
	}
	execCtx, execCancel := context.WithCancel(context.Background())
	return &Coordinator{
		logger:        logger,
		source:        source,
		scorer:        scorer,
		rulesEngine:   rulesEngine,
		safetyGate:    safetyGate,
		runner:        runner,
		collaborator:  collaborator,
		store:         store,
		ledger:        ledger,
		interval:      interval,
		drainTimeout:  drainTimeout,
		watchInterval: 5 * time.Second,
		latencies:     utils.NewLatencyTracker(1024),
		execCtx:       execCtx,
		execCancel:    execCancel,
	}
}

// Run executes decision cycles until the context is cancelled, then drains
// in-flight executions. Returns nil on a clean drain.
func (c *Coordinator) Run(ctx context.Context) error {
	switch {
	case c.source == nil:
		return fmt.Errorf("snapshot source not configured")
	case c.scorer == nil:
		return fmt.Errorf("scorer not configured")
	case c.rulesEngine == nil:
		return fmt.Errorf("rule engine not configured")
	case c.safetyGate == nil:
		return fmt.Errorf("safety gate not configured")
	case c.runner == nil:
		return fmt.Errorf("action runner not configured")
	case c.store == nil:
		return fmt.Errorf("store not configured")
	case c.ledger == nil:
		return fmt.Errorf("audit ledger not configured")
	}

	c.logger.Info("coordinator started", slog.String("source", c.source.Name()), slog.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			c.drain()
			return nil
		case <-ticker.C:
			c.runCycle(ctx)
		}
	}
}

// LatencyP95 returns the current p95 cycle latency.
func (c *Coordinator) LatencyP95() time.Duration {
	if c.latencies == nil {
		return 0
	}
	return c.latencies.Percentile(95)
}

func (c *Coordinator) runCycle(ctx context.Context) {
	started := time.Now()
	now := started.UTC()

	snapshot, err := c.source.Collect(ctx)
	if err != nil {
		if errors.Is(err, ingest.ErrNoSnapshot) {
			metrics.ObserveCycle(time.Since(started), metrics.OutcomeIdle)
			return
		}
		c.logger.Warn("snapshot collection failed", slog.String("source", c.source.Name()), slog.Any("error", err))
		metrics.ObserveCycle(time.Since(started), metrics.OutcomeError)
		return
	}
	metrics.ObserveSnapshot(c.source.Name())

	anomaly := c.scorer.Evaluate(ctx, snapshot)
	healthy := c.scorer.Healthy()
	result := c.rulesEngine.Evaluate(snapshot, anomaly, healthy, now)

	for _, ruleID := range result.SkippedUnhealthy {
		c.appendAudit(ctx, models.AuditEntry{Time: now, Kind: models.AuditSkipped, RuleID: ruleID})
	}
	for _, superseded := range result.Superseded {
		metrics.ObserveDecision("superseded", "")
		c.appendAudit(ctx, models.AuditEntry{
			Time:   now,
			Kind:   models.AuditSuperseded,
			RuleID: superseded.RuleID,
			Detail: fmt.Sprintf("superseded by %s (%s)", superseded.WinnerID, superseded.Class),
		})
	}

	for _, candidate := range result.Candidates {
		metrics.ObserveCandidate(candidate.RuleID)
		c.appendAudit(ctx, models.AuditEntry{
			Time:       now,
			Kind:       models.AuditCandidate,
			RuleID:     candidate.RuleID,
			Score:      candidate.Anomaly.Score,
			Confidence: candidate.Anomaly.Confidence,
		})

		decision := c.safetyGate.Admit(candidate, now)
		if !decision.Approved {
			c.appendAudit(ctx, models.AuditEntry{Time: now, Kind: models.AuditBlocked, RuleID: candidate.RuleID, Reason: decision.Reason})
			continue
		}

		exec := *decision.Execution
		if err := c.store.SaveExecution(ctx, exec); err != nil {
			c.logger.Error("persist approved execution failed", slog.String("execution_id", exec.ID), slog.String("rule_id", exec.RuleID), slog.Any("error", err))
			c.safetyGate.Complete(exec.RuleID)
			c.appendAudit(ctx, models.AuditEntry{
				Time:        now,
				Kind:        models.AuditResult,
				RuleID:      exec.RuleID,
				ExecutionID: exec.ID,
				Reason:      models.ReasonDispatchFailed,
				Detail:      "execution could not be persisted",
			})
			continue
		}
		c.appendAudit(ctx, models.AuditEntry{Time: now, Kind: models.AuditApproved, RuleID: exec.RuleID, ExecutionID: exec.ID})
		c.logger.Info("execution approved",
			slog.String("execution_id", exec.ID),
			slog.String("rule_id", exec.RuleID),
			slog.String("action", string(exec.Action)),
			slog.String("target", exec.Target))

		c.inflight.Add(1)
		go c.dispatch(exec)
	}

	duration := time.Since(started)
	c.latencies.Observe(duration)
	metrics.ObserveCycle(duration, metrics.OutcomeSuccess)
	if count := c.latencies.Count(); count >= 20 && count%20 == 0 {
		c.logger.Info("cycle latency", slog.Duration("p95", c.latencies.Percentile(95)), slog.Int("samples", count))
	}
}

func (c *Coordinator) dispatch(exec models.RemediationExecution) {
	defer c.inflight.Done()

	startedAt := time.Now().UTC()
	if err := c.store.MarkExecuting(c.execCtx, exec.ID, startedAt); err != nil {
		c.logger.Error("mark executing failed", slog.String("execution_id", exec.ID), slog.Any("error", err))
	}
	exec.Status = models.StatusExecuting
	exec.StartedAt = startedAt
	c.appendAudit(c.execCtx, models.AuditEntry{Time: startedAt, Kind: models.AuditDispatched, RuleID: exec.RuleID, ExecutionID: exec.ID})

	outcome := c.runner.Execute(c.execCtx, exec)
	c.complete(exec, outcome)
}

// complete persists the terminal outcome, frees the gate slot, and writes
// the result entry. Runs on its own context: results must land even while
// the engine is shutting down.
func (c *Coordinator) complete(exec models.RemediationExecution, outcome models.ExecutionOutcome) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exec.Status = outcome.Status
	exec.Detail = outcome.Detail
	exec.Attempts = outcome.Attempts
	exec.CompletedAt = outcome.CompletedAt
	if err := c.store.CompleteExecution(ctx, exec); err != nil {
		c.logger.Error("persist execution result failed", slog.String("execution_id", exec.ID), slog.Any("error", err))
	}
	c.safetyGate.Complete(exec.RuleID)
	c.appendAudit(ctx, models.AuditEntry{
		Time:        outcome.CompletedAt,
		Kind:        models.AuditResult,
		RuleID:      exec.RuleID,
		ExecutionID: exec.ID,
		Reason:      outcome.Reason,
		Detail:      outcome.Detail,
	})
}

// drain refuses new approvals and waits for in-flight executions. Stragglers
// past the deadline get their context cancelled, which the executor turns
// into failed(shutdown); nothing is left executing.
func (c *Coordinator) drain() {
	c.safetyGate.BeginDrain()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("drain complete")
	case <-time.After(c.drainTimeout):
		c.logger.Warn("drain deadline reached, cancelling in-flight executions")
		c.execCancel()
		<-done
	}
	c.execCancel()
}

func (c *Coordinator) appendAudit(ctx context.Context, entry models.AuditEntry) {
	if _, err := c.ledger.Append(ctx, entry); err != nil {
		c.logger.Error("audit append failed", slog.String("kind", string(entry.Kind)), slog.String("rule_id", entry.RuleID), slog.Any("error", err))
	}
}
