package gate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-remediate/internal/metrics"
	"github.com/miradorstack/mirador-remediate/internal/models"
)

// Decision is the gate's verdict on one candidate. Blocked decisions carry
// a machine-readable reason; approved ones carry the execution the gate
// reserved capacity for.
type Decision struct {
	Approved  bool
	Reason    string
	Execution *models.RemediationExecution
}

// SafetyGate is the single choke point between matched rules and dispatched
// actions. All checks and the capacity reservation happen under one lock,
// so two candidates can never both claim the last free slot.
type SafetyGate struct {
	mu          sync.Mutex
	globalLimit int
	globalCount int
	ruleCounts  map[string]int
	lastTrigger map[string]time.Time
	draining    bool
	logger      *slog.Logger
}

// NewSafetyGate creates a gate admitting at most globalLimit concurrent
// executions across all rules.
func NewSafetyGate(globalLimit int, logger *slog.Logger) *SafetyGate {
	if globalLimit < 1 {
		globalLimit = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SafetyGate{
		globalLimit: globalLimit,
		ruleCounts:  make(map[string]int),
		lastTrigger: make(map[string]time.Time),
		logger:      logger,
	}
}

// Admit applies the safety checks in a fixed order and either blocks the
// candidate with the first failing check's reason or admits it, atomically
// stamping the rule's cooldown and reserving execution capacity.
func (g *SafetyGate) Admit(candidate models.CandidateTrigger, now time.Time) Decision {
	rule := candidate.Rule

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.draining {
		return g.blocked(models.ReasonShutdown)
	}
	if candidate.Anomaly.Confidence < rule.MinConfidence {
		return g.blocked(models.ReasonLowConfidence)
	}
	if last, ok := g.lastTrigger[rule.ID]; ok && rule.Cooldown > 0 && now.Sub(last) < rule.Cooldown {
		return g.blocked(models.ReasonCooldownActive)
	}
	if g.ruleCounts[rule.ID] >= rule.MaxConcurrent {
		return g.blocked(models.ReasonRuleConcurrency)
	}
	if g.globalCount >= g.globalLimit {
		return g.blocked(models.ReasonGlobalConcurrency)
	}

	g.ruleCounts[rule.ID]++
	g.globalCount++
	g.lastTrigger[rule.ID] = now
	metrics.SetActiveExecutions(g.globalCount)
	metrics.ObserveDecision("approved", "")

	execution := &models.RemediationExecution{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		Action:      rule.Action,
		Target:      rule.Target,
		Params:      copyParams(rule.Params),
		Retries:     rule.Retries,
		Status:      models.StatusApproved,
		TriggeredAt: now,
	}
	return Decision{Approved: true, Execution: execution}
}

func (g *SafetyGate) blocked(reason string) Decision {
	metrics.ObserveDecision("blocked", reason)
	return Decision{Reason: reason}
}

// Complete releases the capacity held by one execution of ruleID. The
// cooldown stamp is left untouched; it runs from the trigger, not from
// completion.
func (g *SafetyGate) Complete(ruleID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ruleCounts[ruleID] > 0 {
		g.ruleCounts[ruleID]--
	}
	if g.globalCount > 0 {
		g.globalCount--
	}
	metrics.SetActiveExecutions(g.globalCount)
}

// BeginDrain flips the gate into drain mode: every later Admit blocks with
// the shutdown reason while in-flight executions keep their capacity until
// they complete.
func (g *SafetyGate) BeginDrain() {
	g.mu.Lock()
	g.draining = true
	g.mu.Unlock()
	g.logger.Info("safety gate draining, no further approvals")
}

// Draining reports whether BeginDrain was called.
func (g *SafetyGate) Draining() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.draining
}

// Active returns the number of executions currently holding capacity.
func (g *SafetyGate) Active() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.globalCount
}

// Limit returns the global concurrency ceiling.
func (g *SafetyGate) Limit() int {
	return g.globalLimit
}

// RestoreActive re-reserves capacity for an execution found still running
// during crash recovery, and restores the rule's cooldown stamp.
func (g *SafetyGate) RestoreActive(ruleID string, triggeredAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ruleCounts[ruleID]++
	g.globalCount++
	g.stampLocked(ruleID, triggeredAt)
	metrics.SetActiveExecutions(g.globalCount)
}

// RestoreCooldown restores a rule's cooldown stamp from a persisted
// execution without reserving capacity.
func (g *SafetyGate) RestoreCooldown(ruleID string, triggeredAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stampLocked(ruleID, triggeredAt)
}

func (g *SafetyGate) stampLocked(ruleID string, triggeredAt time.Time) {
	if current, ok := g.lastTrigger[ruleID]; !ok || triggeredAt.After(current) {
		g.lastTrigger[ruleID] = triggeredAt
	}
}

func copyParams(params map[string]string) map[string]string {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
