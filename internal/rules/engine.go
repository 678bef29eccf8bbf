package rules

import (
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// Superseded records a matching rule that lost its conflict class to a
// higher-ranked rule in the same cycle.
type Superseded struct {
	RuleID   string
	WinnerID string
	Class    string
}

// EvalResult is the outcome of evaluating one snapshot against the active
// pack. Candidates are ordered by rule priority, then ID.
type EvalResult struct {
	Candidates       []models.CandidateTrigger
	Superseded       []Superseded
	SkippedUnhealthy []string
}

// Engine evaluates snapshots against the active rule pack. The pack is
// swapped atomically on reload; an evaluation always sees one consistent
// generation.
type Engine struct {
	mu     sync.RWMutex
	pack   *Pack
	logger *slog.Logger
}

// NewEngine creates an engine serving the given pack.
func NewEngine(pack *Pack, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{pack: pack, logger: logger}
}

// Swap replaces the active pack.
func (e *Engine) Swap(pack *Pack) {
	e.mu.Lock()
	e.pack = pack
	e.mu.Unlock()
}

// ActivePack returns the pack evaluations currently run against.
func (e *Engine) ActivePack() *Pack {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pack
}

// Evaluate matches the snapshot and anomaly result against every enabled
// rule. While the scorer is unhealthy, rules whose conditions read anomaly
// fields are suspended rather than fed degraded data. Matching rules are
// independent of each other except for the tie-break: when equal-priority
// matches contend for one conflict class, the lowest rule ID wins the cycle
// and the rest are superseded.
func (e *Engine) Evaluate(snapshot models.MetricSnapshot, anomaly models.AnomalyResult, scorerHealthy bool, now time.Time) EvalResult {
	pack := e.ActivePack()

	var result EvalResult
	if pack == nil {
		return result
	}

	type tieKey struct {
		class    string
		priority int
	}
	winners := make(map[tieKey]string, 4)
	for _, rule := range pack.Rules {
		if !rule.Enabled {
			continue
		}
		if !scorerHealthy && rule.When.ReferencesAnomaly() {
			result.SkippedUnhealthy = append(result.SkippedUnhealthy, rule.ID)
			continue
		}
		if !Eval(rule.When, snapshot, anomaly) {
			continue
		}

		// Pack order is priority then ID, so the first equal-priority
		// match in a class is the lexicographic winner.
		key := tieKey{class: rule.ConflictClass(), priority: rule.Priority}
		if winner, taken := winners[key]; taken {
			result.Superseded = append(result.Superseded, Superseded{
				RuleID:   rule.ID,
				WinnerID: winner,
				Class:    key.class,
			})
			continue
		}
		winners[key] = rule.ID

		result.Candidates = append(result.Candidates, models.CandidateTrigger{
			RuleID:      rule.ID,
			Rule:        rule,
			Snapshot:    snapshot,
			Anomaly:     anomaly,
			EvaluatedAt: now,
		})
	}

	return result
}
