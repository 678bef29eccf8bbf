package report

import (
	"sort"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// RuleSummary aggregates the ledger's view of one rule over a window:
// how often it proposed action, what the gate did with those proposals,
// and how its executions ended.
type RuleSummary struct {
	RuleID        string         `json:"rule_id"`
	Candidates    int            `json:"candidates"`
	Approved      int            `json:"approved"`
	Superseded    int            `json:"superseded"`
	Skipped       int            `json:"skipped"`
	BlockedBy     map[string]int `json:"blocked_by,omitempty"`
	Succeeded     int            `json:"succeeded"`
	Failed        int            `json:"failed"`
	FailedBy      map[string]int `json:"failed_by,omitempty"`
	SuccessRatio  float64        `json:"success_ratio"`
	LastTriggered time.Time      `json:"last_triggered"`
}

// Summarize folds ledger entries into per-rule summaries. Result entries
// without a reason code count as successes; every failure carries one.
// Summaries are ordered by candidate volume, busiest rule first.
func Summarize(entries []models.AuditEntry) []RuleSummary {
	if len(entries) == 0 {
		return nil
	}

	byRule := make(map[string]*ruleAggregate)
	for _, entry := range entries {
		if entry.RuleID == "" {
			continue
		}
		agg := ensureAggregate(byRule, entry.RuleID)

		switch entry.Kind {
		case models.AuditCandidate:
			agg.candidates++
		case models.AuditApproved:
			agg.approved++
			if entry.Time.After(agg.lastTriggered) {
				agg.lastTriggered = entry.Time
			}
		case models.AuditBlocked:
			agg.blockedBy[entry.Reason]++
		case models.AuditSuperseded:
			agg.superseded++
		case models.AuditSkipped:
			agg.skipped++
		case models.AuditResult:
			if entry.Reason == "" {
				agg.succeeded++
			} else {
				agg.failed++
				agg.failedBy[entry.Reason]++
			}
		}
	}

	summaries := make([]RuleSummary, 0, len(byRule))
	for ruleID, agg := range byRule {
		summary := RuleSummary{
			RuleID:        ruleID,
			Candidates:    agg.candidates,
			Approved:      agg.approved,
			Superseded:    agg.superseded,
			Skipped:       agg.skipped,
			Succeeded:     agg.succeeded,
			Failed:        agg.failed,
			LastTriggered: agg.lastTriggered,
		}
		if len(agg.blockedBy) > 0 {
			summary.BlockedBy = agg.blockedBy
		}
		if len(agg.failedBy) > 0 {
			summary.FailedBy = agg.failedBy
		}
		if total := agg.succeeded + agg.failed; total > 0 {
			summary.SuccessRatio = float64(agg.succeeded) / float64(total)
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Candidates != summaries[j].Candidates {
			return summaries[i].Candidates > summaries[j].Candidates
		}
		return summaries[i].RuleID < summaries[j].RuleID
	})

	return summaries
}

type ruleAggregate struct {
	candidates    int
	approved      int
	superseded    int
	skipped       int
	succeeded     int
	failed        int
	blockedBy     map[string]int
	failedBy      map[string]int
	lastTriggered time.Time
}

func ensureAggregate(m map[string]*ruleAggregate, ruleID string) *ruleAggregate {
	agg, ok := m[ruleID]
	if !ok {
		agg = &ruleAggregate{
			blockedBy: make(map[string]int),
			failedBy:  make(map[string]int),
		}
		m[ruleID] = agg
	}
	return agg
}
