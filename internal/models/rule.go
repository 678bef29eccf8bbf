package models

import "time"

// ActionType enumerates the remediation actions the executor can dispatch.
// The set is closed: adding an action means extending the executor's switch,
// checked at compile time.
type ActionType string

const (
	ActionScaleUp        ActionType = "scale_up"
	ActionScaleDown      ActionType = "scale_down"
	ActionRestartService ActionType = "restart_service"
	ActionClearCache     ActionType = "clear_cache"
	ActionCustom         ActionType = "custom"
)

// Valid reports whether the action is a member of the closed set.
func (a ActionType) Valid() bool {
	switch a {
	case ActionScaleUp, ActionScaleDown, ActionRestartService, ActionClearCache, ActionCustom:
		return true
	}
	return false
}

// RemediationRule declares when and how one remediation action may fire.
// Rules are loaded from a pack at startup and are immutable for the lifetime
// of a pack generation.
type RemediationRule struct {
	ID            string            `json:"id"`
	Priority      int               `json:"priority"`
	Enabled       bool              `json:"enabled"`
	Action        ActionType        `json:"action"`
	Target        string            `json:"target"`
	Params        map[string]string `json:"params,omitempty"`
	Cooldown      time.Duration     `json:"cooldown"`
	MinConfidence float64           `json:"min_confidence"`
	MaxConcurrent int               `json:"max_concurrent"`
	Retries       int               `json:"retries"`
	When          Condition         `json:"when"`
}

// ConflictClass groups rules whose actions contend for the same resource.
// Scale-up and scale-down of one target share a class, so two equal-priority
// rules cannot both move it within a single cycle.
func (r RemediationRule) ConflictClass() string {
	switch r.Action {
	case ActionScaleUp, ActionScaleDown:
		return "scale/" + r.Target
	default:
		return string(r.Action) + "/" + r.Target
	}
}

// Condition is a declarative predicate over a snapshot and an anomaly result.
// It is a tree: exactly one of All, Any, Not, or a leaf comparison is set per
// node. Leaves compare either a snapshot metric (Metric) or an anomaly field
// (Anomaly: score, confidence, or is_anomaly, the last read as 0 or 1)
// against Value using Op.
type Condition struct {
	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
	Not *Condition  `json:"not,omitempty"`

	Metric  string  `json:"metric,omitempty"`
	Anomaly string  `json:"anomaly,omitempty"`
	Op      string  `json:"op,omitempty"`
	Value   float64 `json:"value,omitempty"`
}

// Comparison operators accepted in condition leaves.
const (
	OpGT  = "gt"
	OpGTE = "gte"
	OpLT  = "lt"
	OpLTE = "lte"
	OpEQ  = "eq"
	OpNE  = "ne"
)

// Anomaly fields addressable from condition leaves.
const (
	AnomalyFieldScore      = "score"
	AnomalyFieldConfidence = "confidence"
	AnomalyFieldIsAnomaly  = "is_anomaly"
)

// IsLeaf reports whether the node is a comparison rather than a combinator.
func (c Condition) IsLeaf() bool {
	return len(c.All) == 0 && len(c.Any) == 0 && c.Not == nil
}

// ReferencesAnomaly reports whether any leaf in the tree reads an anomaly
// field. Rules that do are suspended while the scorer is unhealthy.
func (c Condition) ReferencesAnomaly() bool {
	if c.IsLeaf() {
		return c.Anomaly != ""
	}
	for _, child := range c.All {
		if child.ReferencesAnomaly() {
			return true
		}
	}
	for _, child := range c.Any {
		if child.ReferencesAnomaly() {
			return true
		}
	}
	if c.Not != nil {
		return c.Not.ReferencesAnomaly()
	}
	return false
}
