package rules

import (
	"github.com/miradorstack/mirador-remediate/internal/models"
)

// Eval reports whether the condition holds for the snapshot and anomaly
// result. A leaf naming a metric absent from the snapshot never matches;
// rules must not fire on data they cannot see.
func Eval(c models.Condition, snapshot models.MetricSnapshot, anomaly models.AnomalyResult) bool {
	switch {
	case len(c.All) > 0:
		for _, child := range c.All {
			if !Eval(child, snapshot, anomaly) {
				return false
			}
		}
		return true
	case len(c.Any) > 0:
		for _, child := range c.Any {
			if Eval(child, snapshot, anomaly) {
				return true
			}
		}
		return false
	case c.Not != nil:
		return !Eval(*c.Not, snapshot, anomaly)
	}

	var (
		value float64
		ok    bool
	)
	if c.Metric != "" {
		value, ok = snapshot.Metric(c.Metric)
	} else {
		value, ok = anomalyField(anomaly, c.Anomaly)
	}
	if !ok {
		return false
	}
	return compare(c.Op, value, c.Value)
}

func anomalyField(anomaly models.AnomalyResult, field string) (float64, bool) {
	switch field {
	case models.AnomalyFieldScore:
		return anomaly.Score, true
	case models.AnomalyFieldConfidence:
		return anomaly.Confidence, true
	case models.AnomalyFieldIsAnomaly:
		if anomaly.IsAnomaly {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func compare(op string, left, right float64) bool {
	switch op {
	case models.OpGT:
		return left > right
	case models.OpGTE:
		return left >= right
	case models.OpLT:
		return left < right
	case models.OpLTE:
		return left <= right
	case models.OpEQ:
		return left == right
	case models.OpNE:
		return left != right
	}
	return false
}
