package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels remediation cycles that ran to completion.
	OutcomeSuccess = "success"
	// OutcomeError labels cycles aborted by a collect failure.
	OutcomeError = "error"
	// OutcomeIdle labels cycles that found no snapshot to evaluate.
	OutcomeIdle = "idle"
)

var (
	snapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "snapshots_total",
			Help:      "Total number of metric snapshots ingested, partitioned by source.",
		},
		[]string{"source"},
	)

	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "cycles_total",
			Help:      "Total number of remediation cycles, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	cycleDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mirador_remediate",
			Name:      "cycle_seconds",
			Help:      "Remediation cycle latency in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	candidatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "candidates_total",
			Help:      "Total number of candidate triggers produced by the rule engine, partitioned by rule.",
		},
		[]string{"rule"},
	)

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "decisions_total",
			Help:      "Safety gate decisions, partitioned by outcome and block reason.",
		},
		[]string{"outcome", "reason"},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "executions_total",
			Help:      "Completed remediation executions, partitioned by action type and result.",
		},
		[]string{"action", "result"},
	)

	executionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mirador_remediate",
			Name:      "execution_seconds",
			Help:      "Remediation execution latency in seconds, partitioned by action type.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"action"},
	)

	activeExecutions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_remediate",
			Name:      "active_executions",
			Help:      "Number of remediation executions currently in flight.",
		},
	)

	scorerErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mirador_remediate",
			Name:      "scorer_errors_total",
			Help:      "Total number of scorer calls that failed or timed out.",
		},
	)

	scorerHealthy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_remediate",
			Name:      "scorer_healthy",
			Help:      "Whether the scorer is currently considered healthy (1) or degraded (0).",
		},
	)

	rulesLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mirador_remediate",
			Name:      "rules_loaded",
			Help:      "Number of rules in the active rule pack.",
		},
	)
)

// Register attaches remediation engine collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		snapshotsTotal,
		cyclesTotal,
		cycleDurationSeconds,
		candidatesTotal,
		decisionsTotal,
		executionsTotal,
		executionDurationSeconds,
		activeExecutions,
		scorerErrorsTotal,
		scorerHealthy,
		rulesLoaded,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveSnapshot counts one ingested snapshot from the named source.
func ObserveSnapshot(source string) {
	snapshotsTotal.WithLabelValues(source).Inc()
}

// ObserveCycle records a remediation cycle duration and outcome label.
func ObserveCycle(duration time.Duration, outcome string) {
	switch outcome {
	case OutcomeError, OutcomeIdle:
	default:
		outcome = OutcomeSuccess
	}
	cyclesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveCandidate counts one candidate trigger for the given rule.
func ObserveCandidate(ruleID string) {
	candidatesTotal.WithLabelValues(ruleID).Inc()
}

// ObserveDecision counts one gate decision. Approvals carry an empty reason.
func ObserveDecision(outcome, reason string) {
	decisionsTotal.WithLabelValues(outcome, reason).Inc()
}

// ObserveExecution records a completed execution with its duration.
func ObserveExecution(action string, result string, duration time.Duration) {
	executionsTotal.WithLabelValues(action, result).Inc()
	if duration < 0 {
		duration = 0
	}
	executionDurationSeconds.WithLabelValues(action).Observe(duration.Seconds())
}

// SetActiveExecutions publishes the current in-flight execution count.
func SetActiveExecutions(n int) {
	activeExecutions.Set(float64(n))
}

// ObserveScorerError counts one failed scorer call.
func ObserveScorerError() {
	scorerErrorsTotal.Inc()
}

// SetScorerHealthy publishes the scorer health flag.
func SetScorerHealthy(healthy bool) {
	if healthy {
		scorerHealthy.Set(1)
		return
	}
	scorerHealthy.Set(0)
}

// SetRulesLoaded publishes the size of the active rule pack.
func SetRulesLoaded(n int) {
	rulesLoaded.Set(float64(n))
}
