package models

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"time"
)

// MetricSnapshot is one normalized sample of infrastructure metrics delivered
// by a collector at a fixed cadence. Snapshots are immutable once created.
type MetricSnapshot struct {
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Validate rejects snapshots the decision pipeline cannot act on safely.
func (s MetricSnapshot) Validate() error {
	if s.Timestamp.IsZero() {
		return fmt.Errorf("snapshot timestamp is required")
	}
	if len(s.Metrics) == 0 {
		return fmt.Errorf("snapshot carries no metrics")
	}
	for name, value := range s.Metrics {
		if name == "" {
			return fmt.Errorf("snapshot metric with empty name")
		}
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("metric %q has non-finite value", name)
		}
	}
	return nil
}

// Metric returns the named value and whether the snapshot contains it.
func (s MetricSnapshot) Metric(name string) (float64, bool) {
	value, ok := s.Metrics[name]
	return value, ok
}

// Fingerprint derives a stable identity from the snapshot contents. Scoring is
// idempotent per snapshot, so the fingerprint doubles as a scorer cache key.
func (s MetricSnapshot) Fingerprint() string {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	h := fnv.New64a()
	fmt.Fprintf(h, "%d", s.Timestamp.UnixNano())
	for _, name := range names {
		fmt.Fprintf(h, "|%s=%g", name, s.Metrics[name])
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Clone returns a deep copy so downstream stages cannot mutate the original.
func (s MetricSnapshot) Clone() MetricSnapshot {
	metrics := make(map[string]float64, len(s.Metrics))
	for name, value := range s.Metrics {
		metrics[name] = value
	}
	return MetricSnapshot{Timestamp: s.Timestamp, Metrics: metrics}
}
