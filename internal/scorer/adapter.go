package scorer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/cache"
	"github.com/miradorstack/mirador-remediate/internal/metrics"
	"github.com/miradorstack/mirador-remediate/internal/models"
)

// Adapter wraps a Model with the engine's failure policy: calls are
// bounded by a timeout, failures degrade to a zero-confidence result
// instead of propagating, repeated results for the same snapshot come
// from cache, and a sliding window of call outcomes drives the health
// signal consumed by the rule engine.
type Adapter struct {
	model        Model
	timeout      time.Duration
	provider     cache.Provider
	maxErrorRate float64
	logger       *slog.Logger

	mu       sync.Mutex
	outcomes []bool
	next     int
	filled   bool
}

// NewAdapter builds an adapter around model. A nil provider disables
// caching; a nil logger falls back to slog.Default().
func NewAdapter(model Model, timeout time.Duration, healthWindow int, maxErrorRate float64, provider cache.Provider, logger *slog.Logger) *Adapter {
	if healthWindow < 1 {
		healthWindow = 1
	}
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		model:        model,
		timeout:      timeout,
		provider:     provider,
		maxErrorRate: maxErrorRate,
		logger:       logger,
		outcomes:     make([]bool, healthWindow),
	}
}

// Version reports the wrapped model's version.
func (a *Adapter) Version() string { return a.model.Version() }

// Evaluate scores the snapshot. It never returns an error: when the model
// fails or times out the caller receives a degraded result and the rule
// engine's health gating takes over.
func (a *Adapter) Evaluate(ctx context.Context, snapshot models.MetricSnapshot) models.AnomalyResult {
	key := "score:" + snapshot.Fingerprint()

	if data, err := a.provider.Get(ctx, key); err == nil {
		var cached models.AnomalyResult
		if err := json.Unmarshal(data, &cached); err == nil {
			return cached
		}
	}

	scoreCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	result, err := a.model.Score(scoreCtx, snapshot)
	if err != nil {
		metrics.ObserveScorerError()
		a.record(false)
		a.logger.Warn("scorer call failed, degrading", slog.String("model", a.model.Version()), slog.Any("error", err))
		return models.DegradedResult(a.model.Version(), time.Now().UTC())
	}

	a.record(true)
	if data, err := json.Marshal(result); err == nil {
		if err := a.provider.Set(ctx, key, data); err != nil {
			a.logger.Debug("score cache write failed", slog.Any("error", err))
		}
	}
	return result
}

// Healthy reports whether the recent error rate is within tolerance.
// An adapter with no recorded calls is healthy.
func (a *Adapter) Healthy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errorRateLocked() <= a.maxErrorRate
}

// ErrorRate returns the failure fraction over the sliding window.
func (a *Adapter) ErrorRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errorRateLocked()
}

func (a *Adapter) record(success bool) {
	a.mu.Lock()
	a.outcomes[a.next] = success
	a.next++
	if a.next == len(a.outcomes) {
		a.next = 0
		a.filled = true
	}
	healthy := a.errorRateLocked() <= a.maxErrorRate
	a.mu.Unlock()

	metrics.SetScorerHealthy(healthy)
}

func (a *Adapter) errorRateLocked() float64 {
	count := a.next
	if a.filled {
		count = len(a.outcomes)
	}
	if count == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < count; i++ {
		if !a.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(count)
}
