package scorer

import (
	"context"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// BuiltinVersion identifies the embedded z-score model.
const BuiltinVersion = "builtin-zscore/1"

// zScoreThreshold is the number of standard deviations a metric must drift
// from its baseline before it counts as anomalous.
const zScoreThreshold = 3.0

// BuiltinModel is a self-contained anomaly scorer that maintains a rolling
// baseline per metric and flags values straying too many standard
// deviations from it. It needs no external service, which makes it the
// default for fresh deployments.
type BuiltinModel struct {
	mu          sync.Mutex
	baselines   map[string]*baseline
	window      int
	minBaseline int
}

type baseline struct {
	values []float64
	next   int
	filled bool
}

func newBaseline(window int) *baseline {
	return &baseline{values: make([]float64, window)}
}

func (b *baseline) add(v float64) {
	b.values[b.next] = v
	b.next++
	if b.next == len(b.values) {
		b.next = 0
		b.filled = true
	}
}

func (b *baseline) samples() []float64 {
	if b.filled {
		out := make([]float64, len(b.values))
		copy(out, b.values)
		return out
	}
	out := make([]float64, b.next)
	copy(out, b.values[:b.next])
	return out
}

func (b *baseline) count() int {
	if b.filled {
		return len(b.values)
	}
	return b.next
}

// NewBuiltinModel creates a z-score model keeping up to window samples per
// metric and requiring minBaseline samples before a metric is scored.
func NewBuiltinModel(window, minBaseline int) *BuiltinModel {
	if window < 2 {
		window = 2
	}
	if minBaseline < 2 {
		minBaseline = 2
	}
	if minBaseline > window {
		minBaseline = window
	}
	return &BuiltinModel{
		baselines:   make(map[string]*baseline),
		window:      window,
		minBaseline: minBaseline,
	}
}

// Version identifies the model in audit entries and status reports.
func (m *BuiltinModel) Version() string { return BuiltinVersion }

// Score compares each metric against its rolling baseline and reports the
// worst deviation. Confidence reflects how many of the snapshot's metrics
// had a warm baseline; during warm-up it stays low so the safety gate
// holds actions back.
func (m *BuiltinModel) Score(ctx context.Context, snapshot models.MetricSnapshot) (models.AnomalyResult, error) {
	if err := ctx.Err(); err != nil {
		return models.AnomalyResult{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		maxZ  float64
		warm  int
		total int
	)
	for name, value := range snapshot.Metrics {
		total++
		bl, ok := m.baselines[name]
		if !ok {
			bl = newBaseline(m.window)
			m.baselines[name] = bl
		}

		if bl.count() >= m.minBaseline {
			mean, stddev := stat.MeanStdDev(bl.samples(), nil)
			if stddev > 0 {
				if z := math.Abs((value - mean) / stddev); z > maxZ {
					maxZ = z
				}
				warm++
			} else if value == mean {
				// A flat baseline matching the observed value is a
				// confident non-anomaly.
				warm++
			}
		}

		bl.add(value)
	}

	result := models.AnomalyResult{
		ModelVersion: BuiltinVersion,
		ProducedAt:   time.Now().UTC(),
	}
	if total > 0 {
		result.Confidence = float64(warm) / float64(total)
	}
	result.Score = math.Min(maxZ/(2*zScoreThreshold), 1)
	result.IsAnomaly = maxZ > zScoreThreshold
	return result, nil
}
