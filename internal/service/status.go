package service

import (
	"time"

	"github.com/miradorstack/mirador-remediate/internal/rules"
)

// ScorerInfo is the health view the status facade reads from the scorer
// adapter.
type ScorerInfo interface {
	Healthy() bool
	ErrorRate() float64
	Version() string
}

// GateInfo is the occupancy view the status facade reads from the safety
// gate.
type GateInfo interface {
	Active() int
	Limit() int
	Draining() bool
}

// CycleInfo exposes the coordinator's cycle latency.
type CycleInfo interface {
	LatencyP95() time.Duration
}

// Status is the admin view of the engine's runtime state.
type Status struct {
	State         string       `json:"state"`
	Version       string       `json:"version"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	Scorer        ScorerStatus `json:"scorer"`
	Rules         RulesStatus  `json:"rules"`
	Gate          GateStatus   `json:"gate"`
	CycleP95Ms    int64        `json:"cycle_p95_ms"`
}

// ScorerStatus reports the scorer adapter's health window.
type ScorerStatus struct {
	Healthy   bool    `json:"healthy"`
	ErrorRate float64 `json:"error_rate"`
	Model     string  `json:"model"`
}

// RulesStatus reports the active rule pack generation.
type RulesStatus struct {
	Loaded   int       `json:"loaded"`
	Checksum string    `json:"checksum"`
	LoadedAt time.Time `json:"loaded_at"`
}

// GateStatus reports safety gate occupancy.
type GateStatus struct {
	Active   int  `json:"active"`
	Limit    int  `json:"limit"`
	Draining bool `json:"draining"`
}

// StatusService assembles the engine's runtime state for the admin API and
// the CLI.
type StatusService struct {
	scorer      ScorerInfo
	gate        GateInfo
	cycles      CycleInfo
	rulesEngine *rules.Engine
	version     string
	started     time.Time
}

// NewStatusService wires the facade to the running components.
func NewStatusService(scorer ScorerInfo, gate GateInfo, cycles CycleInfo, rulesEngine *rules.Engine, version string) *StatusService {
	return &StatusService{
		scorer:      scorer,
		gate:        gate,
		cycles:      cycles,
		rulesEngine: rulesEngine,
		version:     version,
		started:     time.Now(),
	}
}

// Current captures the engine state at this instant.
func (s *StatusService) Current() Status {
	status := Status{
		State:         "running",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}

	if s.scorer != nil {
		status.Scorer = ScorerStatus{
			Healthy:   s.scorer.Healthy(),
			ErrorRate: s.scorer.ErrorRate(),
			Model:     s.scorer.Version(),
		}
	}
	if s.rulesEngine != nil {
		if pack := s.rulesEngine.ActivePack(); pack != nil {
			status.Rules = RulesStatus{
				Loaded:   len(pack.Rules),
				Checksum: pack.Checksum,
				LoadedAt: pack.LoadedAt,
			}
		}
	}
	if s.gate != nil {
		status.Gate = GateStatus{
			Active:   s.gate.Active(),
			Limit:    s.gate.Limit(),
			Draining: s.gate.Draining(),
		}
		if status.Gate.Draining {
			status.State = "draining"
		}
	}
	if s.cycles != nil {
		status.CycleP95Ms = s.cycles.LatencyP95().Milliseconds()
	}

	return status
}

// Ready reports whether the engine should accept work: true until drain
// begins.
func (s *StatusService) Ready() bool {
	if s.gate == nil {
		return true
	}
	return !s.gate.Draining()
}
