package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/miradorstack/mirador-remediate/internal/audit"
	"github.com/miradorstack/mirador-remediate/internal/ingest"
	"github.com/miradorstack/mirador-remediate/internal/models"
	"github.com/miradorstack/mirador-remediate/internal/report"
	"github.com/miradorstack/mirador-remediate/internal/rules"
	"github.com/miradorstack/mirador-remediate/internal/service"
	"github.com/miradorstack/mirador-remediate/internal/store"
	"github.com/miradorstack/mirador-remediate/internal/utils"
)

const (
	defaultAuditWindow   = time.Hour
	defaultAuditLimit    = 500
	maxAuditLimit        = 5000
	defaultStatsWindow   = 24 * time.Hour
	defaultExecListLimit = 100
	maxExecListLimit     = 1000
)

// ExecutionReader is the slice of the execution store the admin API reads.
type ExecutionReader interface {
	GetExecution(ctx context.Context, id string) (models.RemediationExecution, error)
	ListExecutions(ctx context.Context, limit int) ([]models.RemediationExecution, error)
}

// Handlers bundles the admin API endpoints with the collaborators they read
// from. Every endpoint is read-only except snapshot push.
type Handlers struct {
	status      *service.StatusService
	ledger      audit.Ledger
	executions  ExecutionReader
	rulesEngine *rules.Engine
	push        *ingest.PushSource
	logger      *slog.Logger
}

// NewHandlers wires the admin endpoints. Any collaborator may be nil; the
// endpoints backed by a missing one answer 503 instead of panicking.
func NewHandlers(
	status *service.StatusService,
	ledger audit.Ledger,
	executions ExecutionReader,
	rulesEngine *rules.Engine,
	push *ingest.PushSource,
	logger *slog.Logger,
) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		status:      status,
		ledger:      ledger,
		executions:  executions,
		rulesEngine: rulesEngine,
		push:        push,
		logger:      logger,
	}
}

// Health answers liveness probes.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready answers readiness probes; a draining engine is alive but not ready.
func (h *Handlers) Ready(w http.ResponseWriter, _ *http.Request) {
	if h.status != nil && !h.status.Ready() {
		writeError(w, http.StatusServiceUnavailable, "draining")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Status reports the engine's current state.
func (h *Handlers) Status(w http.ResponseWriter, _ *http.Request) {
	if h.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status service not configured")
		return
	}
	writeJSON(w, http.StatusOK, h.status.Current())
}

type auditResponse struct {
	Start   time.Time           `json:"start"`
	End     time.Time           `json:"end"`
	Count   int                 `json:"count"`
	Entries []models.AuditEntry `json:"entries"`
}

// Audit returns ledger entries for an RFC3339 window, newest window
// defaulting to the trailing hour.
func (h *Handlers) Audit(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "audit ledger not configured")
		return
	}

	query := r.URL.Query()
	start, end, err := utils.ResolveRange(query.Get("start"), query.Get("end"), defaultAuditWindow, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(query.Get("limit"), defaultAuditLimit, maxAuditLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.ledger.Range(r.Context(), start, end, limit)
	if err != nil {
		h.logger.Error("audit range query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	if entries == nil {
		entries = []models.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, auditResponse{
		Start:   start,
		End:     end,
		Count:   len(entries),
		Entries: entries,
	})
}

type executionsResponse struct {
	Count      int                           `json:"count"`
	Executions []models.RemediationExecution `json:"executions"`
}

// ListExecutions returns recent executions, newest first.
func (h *Handlers) ListExecutions(w http.ResponseWriter, r *http.Request) {
	if h.executions == nil {
		writeError(w, http.StatusServiceUnavailable, "execution store not configured")
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultExecListLimit, maxExecListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	execs, err := h.executions.ListExecutions(r.Context(), limit)
	if err != nil {
		h.logger.Error("execution listing failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "execution query failed")
		return
	}
	if execs == nil {
		execs = []models.RemediationExecution{}
	}
	writeJSON(w, http.StatusOK, executionsResponse{Count: len(execs), Executions: execs})
}

// GetExecution returns one execution by ID.
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	if h.executions == nil {
		writeError(w, http.StatusServiceUnavailable, "execution store not configured")
		return
	}

	id := mux.Vars(r)["id"]
	exec, err := h.executions.GetExecution(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("execution %s not found", id))
		return
	}
	if err != nil {
		h.logger.Error("execution lookup failed", slog.String("execution_id", id), slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "execution query failed")
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// ruleView is the sanitized wire form of a rule: identity and guardrails,
// without params, which may embed operational commands.
type ruleView struct {
	ID            string            `json:"id"`
	Priority      int               `json:"priority"`
	Enabled       bool              `json:"enabled"`
	Action        models.ActionType `json:"action"`
	Target        string            `json:"target"`
	Cooldown      string            `json:"cooldown"`
	MinConfidence float64           `json:"min_confidence"`
	MaxConcurrent int               `json:"max_concurrent"`
	Retries       int               `json:"retries"`
}

type rulesResponse struct {
	Checksum string     `json:"checksum,omitempty"`
	LoadedAt time.Time  `json:"loaded_at,omitempty"`
	Count    int        `json:"count"`
	Rules    []ruleView `json:"rules"`
}

// Rules returns the active rule pack in sanitized form.
func (h *Handlers) Rules(w http.ResponseWriter, _ *http.Request) {
	if h.rulesEngine == nil {
		writeError(w, http.StatusServiceUnavailable, "rule engine not configured")
		return
	}

	pack := h.rulesEngine.ActivePack()
	if pack == nil {
		writeJSON(w, http.StatusOK, rulesResponse{Rules: []ruleView{}})
		return
	}

	views := make([]ruleView, 0, len(pack.Rules))
	for _, rule := range pack.Rules {
		views = append(views, ruleView{
			ID:            rule.ID,
			Priority:      rule.Priority,
			Enabled:       rule.Enabled,
			Action:        rule.Action,
			Target:        rule.Target,
			Cooldown:      rule.Cooldown.String(),
			MinConfidence: rule.MinConfidence,
			MaxConcurrent: rule.MaxConcurrent,
			Retries:       rule.Retries,
		})
	}
	writeJSON(w, http.StatusOK, rulesResponse{
		Checksum: pack.Checksum,
		LoadedAt: pack.LoadedAt,
		Count:    len(views),
		Rules:    views,
	})
}

type statsResponse struct {
	Start time.Time            `json:"start"`
	End   time.Time            `json:"end"`
	Rules []report.RuleSummary `json:"rules"`
}

// RuleStats folds the ledger window into per-rule decision summaries.
func (h *Handlers) RuleStats(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "audit ledger not configured")
		return
	}

	query := r.URL.Query()
	start, end, err := utils.ResolveRange(query.Get("start"), query.Get("end"), defaultStatsWindow, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.ledger.Range(r.Context(), start, end, 0)
	if err != nil {
		h.logger.Error("audit range query failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}

	summaries := report.Summarize(entries)
	if summaries == nil {
		summaries = []report.RuleSummary{}
	}
	writeJSON(w, http.StatusOK, statsResponse{Start: start, End: end, Rules: summaries})
}

// PushSnapshot accepts an externally collected metric snapshot for the next
// decision cycle. Only meaningful when the collector runs in push mode.
func (h *Handlers) PushSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.push == nil {
		writeError(w, http.StatusConflict, "push ingestion is not enabled")
		return
	}

	var snapshot models.MetricSnapshot
	if err := json.NewDecoder(r.Body).Decode(&snapshot); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.push.Offer(snapshot); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func parseLimit(raw string, fallback, ceiling int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	if limit > ceiling {
		limit = ceiling
	}
	return limit, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
