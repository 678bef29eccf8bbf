package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/executor"
	"github.com/miradorstack/mirador-remediate/internal/models"
	"github.com/miradorstack/mirador-remediate/internal/store"
)

type fakeStatusCollaborator struct {
	mu      sync.Mutex
	reports map[string]executor.DispatchResult
	errs    map[string]error
}

func (f *fakeStatusCollaborator) Dispatch(context.Context, executor.DispatchRequest) (executor.DispatchResult, error) {
	return executor.DispatchResult{Status: executor.DispatchSucceeded}, nil
}

func (f *fakeStatusCollaborator) Status(_ context.Context, executionID string) (executor.DispatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[executionID]; ok {
		return executor.DispatchResult{}, err
	}
	if report, ok := f.reports[executionID]; ok {
		return report, nil
	}
	return executor.DispatchResult{Status: executor.DispatchUnknown}, nil
}

func (f *fakeStatusCollaborator) setReport(executionID string, report executor.DispatchResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reports == nil {
		f.reports = make(map[string]executor.DispatchResult)
	}
	f.reports[executionID] = report
}

func seedExecution(t *testing.T, st *store.Store, id, ruleID string, status models.ExecutionStatus, triggeredAt time.Time) {
	t.Helper()
	err := st.SaveExecution(context.Background(), models.RemediationExecution{
		ID:          id,
		RuleID:      ruleID,
		Action:      models.ActionRestartService,
		Target:      "worker",
		Status:      status,
		TriggeredAt: triggeredAt,
	})
	if err != nil {
		t.Fatalf("seed execution %s: %v", id, err)
	}
}

func TestRecoverReconcilesTerminalStates(t *testing.T) {
	collab := &fakeStatusCollaborator{reports: map[string]executor.DispatchResult{
		"exec-a": {Status: executor.DispatchSucceeded, Detail: "finished earlier"},
		"exec-b": {Status: executor.DispatchFailed, Detail: "rolled back"},
	}}
	f := newFixture(t, nil, collab)

	base := time.Now().UTC().Add(-time.Minute)
	seedExecution(t, f.st, "exec-a", "restart-worker", models.StatusExecuting, base)
	seedExecution(t, f.st, "exec-b", "flush-sessions", models.StatusExecuting, base)
	seedExecution(t, f.st, "exec-c", "scale-api", models.StatusApproved, base)

	if err := f.coordinator.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	f.coordinator.inflight.Wait()

	expect := map[string]struct {
		status models.ExecutionStatus
		detail string
	}{
		"exec-a": {models.StatusSucceeded, "finished earlier"},
		"exec-b": {models.StatusFailed, "rolled back"},
		"exec-c": {models.StatusFailed, "collaborator does not know this execution"},
	}
	for id, want := range expect {
		got, err := f.st.GetExecution(context.Background(), id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.Status != want.status || got.Detail != want.detail {
			t.Fatalf("unexpected reconciliation of %s: %+v", id, got)
		}
	}

	entries, err := f.st.Range(context.Background(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour), 0)
	if err != nil {
		t.Fatalf("range ledger: %v", err)
	}
	reasons := make(map[string]string, len(entries))
	for _, entry := range entries {
		if entry.Kind == models.AuditResult {
			reasons[entry.ExecutionID] = entry.Reason
		}
	}
	if len(reasons) != 3 {
		t.Fatalf("expected 3 result entries, got %v", reasons)
	}
	if reasons["exec-a"] != "" || reasons["exec-b"] != models.ReasonDispatchFailed || reasons["exec-c"] != models.ReasonUnknownAfterRestart {
		t.Fatalf("unexpected reasons: %v", reasons)
	}
	if f.safetyGate.Active() != 0 {
		t.Fatalf("reconciled executions must not hold gate slots, active=%d", f.safetyGate.Active())
	}
}

func TestRecoverWatchesRunningExecution(t *testing.T) {
	collab := &fakeStatusCollaborator{reports: map[string]executor.DispatchResult{
		"exec-r": {Status: executor.DispatchRunning},
	}}
	f := newFixture(t, nil, collab)
	f.coordinator.watchInterval = 10 * time.Millisecond

	seedExecution(t, f.st, "exec-r", "restart-worker", models.StatusExecuting, time.Now().UTC().Add(-time.Minute))

	if err := f.coordinator.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if f.safetyGate.Active() != 1 {
		t.Fatalf("expected the running execution to hold a gate slot, active=%d", f.safetyGate.Active())
	}

	collab.setReport("exec-r", executor.DispatchResult{Status: executor.DispatchSucceeded, Detail: "completed after restart"})
	f.coordinator.inflight.Wait()

	got, err := f.st.GetExecution(context.Background(), "exec-r")
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if got.Status != models.StatusSucceeded || got.Detail != "completed after restart" {
		t.Fatalf("unexpected watched outcome: %+v", got)
	}
	if f.safetyGate.Active() != 0 {
		t.Fatalf("expected gate slot released, active=%d", f.safetyGate.Active())
	}
}

func TestRecoverUnreachableCollaborator(t *testing.T) {
	collab := &fakeStatusCollaborator{errs: map[string]error{
		"exec-x": fmt.Errorf("connection refused"),
	}}
	f := newFixture(t, nil, collab)

	seedExecution(t, f.st, "exec-x", "restart-worker", models.StatusExecuting, time.Now().UTC().Add(-time.Minute))

	if err := f.coordinator.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	got, err := f.st.GetExecution(context.Background(), "exec-x")
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if got.Status != models.StatusFailed {
		t.Fatalf("expected failure for unreachable collaborator, got %s", got.Status)
	}
}

func TestRecoverWithoutCollaborator(t *testing.T) {
	f := newFixture(t, nil, nil)

	seedExecution(t, f.st, "exec-y", "restart-worker", models.StatusApproved, time.Now().UTC().Add(-time.Minute))

	if err := f.coordinator.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	got, err := f.st.GetExecution(context.Background(), "exec-y")
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if got.Status != models.StatusFailed {
		t.Fatalf("expected failure without collaborator, got %s", got.Status)
	}
}

func TestRecoverRestoresCooldowns(t *testing.T) {
	f := newFixture(t, nil, &fakeStatusCollaborator{})

	triggeredAt := time.Now().UTC().Add(-30 * time.Second)
	seedExecution(t, f.st, "exec-done", "flush-sessions", models.StatusSucceeded, triggeredAt)

	if err := f.coordinator.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}

	candidate := models.CandidateTrigger{
		RuleID: "flush-sessions",
		Rule: models.RemediationRule{
			ID:            "flush-sessions",
			Enabled:       true,
			Action:        models.ActionClearCache,
			Target:        "sessions",
			Cooldown:      2 * time.Minute,
			MaxConcurrent: 1,
		},
		Anomaly:     models.AnomalyResult{Confidence: 1},
		EvaluatedAt: time.Now().UTC(),
	}
	decision := f.safetyGate.Admit(candidate, time.Now().UTC())
	if decision.Approved || decision.Reason != models.ReasonCooldownActive {
		t.Fatalf("expected cooldown block after recovery, got %+v", decision)
	}
}
