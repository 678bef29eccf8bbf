package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

type scripted struct {
	result DispatchResult
	err    error
}

type fakeCollaborator struct {
	mu       sync.Mutex
	script   []scripted
	delay    time.Duration
	calls    int
	requests []DispatchRequest
}

func (f *fakeCollaborator) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	f.mu.Lock()
	index := f.calls
	f.calls++
	f.requests = append(f.requests, req)
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return DispatchResult{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.script) == 0 {
		return DispatchResult{Status: DispatchSucceeded}, nil
	}
	if index >= len(f.script) {
		index = len(f.script) - 1
	}
	step := f.script[index]
	return step.result, step.err
}

func (f *fakeCollaborator) Status(context.Context, string) (DispatchResult, error) {
	return DispatchResult{Status: DispatchUnknown}, nil
}

func (f *fakeCollaborator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testExecution(action models.ActionType, retries int, params map[string]string) models.RemediationExecution {
	return models.RemediationExecution{
		ID:          "exec-1",
		RuleID:      "scale-api",
		Action:      action,
		Target:      "api-server",
		Params:      params,
		Retries:     retries,
		Status:      models.StatusApproved,
		TriggeredAt: time.Now().UTC(),
	}
}

func TestExecuteSucceeds(t *testing.T) {
	fake := &fakeCollaborator{script: []scripted{
		{result: DispatchResult{Status: DispatchSucceeded, Detail: "restarted worker"}},
	}}
	exec := testExecution(models.ActionRestartService, 0, nil)

	outcome := NewExecutor(fake, time.Second, time.Millisecond, 10*time.Millisecond, nil).Execute(context.Background(), exec)

	if outcome.Status != models.StatusSucceeded {
		t.Fatalf("unexpected status: %s", outcome.Status)
	}
	if outcome.Attempts != 1 || outcome.Reason != "" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Detail != "restarted worker" {
		t.Fatalf("unexpected detail: %s", outcome.Detail)
	}
	if outcome.CompletedAt.IsZero() {
		t.Fatal("expected completed_at to be set")
	}

	req := fake.requests[0]
	if req.ExecutionID != "exec-1" || req.ActionType != "restart_service" || req.Target != "api-server" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Parameters["mode"] != "rolling" {
		t.Fatalf("expected default restart mode, got %+v", req.Parameters)
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	fake := &fakeCollaborator{script: []scripted{
		{err: fmt.Errorf("connection refused")},
		{err: fmt.Errorf("connection refused")},
		{result: DispatchResult{Status: DispatchSucceeded}},
	}}
	exec := testExecution(models.ActionScaleUp, 2, map[string]string{"amount": "2"})

	outcome := NewExecutor(fake, time.Second, time.Millisecond, 4*time.Millisecond, nil).Execute(context.Background(), exec)

	if outcome.Status != models.StatusSucceeded {
		t.Fatalf("unexpected status: %s (%s)", outcome.Status, outcome.Detail)
	}
	if outcome.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", outcome.Attempts)
	}
	if fake.callCount() != 3 {
		t.Fatalf("expected 3 dispatches, got %d", fake.callCount())
	}
}

func TestExecuteNoRetryByDefault(t *testing.T) {
	fake := &fakeCollaborator{script: []scripted{
		{err: fmt.Errorf("connection refused")},
	}}
	exec := testExecution(models.ActionScaleUp, 0, nil)

	outcome := NewExecutor(fake, time.Second, time.Millisecond, 4*time.Millisecond, nil).Execute(context.Background(), exec)

	if outcome.Status != models.StatusFailed || outcome.Reason != models.ReasonDispatchFailed {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if fake.callCount() != 1 {
		t.Fatalf("expected a single dispatch, got %d", fake.callCount())
	}
}

func TestExecuteTimeoutPerAttempt(t *testing.T) {
	fake := &fakeCollaborator{delay: 500 * time.Millisecond}
	exec := testExecution(models.ActionClearCache, 0, nil)

	started := time.Now()
	outcome := NewExecutor(fake, 30*time.Millisecond, time.Millisecond, 4*time.Millisecond, nil).Execute(context.Background(), exec)

	if outcome.Status != models.StatusFailed || outcome.Reason != models.ReasonTimeout {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", outcome.Attempts)
	}
	if elapsed := time.Since(started); elapsed > 400*time.Millisecond {
		t.Fatalf("attempt was not cut at the timeout: %v", elapsed)
	}
}

func TestExecuteCollaboratorReportedFailure(t *testing.T) {
	fake := &fakeCollaborator{script: []scripted{
		{result: DispatchResult{Status: DispatchFailed, Detail: "no spare capacity"}},
	}}
	exec := testExecution(models.ActionScaleUp, 0, nil)

	outcome := NewExecutor(fake, time.Second, time.Millisecond, 4*time.Millisecond, nil).Execute(context.Background(), exec)

	if outcome.Status != models.StatusFailed || outcome.Reason != models.ReasonDispatchFailed {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Detail != "no spare capacity" {
		t.Fatalf("unexpected detail: %s", outcome.Detail)
	}
}

func TestExecuteStopsOnCancelBeforeRetry(t *testing.T) {
	fake := &fakeCollaborator{script: []scripted{
		{err: fmt.Errorf("connection refused")},
	}}
	exec := testExecution(models.ActionScaleUp, 3, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	started := time.Now()
	outcome := NewExecutor(fake, time.Second, time.Hour, time.Hour, nil).Execute(ctx, exec)

	if outcome.Status != models.StatusFailed || outcome.Reason != models.ReasonShutdown {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", outcome.Attempts)
	}
	if fake.callCount() != 1 {
		t.Fatalf("expected no retry after cancellation, got %d dispatches", fake.callCount())
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Fatalf("executor sat in backoff after cancellation: %v", elapsed)
	}
}

func TestExecuteCancelDuringDispatch(t *testing.T) {
	fake := &fakeCollaborator{delay: 500 * time.Millisecond}
	exec := testExecution(models.ActionRestartService, 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	outcome := NewExecutor(fake, 5*time.Second, time.Millisecond, 4*time.Millisecond, nil).Execute(ctx, exec)

	if outcome.Status != models.StatusFailed || outcome.Reason != models.ReasonShutdown {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if fake.callCount() != 1 {
		t.Fatalf("expected no retry after cancellation, got %d dispatches", fake.callCount())
	}
}

func TestExecuteRejectsCustomWithoutCommand(t *testing.T) {
	fake := &fakeCollaborator{}
	exec := testExecution(models.ActionCustom, 0, nil)

	outcome := NewExecutor(fake, time.Second, time.Millisecond, 4*time.Millisecond, nil).Execute(context.Background(), exec)

	if outcome.Status != models.StatusFailed || outcome.Reason != models.ReasonDispatchFailed {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.Attempts != 0 || fake.callCount() != 0 {
		t.Fatalf("expected no dispatch for an unbuildable request, got %d", fake.callCount())
	}
}

func TestBuildRequestDefaults(t *testing.T) {
	cases := []struct {
		name   string
		action models.ActionType
		params map[string]string
		key    string
		want   string
	}{
		{name: "scale up amount", action: models.ActionScaleUp, key: "amount", want: "1"},
		{name: "scale down keeps amount", action: models.ActionScaleDown, params: map[string]string{"amount": "3"}, key: "amount", want: "3"},
		{name: "restart mode", action: models.ActionRestartService, key: "mode", want: "rolling"},
		{name: "clear cache scope", action: models.ActionClearCache, key: "scope", want: "all"},
		{name: "custom keeps command", action: models.ActionCustom, params: map[string]string{"command": "rotate-logs"}, key: "command", want: "rotate-logs"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := buildRequest(testExecution(tc.action, 0, tc.params))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := req.Parameters[tc.key]; got != tc.want {
				t.Fatalf("expected %s=%q, got %q", tc.key, tc.want, got)
			}
		})
	}
}

func TestBuildRequestDoesNotMutateExecution(t *testing.T) {
	exec := testExecution(models.ActionScaleUp, 0, map[string]string{})
	if _, err := buildRequest(exec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := exec.Params["amount"]; ok {
		t.Fatal("buildRequest mutated the execution's parameters")
	}
}

func TestBuildRequestRejectsUnknownAction(t *testing.T) {
	if _, err := buildRequest(testExecution(models.ActionType("reboot_planet"), 0, nil)); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	e := NewExecutor(&fakeCollaborator{}, time.Second, 100*time.Millisecond, 300*time.Millisecond, nil)

	if got := e.backoff(0); got != 100*time.Millisecond {
		t.Fatalf("unexpected first backoff: %v", got)
	}
	if got := e.backoff(1); got != 200*time.Millisecond {
		t.Fatalf("unexpected second backoff: %v", got)
	}
	if got := e.backoff(2); got != 300*time.Millisecond {
		t.Fatalf("expected capped backoff, got %v", got)
	}
	if got := e.backoff(40); got != 300*time.Millisecond {
		t.Fatalf("expected capped backoff for large attempt, got %v", got)
	}
}
