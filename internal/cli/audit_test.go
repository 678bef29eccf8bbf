package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/models"
	"github.com/miradorstack/mirador-remediate/internal/report"
	"github.com/miradorstack/mirador-remediate/internal/store"
	"github.com/miradorstack/mirador-remediate/internal/utils"
)

func seedAuditStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	st, err := store.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			t.Fatalf("close store: %v", closeErr)
		}
	}()

	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	entries := []models.AuditEntry{
		{Time: base, Kind: models.AuditCandidate, RuleID: "restart-worker", Score: 0.91, Confidence: 0.8},
		{Time: base.Add(time.Second), Kind: models.AuditApproved, RuleID: "restart-worker", ExecutionID: "exec-1"},
		{Time: base.Add(2 * time.Second), Kind: models.AuditDispatched, RuleID: "restart-worker", ExecutionID: "exec-1"},
		{Time: base.Add(3 * time.Second), Kind: models.AuditResult, RuleID: "restart-worker", ExecutionID: "exec-1"},
		{Time: base.Add(4 * time.Second), Kind: models.AuditBlocked, RuleID: "scale-up-api", Reason: models.ReasonCooldownActive},
	}
	for _, entry := range entries {
		if _, err := st.Append(context.Background(), entry); err != nil {
			t.Fatalf("seed ledger: %v", err)
		}
	}
	return path
}

func runAuditCommand(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewAuditCommand(&RootOptions{})
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	return out, cmd.Execute()
}

func TestAuditPrintsWindowJSON(t *testing.T) {
	storePath := seedAuditStore(t)

	out, err := runAuditCommand(t,
		"--store", storePath,
		"--start", "2026-08-25T09:00:00Z",
		"--end", "2026-08-25T11:00:00Z",
		"--format", "json",
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	var entries []models.AuditEntry
	if err := json.Unmarshal(out.Bytes(), &entries); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	if entries[0].Kind != models.AuditCandidate || entries[0].Seq == 0 {
		t.Fatalf("unexpected first entry: %+v", entries[0])
	}
}

func TestAuditSummary(t *testing.T) {
	storePath := seedAuditStore(t)

	out, err := runAuditCommand(t,
		"--store", storePath,
		"--start", "2026-08-25T09:00:00Z",
		"--end", "2026-08-25T11:00:00Z",
		"--summary",
		"--format", "json",
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	var summaries []report.RuleSummary
	if err := json.Unmarshal(out.Bytes(), &summaries); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 rule summaries, got %d", len(summaries))
	}
	if summaries[0].RuleID != "restart-worker" || summaries[0].Candidates != 1 || summaries[0].Succeeded != 1 {
		t.Fatalf("unexpected first summary: %+v", summaries[0])
	}
	if summaries[1].RuleID != "scale-up-api" || summaries[1].BlockedBy[models.ReasonCooldownActive] != 1 {
		t.Fatalf("unexpected second summary: %+v", summaries[1])
	}
}

func TestAuditTracesExecution(t *testing.T) {
	storePath := seedAuditStore(t)

	out, err := runAuditCommand(t,
		"--store", storePath,
		"--start", "2026-08-25T09:00:00Z",
		"--end", "2026-08-25T11:00:00Z",
		"--execution", "exec-1",
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("expected header plus 4 trace rows, got %d lines:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[1], "candidate") || !strings.Contains(lines[4], "result") {
		t.Fatalf("trace rows out of order:\n%s", out.String())
	}
}

func TestAuditTraceUnknownExecution(t *testing.T) {
	storePath := seedAuditStore(t)

	_, err := runAuditCommand(t,
		"--store", storePath,
		"--start", "2026-08-25T09:00:00Z",
		"--end", "2026-08-25T11:00:00Z",
		"--execution", "exec-404",
	)
	if err == nil || !strings.Contains(err.Error(), "no entries for execution") {
		t.Fatalf("expected trace miss error, got %v", err)
	}
}

func TestAuditEmptyWindow(t *testing.T) {
	storePath := seedAuditStore(t)

	out, err := runAuditCommand(t,
		"--store", storePath,
		"--start", "2020-01-01T00:00:00Z",
		"--end", "2020-01-02T00:00:00Z",
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !strings.Contains(out.String(), "no entries in window") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestAuditRejectsBadFormat(t *testing.T) {
	storePath := seedAuditStore(t)

	_, err := runAuditCommand(t, "--store", storePath, "--format", "yaml")
	if err == nil || !strings.Contains(err.Error(), "invalid format") {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestAuditStoreOpenFailureCarriesOp(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("not a directory"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}

	_, err := runAuditCommand(t, "--store", filepath.Join(blocker, "sub", "remediate.db"))
	if err == nil {
		t.Fatal("expected open failure")
	}
	if op := utils.OpOf(err); op != "audit" {
		t.Fatalf("expected op audit in chain, got %q (err %v)", op, err)
	}
}
