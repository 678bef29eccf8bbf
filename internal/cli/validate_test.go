package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validatePack = `rules:
  - id: restart-worker
    priority: 10
    action: restart_service
    target: worker
    cooldown: 5m
    min_confidence: 0.6
    when:
      metric: cpu_usage_percent
      op: gt
      value: 90
`

const brokenPack = `rules:
  - id: bad-rule
    priority: 10
    action: teleport
    when:
      metric: cpu_usage_percent
      op: gt
      value: 90
`

func writePack(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rule pack: %v", err)
	}
	return path
}

func TestValidateReportsSuccess(t *testing.T) {
	rulesPath := writePack(t, validatePack)

	out := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{})
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--rules", rulesPath})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !strings.Contains(out.String(), "rule pack ok: 1 rules") {
		t.Fatalf("unexpected output: %s", out.String())
	}
}

func TestValidateCollectsRuleErrors(t *testing.T) {
	rulesPath := writePack(t, brokenPack)

	errOut := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"--rules", rulesPath})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected validation to fail")
	}
	if !strings.Contains(err.Error(), "validation failed") {
		t.Fatalf("unexpected error: %v", err)
	}
	problems := errOut.String()
	if !strings.Contains(problems, "unknown action") || !strings.Contains(problems, "target is required") {
		t.Fatalf("expected both rule problems on stderr, got: %s", problems)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("collector:\n  mode: carrier-pigeon\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	rulesPath := writePack(t, validatePack)

	errOut := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{ConfigPath: configPath})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(errOut)
	cmd.SetArgs([]string{"--rules", rulesPath})

	if err := cmd.Execute(); err == nil {
		t.Fatal("expected validation to fail")
	}
	if !strings.Contains(errOut.String(), "collector.mode") {
		t.Fatalf("expected config problem on stderr, got: %s", errOut.String())
	}
}
