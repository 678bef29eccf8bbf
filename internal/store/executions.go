package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// SaveExecution upserts the full execution row. Used at approval time and
// by recovery when reconciling a stale record.
func (s *Store) SaveExecution(ctx context.Context, exec models.RemediationExecution) error {
	params, err := marshalParams(exec.Params)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions
		(id, rule_id, action, target, params, retries, status, triggered_at, started_at, completed_at, detail, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			detail = excluded.detail,
			attempts = excluded.attempts
	`,
		exec.ID,
		exec.RuleID,
		string(exec.Action),
		exec.Target,
		params,
		exec.Retries,
		string(exec.Status),
		unixNano(exec.TriggeredAt),
		unixNano(exec.StartedAt),
		unixNano(exec.CompletedAt),
		exec.Detail,
		exec.Attempts,
	)
	if err != nil {
		return fmt.Errorf("save execution: %w", err)
	}
	return nil
}

// MarkExecuting transitions an execution to the executing status.
func (s *Store) MarkExecuting(ctx context.Context, id string, startedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, started_at = ? WHERE id = ?
	`, string(models.StatusExecuting), unixNano(startedAt), id)
	if err != nil {
		return fmt.Errorf("mark executing: %w", err)
	}
	return requireRow(result, id)
}

// CompleteExecution records an execution's terminal status and result.
func (s *Store) CompleteExecution(ctx context.Context, exec models.RemediationExecution) error {
	if !exec.Status.Terminal() {
		return fmt.Errorf("complete execution %s: status %s is not terminal", exec.ID, exec.Status)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, completed_at = ?, detail = ?, attempts = ? WHERE id = ?
	`, string(exec.Status), unixNano(exec.CompletedAt), exec.Detail, exec.Attempts, exec.ID)
	if err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}
	return requireRow(result, exec.ID)
}

// GetExecution returns one execution by ID, or ErrNotFound.
func (s *Store) GetExecution(ctx context.Context, id string) (models.RemediationExecution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, rule_id, action, target, params, retries, status, triggered_at, started_at, completed_at, detail, attempts
		FROM executions WHERE id = ?
	`, id)

	exec, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RemediationExecution{}, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.RemediationExecution{}, fmt.Errorf("get execution: %w", err)
	}
	return exec, nil
}

// ActiveExecutions returns executions that were in flight when the process
// last stopped: everything approved or executing, oldest first.
func (s *Store) ActiveExecutions(ctx context.Context) ([]models.RemediationExecution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, action, target, params, retries, status, triggered_at, started_at, completed_at, detail, attempts
		FROM executions
		WHERE status IN (?, ?)
		ORDER BY triggered_at ASC
	`, string(models.StatusApproved), string(models.StatusExecuting))
	if err != nil {
		return nil, fmt.Errorf("query active executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// ListExecutions returns the most recently triggered executions, newest
// first, up to limit.
func (s *Store) ListExecutions(ctx context.Context, limit int) ([]models.RemediationExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, action, target, params, retries, status, triggered_at, started_at, completed_at, detail, attempts
		FROM executions
		ORDER BY triggered_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer rows.Close()

	return collectExecutions(rows)
}

// CooldownStamps returns the newest trigger time per rule, for rebuilding
// the safety gate's cooldown state after a restart.
func (s *Store) CooldownStamps(ctx context.Context) (map[string]time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, MAX(triggered_at) FROM executions GROUP BY rule_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query cooldown stamps: %w", err)
	}
	defer rows.Close()

	stamps := make(map[string]time.Time)
	for rows.Next() {
		var (
			ruleID    string
			triggered int64
		)
		if err := rows.Scan(&ruleID, &triggered); err != nil {
			return nil, fmt.Errorf("scan cooldown stamp: %w", err)
		}
		stamps[ruleID] = time.Unix(0, triggered).UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cooldown stamps: %w", err)
	}
	return stamps, nil
}

// Prune removes audit entries and terminal executions older than cutoff.
// Non-terminal executions are never pruned regardless of age.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	nanos := cutoff.UTC().UnixNano()

	var pruned int64
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE ts < ?`, nanos)
	if err != nil {
		return 0, fmt.Errorf("prune audit entries: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil {
		pruned += n
	}

	result, err = s.db.ExecContext(ctx, `
		DELETE FROM executions WHERE triggered_at < ? AND status IN (?, ?, ?)
	`, nanos, string(models.StatusSucceeded), string(models.StatusFailed), string(models.StatusBlocked))
	if err != nil {
		return pruned, fmt.Errorf("prune executions: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil {
		pruned += n
	}
	return pruned, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (models.RemediationExecution, error) {
	var (
		exec      models.RemediationExecution
		action    string
		status    string
		params    string
		triggered int64
		started   int64
		completed int64
	)
	err := row.Scan(&exec.ID, &exec.RuleID, &action, &exec.Target, &params, &exec.Retries, &status, &triggered, &started, &completed, &exec.Detail, &exec.Attempts)
	if err != nil {
		return models.RemediationExecution{}, err
	}
	exec.Action = models.ActionType(action)
	exec.Status = models.ExecutionStatus(status)
	exec.TriggeredAt = fromUnixNano(triggered)
	exec.StartedAt = fromUnixNano(started)
	exec.CompletedAt = fromUnixNano(completed)
	if err := json.Unmarshal([]byte(params), &exec.Params); err != nil {
		return models.RemediationExecution{}, fmt.Errorf("decode params: %w", err)
	}
	return exec, nil
}

func collectExecutions(rows *sql.Rows) ([]models.RemediationExecution, error) {
	var execs []models.RemediationExecution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate executions: %w", err)
	}
	return execs, nil
}

func marshalParams(params map[string]string) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("encode params: %w", err)
	}
	return string(data), nil
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	return nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
