package store

import (
	"context"
	"fmt"
	"time"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// Append writes one audit entry and returns its assigned sequence number.
// The ledger is append-only; nothing ever updates or deletes a row.
func (s *Store) Append(ctx context.Context, entry models.AuditEntry) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries
		(ts, kind, rule_id, execution_id, reason, detail, score, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.Time.UTC().UnixNano(),
		string(entry.Kind),
		entry.RuleID,
		entry.ExecutionID,
		entry.Reason,
		entry.Detail,
		entry.Score,
		entry.Confidence,
	)
	if err != nil {
		return 0, fmt.Errorf("append audit entry: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append audit entry: %w", err)
	}
	return seq, nil
}

// Range returns entries with from <= time < to in ledger order, up to limit.
// A non-positive limit returns the whole window.
func (s *Store) Range(ctx context.Context, from, to time.Time, limit int) ([]models.AuditEntry, error) {
	query := `
		SELECT seq, ts, kind, rule_id, execution_id, reason, detail, score, confidence
		FROM audit_entries
		WHERE ts >= ? AND ts < ?
		ORDER BY seq ASC
	`
	args := []any{from.UTC().UnixNano(), to.UTC().UnixNano()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditEntry
	for rows.Next() {
		var (
			entry models.AuditEntry
			ts    int64
			kind  string
		)
		if err := rows.Scan(&entry.Seq, &ts, &kind, &entry.RuleID, &entry.ExecutionID, &entry.Reason, &entry.Detail, &entry.Score, &entry.Confidence); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Time = time.Unix(0, ts).UTC()
		entry.Kind = models.AuditKind(kind)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
