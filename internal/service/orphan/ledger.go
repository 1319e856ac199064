// Package orphan tracks provider resources left behind by failed cleanups and retries
// their deletion.
package orphan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"docchat/internal/models"
)

// Ledger stores orphaned remote resources in the provider_orphans table.
type Ledger struct {
	db     *sql.DB
	driver string
}

func NewLedger(db *sql.DB, driver string) *Ledger {
	return &Ledger{db: db, driver: strings.ToLower(driver)}
}

// Record inserts the orphan, or re-opens an existing row for the same remote resource.
func (l *Ledger) Record(ctx context.Context, o models.Orphan) error {
	if o.RemoteID == "" {
		return errors.New("remote id is required")
	}
	switch o.Kind {
	case models.OrphanFile, models.OrphanAssistant:
	default:
		return fmt.Errorf("unknown orphan kind %q", o.Kind)
	}
	now := time.Now().UTC()

	query := `INSERT INTO provider_orphans
		(kind, remote_id, session_id, reason, attempts, last_error, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, '', 'pending', ?, ?)`
	if l.driver == "mysql" {
		query += ` ON DUPLICATE KEY UPDATE status = 'pending', attempts = 0, last_error = '', reason = VALUES(reason), updated_at = VALUES(updated_at)`
	} else {
		query += ` ON CONFLICT(kind, remote_id) DO UPDATE SET status = 'pending', attempts = 0, last_error = '', reason = excluded.reason, updated_at = excluded.updated_at`
	}
	if _, err := l.db.ExecContext(ctx, query, o.Kind, o.RemoteID, o.SessionID, o.Reason, now, now); err != nil {
		return fmt.Errorf("record orphan: %w", err)
	}
	return nil
}

// Pending lists unresolved orphans, oldest first.
func (l *Ledger) Pending(ctx context.Context, limit int) ([]models.Orphan, error) {
	if limit <= 0 {
		limit = 100
	}
	return l.query(ctx, `WHERE status = 'pending' ORDER BY updated_at ASC, id ASC LIMIT ?`, limit)
}

// List returns every row regardless of status, newest first.
func (l *Ledger) List(ctx context.Context) ([]models.Orphan, error) {
	return l.query(ctx, `ORDER BY id DESC`)
}

func (l *Ledger) query(ctx context.Context, tail string, args ...any) ([]models.Orphan, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, kind, remote_id, session_id, reason, attempts, COALESCE(last_error, ''), status, created_at, updated_at
		FROM provider_orphans `+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	defer rows.Close()

	var out []models.Orphan
	for rows.Next() {
		var o models.Orphan
		if err := rows.Scan(&o.ID, &o.Kind, &o.RemoteID, &o.SessionID, &o.Reason, &o.Attempts,
			&o.LastError, &o.Status, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan orphan: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (l *Ledger) Resolve(ctx context.Context, id int64) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE provider_orphans SET status = 'resolved', updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("resolve orphan %d: %w", id, err)
	}
	return nil
}

// Failed counts one more deletion attempt. Rows reaching maxAttempts are abandoned;
// maxAttempts <= 0 retries forever. status is assigned first because MySQL applies
// SET clauses left to right.
func (l *Ledger) Failed(ctx context.Context, id int64, cause error, maxAttempts int) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE provider_orphans
		SET status = CASE WHEN ? > 0 AND attempts + 1 >= ? THEN 'abandoned' ELSE status END,
			attempts = attempts + 1,
			last_error = ?,
			updated_at = ?
		WHERE id = ?`,
		maxAttempts, maxAttempts, msg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update orphan %d: %w", id, err)
	}
	return nil
}
