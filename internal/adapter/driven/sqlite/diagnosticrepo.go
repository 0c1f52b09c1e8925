package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.DiagnosticStore = (*DiagnosticRepo)(nil)

// DiagnosticRepo is the SQLite implementation of the DiagnosticStore port interface.
type DiagnosticRepo struct {
	db *DB
}

// NewDiagnosticRepo creates a new DiagnosticRepo backed by the given DB.
func NewDiagnosticRepo(db *DB) *DiagnosticRepo {
	return &DiagnosticRepo{db: db}
}

// ExistsUnacknowledged reports whether an unacknowledged diagnostic with the
// same repository, type and title exists. IS compares NULL repository IDs as equal.
func (r *DiagnosticRepo) ExistsUnacknowledged(ctx context.Context, repoID *int64, typ model.DiagnosticType, title string) (bool, error) {
	const query = `
		SELECT 1 FROM diagnostics
		WHERE repository_id IS ? AND diagnostic_type = ? AND title = ? AND acknowledged = 0
		LIMIT 1
	`

	var one int
	err := r.db.Reader.QueryRowContext(ctx, query, nullableID(repoID), string(typ), title).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check diagnostic %q: %w", title, err)
	}

	return true, nil
}

// Insert stores a diagnostic and returns its ID. Metadata is serialized as a
// JSON object in the TEXT column.
func (r *DiagnosticRepo) Insert(ctx context.Context, d model.Diagnostic) (int64, error) {
	const query = `
		INSERT INTO diagnostics (
			repository_id, diagnostic_type, severity, title, message, metadata, acknowledged, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	metadata := d.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return 0, fmt.Errorf("marshal metadata: %w", err)
	}

	acknowledged := 0
	if d.Acknowledged {
		acknowledged = 1
	}

	createdAt := d.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	result, err := r.db.Writer.ExecContext(ctx, query,
		nullableID(d.RepositoryID), string(d.Type), string(d.Severity), d.Title, d.Message,
		string(metadataJSON), acknowledged, formatTime(createdAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert diagnostic %q: %w", d.Title, err)
	}

	return result.LastInsertId()
}

// ListUnacknowledged returns unacknowledged diagnostics, newest first. A zero
// repoID spans all repositories, global diagnostics included.
func (r *DiagnosticRepo) ListUnacknowledged(ctx context.Context, limit int, repoID int64) ([]model.Diagnostic, error) {
	query := `
		SELECT id, repository_id, diagnostic_type, severity, title, message, metadata, acknowledged, created_at
		FROM diagnostics
		WHERE acknowledged = 0`
	var args []any
	if repoID != 0 {
		query += ` AND repository_id = ?`
		args = append(args, repoID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	var diags []model.Diagnostic
	for rows.Next() {
		d, err := scanDiagnostic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		diags = append(diags, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnostics: %w", err)
	}

	return diags, nil
}

// CountUnacknowledged returns the number of open diagnostics.
func (r *DiagnosticRepo) CountUnacknowledged(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM diagnostics WHERE acknowledged = 0`

	var n int
	if err := r.db.Reader.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("count diagnostics: %w", err)
	}

	return n, nil
}

// Acknowledge marks a diagnostic as seen. Returns driven.ErrDiagnosticNotFound
// when no row has the ID.
func (r *DiagnosticRepo) Acknowledge(ctx context.Context, id int64) error {
	const query = `UPDATE diagnostics SET acknowledged = 1 WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("acknowledge diagnostic %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("acknowledge diagnostic %d: %w", id, driven.ErrDiagnosticNotFound)
	}

	return nil
}

func scanDiagnostic(s scanner) (*model.Diagnostic, error) {
	var d model.Diagnostic
	var repoID sql.NullInt64
	var typ, severity, metadataJSON, createdAt string
	var acknowledged int

	err := s.Scan(&d.ID, &repoID, &typ, &severity, &d.Title, &d.Message, &metadataJSON, &acknowledged, &createdAt)
	if err != nil {
		return nil, err
	}

	if repoID.Valid {
		d.RepositoryID = &repoID.Int64
	}
	d.Type = model.DiagnosticType(typ)
	d.Severity = model.Severity(severity)
	d.Acknowledged = acknowledged != 0

	if err := json.Unmarshal([]byte(metadataJSON), &d.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}

	d.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &d, nil
}
