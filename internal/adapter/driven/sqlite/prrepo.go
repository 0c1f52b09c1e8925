package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PRStore = (*PRRepo)(nil)

// PRRepo is the SQLite implementation of the PRStore port interface.
type PRRepo struct {
	db *DB
}

// NewPRRepo creates a new PRRepo backed by the given DB.
func NewPRRepo(db *DB) *PRRepo {
	return &PRRepo{db: db}
}

// Insert stores a merged pull request. An existing (repository, number) pair is
// left untouched and reported as false.
func (r *PRRepo) Insert(ctx context.Context, pr model.PullRequest) (bool, error) {
	const query = `
		INSERT INTO pull_requests (
			repository_id, pr_number, title, author, source_branch,
			destination_branch, state, created_at, merged_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(repository_id, pr_number) DO NOTHING
	`

	state := pr.State
	if state == "" {
		state = "MERGED"
	}

	result, err := r.db.Writer.ExecContext(ctx, query,
		pr.RepositoryID, pr.Number, pr.Title, pr.Author, pr.SourceBranch,
		pr.DestinationBranch, state, formatTime(pr.CreatedAt), formatTimePtr(pr.MergedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert pull request %d#%d: %w", pr.RepositoryID, pr.Number, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}

	return rows > 0, nil
}

// ListMergedSince returns pull requests merged at or after since, oldest merge
// first. A zero repoID spans all repositories.
func (r *PRRepo) ListMergedSince(ctx context.Context, since time.Time, repoID int64) ([]model.PullRequest, error) {
	query := `
		SELECT id, repository_id, pr_number, title, author, source_branch,
		       destination_branch, state, created_at, merged_at
		FROM pull_requests
		WHERE merged_at IS NOT NULL AND merged_at >= ?`
	args := []any{formatTime(since)}
	if repoID != 0 {
		query += ` AND repository_id = ?`
		args = append(args, repoID)
	}
	query += ` ORDER BY merged_at, id`

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pull requests: %w", err)
	}
	defer rows.Close()

	var prs []model.PullRequest
	for rows.Next() {
		pr, err := scanPR(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pull request: %w", err)
		}
		prs = append(prs, *pr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pull requests: %w", err)
	}

	return prs, nil
}

func scanPR(s scanner) (*model.PullRequest, error) {
	var pr model.PullRequest
	var createdAt string
	var mergedAt sql.NullString

	err := s.Scan(
		&pr.ID, &pr.RepositoryID, &pr.Number, &pr.Title, &pr.Author, &pr.SourceBranch,
		&pr.DestinationBranch, &pr.State, &createdAt, &mergedAt,
	)
	if err != nil {
		return nil, err
	}

	pr.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	pr.MergedAt, err = parseNullTime(mergedAt)
	if err != nil {
		return nil, fmt.Errorf("parse merged_at: %w", err)
	}

	return &pr, nil
}
