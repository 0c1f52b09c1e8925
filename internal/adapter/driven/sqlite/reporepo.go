package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RepoStore = (*RepoRepo)(nil)

// RepoRepo is the SQLite implementation of the RepoStore port interface.
type RepoRepo struct {
	db *DB
}

// NewRepoRepo creates a new RepoRepo backed by the given DB.
func NewRepoRepo(db *DB) *RepoRepo {
	return &RepoRepo{db: db}
}

// Upsert inserts the repository, or refreshes the display name of the existing
// row with the same slug, and returns the row ID.
func (r *RepoRepo) Upsert(ctx context.Context, repo model.Repository) (int64, error) {
	const query = `
		INSERT INTO repositories (name, slug, workspace, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET name = excluded.name
		RETURNING id`

	createdAt := repo.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var id int64
	err := r.db.Writer.QueryRowContext(ctx, query, repo.Name, repo.Slug, repo.Workspace, formatTime(createdAt)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert repository %s: %w", repo.Slug, err)
	}

	return id, nil
}

// GetBySlug retrieves a repository by slug. Returns nil, nil if it does not exist.
func (r *RepoRepo) GetBySlug(ctx context.Context, slug string) (*model.Repository, error) {
	const query = `SELECT id, name, slug, workspace, created_at FROM repositories WHERE slug = ?`

	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", slug, err)
	}

	return repo, nil
}

// GetByID retrieves a repository by ID. Returns nil, nil if it does not exist.
func (r *RepoRepo) GetByID(ctx context.Context, id int64) (*model.Repository, error) {
	const query = `SELECT id, name, slug, workspace, created_at FROM repositories WHERE id = ?`

	repo, err := scanRepository(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get repository %d: %w", id, err)
	}

	return repo, nil
}

// ListAll returns all repositories ordered by name.
func (r *RepoRepo) ListAll(ctx context.Context) ([]model.Repository, error) {
	const query = `SELECT id, name, slug, workspace, created_at FROM repositories ORDER BY name, id`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, *repo)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate repositories: %w", err)
	}

	return repos, nil
}

func scanRepository(s scanner) (*model.Repository, error) {
	var repo model.Repository
	var createdAt string

	err := s.Scan(&repo.ID, &repo.Name, &repo.Slug, &repo.Workspace, &createdAt)
	if err != nil {
		return nil, err
	}

	repo.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &repo, nil
}
