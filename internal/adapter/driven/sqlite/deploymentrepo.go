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
var _ driven.DeploymentStore = (*DeploymentRepo)(nil)

// DeploymentRepo is the SQLite implementation of the DeploymentStore port interface.
type DeploymentRepo struct {
	db *DB
}

// NewDeploymentRepo creates a new DeploymentRepo backed by the given DB.
func NewDeploymentRepo(db *DB) *DeploymentRepo {
	return &DeploymentRepo{db: db}
}

// Insert stores a deployment. A row with the same repository, environment,
// deployment time and commit is left untouched and reported as false.
func (r *DeploymentRepo) Insert(ctx context.Context, d model.Deployment) (bool, error) {
	const query = `
		INSERT INTO deployments (repository_id, build_id, environment, docker_image, commit_hash, deployed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(repository_id, environment, deployed_at, commit_hash) DO NOTHING
	`

	result, err := r.db.Writer.ExecContext(ctx, query,
		d.RepositoryID, nullableID(d.BuildID), d.Environment, d.DockerImage, d.CommitHash, formatTime(d.DeployedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert deployment %s@%s: %w", d.Environment, d.CommitHash, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}

	return rows > 0, nil
}

// CountByRepository counts deployments at or after since per repository,
// busiest first. A non-zero repoID restricts the count to that repository.
func (r *DeploymentRepo) CountByRepository(ctx context.Context, since time.Time, repoID int64) ([]model.DeploymentCount, error) {
	query := `
		SELECT r.id, r.name, COUNT(d.id) AS n
		FROM deployments d JOIN repositories r ON r.id = d.repository_id
		WHERE d.deployed_at >= ?`
	args := []any{formatTime(since)}
	if repoID != 0 {
		query += ` AND d.repository_id = ?`
		args = append(args, repoID)
	}
	query += ` GROUP BY r.id, r.name ORDER BY n DESC, r.name`

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count deployments by repository: %w", err)
	}
	defer rows.Close()

	var counts []model.DeploymentCount
	for rows.Next() {
		var c model.DeploymentCount
		if err := rows.Scan(&c.RepositoryID, &c.RepositoryName, &c.Count); err != nil {
			return nil, fmt.Errorf("scan deployment count: %w", err)
		}
		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployment counts: %w", err)
	}

	return counts, nil
}

// CountByEnvironment counts deployments at or after since per environment.
func (r *DeploymentRepo) CountByEnvironment(ctx context.Context, since time.Time, repoID int64) ([]model.DeploymentCount, error) {
	query := `SELECT environment, COUNT(*) AS n FROM deployments WHERE deployed_at >= ?`
	args := []any{formatTime(since)}
	if repoID != 0 {
		query += ` AND repository_id = ?`
		args = append(args, repoID)
	}
	query += ` GROUP BY environment ORDER BY n DESC, environment`

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count deployments by environment: %w", err)
	}
	defer rows.Close()

	var counts []model.DeploymentCount
	for rows.Next() {
		var c model.DeploymentCount
		if err := rows.Scan(&c.Environment, &c.Count); err != nil {
			return nil, fmt.Errorf("scan deployment count: %w", err)
		}
		counts = append(counts, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployment counts: %w", err)
	}

	return counts, nil
}

// LatestPerEnvironment returns the most recent deployment of each environment
// for the repository, ordered by environment name.
func (r *DeploymentRepo) LatestPerEnvironment(ctx context.Context, repoID int64) ([]model.Deployment, error) {
	const query = `
		SELECT d.id, d.repository_id, d.build_id, d.environment, d.docker_image,
		       d.commit_hash, d.deployed_at, b.build_number
		FROM deployments d
		LEFT JOIN builds b ON b.id = d.build_id
		WHERE d.repository_id = ?
		ORDER BY d.environment, d.deployed_at DESC, d.id DESC
	`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoID)
	if err != nil {
		return nil, fmt.Errorf("query deployments for repository %d: %w", repoID, err)
	}
	defer rows.Close()

	var latest []model.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		// Rows arrive newest first within each environment.
		if n := len(latest); n > 0 && latest[n-1].Environment == d.Environment {
			continue
		}
		latest = append(latest, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}

	return latest, nil
}

func scanDeployment(s scanner) (*model.Deployment, error) {
	var d model.Deployment
	var buildID sql.NullInt64
	var buildNumber sql.NullInt64
	var deployedAt string

	err := s.Scan(&d.ID, &d.RepositoryID, &buildID, &d.Environment, &d.DockerImage,
		&d.CommitHash, &deployedAt, &buildNumber)
	if err != nil {
		return nil, err
	}

	if buildID.Valid {
		d.BuildID = &buildID.Int64
	}
	if buildNumber.Valid {
		n := int(buildNumber.Int64)
		d.BuildNumber = &n
	}

	d.DeployedAt, err = parseTime(deployedAt)
	if err != nil {
		return nil, fmt.Errorf("parse deployed_at: %w", err)
	}

	return &d, nil
}
