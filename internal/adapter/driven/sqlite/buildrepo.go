package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.BuildStore = (*BuildRepo)(nil)

// BuildRepo is the SQLite implementation of the BuildStore port interface.
type BuildRepo struct {
	db *DB
}

// NewBuildRepo creates a new BuildRepo backed by the given DB.
func NewBuildRepo(db *DB) *BuildRepo {
	return &BuildRepo{db: db}
}

const buildColumns = `b.id, b.repository_id, b.build_number, b.run_id, b.commit_hash, b.branch,
	b.state, b.duration_seconds, b.started_on, b.completed_on, b.trigger_name`

const stepColumns = `s.id, s.build_id, s.step_id, s.step_name, s.step_type, s.state,
	s.duration_seconds, s.started_on, s.completed_on, s.max_time_seconds,
	s.memory_limit_mb, s.peak_memory_mb, s.size_factor, s.log_excerpt`

// ExistsByRunID reports whether a build with the provider run ID is stored.
func (r *BuildRepo) ExistsByRunID(ctx context.Context, runID string) (bool, error) {
	const query = `SELECT 1 FROM builds WHERE run_id = ? LIMIT 1`

	var one int
	err := r.db.Reader.QueryRowContext(ctx, query, runID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check run %s: %w", runID, err)
	}

	return true, nil
}

// InsertBuild stores a build and returns its ID.
func (r *BuildRepo) InsertBuild(ctx context.Context, b model.Build) (int64, error) {
	const query = `
		INSERT INTO builds (
			repository_id, build_number, run_id, commit_hash, branch, state,
			duration_seconds, started_on, completed_on, trigger_name
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.Writer.ExecContext(ctx, query,
		b.RepositoryID, b.BuildNumber, b.RunID, b.CommitHash, b.Branch, string(b.State),
		nullableFloat(b.DurationSeconds), formatTimePtr(b.StartedOn), formatTimePtr(b.CompletedOn), b.TriggerName,
	)
	if err != nil {
		return 0, fmt.Errorf("insert build run %s: %w", b.RunID, err)
	}

	return res.LastInsertId()
}

// InsertStep stores a build step and returns its ID. A size factor below 1 is
// stored as 1 and the log excerpt is truncated to model.MaxLogExcerpt runes.
func (r *BuildRepo) InsertStep(ctx context.Context, s model.BuildStep) (int64, error) {
	const query = `
		INSERT INTO build_steps (
			build_id, step_id, step_name, step_type, state, duration_seconds,
			started_on, completed_on, max_time_seconds, memory_limit_mb,
			peak_memory_mb, size_factor, log_excerpt
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sizeFactor := s.SizeFactor
	if sizeFactor < 1 {
		sizeFactor = 1
	}
	excerpt := s.LogExcerpt
	if runes := []rune(excerpt); len(runes) > model.MaxLogExcerpt {
		excerpt = string(runes[:model.MaxLogExcerpt])
	}

	res, err := r.db.Writer.ExecContext(ctx, query,
		s.BuildID, s.StepID, s.StepName, s.StepType, string(s.State), nullableFloat(s.DurationSeconds),
		formatTimePtr(s.StartedOn), formatTimePtr(s.CompletedOn), nullableFloat(s.MaxTimeSeconds),
		nullableFloat(s.MemoryLimitMB), nullableFloat(s.PeakMemoryMB), sizeFactor, excerpt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert step %q of build %d: %w", s.StepName, s.BuildID, err)
	}

	return res.LastInsertId()
}

// InsertFailure stores a failure record and returns its ID.
func (r *BuildRepo) InsertFailure(ctx context.Context, f model.BuildFailure) (int64, error) {
	const query = `
		INSERT INTO build_failures (build_id, step_id, error_message, error_pattern, failure_type, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	occurredAt := f.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	res, err := r.db.Writer.ExecContext(ctx, query,
		f.BuildID, nullableID(f.StepID), f.ErrorMessage, f.ErrorPattern, string(f.FailureType), formatTime(occurredAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert failure for build %d: %w", f.BuildID, err)
	}

	return res.LastInsertId()
}

// LatestBuildForCommit returns the most recent build of commitHash in the
// repository. Returns nil, nil if none is stored.
func (r *BuildRepo) LatestBuildForCommit(ctx context.Context, repoID int64, commitHash string) (*model.Build, error) {
	if commitHash == "" {
		return nil, nil
	}

	query := `SELECT ` + buildColumns + ` FROM builds b
		WHERE b.repository_id = ? AND b.commit_hash = ?
		ORDER BY b.completed_on IS NULL, b.completed_on DESC, b.id DESC LIMIT 1`

	b, err := scanBuild(r.db.Reader.QueryRowContext(ctx, query, repoID, commitHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest build for commit %s: %w", commitHash, err)
	}

	return b, nil
}

// ListSuccessfulBuilds returns successful builds with a known duration matching
// q, newest first.
func (r *BuildRepo) ListSuccessfulBuilds(ctx context.Context, q driven.BuildQuery) ([]model.Build, error) {
	var sb strings.Builder
	args := []any{string(model.BuildStateSuccessful)}

	sb.WriteString(`SELECT ` + buildColumns + ` FROM builds b
		WHERE b.state = ? AND b.duration_seconds IS NOT NULL`)
	if q.RepositoryID != 0 {
		sb.WriteString(` AND b.repository_id = ?`)
		args = append(args, q.RepositoryID)
	}
	if q.Branch != "" {
		sb.WriteString(` AND b.branch = ?`)
		args = append(args, q.Branch)
	}
	if !q.CompletedBefore.IsZero() {
		sb.WriteString(` AND b.completed_on < ?`)
		args = append(args, formatTime(q.CompletedBefore))
	}
	if !q.CompletedSince.IsZero() {
		sb.WriteString(` AND b.completed_on >= ?`)
		args = append(args, formatTime(q.CompletedSince))
	}
	sb.WriteString(` ORDER BY b.completed_on IS NULL, b.completed_on DESC, b.id DESC`)
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}

	return r.queryBuilds(ctx, sb.String(), args...)
}

// ListStepSamples returns durations of one step in successful builds of one
// repository, newest build first.
func (r *BuildRepo) ListStepSamples(ctx context.Context, q driven.StepQuery) ([]model.StepSample, error) {
	var sb strings.Builder
	args := []any{q.RepositoryID, q.StepName, string(model.BuildStateSuccessful)}

	sb.WriteString(`
		SELECT s.build_id, s.step_name, s.duration_seconds, b.commit_hash, b.completed_on
		FROM build_steps s JOIN builds b ON b.id = s.build_id
		WHERE b.repository_id = ? AND s.step_name = ? AND b.state = ?
			AND s.duration_seconds IS NOT NULL`)
	if !q.CompletedBefore.IsZero() {
		sb.WriteString(` AND b.completed_on < ?`)
		args = append(args, formatTime(q.CompletedBefore))
	}
	if !q.CompletedSince.IsZero() {
		sb.WriteString(` AND b.completed_on >= ?`)
		args = append(args, formatTime(q.CompletedSince))
	}
	sb.WriteString(` ORDER BY b.completed_on IS NULL, b.completed_on DESC, s.id DESC`)
	if q.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, q.Limit)
	}

	rows, err := r.db.Reader.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list samples for step %q: %w", q.StepName, err)
	}
	defer rows.Close()

	var samples []model.StepSample
	for rows.Next() {
		var s model.StepSample
		var completed sql.NullString
		if err := rows.Scan(&s.BuildID, &s.StepName, &s.DurationSeconds, &s.CommitHash, &completed); err != nil {
			return nil, fmt.Errorf("scan step sample: %w", err)
		}
		if t, err := parseNullTime(completed); err != nil {
			return nil, fmt.Errorf("parse completed_on: %w", err)
		} else if t != nil {
			s.CompletedOn = *t
		}
		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step samples: %w", err)
	}

	return samples, nil
}

// ListResourceSteps returns every step of the repository's successful builds.
func (r *BuildRepo) ListResourceSteps(ctx context.Context, repoID int64) ([]model.BuildStep, error) {
	query := `SELECT ` + stepColumns + ` FROM build_steps s JOIN builds b ON b.id = s.build_id
		WHERE b.repository_id = ? AND b.state = ?
		ORDER BY s.id`

	return r.querySteps(ctx, query, repoID, string(model.BuildStateSuccessful))
}

// DistinctStepNames returns the step names seen in the repository's most recent
// buildLimit builds, sorted.
func (r *BuildRepo) DistinctStepNames(ctx context.Context, repoID int64, buildLimit int) ([]string, error) {
	const query = `
		SELECT DISTINCT s.step_name FROM build_steps s
		WHERE s.build_id IN (
			SELECT b.id FROM builds b WHERE b.repository_id = ?
			ORDER BY b.completed_on IS NULL, b.completed_on DESC, b.id DESC LIMIT ?
		)
		ORDER BY s.step_name`

	rows, err := r.db.Reader.QueryContext(ctx, query, repoID, buildLimit)
	if err != nil {
		return nil, fmt.Errorf("list step names for repository %d: %w", repoID, err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan step name: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step names: %w", err)
	}

	return names, nil
}

// SumBuildSeconds returns, per repository, the size-weighted step seconds and
// the pipeline seconds of builds completed in [since, until). A zero repoID
// spans all repositories.
func (r *BuildRepo) SumBuildSeconds(ctx context.Context, since, until time.Time, repoID int64) ([]model.RepoBuildSeconds, error) {
	query := `
		SELECT r.id, r.name,
			COALESCE((
				SELECT SUM(s.duration_seconds * COALESCE(s.size_factor, 1))
				FROM build_steps s JOIN builds b ON b.id = s.build_id
				WHERE b.repository_id = r.id AND b.completed_on >= ? AND b.completed_on < ?
					AND s.duration_seconds IS NOT NULL
			), 0),
			COALESCE((
				SELECT SUM(b.duration_seconds) FROM builds b
				WHERE b.repository_id = r.id AND b.completed_on >= ? AND b.completed_on < ?
			), 0)
		FROM repositories r`

	from, to := formatTime(since), formatTime(until)
	args := []any{from, to, from, to}
	if repoID != 0 {
		query += ` WHERE r.id = ?`
		args = append(args, repoID)
	}
	query += ` ORDER BY r.name, r.id`

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sum build seconds: %w", err)
	}
	defer rows.Close()

	var sums []model.RepoBuildSeconds
	for rows.Next() {
		var s model.RepoBuildSeconds
		if err := rows.Scan(&s.RepositoryID, &s.RepositoryName, &s.WeightedSeconds, &s.PipelineSeconds); err != nil {
			return nil, fmt.Errorf("scan build seconds: %w", err)
		}
		sums = append(sums, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate build seconds: %w", err)
	}

	return sums, nil
}

// ListFailedBuilds returns the most recent FAILED builds, newest first. A zero
// repoID spans all repositories.
func (r *BuildRepo) ListFailedBuilds(ctx context.Context, repoID int64, limit int) ([]model.Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds b WHERE b.state = ?`
	args := []any{string(model.BuildStateFailed)}
	if repoID != 0 {
		query += ` AND b.repository_id = ?`
		args = append(args, repoID)
	}
	query += ` ORDER BY b.completed_on IS NULL, b.completed_on DESC, b.id DESC LIMIT ?`
	args = append(args, limit)

	return r.queryBuilds(ctx, query, args...)
}

// LatestBuild returns the repository's most recently completed build. Returns
// nil, nil when the repository has no builds.
func (r *BuildRepo) LatestBuild(ctx context.Context, repoID int64) (*model.Build, error) {
	query := `SELECT ` + buildColumns + ` FROM builds b WHERE b.repository_id = ?
		ORDER BY b.completed_on IS NULL, b.completed_on DESC, b.id DESC LIMIT 1`

	b, err := scanBuild(r.db.Reader.QueryRowContext(ctx, query, repoID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest build for repository %d: %w", repoID, err)
	}

	return b, nil
}

// FirstFailedStep returns the first FAILED or ERROR step of a build. Returns
// nil, nil when no step failed.
func (r *BuildRepo) FirstFailedStep(ctx context.Context, buildID int64) (*model.BuildStep, error) {
	query := `SELECT ` + stepColumns + ` FROM build_steps s
		WHERE s.build_id = ? AND s.state IN (?, ?) ORDER BY s.id LIMIT 1`

	s, err := scanStep(r.db.Reader.QueryRowContext(ctx, query, buildID,
		string(model.BuildStateFailed), string(model.BuildStateError)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("first failed step of build %d: %w", buildID, err)
	}

	return s, nil
}

// FailureByStep returns the failure recorded for a step. Returns nil, nil when
// none exists.
func (r *BuildRepo) FailureByStep(ctx context.Context, stepID int64) (*model.BuildFailure, error) {
	const query = `
		SELECT id, build_id, step_id, error_message, error_pattern, failure_type, occurred_at
		FROM build_failures WHERE step_id = ?`

	var f model.BuildFailure
	var step sql.NullInt64
	var failureType, occurredAt string

	err := r.db.Reader.QueryRowContext(ctx, query, stepID).Scan(
		&f.ID, &f.BuildID, &step, &f.ErrorMessage, &f.ErrorPattern, &failureType, &occurredAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failure for step %d: %w", stepID, err)
	}

	if step.Valid {
		f.StepID = &step.Int64
	}
	f.FailureType = model.FailureType(failureType)
	f.OccurredAt, err = parseTime(occurredAt)
	if err != nil {
		return nil, fmt.Errorf("parse occurred_at: %w", err)
	}

	return &f, nil
}

// FindFailuresByPattern returns failures whose error_pattern is one of
// patterns, joined with their build and repository, newest first.
func (r *BuildRepo) FindFailuresByPattern(ctx context.Context, patterns []string, opts driven.FailureFilter) ([]model.FailureOccurrence, error) {
	var nonEmpty []any
	for _, p := range patterns {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	if len(nonEmpty) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	args := append([]any{}, nonEmpty...)

	sb.WriteString(`
		SELECT f.id, f.build_id, b.build_number, b.repository_id, r.name, r.slug,
			COALESCE(s.step_name, ''), b.commit_hash, f.error_message, f.error_pattern,
			f.failure_type, f.occurred_at
		FROM build_failures f
		JOIN builds b ON b.id = f.build_id
		JOIN repositories r ON r.id = b.repository_id
		LEFT JOIN build_steps s ON s.id = f.step_id
		WHERE f.error_pattern IN (?` + strings.Repeat(", ?", len(nonEmpty)-1) + `)`)
	if opts.RepositoryID != 0 {
		sb.WriteString(` AND b.repository_id = ?`)
		args = append(args, opts.RepositoryID)
	}
	if opts.ExcludeRepositoryID != 0 {
		sb.WriteString(` AND b.repository_id != ?`)
		args = append(args, opts.ExcludeRepositoryID)
	}
	sb.WriteString(` ORDER BY f.occurred_at DESC, f.id DESC`)
	if opts.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, opts.Limit)
	}

	rows, err := r.db.Reader.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("find failures by pattern: %w", err)
	}
	defer rows.Close()

	var out []model.FailureOccurrence
	for rows.Next() {
		var o model.FailureOccurrence
		var failureType, occurredAt string
		if err := rows.Scan(
			&o.FailureID, &o.BuildID, &o.BuildNumber, &o.RepositoryID, &o.RepositoryName, &o.RepositorySlug,
			&o.StepName, &o.CommitHash, &o.ErrorMessage, &o.ErrorPattern, &failureType, &occurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan failure occurrence: %w", err)
		}
		o.FailureType = model.FailureType(failureType)
		if o.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("parse occurred_at: %w", err)
		}
		out = append(out, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failure occurrences: %w", err)
	}

	return out, nil
}

// CountFailurePatterns groups stored failures by error_pattern, most frequent first.
func (r *BuildRepo) CountFailurePatterns(ctx context.Context, limit int) ([]model.PatternCount, error) {
	const query = `
		SELECT error_pattern, COUNT(*) AS n FROM build_failures
		WHERE error_pattern != ''
		GROUP BY error_pattern
		ORDER BY n DESC, error_pattern
		LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("count failure patterns: %w", err)
	}
	defer rows.Close()

	var counts []model.PatternCount
	for rows.Next() {
		var pc model.PatternCount
		if err := rows.Scan(&pc.Pattern, &pc.Count); err != nil {
			return nil, fmt.Errorf("scan pattern count: %w", err)
		}
		counts = append(counts, pc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pattern counts: %w", err)
	}

	return counts, nil
}

func (r *BuildRepo) queryBuilds(ctx context.Context, query string, args ...any) ([]model.Build, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	var builds []model.Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan build: %w", err)
		}
		builds = append(builds, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate builds: %w", err)
	}

	return builds, nil
}

func (r *BuildRepo) querySteps(ctx context.Context, query string, args ...any) ([]model.BuildStep, error) {
	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []model.BuildStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		steps = append(steps, *s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}

	return steps, nil
}

func scanBuild(s scanner) (*model.Build, error) {
	var b model.Build
	var state string
	var duration sql.NullFloat64
	var started, completed sql.NullString

	err := s.Scan(&b.ID, &b.RepositoryID, &b.BuildNumber, &b.RunID, &b.CommitHash, &b.Branch,
		&state, &duration, &started, &completed, &b.TriggerName)
	if err != nil {
		return nil, err
	}

	b.State = model.BuildState(state)
	b.DurationSeconds = floatPtr(duration)
	if b.StartedOn, err = parseNullTime(started); err != nil {
		return nil, fmt.Errorf("parse started_on: %w", err)
	}
	if b.CompletedOn, err = parseNullTime(completed); err != nil {
		return nil, fmt.Errorf("parse completed_on: %w", err)
	}

	return &b, nil
}

func scanStep(sc scanner) (*model.BuildStep, error) {
	var s model.BuildStep
	var state string
	var duration, maxTime, memLimit, peakMem sql.NullFloat64
	var started, completed sql.NullString

	err := sc.Scan(&s.ID, &s.BuildID, &s.StepID, &s.StepName, &s.StepType, &state,
		&duration, &started, &completed, &maxTime, &memLimit, &peakMem, &s.SizeFactor, &s.LogExcerpt)
	if err != nil {
		return nil, err
	}

	s.State = model.BuildState(state)
	s.DurationSeconds = floatPtr(duration)
	s.MaxTimeSeconds = floatPtr(maxTime)
	s.MemoryLimitMB = floatPtr(memLimit)
	s.PeakMemoryMB = floatPtr(peakMem)
	if s.StartedOn, err = parseNullTime(started); err != nil {
		return nil, fmt.Errorf("parse started_on: %w", err)
	}
	if s.CompletedOn, err = parseNullTime(completed); err != nil {
		return nil, fmt.Errorf("parse completed_on: %w", err)
	}

	return &s, nil
}
