package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

// BuildQuery selects successful builds with a known duration, newest first.
// Zero values disable the corresponding filter.
type BuildQuery struct {
	RepositoryID    int64 // 0 selects every repository.
	Branch          string
	CompletedBefore time.Time // Exclusive.
	CompletedSince  time.Time // Inclusive.
	Limit           int
}

// StepQuery selects durations of one named step in successful builds of one
// repository, newest build first.
type StepQuery struct {
	RepositoryID    int64
	StepName        string
	CompletedBefore time.Time
	CompletedSince  time.Time
	Limit           int
}

// BuildStore defines the driven port for builds, steps and failures.
type BuildStore interface {
	// Ingestion.
	ExistsByRunID(ctx context.Context, runID string) (bool, error)
	InsertBuild(ctx context.Context, build model.Build) (int64, error)
	InsertStep(ctx context.Context, step model.BuildStep) (int64, error)
	InsertFailure(ctx context.Context, failure model.BuildFailure) (int64, error)
	LatestBuildForCommit(ctx context.Context, repoID int64, commitHash string) (*model.Build, error)

	// Reads for the analytics core.
	ListSuccessfulBuilds(ctx context.Context, q BuildQuery) ([]model.Build, error)
	ListStepSamples(ctx context.Context, q StepQuery) ([]model.StepSample, error)
	ListResourceSteps(ctx context.Context, repoID int64) ([]model.BuildStep, error)
	DistinctStepNames(ctx context.Context, repoID int64, buildLimit int) ([]string, error)
	SumBuildSeconds(ctx context.Context, since, until time.Time, repoID int64) ([]model.RepoBuildSeconds, error)
	ListFailedBuilds(ctx context.Context, repoID int64, limit int) ([]model.Build, error)
	LatestBuild(ctx context.Context, repoID int64) (*model.Build, error)
	FirstFailedStep(ctx context.Context, buildID int64) (*model.BuildStep, error)
	FailureByStep(ctx context.Context, stepID int64) (*model.BuildFailure, error)
	FindFailuresByPattern(ctx context.Context, patterns []string, opts FailureFilter) ([]model.FailureOccurrence, error)
	CountFailurePatterns(ctx context.Context, limit int) ([]model.PatternCount, error)
}

// FailureFilter narrows FindFailuresByPattern. Results are newest first.
type FailureFilter struct {
	RepositoryID        int64 // Only this repository when non-zero.
	ExcludeRepositoryID int64 // Skip this repository when non-zero.
	Limit               int
}
