package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/ericfisherdev/releaseintel/internal/domain/failure"
	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

// maxErrorMessage bounds the error message taken from a log excerpt.
const maxErrorMessage = 1000

// CollectorOptions bounds the work of one collection pass.
type CollectorOptions struct {
	RunsPerRepo        int
	PRsPerRepo         int
	DeploymentsPerRepo int
	LogFetchTimeout    time.Duration
}

// CollectStats counts what one pass stored.
type CollectStats struct {
	Repositories int `json:"repositories"`
	Builds       int `json:"builds"`
	Steps        int `json:"steps"`
	Failures     int `json:"failures"`
	PullRequests int `json:"pull_requests"`
	Deployments  int `json:"deployments"`
	Errors       int `json:"errors"`
}

// Collector ingests provider data into the stores. Builds, PRs and deployments
// are append-only and idempotent on their natural keys.
type Collector struct {
	provider    driven.PipelineProvider
	repoStore   driven.RepoStore
	buildStore  driven.BuildStore
	prStore     driven.PRStore
	deployStore driven.DeploymentStore
	opts        CollectorOptions
	now         func() time.Time
}

// NewCollector creates a new Collector with all required dependencies.
func NewCollector(
	provider driven.PipelineProvider,
	repoStore driven.RepoStore,
	buildStore driven.BuildStore,
	prStore driven.PRStore,
	deployStore driven.DeploymentStore,
	opts CollectorOptions,
) *Collector {
	return &Collector{
		provider:    provider,
		repoStore:   repoStore,
		buildStore:  buildStore,
		prStore:     prStore,
		deployStore: deployStore,
		opts:        opts,
		now:         time.Now,
	}
}

// CollectAll syncs the provider's repositories and collects runs, merged PRs
// and deployments for each. A failing repository is logged and skipped.
func (c *Collector) CollectAll(ctx context.Context) (CollectStats, error) {
	var stats CollectStats
	if c.provider == nil {
		return stats, driven.ErrProviderUnavailable
	}

	start := time.Now()

	res := fetchList(ctx, "list repositories", c.provider.ListRepositories)
	switch res.Status {
	case FetchFailed:
		return stats, fmt.Errorf("list repositories: %s", res.Reason)
	case FetchEmpty:
		slog.Info("no repositories to collect")
		return stats, nil
	}

	for _, repo := range res.Value {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		id, err := c.repoStore.Upsert(ctx, model.Repository{Name: repo.Name, Slug: repo.Slug, Workspace: repo.Workspace})
		if err != nil {
			slog.Error("repository upsert failed", "repo", repo.Slug, "error", err)
			stats.Errors++
			continue
		}
		stats.Repositories++

		if err := c.collectRepo(ctx, id, repo.Slug, &stats); err != nil {
			slog.Error("repository collection failed", "repo", repo.Slug, "error", err)
			stats.Errors++
		}
	}

	slog.Info("collection complete",
		"repos", stats.Repositories,
		"builds", stats.Builds,
		"failures", stats.Failures,
		"pull_requests", stats.PullRequests,
		"deployments", stats.Deployments,
		"errors", stats.Errors,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return stats, nil
}

// CollectRepository collects a single repository that must already be stored.
func (c *Collector) CollectRepository(ctx context.Context, slug string) (CollectStats, error) {
	var stats CollectStats
	if c.provider == nil {
		return stats, driven.ErrProviderUnavailable
	}

	repo, err := c.repoStore.GetBySlug(ctx, slug)
	if err != nil {
		return stats, err
	}
	if repo == nil {
		return stats, fmt.Errorf("collect %s: %w", slug, driven.ErrRepoNotFound)
	}

	stats.Repositories = 1
	err = c.collectRepo(ctx, repo.ID, slug, &stats)

	return stats, err
}

func (c *Collector) collectRepo(ctx context.Context, repoID int64, slug string, stats *CollectStats) error {
	if err := c.collectRuns(ctx, repoID, slug, stats); err != nil {
		return err
	}
	if err := c.collectPullRequests(ctx, repoID, slug, stats); err != nil {
		return err
	}
	return c.collectDeployments(ctx, repoID, slug, stats)
}

func (c *Collector) collectRuns(ctx context.Context, repoID int64, slug string, stats *CollectStats) error {
	res := fetchList(ctx, "list pipeline runs", func(ctx context.Context) ([]model.PipelineRun, error) {
		return c.provider.ListPipelineRuns(ctx, slug, c.opts.RunsPerRepo)
	}, "repo", slug)
	if !res.OK() {
		return nil
	}

	for _, run := range res.Value {
		// In-flight runs are picked up by a later pass once they complete.
		if !run.Completed {
			continue
		}

		runID := strconv.FormatInt(run.RunID, 10)
		exists, err := c.buildStore.ExistsByRunID(ctx, runID)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		buildID, err := c.buildStore.InsertBuild(ctx, model.Build{
			RepositoryID:    repoID,
			BuildNumber:     run.BuildNumber,
			RunID:           runID,
			CommitHash:      run.CommitHash,
			Branch:          run.Branch,
			State:           run.State,
			DurationSeconds: run.Duration(),
			StartedOn:       run.StartedOn,
			CompletedOn:     run.CompletedOn,
			TriggerName:     run.TriggerName,
		})
		if err != nil {
			return err
		}
		stats.Builds++

		if err := c.collectSteps(ctx, buildID, slug, run.RunID, stats); err != nil {
			return err
		}
	}

	return nil
}

func (c *Collector) collectSteps(ctx context.Context, buildID int64, slug string, runID int64, stats *CollectStats) error {
	res := fetchList(ctx, "list steps", func(ctx context.Context) ([]model.PipelineStep, error) {
		return c.provider.ListSteps(ctx, slug, runID)
	}, "repo", slug, "run_id", runID)
	if !res.OK() {
		return nil
	}

	for _, ps := range res.Value {
		step := model.BuildStep{
			BuildID:         buildID,
			StepID:          strconv.FormatInt(ps.StepID, 10),
			StepName:        ps.Name,
			StepType:        ps.Type,
			State:           ps.State,
			DurationSeconds: ps.Duration(),
			StartedOn:       ps.StartedOn,
			CompletedOn:     ps.CompletedOn,
			MaxTimeSeconds:  ps.MaxTimeSeconds,
			MemoryLimitMB:   ps.MemoryLimitMB,
			PeakMemoryMB:    ps.PeakMemoryMB,
			SizeFactor:      ps.SizeFactor,
		}

		failed := ps.State.IsFailure()
		var rawLog string
		if failed {
			logRes := fetchText(ctx, "fetch step log", c.opts.LogFetchTimeout, func(ctx context.Context) (string, error) {
				return c.provider.FetchStepLog(ctx, slug, ps.StepID)
			}, "repo", slug, "step", ps.Name)
			rawLog = logRes.Value
			step.LogExcerpt = failure.LogExcerpt(rawLog)
		}

		stepID, err := c.buildStore.InsertStep(ctx, step)
		if err != nil {
			return err
		}
		stats.Steps++

		if !failed {
			continue
		}

		if _, err := c.buildStore.InsertFailure(ctx, c.failureFor(buildID, stepID, ps, rawLog, step.LogExcerpt)); err != nil {
			return err
		}
		stats.Failures++
	}

	return nil
}

// failureFor derives the failure record of a failed step. The error pattern is
// the signature hash of the raw log when one can be extracted, else the
// coarse pattern. The excerpt only supplies a missing error message.
func (c *Collector) failureFor(buildID, stepID int64, ps model.PipelineStep, rawLog, excerpt string) model.BuildFailure {
	msg := ps.ErrorMessage
	if msg == "" {
		msg = failure.Truncate(excerpt, maxErrorMessage)
	}

	pattern := failure.SignatureFor(rawLog, msg).Hash
	if pattern == "" {
		pattern = failure.Pattern(msg)
	}

	occurredAt := c.now()
	if ps.CompletedOn != nil && !ps.CompletedOn.IsZero() {
		occurredAt = *ps.CompletedOn
	}

	return model.BuildFailure{
		BuildID:      buildID,
		StepID:       &stepID,
		ErrorMessage: msg,
		ErrorPattern: pattern,
		FailureType:  failure.Classify(msg),
		OccurredAt:   occurredAt,
	}
}

func (c *Collector) collectPullRequests(ctx context.Context, repoID int64, slug string, stats *CollectStats) error {
	res := fetchList(ctx, "list merged pull requests", func(ctx context.Context) ([]model.MergedPullRequest, error) {
		return c.provider.ListMergedPullRequests(ctx, slug, c.opts.PRsPerRepo)
	}, "repo", slug)
	if !res.OK() {
		return nil
	}

	for _, mpr := range res.Value {
		mergedAt := firstTime(mpr.MergedAt, mpr.ClosedAt, mpr.UpdatedAt)
		if mergedAt == nil {
			continue
		}

		inserted, err := c.prStore.Insert(ctx, model.PullRequest{
			RepositoryID:      repoID,
			Number:            mpr.Number,
			Title:             mpr.Title,
			Author:            mpr.Author,
			SourceBranch:      mpr.SourceBranch,
			DestinationBranch: mpr.DestinationBranch,
			State:             "MERGED",
			CreatedAt:         mpr.CreatedAt,
			MergedAt:          mergedAt,
		})
		if err != nil {
			return err
		}
		if inserted {
			stats.PullRequests++
		}
	}

	return nil
}

func (c *Collector) collectDeployments(ctx context.Context, repoID int64, slug string, stats *CollectStats) error {
	res := fetchList(ctx, "list deployments", func(ctx context.Context) ([]model.DeploymentRecord, error) {
		return c.provider.ListDeployments(ctx, slug, c.opts.DeploymentsPerRepo)
	}, "repo", slug)
	if !res.OK() {
		return nil
	}

	for _, rec := range res.Value {
		d := model.Deployment{
			RepositoryID: repoID,
			Environment:  rec.Environment,
			DockerImage:  rec.Artifact,
			CommitHash:   rec.CommitHash,
			DeployedAt:   rec.DeployedAt,
		}

		build, err := c.buildStore.LatestBuildForCommit(ctx, repoID, rec.CommitHash)
		if err != nil {
			return err
		}
		if build != nil {
			d.BuildID = &build.ID
		}

		inserted, err := c.deployStore.Insert(ctx, d)
		if err != nil {
			return err
		}
		if inserted {
			stats.Deployments++
		}
	}

	return nil
}

func firstTime(candidates ...*time.Time) *time.Time {
	for _, t := range candidates {
		if t != nil && !t.IsZero() {
			return t
		}
	}
	return nil
}
