package sqlite

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

func seedStep(t *testing.T, db *DB, buildID int64, name string, state model.BuildState, duration float64) int64 {
	t.Helper()

	id, err := NewBuildRepo(db).InsertStep(context.Background(), model.BuildStep{
		BuildID:         buildID,
		StepID:          fmt.Sprintf("%d-%s", buildID, name),
		StepName:        name,
		State:           state,
		DurationSeconds: model.DurationPtr(duration),
		SizeFactor:      1,
	})
	require.NoError(t, err)

	return id
}

func seedFailure(t *testing.T, db *DB, buildID int64, stepID *int64, pattern string, occurred time.Time) {
	t.Helper()

	_, err := NewBuildRepo(db).InsertFailure(context.Background(), model.BuildFailure{
		BuildID:      buildID,
		StepID:       stepID,
		ErrorMessage: "boom: " + pattern,
		ErrorPattern: pattern,
		FailureType:  model.FailureUnknown,
		OccurredAt:   occurred,
	})
	require.NoError(t, err)
}

func TestBuildRepo_InsertBuild(t *testing.T) {
	db := setupTestDB(t)
	repoID := seedRepo(t, db, "acme/api")
	builds := NewBuildRepo(db)
	ctx := context.Background()

	exists, err := builds.ExistsByRunID(ctx, "1001")
	require.NoError(t, err)
	assert.False(t, exists)

	seedBuild(t, db, repoID, "1001", model.BuildStateSuccessful, 120, base)

	exists, err = builds.ExistsByRunID(ctx, "1001")
	require.NoError(t, err)
	assert.True(t, exists)

	latest, err := builds.LatestBuild(ctx, repoID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "1001", latest.RunID)
	assert.Equal(t, model.BuildStateSuccessful, latest.State)
	require.NotNil(t, latest.DurationSeconds)
	assert.InDelta(t, 120.0, *latest.DurationSeconds, 1e-9)
	require.NotNil(t, latest.CompletedOn)
	assert.True(t, latest.CompletedOn.Equal(base))
}

func TestBuildRepo_InsertBuild_DuplicateRunID(t *testing.T) {
	db := setupTestDB(t)
	repoID := seedRepo(t, db, "acme/api")
	seedBuild(t, db, repoID, "1001", model.BuildStateSuccessful, 120, base)

	_, err := NewBuildRepo(db).InsertBuild(context.Background(), model.Build{
		RepositoryID: repoID,
		RunID:        "1001",
		State:        model.BuildStateFailed,
	})
	assert.Error(t, err, "run IDs are unique")
}

func TestBuildRepo_LatestBuild_Empty(t *testing.T) {
	db := setupTestDB(t)
	repoID := seedRepo(t, db, "acme/api")

	got, err := NewBuildRepo(db).LatestBuild(context.Background(), repoID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestBuildRepo_InsertStep_ClampsSizeFactorAndExcerpt(t *testing.T) {
	db := setupTestDB(t)
	repoID := seedRepo(t, db, "acme/api")
	buildID := seedBuild(t, db, repoID, "1", model.BuildStateFailed, 60, base)
	builds := NewBuildRepo(db)
	ctx := context.Background()

	_, err := builds.InsertStep(ctx, model.BuildStep{
		BuildID:    buildID,
		StepName:   "test",
		State:      model.BuildStateFailed,
		SizeFactor: 0,
		LogExcerpt: strings.Repeat("x", model.MaxLogExcerpt+500),
	})
	require.NoError(t, err)

	step, err := builds.FirstFailedStep(ctx, buildID)
	require.NoError(t, err)
	require.NotNil(t, step)
	assert.Equal(t, 1.0, step.SizeFactor)
	assert.Len(t, step.LogExcerpt, model.MaxLogExcerpt)
	assert.Nil(t, step.DurationSeconds)
}

func TestBuildRepo_ListSuccessfulBuilds(t *testing.T) {
	db := setupTestDB(t)
	api := seedRepo(t, db, "acme/api")
	web := seedRepo(t, db, "acme/web")
	builds := NewBuildRepo(db)
	ctx := context.Background()

	seedBuild(t, db, api, "a1", model.BuildStateSuccessful, 100, base.AddDate(0, 0, -20))
	seedBuild(t, db, api, "a2", model.BuildStateSuccessful, 110, base.AddDate(0, 0, -14))
	seedBuild(t, db, api, "a3", model.BuildStateSuccessful, 120, base.AddDate(0, 0, -1))
	seedBuild(t, db, api, "a4", model.BuildStateFailed, 130, base)
	seedBuild(t, db, web, "w1", model.BuildStateSuccessful, 90, base)

	cutoff := base.AddDate(0, 0, -14)

	tests := []struct {
		name  string
		query driven.BuildQuery
		want  []string
	}{
		{
			name:  "repository newest first without failures",
			query: driven.BuildQuery{RepositoryID: api},
			want:  []string{"a3", "a2", "a1"},
		},
		{
			name:  "before is exclusive",
			query: driven.BuildQuery{RepositoryID: api, CompletedBefore: cutoff},
			want:  []string{"a1"},
		},
		{
			name:  "since is inclusive",
			query: driven.BuildQuery{RepositoryID: api, CompletedSince: cutoff},
			want:  []string{"a3", "a2"},
		},
		{
			name:  "limit",
			query: driven.BuildQuery{RepositoryID: api, Limit: 1},
			want:  []string{"a3"},
		},
		{
			name:  "all repositories",
			query: driven.BuildQuery{CompletedSince: base.AddDate(0, 0, -2)},
			want:  []string{"w1", "a3"},
		},
		{
			name:  "branch filter",
			query: driven.BuildQuery{RepositoryID: api, Branch: "develop"},
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := builds.ListSuccessfulBuilds(ctx, tt.query)
			require.NoError(t, err)

			var runIDs []string
			for _, b := range got {
				runIDs = append(runIDs, b.RunID)
			}
			assert.Equal(t, tt.want, runIDs)
		})
	}
}

func TestBuildRepo_ListStepSamples(t *testing.T) {
	db := setupTestDB(t)
	repoID := seedRepo(t, db, "acme/api")
	builds := NewBuildRepo(db)
	ctx := context.Background()

	old := seedBuild(t, db, repoID, "1", model.BuildStateSuccessful, 100, base.AddDate(0, 0, -20))
	recent := seedBuild(t, db, repoID, "2", model.BuildStateSuccessful, 100, base)
	failed := seedBuild(t, db, repoID, "3", model.BuildStateFailed, 100, base)

	seedStep(t, db, old, "test", model.BuildStateSuccessful, 30)
	seedStep(t, db, recent, "test", model.BuildStateSuccessful, 45)
	seedStep(t, db, recent, "lint", model.BuildStateSuccessful, 5)
	seedStep(t, db, failed, "test", model.BuildStateFailed, 90)

	samples, err := builds.ListStepSamples(ctx, driven.StepQuery{RepositoryID: repoID, StepName: "test"})
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, recent, samples[0].BuildID)
	assert.InDelta(t, 45.0, samples[0].DurationSeconds, 1e-9)
	assert.Equal(t, "commit-2", samples[0].CommitHash)
	assert.True(t, samples[0].CompletedOn.Equal(base))

	baseline, err := builds.ListStepSamples(ctx, driven.StepQuery{
		RepositoryID:    repoID,
		StepName:        "test",
		CompletedBefore: base.AddDate(0, 0, -14),
	})
	require.NoError(t, err)
	require.Len(t, baseline, 1)
	assert.Equal(t, old, baseline[0].BuildID)
}

func TestBuildRepo_DistinctStepNames(t *testing.T) {
	db := setupTestDB(t)
	repoID := seedRepo(t, db, "acme/api")
	ctx := context.Background()

	older := seedBuild(t, db, repoID, "1", model.BuildStateSuccessful, 100, base.Add(-time.Hour))
	newer := seedBuild(t, db, repoID, "2", model.BuildStateSuccessful, 100, base)
	seedStep(t, db, older, "deploy", model.BuildStateSuccessful, 10)
	seedStep(t, db, newer, "test", model.BuildStateSuccessful, 10)
	seedStep(t, db, newer, "build", model.BuildStateSuccessful, 10)

	all, err := NewBuildRepo(db).DistinctStepNames(ctx, repoID, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "deploy", "test"}, all)

	latest, err := NewBuildRepo(db).DistinctStepNames(ctx, repoID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "test"}, latest)
}

func TestBuildRepo_ListResourceSteps_OnlySuccessfulBuilds(t *testing.T) {
	db := setupTestDB(t)
	repoID := seedRepo(t, db, "acme/api")
	ok := seedBuild(t, db, repoID, "1", model.BuildStateSuccessful, 100, base)
	bad := seedBuild(t, db, repoID, "2", model.BuildStateFailed, 100, base)
	seedStep(t, db, ok, "build", model.BuildStateSuccessful, 10)
	seedStep(t, db, bad, "build", model.BuildStateFailed, 10)

	steps, err := NewBuildRepo(db).ListResourceSteps(context.Background(), repoID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, ok, steps[0].BuildID)
}

func TestBuildRepo_SumBuildSeconds(t *testing.T) {
	db := setupTestDB(t)
	api := seedRepo(t, db, "acme/api")
	web := seedRepo(t, db, "acme/web")
	builds := NewBuildRepo(db)
	ctx := context.Background()

	b1 := seedBuild(t, db, api, "1", model.BuildStateSuccessful, 600, base)
	_, err := builds.InsertStep(ctx, model.BuildStep{
		BuildID: b1, StepName: "build", State: model.BuildStateSuccessful,
		DurationSeconds: model.DurationPtr(300), SizeFactor: 2,
	})
	require.NoError(t, err)
	seedStep(t, db, b1, "test", model.BuildStateSuccessful, 60)

	// Outside the window.
	seedBuild(t, db, api, "2", model.BuildStateSuccessful, 999, base.AddDate(0, 0, -40))
	// No steps: only the pipeline sum is known.
	seedBuild(t, db, web, "3", model.BuildStateFailed, 120, base)

	sums, err := builds.SumBuildSeconds(ctx, base.AddDate(0, 0, -30), base.Add(time.Second), 0)
	require.NoError(t, err)
	require.Len(t, sums, 2)

	assert.Equal(t, "api", sums[0].RepositoryName)
	assert.InDelta(t, 660.0, sums[0].WeightedSeconds, 1e-9)
	assert.InDelta(t, 600.0, sums[0].PipelineSeconds, 1e-9)

	assert.Equal(t, "web", sums[1].RepositoryName)
	assert.InDelta(t, 0.0, sums[1].WeightedSeconds, 1e-9)
	assert.InDelta(t, 120.0, sums[1].PipelineSeconds, 1e-9)

	webOnly, err := builds.SumBuildSeconds(ctx, base.AddDate(0, 0, -30), base.Add(time.Second), web)
	require.NoError(t, err)
	require.Len(t, webOnly, 1)
	assert.Equal(t, web, webOnly[0].RepositoryID)
	assert.InDelta(t, 120.0, webOnly[0].PipelineSeconds, 1e-9)
}

func TestBuildRepo_FailureLookups(t *testing.T) {
	db := setupTestDB(t)
	api := seedRepo(t, db, "acme/api")
	web := seedRepo(t, db, "acme/web")
	builds := NewBuildRepo(db)
	ctx := context.Background()

	apiBuild := seedBuild(t, db, api, "1", model.BuildStateFailed, 60, base.Add(-2*time.Hour))
	seedStep(t, db, apiBuild, "lint", model.BuildStateSuccessful, 5)
	apiStep := seedStep(t, db, apiBuild, "test", model.BuildStateFailed, 30)
	seedFailure(t, db, apiBuild, &apiStep, "sig-a", base.Add(-2*time.Hour))

	webBuild := seedBuild(t, db, web, "2", model.BuildStateFailed, 60, base)
	webStep := seedStep(t, db, webBuild, "test", model.BuildStateError, 30)
	seedFailure(t, db, webBuild, &webStep, "sig-a", base)

	otherBuild := seedBuild(t, db, web, "3", model.BuildStateFailed, 60, base.Add(-time.Hour))
	seedFailure(t, db, otherBuild, nil, "sig-b", base.Add(-time.Hour))

	t.Run("first failed step", func(t *testing.T) {
		step, err := builds.FirstFailedStep(ctx, apiBuild)
		require.NoError(t, err)
		require.NotNil(t, step)
		assert.Equal(t, "test", step.StepName)

		step, err = builds.FirstFailedStep(ctx, webBuild)
		require.NoError(t, err)
		require.NotNil(t, step)
		assert.Equal(t, model.BuildStateError, step.State)
	})

	t.Run("failure by step", func(t *testing.T) {
		f, err := builds.FailureByStep(ctx, apiStep)
		require.NoError(t, err)
		require.NotNil(t, f)
		assert.Equal(t, "sig-a", f.ErrorPattern)
		require.NotNil(t, f.StepID)
		assert.Equal(t, apiStep, *f.StepID)

		f, err = builds.FailureByStep(ctx, 9999)
		require.NoError(t, err)
		assert.Nil(t, f)
	})

	t.Run("find by pattern newest first", func(t *testing.T) {
		got, err := builds.FindFailuresByPattern(ctx, []string{"sig-a"}, driven.FailureFilter{Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "acme/web", got[0].RepositorySlug)
		assert.Equal(t, "test", got[0].StepName)
		assert.Equal(t, "acme/api", got[1].RepositorySlug)
	})

	t.Run("find by pattern excluding repository", func(t *testing.T) {
		got, err := builds.FindFailuresByPattern(ctx, []string{"sig-a", "sig-b"}, driven.FailureFilter{ExcludeRepositoryID: api, Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 2)
		for _, o := range got {
			assert.Equal(t, web, o.RepositoryID)
		}
		assert.Equal(t, "", got[1].StepName, "failures without a step still match")
	})

	t.Run("find by pattern ignores empty patterns", func(t *testing.T) {
		got, err := builds.FindFailuresByPattern(ctx, []string{"", ""}, driven.FailureFilter{})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("count patterns", func(t *testing.T) {
		counts, err := builds.CountFailurePatterns(ctx, 10)
		require.NoError(t, err)
		require.Len(t, counts, 2)
		assert.Equal(t, model.PatternCount{Pattern: "sig-a", Count: 2}, counts[0])
		assert.Equal(t, model.PatternCount{Pattern: "sig-b", Count: 1}, counts[1])
	})

	t.Run("failed builds", func(t *testing.T) {
		failed, err := builds.ListFailedBuilds(ctx, 0, 20)
		require.NoError(t, err)
		require.Len(t, failed, 3)
		assert.Equal(t, webBuild, failed[0].ID)

		failed, err = builds.ListFailedBuilds(ctx, api, 20)
		require.NoError(t, err)
		require.Len(t, failed, 1)
	})
}

func TestBuildRepo_LatestBuildForCommit(t *testing.T) {
	db := setupTestDB(t)
	repoID := seedRepo(t, db, "acme/api")
	builds := NewBuildRepo(db)
	ctx := context.Background()

	seedBuild(t, db, repoID, "7", model.BuildStateSuccessful, 60, base)

	got, err := builds.LatestBuildForCommit(ctx, repoID, "commit-7")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "7", got.RunID)

	got, err = builds.LatestBuildForCommit(ctx, repoID, "unknown")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = builds.LatestBuildForCommit(ctx, repoID, "")
	require.NoError(t, err)
	assert.Nil(t, got)
}
