package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/releaseintel/internal/domain/failure"
	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

type collectorFixture struct {
	provider    *fakeProvider
	repos       *fakeRepoStore
	builds      *fakeBuildStore
	prs         *fakePRStore
	deployments *fakeDeploymentStore
	collector   *Collector
}

func newCollectorFixture(provider *fakeProvider) *collectorFixture {
	f := &collectorFixture{
		provider:    provider,
		repos:       &fakeRepoStore{},
		builds:      &fakeBuildStore{},
		prs:         &fakePRStore{},
		deployments: &fakeDeploymentStore{},
	}
	f.collector = NewCollector(provider, f.repos, f.builds, f.prs, f.deployments, CollectorOptions{
		RunsPerRepo:        50,
		PRsPerRepo:         50,
		DeploymentsPerRepo: 50,
		LogFetchTimeout:    time.Second,
	})
	f.collector.now = func() time.Time { return fixedNow }
	return f
}

func at(minutes int) *time.Time {
	t := fixedNow.Add(time.Duration(minutes) * time.Minute)
	return &t
}

const failingLog = `Run go test ./...
--- FAIL: TestCheckout (0.01s)
    checkout_test.go:42: assertion failed: expected 3, got 2
FAIL
Error: Process completed with exit code 1.`

func standardProvider() *fakeProvider {
	return &fakeProvider{
		repos: []model.ProviderRepository{{Name: "api", Slug: "acme/api", Workspace: "acme"}},
		runs: map[string][]model.PipelineRun{"acme/api": {
			{RunID: 101, BuildNumber: 3, CommitHash: "c3", Branch: "main", State: model.BuildStateInProgress, StartedOn: at(-5)},
			{RunID: 100, BuildNumber: 2, CommitHash: "c2", Branch: "main", State: model.BuildStateFailed, Completed: true, StartedOn: at(-60), CompletedOn: at(-50)},
		}},
		steps: map[int64][]model.PipelineStep{100: {
			{StepID: 1, Name: "build", State: model.BuildStateSuccessful, StartedOn: at(-60), CompletedOn: at(-55), SizeFactor: 2},
			{StepID: 2, Name: "test", State: model.BuildStateFailed, StartedOn: at(-55), CompletedOn: at(-50), SizeFactor: 1},
		}},
		logs: map[int64]string{2: failingLog},
		prs: map[string][]model.MergedPullRequest{"acme/api": {
			{Number: 9, Title: "Fix", CreatedAt: fixedNow.Add(-48 * time.Hour), MergedAt: at(-120)},
			{Number: 8, Title: "Closed only", CreatedAt: fixedNow.Add(-72 * time.Hour), ClosedAt: at(-240)},
			{Number: 7, Title: "Nothing", CreatedAt: fixedNow.Add(-96 * time.Hour)},
		}},
		deployments: map[string][]model.DeploymentRecord{"acme/api": {
			{Environment: "production", CommitHash: "c2", Artifact: "registry/api:c2", DeployedAt: fixedNow.Add(-30 * time.Minute)},
		}},
	}
}

func TestCollectAll(t *testing.T) {
	f := newCollectorFixture(standardProvider())

	stats, err := f.collector.CollectAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, CollectStats{Repositories: 1, Builds: 1, Steps: 2, Failures: 1, PullRequests: 2, Deployments: 1}, stats)

	require.Len(t, f.builds.builds, 1, "in-flight run is skipped")
	b := f.builds.builds[0]
	assert.Equal(t, "100", b.RunID)
	assert.Equal(t, model.BuildStateFailed, b.State)
	require.NotNil(t, b.DurationSeconds)
	assert.InDelta(t, 600.0, *b.DurationSeconds, 1e-9)

	require.Len(t, f.builds.steps, 2)
	assert.Empty(t, f.builds.steps[0].LogExcerpt, "logs only for failed steps")
	assert.Nil(t, f.builds.steps[0].MaxTimeSeconds, "no limit reported, none stored")
	assert.Contains(t, f.builds.steps[1].LogExcerpt, "assertion failed: expected 3, got 2")
	assert.Equal(t, 1, f.provider.logCalls)

	require.Len(t, f.builds.failures, 1)
	bf := f.builds.failures[0]
	assert.Equal(t, failure.ExtractSignature(failingLog).Hash, bf.ErrorPattern)
	assert.Equal(t, model.FailureTest, bf.FailureType)
	assert.Equal(t, *at(-50), bf.OccurredAt)
	require.NotNil(t, bf.StepID)
	assert.Equal(t, int64(2), *bf.StepID)

	require.Len(t, f.prs.prs, 2)
	assert.Equal(t, *at(-240), *f.prs.prs[1].MergedAt, "closed time stands in for merge time")

	require.Len(t, f.deployments.deployments, 1)
	d := f.deployments.deployments[0]
	require.NotNil(t, d.BuildID)
	assert.Equal(t, int64(1), *d.BuildID)
	assert.Equal(t, "registry/api:c2", d.DockerImage)
}

func TestCollectAll_Idempotent(t *testing.T) {
	f := newCollectorFixture(standardProvider())
	ctx := context.Background()

	_, err := f.collector.CollectAll(ctx)
	require.NoError(t, err)

	stats, err := f.collector.CollectAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, CollectStats{Repositories: 1}, stats)
	assert.Len(t, f.builds.builds, 1)
	assert.Len(t, f.prs.prs, 2)
	assert.Len(t, f.deployments.deployments, 1)
	assert.Len(t, f.repos.repos, 1)
}

func TestCollectAll_FailingRepositoryIsIsolated(t *testing.T) {
	provider := standardProvider()
	provider.repos = append(provider.repos, model.ProviderRepository{Name: "web", Slug: "acme/web"})
	provider.runsErr = map[string]error{"acme/web": errors.New("500 internal")}

	f := newCollectorFixture(provider)
	stats, err := f.collector.CollectAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Repositories)
	assert.Equal(t, 1, stats.Builds)
}

func TestCollectAll_LogFetchFailureKeepsFailure(t *testing.T) {
	provider := standardProvider()
	provider.logErr = context.DeadlineExceeded
	provider.steps[100][1].ErrorMessage = "Error: Process completed with exit code 1."

	f := newCollectorFixture(provider)
	_, err := f.collector.CollectAll(context.Background())
	require.NoError(t, err)

	require.Len(t, f.builds.failures, 1)
	bf := f.builds.failures[0]
	assert.Equal(t, "Error: Process completed with exit code 1.", bf.ErrorMessage)
	assert.Equal(t, failure.ExtractSignature(bf.ErrorMessage).Hash, bf.ErrorPattern)
}

func TestCollectAll_ProviderErrors(t *testing.T) {
	t.Run("no provider", func(t *testing.T) {
		c := NewCollector(nil, &fakeRepoStore{}, &fakeBuildStore{}, &fakePRStore{}, &fakeDeploymentStore{}, CollectorOptions{})
		_, err := c.CollectAll(context.Background())
		assert.ErrorIs(t, err, driven.ErrProviderUnavailable)
	})

	t.Run("repository listing fails", func(t *testing.T) {
		f := newCollectorFixture(&fakeProvider{reposErr: errors.New("401 bad credentials")})
		_, err := f.collector.CollectAll(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "401 bad credentials")
	})

	t.Run("no repositories", func(t *testing.T) {
		f := newCollectorFixture(&fakeProvider{})
		stats, err := f.collector.CollectAll(context.Background())
		require.NoError(t, err)
		assert.Zero(t, stats)
	})
}

func TestCollectRepository(t *testing.T) {
	f := newCollectorFixture(standardProvider())
	ctx := context.Background()

	_, err := f.collector.CollectRepository(ctx, "acme/api")
	assert.ErrorIs(t, err, driven.ErrRepoNotFound)

	_, err = f.repos.Upsert(ctx, model.Repository{Name: "api", Slug: "acme/api"})
	require.NoError(t, err)

	stats, err := f.collector.CollectRepository(ctx, "acme/api")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Builds)
}

func TestCollectAll_StoresOnlyReportedStepLimits(t *testing.T) {
	provider := standardProvider()
	provider.steps[100][1].MaxTimeSeconds = model.DurationPtr(1800)

	f := newCollectorFixture(provider)
	_, err := f.collector.CollectAll(context.Background())
	require.NoError(t, err)

	require.Len(t, f.builds.steps, 2)
	assert.Nil(t, f.builds.steps[0].MaxTimeSeconds)
	require.NotNil(t, f.builds.steps[1].MaxTimeSeconds)
	assert.InDelta(t, 1800.0, *f.builds.steps[1].MaxTimeSeconds, 1e-9)
}

func TestCollectAll_PatternHashesFullLog(t *testing.T) {
	var lines []string
	for i := 1; i <= 12; i++ {
		lines = append(lines, fmt.Sprintf("error: test case %d failed", i))
	}
	log := strings.Join(lines, "\n")

	provider := standardProvider()
	provider.logs[2] = log

	f := newCollectorFixture(provider)
	_, err := f.collector.CollectAll(context.Background())
	require.NoError(t, err)

	require.Len(t, f.builds.failures, 1)
	bf := f.builds.failures[0]
	assert.Equal(t, failure.SignatureFor(log, "").Hash, bf.ErrorPattern)
	assert.NotEqual(t, failure.ExtractSignature(f.builds.steps[1].LogExcerpt).Hash, bf.ErrorPattern)
}

func TestFailureFor_FallsBackToCoarsePattern(t *testing.T) {
	f := newCollectorFixture(&fakeProvider{})

	bf := f.collector.failureFor(1, 2, model.PipelineStep{ErrorMessage: "runner lost"}, "", "")
	assert.Equal(t, "runner lost", bf.ErrorMessage)
	assert.Equal(t, failure.Pattern("runner lost"), bf.ErrorPattern)
	assert.Equal(t, fixedNow, bf.OccurredAt)
}
