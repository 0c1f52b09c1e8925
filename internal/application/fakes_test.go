package application

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

// --- Fake driven ports ---

type fakeRepoStore struct {
	repos     []model.Repository
	upsertErr error
}

func (f *fakeRepoStore) Upsert(_ context.Context, repo model.Repository) (int64, error) {
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	for i := range f.repos {
		if f.repos[i].Slug == repo.Slug {
			f.repos[i].Name = repo.Name
			return f.repos[i].ID, nil
		}
	}
	repo.ID = int64(len(f.repos) + 1)
	f.repos = append(f.repos, repo)
	return repo.ID, nil
}

func (f *fakeRepoStore) GetBySlug(_ context.Context, slug string) (*model.Repository, error) {
	for _, r := range f.repos {
		if r.Slug == slug {
			return &r, nil
		}
	}
	return nil, nil
}

func (f *fakeRepoStore) GetByID(_ context.Context, id int64) (*model.Repository, error) {
	for _, r := range f.repos {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, nil
}

func (f *fakeRepoStore) ListAll(_ context.Context) ([]model.Repository, error) {
	return f.repos, nil
}

// fakeBuildStore records ingestion writes and answers analytics reads from
// canned data or hooks.
type fakeBuildStore struct {
	builds   []model.Build
	steps    []model.BuildStep
	failures []model.BuildFailure

	successful    func(q driven.BuildQuery) []model.Build
	samples       func(q driven.StepQuery) []model.StepSample
	stepNames     map[int64][]string
	failedBuilds  []model.Build
	occurrences   func(patterns []string, f driven.FailureFilter) []model.FailureOccurrence
	patternCounts []model.PatternCount
	sums          []model.RepoBuildSeconds
	sumsSince     time.Time
	sumsUntil     time.Time
	sumsRepo      int64
}

func (f *fakeBuildStore) ExistsByRunID(_ context.Context, runID string) (bool, error) {
	for _, b := range f.builds {
		if b.RunID == runID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBuildStore) InsertBuild(_ context.Context, b model.Build) (int64, error) {
	b.ID = int64(len(f.builds) + 1)
	f.builds = append(f.builds, b)
	return b.ID, nil
}

func (f *fakeBuildStore) InsertStep(_ context.Context, s model.BuildStep) (int64, error) {
	s.ID = int64(len(f.steps) + 1)
	f.steps = append(f.steps, s)
	return s.ID, nil
}

func (f *fakeBuildStore) InsertFailure(_ context.Context, bf model.BuildFailure) (int64, error) {
	bf.ID = int64(len(f.failures) + 1)
	f.failures = append(f.failures, bf)
	return bf.ID, nil
}

func (f *fakeBuildStore) LatestBuildForCommit(_ context.Context, repoID int64, commit string) (*model.Build, error) {
	for i := len(f.builds) - 1; i >= 0; i-- {
		if f.builds[i].RepositoryID == repoID && f.builds[i].CommitHash == commit {
			b := f.builds[i]
			return &b, nil
		}
	}
	return nil, nil
}

func (f *fakeBuildStore) ListSuccessfulBuilds(_ context.Context, q driven.BuildQuery) ([]model.Build, error) {
	if f.successful == nil {
		return nil, nil
	}
	return f.successful(q), nil
}

func (f *fakeBuildStore) ListStepSamples(_ context.Context, q driven.StepQuery) ([]model.StepSample, error) {
	if f.samples == nil {
		return nil, nil
	}
	return f.samples(q), nil
}

func (f *fakeBuildStore) ListResourceSteps(_ context.Context, _ int64) ([]model.BuildStep, error) {
	return f.steps, nil
}

func (f *fakeBuildStore) DistinctStepNames(_ context.Context, repoID int64, _ int) ([]string, error) {
	return f.stepNames[repoID], nil
}

func (f *fakeBuildStore) SumBuildSeconds(_ context.Context, since, until time.Time, repoID int64) ([]model.RepoBuildSeconds, error) {
	f.sumsSince, f.sumsUntil, f.sumsRepo = since, until, repoID
	if repoID == 0 {
		return f.sums, nil
	}
	var out []model.RepoBuildSeconds
	for _, s := range f.sums {
		if s.RepositoryID == repoID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeBuildStore) ListFailedBuilds(_ context.Context, _ int64, limit int) ([]model.Build, error) {
	if len(f.failedBuilds) > limit {
		return f.failedBuilds[:limit], nil
	}
	return f.failedBuilds, nil
}

func (f *fakeBuildStore) LatestBuild(_ context.Context, repoID int64) (*model.Build, error) {
	for i := len(f.builds) - 1; i >= 0; i-- {
		if f.builds[i].RepositoryID == repoID {
			b := f.builds[i]
			return &b, nil
		}
	}
	return nil, nil
}

func (f *fakeBuildStore) FirstFailedStep(_ context.Context, buildID int64) (*model.BuildStep, error) {
	for _, s := range f.steps {
		if s.BuildID == buildID && s.State.IsFailure() {
			return &s, nil
		}
	}
	return nil, nil
}

func (f *fakeBuildStore) FailureByStep(_ context.Context, stepID int64) (*model.BuildFailure, error) {
	for _, bf := range f.failures {
		if bf.StepID != nil && *bf.StepID == stepID {
			return &bf, nil
		}
	}
	return nil, nil
}

func (f *fakeBuildStore) FindFailuresByPattern(_ context.Context, patterns []string, filter driven.FailureFilter) ([]model.FailureOccurrence, error) {
	if f.occurrences == nil {
		return nil, nil
	}
	return f.occurrences(patterns, filter), nil
}

func (f *fakeBuildStore) CountFailurePatterns(_ context.Context, _ int) ([]model.PatternCount, error) {
	return f.patternCounts, nil
}

type fakePRStore struct {
	prs    []model.PullRequest
	merged []model.PullRequest
}

func (f *fakePRStore) Insert(_ context.Context, pr model.PullRequest) (bool, error) {
	for _, p := range f.prs {
		if p.RepositoryID == pr.RepositoryID && p.Number == pr.Number {
			return false, nil
		}
	}
	f.prs = append(f.prs, pr)
	return true, nil
}

func (f *fakePRStore) ListMergedSince(_ context.Context, _ time.Time, repoID int64) ([]model.PullRequest, error) {
	if repoID == 0 {
		return f.merged, nil
	}
	var out []model.PullRequest
	for _, pr := range f.merged {
		if pr.RepositoryID == repoID {
			out = append(out, pr)
		}
	}
	return out, nil
}

type fakeDeploymentStore struct {
	deployments []model.Deployment
	byRepo      []model.DeploymentCount
	byEnv       []model.DeploymentCount
	latest      []model.Deployment
}

func (f *fakeDeploymentStore) Insert(_ context.Context, d model.Deployment) (bool, error) {
	for _, e := range f.deployments {
		if e.RepositoryID == d.RepositoryID && e.Environment == d.Environment &&
			e.DeployedAt.Equal(d.DeployedAt) && e.CommitHash == d.CommitHash {
			return false, nil
		}
	}
	f.deployments = append(f.deployments, d)
	return true, nil
}

func (f *fakeDeploymentStore) CountByRepository(_ context.Context, _ time.Time, _ int64) ([]model.DeploymentCount, error) {
	return f.byRepo, nil
}

func (f *fakeDeploymentStore) CountByEnvironment(_ context.Context, _ time.Time, _ int64) ([]model.DeploymentCount, error) {
	return f.byEnv, nil
}

func (f *fakeDeploymentStore) LatestPerEnvironment(_ context.Context, _ int64) ([]model.Deployment, error) {
	return f.latest, nil
}

type fakeDiagnosticStore struct {
	rows []model.Diagnostic
}

func (f *fakeDiagnosticStore) ExistsUnacknowledged(_ context.Context, repoID *int64, typ model.DiagnosticType, title string) (bool, error) {
	for _, d := range f.rows {
		if d.Acknowledged || d.Type != typ || d.Title != title {
			continue
		}
		if (d.RepositoryID == nil) != (repoID == nil) {
			continue
		}
		if repoID != nil && *d.RepositoryID != *repoID {
			continue
		}
		return true, nil
	}
	return false, nil
}

func (f *fakeDiagnosticStore) Insert(_ context.Context, d model.Diagnostic) (int64, error) {
	d.ID = int64(len(f.rows) + 1)
	f.rows = append(f.rows, d)
	return d.ID, nil
}

func (f *fakeDiagnosticStore) ListUnacknowledged(_ context.Context, _ int, repoID int64) ([]model.Diagnostic, error) {
	var out []model.Diagnostic
	for _, d := range f.rows {
		if d.Acknowledged {
			continue
		}
		if repoID != 0 && (d.RepositoryID == nil || *d.RepositoryID != repoID) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (f *fakeDiagnosticStore) CountUnacknowledged(ctx context.Context) (int, error) {
	open, _ := f.ListUnacknowledged(ctx, 0, 0)
	return len(open), nil
}

func (f *fakeDiagnosticStore) Acknowledge(_ context.Context, id int64) error {
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows[i].Acknowledged = true
			return nil
		}
	}
	return driven.ErrDiagnosticNotFound
}

type fakeProvider struct {
	repos       []model.ProviderRepository
	reposErr    error
	runs        map[string][]model.PipelineRun
	runsErr     map[string]error
	steps       map[int64][]model.PipelineStep
	logs        map[int64]string
	logErr      error
	prs         map[string][]model.MergedPullRequest
	deployments map[string][]model.DeploymentRecord
	logCalls    int
}

func (f *fakeProvider) ListRepositories(_ context.Context) ([]model.ProviderRepository, error) {
	return f.repos, f.reposErr
}

func (f *fakeProvider) ListPipelineRuns(_ context.Context, slug string, _ int) ([]model.PipelineRun, error) {
	if err := f.runsErr[slug]; err != nil {
		return nil, err
	}
	return f.runs[slug], nil
}

func (f *fakeProvider) ListSteps(_ context.Context, _ string, runID int64) ([]model.PipelineStep, error) {
	return f.steps[runID], nil
}

func (f *fakeProvider) FetchStepLog(_ context.Context, _ string, stepID int64) (string, error) {
	f.logCalls++
	if f.logErr != nil {
		return "", f.logErr
	}
	return f.logs[stepID], nil
}

func (f *fakeProvider) ListMergedPullRequests(_ context.Context, slug string, _ int) ([]model.MergedPullRequest, error) {
	return f.prs[slug], nil
}

func (f *fakeProvider) ListDeployments(_ context.Context, slug string, _ int) ([]model.DeploymentRecord, error) {
	return f.deployments[slug], nil
}

type fakeSuggester struct {
	text  string
	err   error
	block bool
	calls int
}

func (f *fakeSuggester) Suggest(ctx context.Context, _ model.Diagnostic) (string, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.text, f.err
}

// --- Fixture helpers ---

// fixedNow is the reference instant for detector tests.
var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

// buildsWithDurations returns successful builds, newest first, one hour apart.
func buildsWithDurations(repoID int64, prefix string, durations ...float64) []model.Build {
	builds := make([]model.Build, len(durations))
	for i, d := range durations {
		completed := fixedNow.Add(-time.Duration(i) * time.Hour)
		builds[i] = model.Build{
			ID:              int64(i + 1),
			RepositoryID:    repoID,
			BuildNumber:     len(durations) - i,
			RunID:           fmt.Sprintf("%s-%d", prefix, i),
			CommitHash:      fmt.Sprintf("%s%02d%s", prefix, i, "deadbeefcafe"),
			Branch:          "main",
			State:           model.BuildStateSuccessful,
			DurationSeconds: model.DurationPtr(d),
			CompletedOn:     model.TimePtr(completed),
		}
	}
	return builds
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func samplesWithDurations(durations ...float64) []model.StepSample {
	out := make([]model.StepSample, len(durations))
	for i, d := range durations {
		out[i] = model.StepSample{
			BuildID:         int64(100 + i),
			StepName:        "test",
			DurationSeconds: d,
			CommitHash:      fmt.Sprintf("step%02dcommit", i),
			CompletedOn:     fixedNow.Add(-time.Duration(i) * time.Hour),
		}
	}
	return out
}
