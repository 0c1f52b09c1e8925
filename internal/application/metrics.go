package application

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

const (
	slowPipelineWindow = 14 * 24 * time.Hour
	slowPipelineLimit  = 20

	trunkBranch         = "main"
	slowdownBuildLimit  = 60
	slowdownMinBuilds   = 5
	billingAnchorDay    = 28
	defaultPercentile   = 90
	day                 = 24 * time.Hour
	minutesPerSecond    = 1.0 / 60
	sourceWeightedSteps = "steps"
	sourcePipeline      = "pipeline"
)

// MetricsCalculator computes velocity, deployment and build-time aggregates
// over stored records. All windows are relative to the injected clock.
type MetricsCalculator struct {
	repoStore   driven.RepoStore
	buildStore  driven.BuildStore
	prStore     driven.PRStore
	deployStore driven.DeploymentStore
	diagStore   driven.DiagnosticStore
	now         func() time.Time
}

// NewMetricsCalculator creates a new MetricsCalculator.
func NewMetricsCalculator(
	repoStore driven.RepoStore,
	buildStore driven.BuildStore,
	prStore driven.PRStore,
	deployStore driven.DeploymentStore,
	diagStore driven.DiagnosticStore,
) *MetricsCalculator {
	return &MetricsCalculator{
		repoStore:   repoStore,
		buildStore:  buildStore,
		prStore:     prStore,
		deployStore: deployStore,
		diagStore:   diagStore,
		now:         time.Now,
	}
}

func (m *MetricsCalculator) since(days int) time.Time {
	return m.now().Add(-time.Duration(days) * day)
}

// PRVelocity returns the median and P90 merge latency in hours of PRs merged in
// the last days. Both are nil when no PR qualifies. A non-nil repoID restricts
// the window to that repository.
func (m *MetricsCalculator) PRVelocity(ctx context.Context, days int, repoID *int64) (model.PRVelocity, error) {
	prs, err := m.prStore.ListMergedSince(ctx, m.since(days), idOrZero(repoID))
	if err != nil {
		return model.PRVelocity{}, fmt.Errorf("merged pull requests: %w", err)
	}

	var hours []float64
	for _, pr := range prs {
		if h, ok := pr.MergeLatency(); ok {
			hours = append(hours, h)
		}
	}

	v := model.PRVelocity{Count: len(prs)}
	if len(hours) > 0 {
		med, p90 := median(hours), percentile(hours, defaultPercentile)
		v.MedianHours, v.P90Hours = &med, &p90
	}

	return v, nil
}

// DeploymentFrequency counts deployments per repository in the last days. A
// non-nil repoID returns that repository's count only, zero included.
func (m *MetricsCalculator) DeploymentFrequency(ctx context.Context, days int, repoID *int64) ([]model.DeploymentCount, error) {
	counts, err := m.deployStore.CountByRepository(ctx, m.since(days), idOrZero(repoID))
	if err != nil {
		return nil, fmt.Errorf("deployment frequency: %w", err)
	}

	if repoID != nil && len(counts) == 0 {
		return []model.DeploymentCount{{RepositoryID: *repoID, Count: 0}}, nil
	}

	return counts, nil
}

// DeploymentFrequencyByEnvironment counts deployments per environment.
func (m *MetricsCalculator) DeploymentFrequencyByEnvironment(ctx context.Context, days int, repoID *int64) ([]model.DeploymentCount, error) {
	counts, err := m.deployStore.CountByEnvironment(ctx, m.since(days), idOrZero(repoID))
	if err != nil {
		return nil, fmt.Errorf("deployment frequency by environment: %w", err)
	}
	return counts, nil
}

// BuildDurationTrends returns per-day median and P90 durations of the
// repository's successful builds, oldest day first.
func (m *MetricsCalculator) BuildDurationTrends(ctx context.Context, repoID int64, days int) ([]model.DurationTrend, error) {
	builds, err := m.buildStore.ListSuccessfulBuilds(ctx, driven.BuildQuery{
		RepositoryID:   repoID,
		CompletedSince: m.since(days),
	})
	if err != nil {
		return nil, fmt.Errorf("duration trends: %w", err)
	}

	byDay := make(map[string][]float64)
	for _, b := range builds {
		if b.CompletedOn == nil || b.DurationSeconds == nil {
			continue
		}
		key := b.CompletedOn.UTC().Format(time.DateOnly)
		byDay[key] = append(byDay[key], *b.DurationSeconds)
	}

	dates := make([]string, 0, len(byDay))
	for d := range byDay {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	trends := make([]model.DurationTrend, 0, len(dates))
	for _, d := range dates {
		durations := byDay[d]
		trends = append(trends, model.DurationTrend{
			Date:      d,
			MedianSec: median(durations),
			P90Sec:    percentile(durations, defaultPercentile),
			Count:     len(durations),
		})
	}

	return trends, nil
}

// BuildMinutes totals build minutes of the last days per repository. A
// non-nil repoID reports that repository only.
func (m *MetricsCalculator) BuildMinutes(ctx context.Context, days int, repoID *int64) (model.BuildMinutes, error) {
	now := m.now()
	return m.buildMinutes(ctx, now.Add(-time.Duration(days)*day), now, now, idOrZero(repoID))
}

// BillingPeriod returns the 28th-to-28th window containing ref. Both boundary
// days are part of the period. Before the 28th the window is anchored on the
// 28th of the previous month.
func BillingPeriod(ref time.Time) (start, end time.Time) {
	ref = ref.UTC()
	start = time.Date(ref.Year(), ref.Month(), billingAnchorDay, 0, 0, 0, 0, time.UTC)
	if ref.Day() < billingAnchorDay {
		start = start.AddDate(0, -1, 0)
	}
	return start, start.AddDate(0, 1, 0)
}

// BuildMinutesBillingCycle totals build minutes over the billing period of ref.
func (m *MetricsCalculator) BuildMinutesBillingCycle(ctx context.Context, ref time.Time) (model.BuildMinutes, error) {
	start, end := BillingPeriod(ref)
	// The end day is inclusive.
	return m.buildMinutes(ctx, start, end.Add(day), end, 0)
}

func (m *MetricsCalculator) buildMinutes(ctx context.Context, since, until, reportedEnd time.Time, repoID int64) (model.BuildMinutes, error) {
	sums, err := m.buildStore.SumBuildSeconds(ctx, since, until, repoID)
	if err != nil {
		return model.BuildMinutes{}, fmt.Errorf("build minutes: %w", err)
	}

	out := model.BuildMinutes{
		ByRepo:      []model.RepoBuildMinutes{},
		PeriodStart: since,
		PeriodEnd:   reportedEnd,
	}
	for _, s := range sums {
		secs, source := s.WeightedSeconds, sourceWeightedSteps
		if secs <= 0 {
			secs, source = s.PipelineSeconds, sourcePipeline
		}
		if secs <= 0 {
			continue
		}

		minutes := secs * minutesPerSecond
		out.TotalMinutes += minutes
		out.ByRepo = append(out.ByRepo, model.RepoBuildMinutes{
			RepositoryID:   s.RepositoryID,
			RepositoryName: s.RepositoryName,
			Minutes:        minutes,
			Source:         source,
		})
	}

	return out, nil
}

// SlowPipelines returns up to twenty successful builds of the last fourteen
// days slower than the scope's percentile, longest first. A nil repoID spans
// every repository as one scope.
func (m *MetricsCalculator) SlowPipelines(ctx context.Context, repoID *int64, pct float64) ([]model.SlowPipeline, error) {
	if pct <= 0 || pct > 100 {
		pct = defaultPercentile
	}

	builds, err := m.buildStore.ListSuccessfulBuilds(ctx, driven.BuildQuery{
		RepositoryID:   idOrZero(repoID),
		CompletedSince: m.now().Add(-slowPipelineWindow),
	})
	if err != nil {
		return nil, fmt.Errorf("slow pipelines: %w", err)
	}

	durations := buildDurations(builds)
	if len(durations) == 0 {
		return []model.SlowPipeline{}, nil
	}

	med := median(durations)
	threshold := percentile(durations, pct)

	slow := []model.SlowPipeline{}
	for _, b := range builds {
		if b.DurationSeconds == nil || *b.DurationSeconds <= threshold {
			continue
		}
		delta, _ := pctChange(*b.DurationSeconds, med)
		slow = append(slow, model.SlowPipeline{
			BuildID:          b.ID,
			RepositoryID:     b.RepositoryID,
			BuildNumber:      b.BuildNumber,
			DurationSeconds:  *b.DurationSeconds,
			BaselineMedian:   med,
			BaselineP90:      threshold,
			DeltaVsMedianPct: delta,
			CommitHash:       b.CommitHash,
			CompletedAt:      b.CompletedOn,
		})
	}

	sort.SliceStable(slow, func(i, j int) bool {
		return slow[i].DurationSeconds > slow[j].DurationSeconds
	})
	if len(slow) > slowPipelineLimit {
		slow = slow[:slowPipelineLimit]
	}

	return slow, nil
}

// DevDeploySlowdown compares the latest successful trunk build with the median
// and P90 of the recent trunk builds and with the build before it. Returns nil
// with fewer than five builds.
func (m *MetricsCalculator) DevDeploySlowdown(ctx context.Context, repoID int64, days int) (*model.DeploySlowdown, error) {
	builds, err := m.buildStore.ListSuccessfulBuilds(ctx, driven.BuildQuery{
		RepositoryID:   repoID,
		Branch:         trunkBranch,
		CompletedSince: m.since(days),
		Limit:          slowdownBuildLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("trunk builds: %w", err)
	}
	if len(builds) < slowdownMinBuilds {
		return nil, nil
	}

	durations := buildDurations(builds)
	med := median(durations)
	p90 := percentile(durations, defaultPercentile)

	latest, prev := builds[0], builds[1]
	latestSec := *latest.DurationSeconds

	s := &model.DeploySlowdown{
		Latest:   buildRef(latest),
		Previous: ptr(buildRef(prev)),
	}
	s.Baseline.WindowDays = days
	s.Baseline.MedianSec = med
	s.Baseline.P90Sec = p90

	if v, ok := pctChange(latestSec, med); ok {
		s.Delta.LatestVsMedianPct = &v
	}
	if prev.DurationSeconds != nil {
		if v, ok := pctChange(latestSec, *prev.DurationSeconds); ok {
			s.Delta.LatestVsPrevPct = &v
		}
	}
	s.Delta.IsSlow = latestSec > p90

	return s, nil
}

// Summary aggregates the headline metrics of the last days. Slow pipelines
// always cover the fixed fourteen-day window across all repositories.
func (m *MetricsCalculator) Summary(ctx context.Context, days int) (model.MetricsSummary, error) {
	out := model.MetricsSummary{WindowDays: days}

	velocity, err := m.PRVelocity(ctx, days, nil)
	if err != nil {
		return out, err
	}
	out.PRVelocity = velocity

	deployments, err := m.DeploymentFrequency(ctx, days, nil)
	if err != nil {
		return out, err
	}
	for _, d := range deployments {
		out.TotalDeployments += d.Count
	}

	minutes, err := m.BuildMinutes(ctx, days, nil)
	if err != nil {
		return out, err
	}
	out.TotalBuildMinutes = minutes.TotalMinutes

	out.SlowPipelines, err = m.SlowPipelines(ctx, nil, defaultPercentile)
	if err != nil {
		return out, err
	}

	out.OpenDiagnostics, err = m.diagStore.CountUnacknowledged(ctx)
	if err != nil {
		return out, fmt.Errorf("open diagnostics: %w", err)
	}

	repos, err := m.repoStore.ListAll(ctx)
	if err != nil {
		return out, fmt.Errorf("list repositories: %w", err)
	}
	out.RepositoriesTracked = len(repos)

	return out, nil
}

func buildRef(b model.Build) model.BuildRef {
	ref := model.BuildRef{
		BuildID:     b.ID,
		BuildNumber: b.BuildNumber,
		CommitHash:  b.CommitHash,
		CompletedAt: b.CompletedOn,
	}
	if b.DurationSeconds != nil {
		ref.DurationSeconds = *b.DurationSeconds
	}
	return ref
}

func idOrZero(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}

func ptr[T any](v T) *T {
	return &v
}
