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
	baselineWindow      = 14 * 24 * time.Hour
	regressionSampleCap = 50
	minWindowSamples    = 5
	fallbackPoolSize    = 40
	minFallbackSamples  = 10

	// regressionFactor is the fixed ratio of recent to baseline median above
	// which a duration counts as regressed.
	regressionFactor = 1.2

	minWasteSamples   = 5
	wasteFactor       = 2.0
	recommendedFactor = 1.5
)

// internalSplitNote explains a lower-confidence finding built from one pool.
const internalSplitNote = "insufficient history on both sides of the baseline cutoff; compared newer and older halves of the latest builds"

// RegressionDetector compares recent and baseline duration distributions and
// flags over-provisioned steps. It never returns an error for sparse data;
// insufficient samples yield a nil finding.
type RegressionDetector struct {
	repoStore  driven.RepoStore
	buildStore driven.BuildStore
	now        func() time.Time
}

// NewRegressionDetector creates a new RegressionDetector.
func NewRegressionDetector(repoStore driven.RepoStore, buildStore driven.BuildStore) *RegressionDetector {
	return &RegressionDetector{
		repoStore:  repoStore,
		buildStore: buildStore,
		now:        time.Now,
	}
}

// DetectBuildRegression compares successful build durations older than the
// baseline cutoff with those after it. When either side has fewer than five
// builds, the latest forty are split at the midpoint instead and the finding is
// marked as an internal split.
func (d *RegressionDetector) DetectBuildRegression(ctx context.Context, repoID int64) (*model.BuildRegression, error) {
	cutoff := d.now().Add(-baselineWindow)

	baseline, err := d.buildStore.ListSuccessfulBuilds(ctx, driven.BuildQuery{
		RepositoryID: repoID, CompletedBefore: cutoff, Limit: regressionSampleCap,
	})
	if err != nil {
		return nil, fmt.Errorf("baseline builds: %w", err)
	}

	recent, err := d.buildStore.ListSuccessfulBuilds(ctx, driven.BuildQuery{
		RepositoryID: repoID, CompletedSince: cutoff, Limit: regressionSampleCap,
	})
	if err != nil {
		return nil, fmt.Errorf("recent builds: %w", err)
	}

	split := false
	if len(baseline) < minWindowSamples || len(recent) < minWindowSamples {
		pool, err := d.buildStore.ListSuccessfulBuilds(ctx, driven.BuildQuery{
			RepositoryID: repoID, Limit: fallbackPoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("fallback builds: %w", err)
		}
		if len(pool) < minFallbackSamples {
			return nil, nil
		}

		mid := len(pool) / 2
		recent, baseline = pool[:mid], pool[mid:]
		split = true
	}

	cmp, ok := compareDurations(buildDurations(recent), buildDurations(baseline))
	if !ok {
		return nil, nil
	}

	reg := &model.BuildRegression{
		RepositoryID:      repoID,
		BaselineMedian:    cmp.baselineMedian,
		RecentMedian:      cmp.recentMedian,
		RegressionPercent: cmp.percent,
		CommitHash:        recent[0].CommitHash,
		BaselineCount:     len(baseline),
		RecentCount:       len(recent),
		InternalSplit:     split,
	}
	if split {
		reg.Note = internalSplitNote
	}

	return reg, nil
}

// DetectStepRegression applies the build regression test to one named step.
// There is no fallback: fewer than five samples on either side is no finding.
func (d *RegressionDetector) DetectStepRegression(ctx context.Context, repoID int64, stepName string) (*model.StepRegression, error) {
	cutoff := d.now().Add(-baselineWindow)

	baseline, err := d.buildStore.ListStepSamples(ctx, driven.StepQuery{
		RepositoryID: repoID, StepName: stepName, CompletedBefore: cutoff, Limit: regressionSampleCap,
	})
	if err != nil {
		return nil, fmt.Errorf("baseline samples for step %q: %w", stepName, err)
	}

	recent, err := d.buildStore.ListStepSamples(ctx, driven.StepQuery{
		RepositoryID: repoID, StepName: stepName, CompletedSince: cutoff, Limit: regressionSampleCap,
	})
	if err != nil {
		return nil, fmt.Errorf("recent samples for step %q: %w", stepName, err)
	}

	if len(baseline) < minWindowSamples || len(recent) < minWindowSamples {
		return nil, nil
	}

	cmp, ok := compareDurations(sampleDurations(recent), sampleDurations(baseline))
	if !ok {
		return nil, nil
	}

	return &model.StepRegression{
		RepositoryID:      repoID,
		StepName:          stepName,
		BaselineMedian:    cmp.baselineMedian,
		RecentMedian:      cmp.recentMedian,
		RegressionPercent: cmp.percent,
		CommitHash:        recent[0].CommitHash,
		BuildID:           recent[0].BuildID,
		BaselineCount:     len(baseline),
		RecentCount:       len(recent),
	}, nil
}

// DetectCrossRepoStepRegression runs the step test in every repository and
// reports the step when at least two repositories regress.
func (d *RegressionDetector) DetectCrossRepoStepRegression(ctx context.Context, stepName string) (*model.CrossRepoRegression, error) {
	repos, err := d.repoStore.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}

	var regressed []model.RegressedRepo
	var percents []float64
	for _, repo := range repos {
		reg, err := d.DetectStepRegression(ctx, repo.ID, stepName)
		if err != nil {
			return nil, err
		}
		if reg == nil {
			continue
		}

		regressed = append(regressed, model.RegressedRepo{
			RepositoryID:      repo.ID,
			RepositoryName:    repo.Name,
			RegressionPercent: reg.RegressionPercent,
			BaselineMedian:    reg.BaselineMedian,
			RecentMedian:      reg.RecentMedian,
		})
		percents = append(percents, reg.RegressionPercent)
	}

	if len(regressed) < 2 {
		return nil, nil
	}

	return &model.CrossRepoRegression{
		StepName:             stepName,
		RegressedRepos:       regressed,
		RepoCount:            len(regressed),
		AvgRegressionPercent: mean(percents),
	}, nil
}

// DetectResourceWaste flags steps of successful builds whose configured memory
// limit or timeout is more than twice their mean usage. Memory findings come
// first; both kinds are kept even for the same step.
func (d *RegressionDetector) DetectResourceWaste(ctx context.Context, repoID int64) ([]model.ResourceWaste, error) {
	steps, err := d.buildStore.ListResourceSteps(ctx, repoID)
	if err != nil {
		return nil, fmt.Errorf("resource steps: %w", err)
	}

	return wasteFindings(repoID, steps), nil
}

type durationComparison struct {
	recentMedian   float64
	baselineMedian float64
	percent        float64
}

// compareDurations reports whether the recent median exceeds the baseline
// median by the regression factor.
func compareDurations(recent, baseline []float64) (durationComparison, bool) {
	if len(recent) == 0 || len(baseline) == 0 {
		return durationComparison{}, false
	}

	cmp := durationComparison{
		recentMedian:   median(recent),
		baselineMedian: median(baseline),
	}
	if cmp.baselineMedian <= 0 || cmp.recentMedian <= cmp.baselineMedian*regressionFactor {
		return durationComparison{}, false
	}

	cmp.percent, _ = pctChange(cmp.recentMedian, cmp.baselineMedian)

	return cmp, true
}

type usageSample struct {
	usage float64
	limit float64
}

// wasteFindings groups steps by name and flags each group of at least five
// samples whose mean limit exceeds twice its mean usage.
func wasteFindings(repoID int64, steps []model.BuildStep) []model.ResourceWaste {
	memory := make(map[string][]usageSample)
	timing := make(map[string][]usageSample)

	for _, s := range steps {
		if s.PeakMemoryMB != nil && s.MemoryLimitMB != nil {
			memory[s.StepName] = append(memory[s.StepName], usageSample{usage: *s.PeakMemoryMB, limit: *s.MemoryLimitMB})
		}
		if s.DurationSeconds != nil && s.MaxTimeSeconds != nil {
			timing[s.StepName] = append(timing[s.StepName], usageSample{usage: *s.DurationSeconds, limit: *s.MaxTimeSeconds})
		}
	}

	findings := groupWaste(repoID, model.WasteMemory, memory)
	return append(findings, groupWaste(repoID, model.WasteTime, timing)...)
}

func groupWaste(repoID int64, kind model.WasteKind, groups map[string][]usageSample) []model.ResourceWaste {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var findings []model.ResourceWaste
	for _, name := range names {
		samples := groups[name]
		if len(samples) < minWasteSamples {
			continue
		}

		usage := make([]float64, len(samples))
		limits := make([]float64, len(samples))
		for i, s := range samples {
			usage[i] = s.usage
			limits[i] = s.limit
		}

		avgUsage, avgLimit := mean(usage), mean(limits)
		if avgUsage <= 0 || avgLimit <= avgUsage*wasteFactor {
			continue
		}

		findings = append(findings, model.ResourceWaste{
			Kind:         kind,
			RepositoryID: repoID,
			StepName:     name,
			AvgUsage:     avgUsage,
			AvgLimit:     avgLimit,
			WasteRatio:   avgLimit / avgUsage,
			Recommended:  int(avgUsage * recommendedFactor),
			SampleCount:  len(samples),
		})
	}

	return findings
}

func buildDurations(builds []model.Build) []float64 {
	out := make([]float64, 0, len(builds))
	for _, b := range builds {
		if b.DurationSeconds != nil {
			out = append(out, *b.DurationSeconds)
		}
	}
	return out
}

func sampleDurations(samples []model.StepSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.DurationSeconds
	}
	return out
}
