package application

import (
	"context"
	"fmt"
	"time"

	"github.com/ericfisherdev/releaseintel/internal/domain/failure"
	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

const (
	matchingFailureLimit = 10
	otherRepoScanLimit   = 50
	otherRepoLimit       = 10
	otherRepoMessageLen  = 200
	defaultPatternLimit  = 10
	learnedPatternScan   = 100
	minLearnedCount      = 2
)

// ErrorAnalyzer matches failures across repositories by error pattern and
// analyses the provider's latest run of a repository.
type ErrorAnalyzer struct {
	provider   driven.PipelineProvider
	repoStore  driven.RepoStore
	buildStore driven.BuildStore
	fixes      *failure.KnownFixes
	logTimeout time.Duration
}

// NewErrorAnalyzer creates a new ErrorAnalyzer. A nil fixes table uses the
// built-in one. provider may be nil, in which case only the store-backed
// operations work.
func NewErrorAnalyzer(
	provider driven.PipelineProvider,
	repoStore driven.RepoStore,
	buildStore driven.BuildStore,
	fixes *failure.KnownFixes,
	logTimeout time.Duration,
) *ErrorAnalyzer {
	if fixes == nil {
		fixes = failure.DefaultKnownFixes()
	}
	return &ErrorAnalyzer{
		provider:   provider,
		repoStore:  repoStore,
		buildStore: buildStore,
		fixes:      fixes,
		logTimeout: logTimeout,
	}
}

// FindMatchingFailures returns stored failures sharing the coarse pattern of
// message, newest first. A non-nil repoID restricts the search to it.
func (a *ErrorAnalyzer) FindMatchingFailures(ctx context.Context, message string, repoID *int64) ([]model.FailureOccurrence, error) {
	pattern := failure.Pattern(message)
	if pattern == "" {
		return []model.FailureOccurrence{}, nil
	}

	matches, err := a.buildStore.FindFailuresByPattern(ctx, []string{pattern}, driven.FailureFilter{
		RepositoryID: idOrZero(repoID),
		Limit:        matchingFailureLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("matching failures: %w", err)
	}
	if matches == nil {
		matches = []model.FailureOccurrence{}
	}

	return matches, nil
}

// CommonFailurePatterns returns the most frequent stored error patterns.
func (a *ErrorAnalyzer) CommonFailurePatterns(ctx context.Context, limit int) ([]model.PatternCount, error) {
	if limit <= 0 {
		limit = defaultPatternLimit
	}

	counts, err := a.buildStore.CountFailurePatterns(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("common failure patterns: %w", err)
	}
	if counts == nil {
		counts = []model.PatternCount{}
	}

	return counts, nil
}

// FindOtherReposWithError returns, per other repository, the most recent
// failure whose error pattern equals signatureHash. At most ten repositories
// are reported.
func (a *ErrorAnalyzer) FindOtherReposWithError(ctx context.Context, repoID int64, signatureHash string) ([]model.CrossRepoMatch, error) {
	out := []model.CrossRepoMatch{}
	if signatureHash == "" {
		return out, nil
	}

	occurrences, err := a.buildStore.FindFailuresByPattern(ctx, []string{signatureHash}, driven.FailureFilter{
		ExcludeRepositoryID: repoID,
		Limit:               otherRepoScanLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("other repositories with error: %w", err)
	}

	seen := make(map[string]bool)
	for _, o := range occurrences {
		if seen[o.RepositorySlug] {
			continue
		}
		seen[o.RepositorySlug] = true

		out = append(out, model.CrossRepoMatch{
			RepositorySlug: o.RepositorySlug,
			RepositoryName: o.RepositoryName,
			BuildNumber:    o.BuildNumber,
			OccurredAt:     o.OccurredAt,
			ErrorMessage:   failure.Truncate(o.ErrorMessage, otherRepoMessageLen),
		})
		if len(out) == otherRepoLimit {
			break
		}
	}

	return out, nil
}

// AnalyzeLatestFailure inspects the provider's latest run of slug. A run that
// did not fail short-circuits with status OK. For a failed run every failed
// step is analysed and the first step's signature is looked up in other
// repositories.
func (a *ErrorAnalyzer) AnalyzeLatestFailure(ctx context.Context, slug string) (*model.FailureAnalysis, error) {
	if a.provider == nil {
		return nil, driven.ErrProviderUnavailable
	}

	repo, err := a.repoStore.GetBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get repository %s: %w", slug, err)
	}
	if repo == nil {
		return nil, fmt.Errorf("analyze %s: %w", slug, driven.ErrRepoNotFound)
	}

	out := &model.FailureAnalysis{
		RepositoryName: repo.Name,
		FailedSteps:    []model.StepFailure{},
		KnownFixes:     []model.KnownFix{},
		OtherRepos:     []model.CrossRepoMatch{},
	}

	runs := fetchList(ctx, "list pipeline runs", func(ctx context.Context) ([]model.PipelineRun, error) {
		return a.provider.ListPipelineRuns(ctx, slug, 1)
	}, "repo", slug)
	switch runs.Status {
	case FetchFailed:
		out.Status = model.AnalysisError
		out.Message = "Pipeline runs unavailable: " + runs.Reason
		return out, nil
	case FetchEmpty:
		out.Status = model.AnalysisError
		out.Message = "No pipeline runs found"
		return out, nil
	}

	run := runs.Value[0]
	out.RunID = run.RunID
	out.BuildNumber = run.BuildNumber
	out.CommitHash = run.CommitHash
	out.StartedOn = run.StartedOn
	out.CompletedOn = run.CompletedOn

	if !run.State.IsFailure() {
		out.Status = model.AnalysisOK
		out.Message = "Latest pipeline succeeded"
		return out, nil
	}
	out.Status = model.AnalysisFailed

	learned, err := a.learnedPatterns(ctx)
	if err != nil {
		return nil, err
	}

	steps := fetchList(ctx, "list steps", func(ctx context.Context) ([]model.PipelineStep, error) {
		return a.provider.ListSteps(ctx, slug, run.RunID)
	}, "repo", slug, "run_id", run.RunID)

	var fixes []model.KnownFix
	for _, ps := range steps.Value {
		if !ps.State.IsFailure() {
			continue
		}
		sf := a.analyzeStep(ctx, slug, ps, learned)
		fixes = append(fixes, sf.KnownFixes...)
		out.FailedSteps = append(out.FailedSteps, sf)
	}

	if len(out.FailedSteps) == 0 {
		out.Message = "No failed steps found, but pipeline is failed"
		return out, nil
	}

	primary := out.FailedSteps[0]
	out.Signature = primary.Signature
	out.SignatureHash = primary.SignatureHash
	out.KnownFixes = failure.DedupeFixes(fixes)

	out.OtherRepos, err = a.FindOtherReposWithError(ctx, repo.ID, primary.SignatureHash)
	if err != nil {
		return nil, err
	}
	out.OtherReposCount = len(out.OtherRepos)

	return out, nil
}

func (a *ErrorAnalyzer) analyzeStep(ctx context.Context, slug string, ps model.PipelineStep, learned map[string]int) model.StepFailure {
	logRes := fetchText(ctx, "fetch step log", a.logTimeout, func(ctx context.Context) (string, error) {
		return a.provider.FetchStepLog(ctx, slug, ps.StepID)
	}, "repo", slug, "step", ps.Name)

	log := logRes.Value
	sig := failure.SignatureFor(log, ps.ErrorMessage)

	msg := ps.ErrorMessage
	if msg == "" {
		msg = sig.Text
	}
	pattern := failure.Pattern(msg)

	sf := model.StepFailure{
		StepName:        ps.Name,
		State:           ps.State,
		LogExcerpt:      failure.LogExcerpt(log),
		Signature:       sig.Text,
		SignatureHash:   sig.Hash,
		Pattern:         pattern,
		FailureType:     failure.Classify(msg),
		KnownFixes:      a.fixes.Match(log),
		LearnedPatterns: []model.LearnedPattern{},
		LogUnavailable:  logRes.Status == FetchFailed,
	}
	if sf.KnownFixes == nil {
		sf.KnownFixes = []model.KnownFix{}
	}

	for _, p := range []string{sig.Hash, pattern} {
		if n, ok := learned[p]; ok && p != "" {
			sf.LearnedPatterns = append(sf.LearnedPatterns, model.LearnedPattern{Pattern: p, Occurrences: n})
		}
	}

	return sf
}

// learnedPatterns returns stored error patterns seen at least twice.
func (a *ErrorAnalyzer) learnedPatterns(ctx context.Context) (map[string]int, error) {
	counts, err := a.buildStore.CountFailurePatterns(ctx, learnedPatternScan)
	if err != nil {
		return nil, fmt.Errorf("learned patterns: %w", err)
	}

	out := make(map[string]int, len(counts))
	for _, c := range counts {
		if c.Count >= minLearnedCount {
			out[c.Pattern] = c.Count
		}
	}
	return out, nil
}
