package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ericfisherdev/releaseintel/internal/domain/failure"
	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

const (
	stepNameBuildLimit      = 100
	crossRepoStepBuildLimit = 50
	recentFailedBuildLimit  = 20
	patternMatchLimit       = 10
	highSeverityPercent     = 50
	shortHashLen            = 8
	patternMessageLen       = 200
	crossRepoNamesShown     = 3
	defaultDiagnosticsLimit = 50
)

// DiagnosticEngine turns detector findings into persisted diagnostics.
type DiagnosticEngine struct {
	repoStore      driven.RepoStore
	buildStore     driven.BuildStore
	diagStore      driven.DiagnosticStore
	detector       *RegressionDetector
	suggester      driven.Suggester
	suggestTimeout time.Duration
}

// NewDiagnosticEngine creates a new DiagnosticEngine. suggester may be nil,
// which disables enrichment.
func NewDiagnosticEngine(
	repoStore driven.RepoStore,
	buildStore driven.BuildStore,
	diagStore driven.DiagnosticStore,
	detector *RegressionDetector,
	suggester driven.Suggester,
	suggestTimeout time.Duration,
) *DiagnosticEngine {
	return &DiagnosticEngine{
		repoStore:      repoStore,
		buildStore:     buildStore,
		diagStore:      diagStore,
		detector:       detector,
		suggester:      suggester,
		suggestTimeout: suggestTimeout,
	}
}

// Run generates diagnostics and saves the new ones.
func (e *DiagnosticEngine) Run(ctx context.Context) (int, error) {
	diags, err := e.Generate(ctx)
	if err != nil {
		return 0, err
	}
	return e.Save(ctx, diags)
}

// Generate runs every detector and renders their findings. Nothing is
// persisted.
func (e *DiagnosticEngine) Generate(ctx context.Context) ([]model.Diagnostic, error) {
	repos, err := e.repoStore.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}

	var diags []model.Diagnostic
	for _, repo := range repos {
		found, err := e.repoDiagnostics(ctx, repo)
		if err != nil {
			return nil, err
		}
		diags = append(diags, found...)
	}

	cross, err := e.crossRepoDiagnostics(ctx, repos)
	if err != nil {
		return nil, err
	}
	diags = append(diags, cross...)

	patterns, err := e.patternDiagnostics(ctx, repos)
	if err != nil {
		return nil, err
	}
	diags = append(diags, patterns...)

	return diags, nil
}

func (e *DiagnosticEngine) repoDiagnostics(ctx context.Context, repo model.Repository) ([]model.Diagnostic, error) {
	var diags []model.Diagnostic

	reg, err := e.detector.DetectBuildRegression(ctx, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("build regression for %s: %w", repo.Slug, err)
	}
	if reg != nil {
		diags = append(diags, regressionDiagnostic(repo, reg))
	}

	names, err := e.buildStore.DistinctStepNames(ctx, repo.ID, stepNameBuildLimit)
	if err != nil {
		return nil, fmt.Errorf("step names for %s: %w", repo.Slug, err)
	}
	for _, name := range names {
		sreg, err := e.detector.DetectStepRegression(ctx, repo.ID, name)
		if err != nil {
			return nil, fmt.Errorf("step regression for %s: %w", repo.Slug, err)
		}
		if sreg != nil {
			diags = append(diags, stepRegressionDiagnostic(repo, sreg))
		}
	}

	waste, err := e.detector.DetectResourceWaste(ctx, repo.ID)
	if err != nil {
		return nil, fmt.Errorf("resource waste for %s: %w", repo.Slug, err)
	}
	for _, w := range waste {
		diags = append(diags, wasteDiagnostic(repo, w))
	}

	return diags, nil
}

func (e *DiagnosticEngine) crossRepoDiagnostics(ctx context.Context, repos []model.Repository) ([]model.Diagnostic, error) {
	union := make(map[string]bool)
	for _, repo := range repos {
		names, err := e.buildStore.DistinctStepNames(ctx, repo.ID, crossRepoStepBuildLimit)
		if err != nil {
			return nil, fmt.Errorf("step names for %s: %w", repo.Slug, err)
		}
		for _, n := range names {
			union[n] = true
		}
	}

	names := make([]string, 0, len(union))
	for n := range union {
		names = append(names, n)
	}
	sort.Strings(names)

	var diags []model.Diagnostic
	for _, name := range names {
		reg, err := e.detector.DetectCrossRepoStepRegression(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("cross-repo regression for step %q: %w", name, err)
		}
		if reg != nil {
			diags = append(diags, crossRepoDiagnostic(reg))
		}
	}

	return diags, nil
}

// patternDiagnostics looks at the first failed step of each recent failed
// build and reports failures whose pattern recurs.
func (e *DiagnosticEngine) patternDiagnostics(ctx context.Context, repos []model.Repository) ([]model.Diagnostic, error) {
	byID := make(map[int64]model.Repository, len(repos))
	for _, r := range repos {
		byID[r.ID] = r
	}

	builds, err := e.buildStore.ListFailedBuilds(ctx, 0, recentFailedBuildLimit)
	if err != nil {
		return nil, fmt.Errorf("recent failed builds: %w", err)
	}

	var diags []model.Diagnostic
	for _, b := range builds {
		step, err := e.buildStore.FirstFailedStep(ctx, b.ID)
		if err != nil {
			return nil, fmt.Errorf("failed step of build %d: %w", b.ID, err)
		}
		if step == nil {
			continue
		}

		bf, err := e.buildStore.FailureByStep(ctx, step.ID)
		if err != nil {
			return nil, fmt.Errorf("failure of step %d: %w", step.ID, err)
		}
		if bf == nil {
			continue
		}

		matches, err := e.buildStore.FindFailuresByPattern(ctx,
			[]string{bf.ErrorPattern, failure.Pattern(bf.ErrorMessage)},
			driven.FailureFilter{Limit: patternMatchLimit})
		if err != nil {
			return nil, fmt.Errorf("matches for failure %d: %w", bf.ID, err)
		}
		// The failure itself is always among its matches.
		if len(matches) <= 1 {
			continue
		}

		repo, ok := byID[b.RepositoryID]
		if !ok {
			repo = model.Repository{ID: b.RepositoryID}
		}
		diags = append(diags, patternDiagnostic(repo, *bf, matches))
	}

	return diags, nil
}

// Save inserts each diagnostic unless an unacknowledged one with the same
// repository, type and title exists. New diagnostics are enriched first.
// Returns the number inserted.
func (e *DiagnosticEngine) Save(ctx context.Context, diags []model.Diagnostic) (int, error) {
	inserted := 0
	for _, d := range diags {
		exists, err := e.diagStore.ExistsUnacknowledged(ctx, d.RepositoryID, d.Type, d.Title)
		if err != nil {
			return inserted, fmt.Errorf("check diagnostic %q: %w", d.Title, err)
		}
		if exists {
			continue
		}

		d.Message = e.enrich(ctx, d)

		if _, err := e.diagStore.Insert(ctx, d); err != nil {
			return inserted, fmt.Errorf("insert diagnostic %q: %w", d.Title, err)
		}
		inserted++
	}

	if inserted > 0 {
		slog.Info("diagnostics saved", "inserted", inserted, "generated", len(diags))
	}

	return inserted, nil
}

// enrich appends a suggestion to the message. Any enrichment failure leaves
// the message unchanged.
func (e *DiagnosticEngine) enrich(ctx context.Context, d model.Diagnostic) string {
	if e.suggester == nil {
		return d.Message
	}

	if e.suggestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.suggestTimeout)
		defer cancel()
	}

	text, err := e.suggester.Suggest(ctx, d)
	if err != nil {
		slog.Warn("suggestion skipped", "type", d.Type, "title", d.Title, "error", err)
		return d.Message
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return d.Message
	}

	return d.Message + "\n\nSuggestion: " + text
}

// Open returns unacknowledged diagnostics, newest first. A non-nil repoID
// restricts the list to that repository.
func (e *DiagnosticEngine) Open(ctx context.Context, limit int, repoID *int64) ([]model.Diagnostic, error) {
	if limit <= 0 {
		limit = defaultDiagnosticsLimit
	}

	diags, err := e.diagStore.ListUnacknowledged(ctx, limit, idOrZero(repoID))
	if err != nil {
		return nil, fmt.Errorf("open diagnostics: %w", err)
	}
	if diags == nil {
		diags = []model.Diagnostic{}
	}

	return diags, nil
}

// Acknowledge marks a diagnostic as seen so an identical finding can be
// reported again.
func (e *DiagnosticEngine) Acknowledge(ctx context.Context, id int64) error {
	if err := e.diagStore.Acknowledge(ctx, id); err != nil {
		return fmt.Errorf("acknowledge diagnostic %d: %w", id, err)
	}
	return nil
}

// --- Rendering ---

func regressionSeverity(percent float64) model.Severity {
	if percent > highSeverityPercent {
		return model.SeverityHigh
	}
	return model.SeverityMedium
}

func shortHash(h string) string {
	if len(h) > shortHashLen {
		return h[:shortHashLen]
	}
	return h
}

func regressionDiagnostic(repo model.Repository, reg *model.BuildRegression) model.Diagnostic {
	return model.Diagnostic{
		RepositoryID: &repo.ID,
		Type:         model.DiagnosticRegression,
		Severity:     regressionSeverity(reg.RegressionPercent),
		Title:        fmt.Sprintf("Build duration regressed %.1f%% in %s", reg.RegressionPercent, repo.Name),
		Message: fmt.Sprintf("Repo %s is slow because builds regressed %.1f%% (from %.1fs to %.1fs median). "+
			"This regression occurred after commit %s.",
			repo.Name, reg.RegressionPercent, reg.BaselineMedian, reg.RecentMedian, shortHash(reg.CommitHash)),
		Metadata: toMetadata(reg),
	}
}

func stepRegressionDiagnostic(repo model.Repository, reg *model.StepRegression) model.Diagnostic {
	return model.Diagnostic{
		RepositoryID: &repo.ID,
		Type:         model.DiagnosticStepRegression,
		Severity:     regressionSeverity(reg.RegressionPercent),
		Title:        fmt.Sprintf("Step '%s' regressed %.1f%% in %s", reg.StepName, reg.RegressionPercent, repo.Name),
		Message: fmt.Sprintf("Step '%s' in %s regressed %.1f%% after commit %s.",
			reg.StepName, repo.Name, reg.RegressionPercent, shortHash(reg.CommitHash)),
		Metadata: toMetadata(reg),
	}
}

func wasteDiagnostic(repo model.Repository, w model.ResourceWaste) model.Diagnostic {
	d := model.Diagnostic{
		RepositoryID: &repo.ID,
		Type:         model.DiagnosticResourceWaste,
		Severity:     model.SeverityLow,
		Metadata:     toMetadata(w),
	}

	if w.Kind == model.WasteMemory {
		d.Title = fmt.Sprintf("Memory limit %.1f× higher than peak usage in %s step '%s'", w.WasteRatio, repo.Name, w.StepName)
		d.Message = fmt.Sprintf("Step '%s' in %s has memory limit %.1f× higher than peak usage "+
			"(%.0fMB limit vs %.0fMB peak). Reduce to %dMB to save build minutes.",
			w.StepName, repo.Name, w.WasteRatio, w.AvgLimit, w.AvgUsage, w.Recommended)
		return d
	}

	d.Title = fmt.Sprintf("Timeout %.1f× higher than actual duration in %s step '%s'", w.WasteRatio, repo.Name, w.StepName)
	d.Message = fmt.Sprintf("Step '%s' in %s has timeout %.1f× higher than actual duration "+
		"(%.0fs timeout vs %.0fs actual). Reduce timeout to %ds to save build minutes.",
		w.StepName, repo.Name, w.WasteRatio, w.AvgLimit, w.AvgUsage, w.Recommended)
	return d
}

func crossRepoDiagnostic(reg *model.CrossRepoRegression) model.Diagnostic {
	names := make([]string, 0, len(reg.RegressedRepos))
	for _, r := range reg.RegressedRepos {
		names = append(names, r.RepositoryName)
	}

	shown := names
	more := ""
	if len(names) > crossRepoNamesShown {
		shown, more = names[:crossRepoNamesShown], " and more"
	}

	return model.Diagnostic{
		Type:     model.DiagnosticCrossRepoRegressed,
		Severity: model.SeverityHigh,
		Title:    fmt.Sprintf("Step '%s' regressed across %d repositories", reg.StepName, reg.RepoCount),
		Message: fmt.Sprintf("Step '%s' has regressed an average of %.1f%% across %d repositories: %s%s.",
			reg.StepName, reg.AvgRegressionPercent, reg.RepoCount, strings.Join(shown, ", "), more),
		Metadata: toMetadata(reg),
	}
}

func patternDiagnostic(repo model.Repository, bf model.BuildFailure, matches []model.FailureOccurrence) model.Diagnostic {
	repoIDs := make(map[int64]bool)
	rendered := make([]map[string]any, 0, len(matches))
	for _, m := range matches {
		repoIDs[m.RepositoryID] = true
		rendered = append(rendered, map[string]any{
			"failure_id":      m.FailureID,
			"build_id":        m.BuildID,
			"build_number":    m.BuildNumber,
			"repository_id":   m.RepositoryID,
			"repository_name": m.RepositoryName,
			"step_name":       m.StepName,
			"error_pattern":   m.ErrorPattern,
			"occurred_at":     m.OccurredAt,
		})
	}
	repoCount := len(repoIDs)

	msg := fmt.Sprintf("This failure in %s matches a known pattern seen in %d other builds", repo.Name, len(matches))
	if repoCount > 1 {
		msg += fmt.Sprintf(" across %d repositories", repoCount)
	}
	msg += ". Error: " + failure.Truncate(bf.ErrorMessage, patternMessageLen)

	return model.Diagnostic{
		RepositoryID: &repo.ID,
		Type:         model.DiagnosticPatternMatch,
		Severity:     model.SeverityMedium,
		Title:        fmt.Sprintf("Failure pattern matches %d other occurrences", len(matches)),
		Message:      msg,
		Metadata: map[string]any{
			"failure_id": bf.ID,
			"matches":    rendered,
			"repo_count": repoCount,
		},
	}
}

// toMetadata flattens a finding into its JSON object form.
func toMetadata(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}

	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{}
	}
	return out
}
