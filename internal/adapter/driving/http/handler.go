// Package httphandler serves the REST API over the analytics services.
package httphandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/releaseintel/internal/application"
	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

const (
	maxListLimit = 100
	maxDays      = 365
)

// cycleRunner triggers a synchronous collect-then-diagnose cycle.
type cycleRunner interface {
	RunNow(ctx context.Context) (application.CycleResult, error)
}

// Dependencies groups everything the Handler serves from.
type Dependencies struct {
	RepoStore   driven.RepoStore
	BuildStore  driven.BuildStore
	DeployStore driven.DeploymentStore
	Metrics     *application.MetricsCalculator
	Detector    *application.RegressionDetector
	Analyzer    *application.ErrorAnalyzer
	Diagnostics *application.DiagnosticEngine
	Cycles      cycleRunner
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	deps   Dependencies
	logger *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(deps Dependencies, logger *slog.Logger) *Handler {
	return &Handler{deps: deps, logger: logger}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with CORS, logging and recovery middleware.
func NewServeMux(h *Handler, corsOrigins []string, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)

	mux.HandleFunc("GET /api/v1/repositories", h.ListRepositories)
	mux.HandleFunc("GET /api/v1/repositories/{id}/build-duration-trends", h.BuildDurationTrends)
	mux.HandleFunc("GET /api/v1/repositories/{id}/dev-deploy-slowdown", h.DevDeploySlowdown)
	mux.HandleFunc("GET /api/v1/repositories/{id}/recent-failures", h.RecentFailures)
	mux.HandleFunc("GET /api/v1/repositories/{id}/latest-images", h.LatestImages)
	mux.HandleFunc("GET /api/v1/repositories/{id}/latest-build", h.LatestBuild)
	mux.HandleFunc("GET /api/v1/repositories/{owner}/{repo}/failure-analysis", h.FailureAnalysis)

	mux.HandleFunc("GET /api/v1/metrics/pr-velocity", h.PRVelocity)
	mux.HandleFunc("GET /api/v1/metrics/deployment-frequency", h.DeploymentFrequency)
	mux.HandleFunc("GET /api/v1/metrics/deployment-frequency-by-env", h.DeploymentFrequencyByEnv)
	mux.HandleFunc("GET /api/v1/metrics/build-minutes", h.BuildMinutes)
	mux.HandleFunc("GET /api/v1/metrics/build-minutes-28", h.BuildMinutesBillingCycle)
	mux.HandleFunc("GET /api/v1/metrics/slow-pipelines", h.SlowPipelines)
	mux.HandleFunc("GET /api/v1/metrics/summary", h.Summary)

	mux.HandleFunc("GET /api/v1/failure-patterns", h.FailurePatterns)
	mux.HandleFunc("GET /api/v1/regressions", h.Regressions)

	mux.HandleFunc("GET /api/v1/diagnostics", h.ListDiagnostics)
	mux.HandleFunc("POST /api/v1/diagnostics/generate", h.GenerateDiagnostics)
	mux.HandleFunc("POST /api/v1/diagnostics/{id}/acknowledge", h.AcknowledgeDiagnostic)

	mux.HandleFunc("POST /api/v1/collect", h.Collect)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = corsMiddleware(corsOrigins, wrapped)

	return wrapped
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListRepositories returns all tracked repositories.
func (h *Handler) ListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := h.deps.RepoStore.ListAll(r.Context())
	if err != nil {
		h.internalError(w, "failed to list repositories", err)
		return
	}

	resp := make([]RepoResponse, 0, len(repos))
	for _, repo := range repos {
		resp = append(resp, toRepoResponse(repo))
	}

	writeJSON(w, http.StatusOK, resp)
}

// BuildDurationTrends returns per-day duration statistics of successful builds.
func (h *Handler) BuildDurationTrends(w http.ResponseWriter, r *http.Request) {
	repoID, ok := pathID(w, r)
	if !ok {
		return
	}
	days, ok := queryInt(w, r, "days", 30, 1, maxDays)
	if !ok {
		return
	}

	trends, err := h.deps.Metrics.BuildDurationTrends(r.Context(), repoID, days)
	if err != nil {
		h.internalError(w, "failed to compute build duration trends", err, "repository_id", repoID)
		return
	}

	writeJSON(w, http.StatusOK, trends)
}

// DevDeploySlowdown compares the latest trunk build against its history.
// The body is null when there is not enough history.
func (h *Handler) DevDeploySlowdown(w http.ResponseWriter, r *http.Request) {
	repoID, ok := pathID(w, r)
	if !ok {
		return
	}
	days, ok := queryInt(w, r, "days", 14, 1, maxDays)
	if !ok {
		return
	}

	slowdown, err := h.deps.Metrics.DevDeploySlowdown(r.Context(), repoID, days)
	if err != nil {
		h.internalError(w, "failed to compute deploy slowdown", err, "repository_id", repoID)
		return
	}

	writeJSON(w, http.StatusOK, slowdown)
}

// RecentFailures returns the repository's latest failed builds with the
// first failed step and its error message.
func (h *Handler) RecentFailures(w http.ResponseWriter, r *http.Request) {
	repoID, ok := pathID(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 10, 1, maxListLimit)
	if !ok {
		return
	}

	ctx := r.Context()
	builds, err := h.deps.BuildStore.ListFailedBuilds(ctx, repoID, limit)
	if err != nil {
		h.internalError(w, "failed to list failed builds", err, "repository_id", repoID)
		return
	}

	resp := make([]RecentFailureResponse, 0, len(builds))
	for _, b := range builds {
		step, bf, err := h.failureOf(ctx, b.ID)
		if err != nil {
			h.internalError(w, "failed to load build failure", err, "build_id", b.ID)
			return
		}
		resp = append(resp, toRecentFailureResponse(b, step, bf))
	}

	writeJSON(w, http.StatusOK, resp)
}

// LatestImages returns the latest deployment of each environment, keyed by
// environment name.
func (h *Handler) LatestImages(w http.ResponseWriter, r *http.Request) {
	repoID, ok := pathID(w, r)
	if !ok {
		return
	}

	deployments, err := h.deps.DeployStore.LatestPerEnvironment(r.Context(), repoID)
	if err != nil {
		h.internalError(w, "failed to list latest deployments", err, "repository_id", repoID)
		return
	}

	resp := make(map[string]LatestImageResponse, len(deployments))
	for _, d := range deployments {
		resp[d.Environment] = toLatestImageResponse(d)
	}

	writeJSON(w, http.StatusOK, resp)
}

// LatestBuild returns the repository's latest build with a failure summary.
// The body is null when the repository has no builds.
func (h *Handler) LatestBuild(w http.ResponseWriter, r *http.Request) {
	repoID, ok := pathID(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	b, err := h.deps.BuildStore.LatestBuild(ctx, repoID)
	if err != nil {
		h.internalError(w, "failed to get latest build", err, "repository_id", repoID)
		return
	}
	if b == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	step, bf, err := h.failureOf(ctx, b.ID)
	if err != nil {
		h.internalError(w, "failed to load build failure", err, "build_id", b.ID)
		return
	}

	writeJSON(w, http.StatusOK, toLatestBuildResponse(*b, step, bf))
}

// failureOf returns the first failed step of a build and the failure recorded
// for it. Either may be nil.
func (h *Handler) failureOf(ctx context.Context, buildID int64) (*model.BuildStep, *model.BuildFailure, error) {
	step, err := h.deps.BuildStore.FirstFailedStep(ctx, buildID)
	if err != nil || step == nil {
		return nil, nil, err
	}

	bf, err := h.deps.BuildStore.FailureByStep(ctx, step.ID)
	if err != nil {
		return nil, nil, err
	}
	return step, bf, nil
}

// FailureAnalysis analyzes the latest pipeline run of owner/repo against
// failures stored for every other repository.
func (h *Handler) FailureAnalysis(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("owner") + "/" + r.PathValue("repo")

	analysis, err := h.deps.Analyzer.AnalyzeLatestFailure(r.Context(), slug)
	switch {
	case errors.Is(err, driven.ErrRepoNotFound):
		writeError(w, http.StatusNotFound, "repository not found")
		return
	case errors.Is(err, driven.ErrProviderUnavailable):
		writeError(w, http.StatusServiceUnavailable, "pipeline provider not configured")
		return
	case err != nil:
		h.internalError(w, "failed to analyze latest failure", err, "repo", slug)
		return
	}

	writeJSON(w, http.StatusOK, analysis)
}

// PRVelocity returns merge latency statistics.
func (h *Handler) PRVelocity(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "days", 30, 1, maxDays)
	if !ok {
		return
	}
	repoID, ok := queryOptionalID(w, r, "repository_id")
	if !ok {
		return
	}

	velocity, err := h.deps.Metrics.PRVelocity(r.Context(), days, repoID)
	if err != nil {
		h.internalError(w, "failed to compute PR velocity", err)
		return
	}

	writeJSON(w, http.StatusOK, velocity)
}

// DeploymentFrequency returns deployment counts per repository.
func (h *Handler) DeploymentFrequency(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "days", 30, 1, maxDays)
	if !ok {
		return
	}
	repoID, ok := queryOptionalID(w, r, "repository_id")
	if !ok {
		return
	}

	counts, err := h.deps.Metrics.DeploymentFrequency(r.Context(), days, repoID)
	if err != nil {
		h.internalError(w, "failed to compute deployment frequency", err)
		return
	}

	writeJSON(w, http.StatusOK, counts)
}

// DeploymentFrequencyByEnv returns deployment counts per environment.
func (h *Handler) DeploymentFrequencyByEnv(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "days", 30, 1, maxDays)
	if !ok {
		return
	}
	repoID, ok := queryOptionalID(w, r, "repository_id")
	if !ok {
		return
	}

	counts, err := h.deps.Metrics.DeploymentFrequencyByEnvironment(r.Context(), days, repoID)
	if err != nil {
		h.internalError(w, "failed to compute deployment frequency by environment", err)
		return
	}

	writeJSON(w, http.StatusOK, counts)
}

// BuildMinutes returns build minutes per repository over the last days.
func (h *Handler) BuildMinutes(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "days", 30, 1, maxDays)
	if !ok {
		return
	}
	repoID, ok := queryOptionalID(w, r, "repository_id")
	if !ok {
		return
	}

	minutes, err := h.deps.Metrics.BuildMinutes(r.Context(), days, repoID)
	if err != nil {
		h.internalError(w, "failed to compute build minutes", err)
		return
	}

	writeJSON(w, http.StatusOK, minutes)
}

// BuildMinutesBillingCycle returns build minutes for the 28th-to-28th period
// containing date (YYYY-MM-DD, default today).
func (h *Handler) BuildMinutesBillingCycle(w http.ResponseWriter, r *http.Request) {
	ref := time.Now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := time.Parse(time.DateOnly, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date: expected YYYY-MM-DD")
			return
		}
		ref = parsed
	}

	minutes, err := h.deps.Metrics.BuildMinutesBillingCycle(r.Context(), ref)
	if err != nil {
		h.internalError(w, "failed to compute billing cycle minutes", err)
		return
	}

	writeJSON(w, http.StatusOK, minutes)
}

// SlowPipelines returns recent builds above the percentile threshold.
func (h *Handler) SlowPipelines(w http.ResponseWriter, r *http.Request) {
	repoID, ok := queryOptionalID(w, r, "repository_id")
	if !ok {
		return
	}

	percentile := 90.0
	if v := r.URL.Query().Get("percentile"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil || parsed <= 0 || parsed > 100 {
			writeError(w, http.StatusBadRequest, "invalid percentile: expected a number in (0, 100]")
			return
		}
		percentile = parsed
	}

	slow, err := h.deps.Metrics.SlowPipelines(r.Context(), repoID, percentile)
	if err != nil {
		h.internalError(w, "failed to compute slow pipelines", err)
		return
	}

	writeJSON(w, http.StatusOK, slow)
}

// Summary returns the dashboard headline metrics.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	days, ok := queryInt(w, r, "days", 30, 1, maxDays)
	if !ok {
		return
	}

	summary, err := h.deps.Metrics.Summary(r.Context(), days)
	if err != nil {
		h.internalError(w, "failed to compute summary", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// FailurePatterns returns the most common stored failure patterns.
func (h *Handler) FailurePatterns(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 10, 1, maxListLimit)
	if !ok {
		return
	}

	patterns, err := h.deps.Analyzer.CommonFailurePatterns(r.Context(), limit)
	if err != nil {
		h.internalError(w, "failed to list failure patterns", err)
		return
	}

	resp := make([]PatternResponse, 0, len(patterns))
	for _, p := range patterns {
		resp = append(resp, toPatternResponse(p))
	}

	writeJSON(w, http.StatusOK, resp)
}

// Regressions runs the build regression and resource waste detectors for
// every repository.
func (h *Handler) Regressions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	repos, err := h.deps.RepoStore.ListAll(ctx)
	if err != nil {
		h.internalError(w, "failed to list repositories", err)
		return
	}

	resp := make([]RegressionResponse, 0, len(repos))
	for _, repo := range repos {
		reg, err := h.deps.Detector.DetectBuildRegression(ctx, repo.ID)
		if err != nil {
			h.internalError(w, "failed to detect build regression", err, "repository_id", repo.ID)
			return
		}
		waste, err := h.deps.Detector.DetectResourceWaste(ctx, repo.ID)
		if err != nil {
			h.internalError(w, "failed to detect resource waste", err, "repository_id", repo.ID)
			return
		}
		if waste == nil {
			waste = []model.ResourceWaste{}
		}

		resp = append(resp, RegressionResponse{
			RepositoryID:    repo.ID,
			RepositoryName:  repo.Name,
			BuildRegression: reg,
			ResourceWaste:   waste,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListDiagnostics returns unacknowledged diagnostics, newest first.
func (h *Handler) ListDiagnostics(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit", 50, 1, maxListLimit)
	if !ok {
		return
	}
	repoID, ok := queryOptionalID(w, r, "repository_id")
	if !ok {
		return
	}

	diags, err := h.deps.Diagnostics.Open(r.Context(), limit, repoID)
	if err != nil {
		h.internalError(w, "failed to list diagnostics", err)
		return
	}

	resp := make([]DiagnosticResponse, 0, len(diags))
	for _, d := range diags {
		resp = append(resp, toDiagnosticResponse(d))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GenerateDiagnostics runs the diagnostic engine and reports how many new
// diagnostics were stored.
func (h *Handler) GenerateDiagnostics(w http.ResponseWriter, r *http.Request) {
	inserted, err := h.deps.Diagnostics.Run(r.Context())
	if err != nil {
		h.internalError(w, "failed to generate diagnostics", err)
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{Status: "success", Inserted: inserted})
}

// AcknowledgeDiagnostic marks a diagnostic as seen.
func (h *Handler) AcknowledgeDiagnostic(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	err := h.deps.Diagnostics.Acknowledge(r.Context(), id)
	if errors.Is(err, driven.ErrDiagnosticNotFound) {
		writeError(w, http.StatusNotFound, "diagnostic not found")
		return
	}
	if err != nil {
		h.internalError(w, "failed to acknowledge diagnostic", err, "id", id)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Collect runs one collect-then-diagnose cycle and returns its result. When
// no provider is configured the cycle still diagnoses stored data, and the
// response is 503.
func (h *Handler) Collect(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Cycles.RunNow(r.Context())
	switch {
	case errors.Is(err, driven.ErrProviderUnavailable):
		writeError(w, http.StatusServiceUnavailable, "collection disabled: pipeline provider not configured")
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "cycle did not complete")
		return
	case err != nil:
		h.internalError(w, "collection cycle failed", err, "cycle_id", res.CycleID)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error, args ...any) {
	h.logger.Error(msg, append(args, "error", err)...)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

// pathID parses the {id} path value. It writes a 400 response and returns
// false when the value is not a positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter bounded to [lo, hi].
func queryInt(w http.ResponseWriter, r *http.Request, key string, def, lo, hi int) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, true
	}

	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: expected an integer in [%d, %d]", key, lo, hi))
		return 0, false
	}
	return n, true
}

// queryOptionalID parses an optional positive ID query parameter. A missing
// parameter yields nil.
func queryOptionalID(w http.ResponseWriter, r *http.Request, key string) (*int64, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, true
	}

	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+key)
		return nil, false
	}
	return &id, true
}
