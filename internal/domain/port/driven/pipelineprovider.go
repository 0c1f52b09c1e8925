package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

// ErrProviderUnavailable indicates no pipeline provider is configured.
var ErrProviderUnavailable = errors.New("pipeline provider not configured")

// PipelineProvider defines the driven port for the CI/source-control API.
// Slugs are "owner/name". Lists are newest first.
type PipelineProvider interface {
	ListRepositories(ctx context.Context) ([]model.ProviderRepository, error)
	ListPipelineRuns(ctx context.Context, slug string, limit int) ([]model.PipelineRun, error)
	ListSteps(ctx context.Context, slug string, runID int64) ([]model.PipelineStep, error)
	FetchStepLog(ctx context.Context, slug string, stepID int64) (string, error)
	ListMergedPullRequests(ctx context.Context, slug string, limit int) ([]model.MergedPullRequest, error)
	ListDeployments(ctx context.Context, slug string, limit int) ([]model.DeploymentRecord, error)
}
