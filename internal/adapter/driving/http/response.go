package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/releaseintel/internal/domain/failure"
	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

const (
	recentFailureMessageLen = 300
	latestBuildExcerptLen   = 500
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// HealthResponse is the JSON response for the health check endpoint.
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// RepoResponse is the JSON representation of a repository.
type RepoResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	Workspace string `json:"workspace"`
}

// RecentFailureResponse is one failed build with its first failed step.
type RecentFailureResponse struct {
	BuildID      int64   `json:"build_id"`
	BuildNumber  int     `json:"build_number"`
	CommitHash   string  `json:"commit_hash"`
	CompletedAt  *string `json:"completed_at"`
	Step         *string `json:"step"`
	ErrorMessage *string `json:"error_message"`
}

// LatestImageResponse is the latest deployment of one environment.
type LatestImageResponse struct {
	DockerImage string `json:"docker_image"`
	DeployedAt  string `json:"deployed_at"`
	CommitHash  string `json:"commit_hash"`
	BuildNumber *int   `json:"build_number"`
}

// LatestBuildResponse is the latest build of a repository with its failure
// summary, if any.
type LatestBuildResponse struct {
	BuildID         int64    `json:"build_id"`
	BuildNumber     int      `json:"build_number"`
	State           string   `json:"state"`
	DurationSeconds *float64 `json:"duration_seconds"`
	Branch          string   `json:"branch"`
	CommitHash      string   `json:"commit_hash"`
	CompletedAt     *string  `json:"completed_at"`
	FailedStep      *string  `json:"failed_step"`
	ErrorExcerpt    *string  `json:"error_excerpt"`
}

// PatternResponse is one recurring failure pattern.
type PatternResponse struct {
	Pattern string `json:"pattern"`
	Count   int    `json:"count"`
}

// RegressionResponse is the live regression analysis of one repository.
type RegressionResponse struct {
	RepositoryID    int64                  `json:"repository_id"`
	RepositoryName  string                 `json:"repository_name"`
	BuildRegression *model.BuildRegression `json:"build_regression"`
	ResourceWaste   []model.ResourceWaste  `json:"resource_waste"`
}

// DiagnosticResponse is the JSON representation of a diagnostic.
type DiagnosticResponse struct {
	ID           int64          `json:"id"`
	RepositoryID *int64         `json:"repository_id"`
	Type         string         `json:"diagnostic_type"`
	Severity     string         `json:"severity"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	MessageHTML  string         `json:"message_html"`
	Metadata     map[string]any `json:"diagnostic_metadata"`
	Acknowledged bool           `json:"acknowledged"`
	CreatedAt    string         `json:"created_at"`
}

// GenerateResponse reports the outcome of a diagnostic run.
type GenerateResponse struct {
	Status   string `json:"status"`
	Inserted int    `json:"inserted"`
}

func toRepoResponse(repo model.Repository) RepoResponse {
	return RepoResponse{
		ID:        repo.ID,
		Name:      repo.Name,
		Slug:      repo.Slug,
		Workspace: repo.Workspace,
	}
}

func toRecentFailureResponse(b model.Build, step *model.BuildStep, bf *model.BuildFailure) RecentFailureResponse {
	resp := RecentFailureResponse{
		BuildID:     b.ID,
		BuildNumber: b.BuildNumber,
		CommitHash:  b.CommitHash,
		CompletedAt: formatTimePtr(b.CompletedOn),
	}
	if step != nil {
		resp.Step = &step.StepName
	}
	if bf != nil && bf.ErrorMessage != "" {
		msg := failure.Truncate(bf.ErrorMessage, recentFailureMessageLen)
		resp.ErrorMessage = &msg
	}
	return resp
}

func toLatestImageResponse(d model.Deployment) LatestImageResponse {
	return LatestImageResponse{
		DockerImage: d.DockerImage,
		DeployedAt:  d.DeployedAt.UTC().Format(time.RFC3339),
		CommitHash:  d.CommitHash,
		BuildNumber: d.BuildNumber,
	}
}

// toLatestBuildResponse prefers the stored failure message as the excerpt and
// falls back to the step's log excerpt.
func toLatestBuildResponse(b model.Build, step *model.BuildStep, bf *model.BuildFailure) LatestBuildResponse {
	resp := LatestBuildResponse{
		BuildID:         b.ID,
		BuildNumber:     b.BuildNumber,
		State:           string(b.State),
		DurationSeconds: b.DurationSeconds,
		Branch:          b.Branch,
		CommitHash:      b.CommitHash,
		CompletedAt:     formatTimePtr(b.CompletedOn),
	}
	if step == nil {
		return resp
	}

	resp.FailedStep = &step.StepName
	var excerpt string
	switch {
	case bf != nil && bf.ErrorMessage != "":
		excerpt = bf.ErrorMessage
	case step.LogExcerpt != "":
		excerpt = step.LogExcerpt
	default:
		return resp
	}
	excerpt = failure.Truncate(excerpt, latestBuildExcerptLen)
	resp.ErrorExcerpt = &excerpt
	return resp
}

func toPatternResponse(p model.PatternCount) PatternResponse {
	return PatternResponse{Pattern: p.Pattern, Count: p.Count}
}

func toDiagnosticResponse(d model.Diagnostic) DiagnosticResponse {
	metadata := d.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}

	return DiagnosticResponse{
		ID:           d.ID,
		RepositoryID: d.RepositoryID,
		Type:         string(d.Type),
		Severity:     string(d.Severity),
		Title:        d.Title,
		Message:      d.Message,
		MessageHTML:  renderMarkdown(d.Message),
		Metadata:     metadata,
		Acknowledged: d.Acknowledged,
		CreatedAt:    d.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
