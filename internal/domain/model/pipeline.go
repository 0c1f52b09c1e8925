package model

import "time"

// ProviderRepository is a repository as listed by the pipeline provider.
type ProviderRepository struct {
	Name      string
	Slug      string
	Workspace string
}

// PipelineRun is one pipeline execution as reported by the provider.
type PipelineRun struct {
	RunID       int64
	BuildNumber int
	CommitHash  string
	Branch      string
	State       BuildState
	Completed   bool
	StartedOn   *time.Time
	CompletedOn *time.Time
	TriggerName string
}

// Duration returns the run's wall-clock duration in seconds, or nil when either
// bound is unknown.
func (r PipelineRun) Duration() *float64 {
	return durationBetween(r.StartedOn, r.CompletedOn)
}

// PipelineStep is one step of a PipelineRun. Resource fields are nil when the
// provider does not expose them.
type PipelineStep struct {
	StepID         int64
	Name           string
	Type           string
	State          BuildState
	StartedOn      *time.Time
	CompletedOn    *time.Time
	SizeFactor     float64
	MaxTimeSeconds *float64
	MemoryLimitMB  *float64
	PeakMemoryMB   *float64
	ErrorMessage   string
}

// Duration returns the step's duration in seconds, or nil when unknown.
func (s PipelineStep) Duration() *float64 {
	return durationBetween(s.StartedOn, s.CompletedOn)
}

// MergedPullRequest is a merged pull request as reported by the provider.
type MergedPullRequest struct {
	Number            int
	Title             string
	Author            string
	SourceBranch      string
	DestinationBranch string
	CreatedAt         time.Time
	MergedAt          *time.Time
	ClosedAt          *time.Time
	UpdatedAt         *time.Time
}

// DeploymentRecord is a deployment as reported by the provider.
type DeploymentRecord struct {
	Environment string
	CommitHash  string
	Artifact    string
	DeployedAt  time.Time
}

func durationBetween(start, end *time.Time) *float64 {
	if start == nil || end == nil || start.IsZero() || end.IsZero() {
		return nil
	}
	d := end.Sub(*start).Seconds()
	return &d
}
