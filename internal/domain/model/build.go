package model

import "time"

// Build is one completed pipeline run. RunID is the provider's run identifier
// and is unique across all repositories.
type Build struct {
	ID              int64
	RepositoryID    int64
	BuildNumber     int
	RunID           string
	CommitHash      string
	Branch          string
	State           BuildState
	DurationSeconds *float64 // Nil until the run completes.
	StartedOn       *time.Time
	CompletedOn     *time.Time
	TriggerName     string
}

// BuildStep is one unit of work within a Build.
type BuildStep struct {
	ID              int64
	BuildID         int64
	StepID          string
	StepName        string
	StepType        string
	State           BuildState
	DurationSeconds *float64
	StartedOn       *time.Time
	CompletedOn     *time.Time
	MaxTimeSeconds  *float64
	MemoryLimitMB   *float64
	PeakMemoryMB    *float64
	SizeFactor      float64 // Cost multiplier, never below 1.
	LogExcerpt      string  // Only captured for failed steps.
}

// MaxLogExcerpt bounds BuildStep.LogExcerpt.
const MaxLogExcerpt = 4000

// BuildFailure records why a step failed. ErrorPattern is the join key for
// cross-repository matching: the signature hash when one could be extracted,
// otherwise the coarse pattern of the message.
type BuildFailure struct {
	ID           int64
	BuildID      int64
	StepID       *int64
	ErrorMessage string
	ErrorPattern string
	FailureType  FailureType
	OccurredAt   time.Time
}

// StepSample is one step duration observation joined with its build.
type StepSample struct {
	BuildID         int64
	StepName        string
	DurationSeconds float64
	CommitHash      string
	CompletedOn     time.Time
}

// FailureOccurrence is a stored failure joined with its build and repository.
type FailureOccurrence struct {
	FailureID      int64
	BuildID        int64
	BuildNumber    int
	RepositoryID   int64
	RepositoryName string
	RepositorySlug string
	StepName       string
	CommitHash     string
	ErrorMessage   string
	ErrorPattern   string
	FailureType    FailureType
	OccurredAt     time.Time
}

// PatternCount is the number of stored failures sharing an error pattern.
type PatternCount struct {
	Pattern string
	Count   int
}

// DurationPtr returns a pointer to seconds; it keeps literal construction terse.
func DurationPtr(seconds float64) *float64 {
	return &seconds
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}
