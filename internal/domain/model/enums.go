package model

// BuildState is the normalised outcome of a pipeline run or step.
type BuildState string

const (
	BuildStateSuccessful BuildState = "SUCCESSFUL"
	BuildStateFailed     BuildState = "FAILED"
	BuildStateError      BuildState = "ERROR"
	BuildStateInProgress BuildState = "IN_PROGRESS"
	BuildStateStopped    BuildState = "STOPPED"
	BuildStatePending    BuildState = "PENDING"
	BuildStateSkipped    BuildState = "SKIPPED"
)

// IsFailure reports whether the state counts as a failed run.
func (s BuildState) IsFailure() bool {
	return s == BuildStateFailed || s == BuildStateError
}

// DiagnosticType is the fixed taxonomy of diagnostics.
type DiagnosticType string

const (
	DiagnosticRegression         DiagnosticType = "regression"
	DiagnosticStepRegression     DiagnosticType = "step_regression"
	DiagnosticResourceWaste      DiagnosticType = "resource_waste"
	DiagnosticCrossRepoRegressed DiagnosticType = "cross_repo_step_regression"
	DiagnosticPatternMatch       DiagnosticType = "pattern_match"
)

// Severity ranks diagnostics for display.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// WasteKind distinguishes the two resource waste detectors.
type WasteKind string

const (
	WasteMemory WasteKind = "memory_waste"
	WasteTime   WasteKind = "time_waste"
)

// FailureType is the keyword classification of a failure message.
type FailureType string

const (
	FailureTimeout     FailureType = "timeout"
	FailureMemory      FailureType = "memory_error"
	FailureTest        FailureType = "test_failure"
	FailureCompilation FailureType = "compilation_error"
	FailureNetwork     FailureType = "network_error"
	FailureUnknown     FailureType = "unknown"
)
