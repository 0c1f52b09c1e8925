package model

import "time"

// KnownFix is a curated remediation for a recognisable log line.
type KnownFix struct {
	Pattern string   `yaml:"pattern" json:"pattern"`
	Cause   string   `yaml:"cause" json:"cause"`
	Fix     []string `yaml:"fix" json:"fix"`
	Link    string   `yaml:"link" json:"link"`
}

// AnalysisStatus is the outcome of a latest-failure analysis.
type AnalysisStatus string

const (
	AnalysisOK     AnalysisStatus = "OK"
	AnalysisFailed AnalysisStatus = "FAILED"
	AnalysisError  AnalysisStatus = "ERROR"
)

// LearnedPattern is an error pattern that recurs in stored failures.
type LearnedPattern struct {
	Pattern     string `json:"pattern"`
	Occurrences int    `json:"occurrences"`
}

// StepFailure is the analysis of one failed step.
type StepFailure struct {
	StepName        string           `json:"step_name"`
	State           BuildState       `json:"state"`
	LogExcerpt      string           `json:"log_excerpt"`
	Signature       string           `json:"error_signature"`
	SignatureHash   string           `json:"signature_hash"`
	Pattern         string           `json:"pattern"`
	FailureType     FailureType      `json:"failure_type"`
	KnownFixes      []KnownFix       `json:"known_fixes"`
	LearnedPatterns []LearnedPattern `json:"learned_patterns"`
	LogUnavailable  bool             `json:"log_unavailable,omitempty"`
}

// CrossRepoMatch is the most recent occurrence of a signature in another repository.
type CrossRepoMatch struct {
	RepositorySlug string    `json:"repository_slug"`
	RepositoryName string    `json:"repository_name"`
	BuildNumber    int       `json:"build_number"`
	OccurredAt     time.Time `json:"occurred_at"`
	ErrorMessage   string    `json:"error_message"`
}

// FailureAnalysis is the cross-repository analysis of a repository's latest run.
type FailureAnalysis struct {
	Status          AnalysisStatus   `json:"status"`
	Message         string           `json:"message,omitempty"`
	RepositoryName  string           `json:"repository_name"`
	RunID           int64            `json:"run_id,omitempty"`
	BuildNumber     int              `json:"build_number,omitempty"`
	CommitHash      string           `json:"commit_hash,omitempty"`
	FailedSteps     []StepFailure    `json:"failed_steps"`
	Signature       string           `json:"error_signature"`
	SignatureHash   string           `json:"signature_hash"`
	KnownFixes      []KnownFix       `json:"known_fixes"`
	OtherRepos      []CrossRepoMatch `json:"other_repos_with_same_error"`
	OtherReposCount int              `json:"other_repos_count"`
	StartedOn       *time.Time       `json:"created_at,omitempty"`
	CompletedOn     *time.Time       `json:"completed_at,omitempty"`
}
