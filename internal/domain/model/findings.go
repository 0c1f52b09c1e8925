package model

// BuildRegression is a build-duration regression finding for one repository.
type BuildRegression struct {
	RepositoryID      int64   `json:"repository_id"`
	BaselineMedian    float64 `json:"baseline_median"`
	RecentMedian      float64 `json:"recent_median"`
	RegressionPercent float64 `json:"regression_percent"`
	CommitHash        string  `json:"commit_hash"`
	BaselineCount     int     `json:"baseline_count"`
	RecentCount       int     `json:"recent_count"`
	InternalSplit     bool    `json:"internal_split"`
	Note              string  `json:"note,omitempty"`
}

// StepRegression is a duration regression of one named step in one repository.
type StepRegression struct {
	RepositoryID      int64   `json:"repository_id"`
	StepName          string  `json:"step_name"`
	BaselineMedian    float64 `json:"baseline_median"`
	RecentMedian      float64 `json:"recent_median"`
	RegressionPercent float64 `json:"regression_percent"`
	CommitHash        string  `json:"commit_hash"`
	BuildID           int64   `json:"build_id"`
	BaselineCount     int     `json:"baseline_count"`
	RecentCount       int     `json:"recent_count"`
}

// RegressedRepo is one repository's contribution to a CrossRepoRegression.
type RegressedRepo struct {
	RepositoryID      int64   `json:"repository_id"`
	RepositoryName    string  `json:"repository_name"`
	RegressionPercent float64 `json:"regression_percent"`
	BaselineMedian    float64 `json:"baseline_median"`
	RecentMedian      float64 `json:"recent_median"`
}

// CrossRepoRegression is a step regressing in at least two repositories.
type CrossRepoRegression struct {
	StepName             string          `json:"step_name"`
	RegressedRepos       []RegressedRepo `json:"regressed_repos"`
	RepoCount            int             `json:"repo_count"`
	AvgRegressionPercent float64         `json:"avg_regression_percent"`
}

// ResourceWaste is an over-provisioned step. For memory waste Usage and Limit
// are megabytes; for time waste they are seconds.
type ResourceWaste struct {
	Kind         WasteKind `json:"type"`
	RepositoryID int64     `json:"repository_id"`
	StepName     string    `json:"step_name"`
	AvgUsage     float64   `json:"avg_usage"`
	AvgLimit     float64   `json:"avg_limit"`
	WasteRatio   float64   `json:"waste_ratio"`
	Recommended  int       `json:"recommended"`
	SampleCount  int       `json:"sample_count"`
}
