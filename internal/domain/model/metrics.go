package model

import "time"

// PRVelocity summarises merge latency. Median and P90 are nil without data.
type PRVelocity struct {
	MedianHours *float64 `json:"median_hours"`
	P90Hours    *float64 `json:"p90_hours"`
	Count       int      `json:"count"`
}

// DeploymentCount is a deployment tally for one grouping key.
type DeploymentCount struct {
	RepositoryID   int64  `json:"repository_id,omitempty"`
	RepositoryName string `json:"repository_name,omitempty"`
	Environment    string `json:"environment,omitempty"`
	Count          int    `json:"count"`
}

// DurationTrend is the duration distribution of successful builds on one day.
type DurationTrend struct {
	Date      string  `json:"date"`
	MedianSec float64 `json:"median_seconds"`
	P90Sec    float64 `json:"p90_seconds"`
	Count     int     `json:"count"`
}

// RepoBuildSeconds holds the raw build-time sums of one repository in a window.
type RepoBuildSeconds struct {
	RepositoryID    int64
	RepositoryName  string
	WeightedSeconds float64 // Sum of step duration times size factor.
	PipelineSeconds float64 // Sum of build durations.
}

// RepoBuildMinutes is the billed build time of one repository.
type RepoBuildMinutes struct {
	RepositoryID   int64   `json:"repository_id"`
	RepositoryName string  `json:"repository_name"`
	Minutes        float64 `json:"minutes"`
	Source         string  `json:"source"` // "steps" or "pipeline".
}

// BuildMinutes totals build time over a window.
type BuildMinutes struct {
	TotalMinutes float64            `json:"total_minutes"`
	ByRepo       []RepoBuildMinutes `json:"by_repo"`
	PeriodStart  time.Time          `json:"period_start"`
	PeriodEnd    time.Time          `json:"period_end"`
}

// SlowPipeline is a build slower than the scope's percentile threshold.
type SlowPipeline struct {
	BuildID          int64      `json:"build_id"`
	RepositoryID     int64      `json:"repository_id"`
	BuildNumber      int        `json:"build_number"`
	DurationSeconds  float64    `json:"duration_seconds"`
	BaselineMedian   float64    `json:"baseline_median"`
	BaselineP90      float64    `json:"baseline_p90"`
	DeltaVsMedianPct float64    `json:"delta_vs_median_pct"`
	CommitHash       string     `json:"commit_hash"`
	CompletedAt      *time.Time `json:"completed_at"`
}

// BuildRef identifies one build in slowdown reports.
type BuildRef struct {
	BuildID         int64      `json:"build_id"`
	BuildNumber     int        `json:"build_number"`
	DurationSeconds float64    `json:"duration_seconds"`
	CommitHash      string     `json:"commit_hash"`
	CompletedAt     *time.Time `json:"completed_at"`
}

// DeploySlowdown compares the latest trunk build with its recent history.
type DeploySlowdown struct {
	Latest   BuildRef  `json:"latest"`
	Previous *BuildRef `json:"previous"`
	Baseline struct {
		WindowDays int     `json:"window_days"`
		MedianSec  float64 `json:"median_seconds"`
		P90Sec     float64 `json:"p90_seconds"`
	} `json:"baseline"`
	Delta struct {
		LatestVsMedianPct *float64 `json:"latest_vs_median_pct"`
		LatestVsPrevPct   *float64 `json:"latest_vs_prev_pct"`
		IsSlow            bool     `json:"is_slow"`
	} `json:"delta"`
}

// MetricsSummary is the dashboard headline view.
type MetricsSummary struct {
	WindowDays          int            `json:"window_days"`
	PRVelocity          PRVelocity     `json:"pr_velocity"`
	TotalDeployments    int            `json:"total_deployments"`
	TotalBuildMinutes   float64        `json:"total_build_minutes"`
	OpenDiagnostics     int            `json:"open_diagnostics"`
	RepositoriesTracked int            `json:"repositories_tracked"`
	SlowPipelines       []SlowPipeline `json:"slow_pipelines"`
}
