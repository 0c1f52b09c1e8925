package model

import "time"

// PullRequest is a merged pull request used for velocity metrics. Number is
// repository-scoped, so (RepositoryID, Number) is the natural key.
type PullRequest struct {
	ID                int64
	RepositoryID      int64
	Number            int
	Title             string
	Author            string
	SourceBranch      string
	DestinationBranch string
	State             string
	CreatedAt         time.Time
	MergedAt          *time.Time
}

// MergeLatency returns the hours between creation and merge, and false when the
// PR has no merge time.
func (pr PullRequest) MergeLatency() (float64, bool) {
	if pr.MergedAt == nil {
		return 0, false
	}
	return pr.MergedAt.Sub(pr.CreatedAt).Hours(), true
}
