package github

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

const (
	// logRedirects bounds redirects followed to reach the log download URL.
	logRedirects = 3
	// logTailBytes is how much of a job log is kept. Failures are at the end.
	logTailBytes = 256 * 1024
)

var (
	coresLabel = regexp.MustCompile(`(?i)(\d+)-cores?\b`)
	// Every Actions log line starts with a nanosecond timestamp that would
	// otherwise make signatures unique per run.
	logLinePrefix = regexp.MustCompile(`(?m)^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?Z `)
)

// ListPipelineRuns returns up to limit workflow runs of the repository, newest first.
func (c *Client) ListPipelineRuns(ctx context.Context, slug string, limit int) ([]model.PipelineRun, error) {
	owner, repo, err := splitRepo(slug)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListWorkflowRunsOptions{
		ListOptions: gh.ListOptions{PerPage: pageSize(limit)},
	}

	var runs []model.PipelineRun
	for {
		page, resp, err := c.gh.Actions.ListRepositoryWorkflowRuns(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing workflow runs for %s (page %d): %w", slug, opts.Page, err)
		}

		logRateLimit(resp, slug+"/actions/runs", opts.Page, len(page.WorkflowRuns))

		for _, r := range page.WorkflowRuns {
			runs = append(runs, mapRun(r))
			if limit > 0 && len(runs) >= limit {
				return runs, nil
			}
		}

		if resp.NextPage == 0 {
			return runs, nil
		}
		opts.Page = resp.NextPage
	}
}

// ListSteps returns the jobs of a workflow run. Each job is one step.
func (c *Client) ListSteps(ctx context.Context, slug string, runID int64) ([]model.PipelineStep, error) {
	owner, repo, err := splitRepo(slug)
	if err != nil {
		return nil, err
	}

	opts := &gh.ListWorkflowJobsOptions{
		Filter:      "latest",
		ListOptions: gh.ListOptions{PerPage: perPageMax},
	}

	var steps []model.PipelineStep
	for {
		jobs, resp, err := c.gh.Actions.ListWorkflowJobs(ctx, owner, repo, runID, opts)
		if err != nil {
			return nil, fmt.Errorf("listing jobs for %s run %d (page %d): %w", slug, runID, opts.Page, err)
		}

		logRateLimit(resp, slug+"/actions/jobs", opts.Page, len(jobs.Jobs))

		for _, j := range jobs.Jobs {
			steps = append(steps, mapJob(j))
		}

		if resp.NextPage == 0 {
			return steps, nil
		}
		opts.Page = resp.NextPage
	}
}

// FetchStepLog downloads the tail of a job's log with per-line timestamps removed.
func (c *Client) FetchStepLog(ctx context.Context, slug string, stepID int64) (string, error) {
	owner, repo, err := splitRepo(slug)
	if err != nil {
		return "", err
	}

	u, resp, err := c.gh.Actions.GetWorkflowJobLogs(ctx, owner, repo, stepID, logRedirects)
	if err != nil {
		return "", fmt.Errorf("resolving log URL for %s job %d: %w", slug, stepID, err)
	}
	logRateLimit(resp, slug+"/actions/jobs/logs", 0, 1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("building log request: %w", err)
	}

	dl, err := c.logs.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading log for %s job %d: %w", slug, stepID, err)
	}
	defer dl.Body.Close()

	if dl.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading log for %s job %d: unexpected status %s", slug, stepID, dl.Status)
	}

	text, err := readTail(dl.Body, logTailBytes)
	if err != nil {
		return "", fmt.Errorf("reading log for %s job %d: %w", slug, stepID, err)
	}

	return logLinePrefix.ReplaceAllString(text, ""), nil
}

// readTail reads r to the end and returns at most its last n bytes.
func readTail(r io.Reader, n int) (string, error) {
	buf := make([]byte, 0, n)
	chunk := make([]byte, 32*1024)
	for {
		k, err := r.Read(chunk)
		buf = append(buf, chunk[:k]...)
		if len(buf) > n {
			buf = append(buf[:0], buf[len(buf)-n:]...)
		}
		if err == io.EOF {
			return string(buf), nil
		}
		if err != nil {
			return "", err
		}
	}
}

func mapRun(r *gh.WorkflowRun) model.PipelineRun {
	started := timePtr(r.RunStartedAt)
	if started == nil {
		started = timePtr(r.CreatedAt)
	}

	run := model.PipelineRun{
		RunID:       r.GetID(),
		BuildNumber: r.GetRunNumber(),
		CommitHash:  r.GetHeadSHA(),
		Branch:      r.GetHeadBranch(),
		State:       mapState(r.GetStatus(), r.GetConclusion()),
		Completed:   r.GetStatus() == "completed",
		StartedOn:   started,
		TriggerName: r.GetEvent(),
	}
	if run.Completed {
		run.CompletedOn = timePtr(r.UpdatedAt)
	}
	return run
}

func mapJob(j *gh.WorkflowJob) model.PipelineStep {
	return model.PipelineStep{
		StepID:      j.GetID(),
		Name:        j.GetName(),
		Type:        "job",
		State:       mapState(j.GetStatus(), j.GetConclusion()),
		StartedOn:   timePtr(j.StartedAt),
		CompletedOn: timePtr(j.CompletedAt),
		SizeFactor:  sizeFactor(j.Labels),
	}
}

// mapState normalises an Actions status and conclusion to a BuildState.
func mapState(status, conclusion string) model.BuildState {
	if status != "completed" {
		switch status {
		case "in_progress", "queued":
			return model.BuildStateInProgress
		default:
			return model.BuildStatePending
		}
	}

	switch conclusion {
	case "success", "neutral":
		return model.BuildStateSuccessful
	case "failure":
		return model.BuildStateFailed
	case "cancelled", "stale":
		return model.BuildStateStopped
	case "skipped":
		return model.BuildStateSkipped
	default:
		// timed_out, startup_failure, action_required and anything new.
		return model.BuildStateError
	}
}

// sizeFactor derives the runner size from an "N-cores" label. Standard
// two-core runners are size 1.
func sizeFactor(labels []string) float64 {
	for _, l := range labels {
		m := coresLabel.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		cores, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return max(float64(cores)/2, 1)
	}
	return 1
}
