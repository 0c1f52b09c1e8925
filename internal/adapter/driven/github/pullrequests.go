package github

import (
	"context"
	"fmt"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

// maxClosedPRPages bounds the scan of closed pull requests when few of them
// were merged.
const maxClosedPRPages = 5

// ListMergedPullRequests returns up to limit recently closed pull requests that
// were merged, most recently updated first.
func (c *Client) ListMergedPullRequests(ctx context.Context, slug string, limit int) ([]model.MergedPullRequest, error) {
	owner, repo, err := splitRepo(slug)
	if err != nil {
		return nil, err
	}

	opts := &gh.PullRequestListOptions{
		State:     "closed",
		Sort:      "updated",
		Direction: "desc",
		ListOptions: gh.ListOptions{
			PerPage: perPageMax,
		},
	}

	var merged []model.MergedPullRequest
	for pages := 1; ; pages++ {
		prs, resp, err := c.gh.PullRequests.List(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing pull requests for %s (page %d): %w", slug, opts.Page, err)
		}

		logRateLimit(resp, slug+"/pulls", opts.Page, len(prs))

		for _, pr := range prs {
			if pr.MergedAt == nil {
				continue
			}
			merged = append(merged, mapPullRequest(pr))
			if limit > 0 && len(merged) >= limit {
				return merged, nil
			}
		}

		if resp.NextPage == 0 || pages >= maxClosedPRPages {
			return merged, nil
		}
		opts.Page = resp.NextPage
	}
}

// mapPullRequest converts a go-github PullRequest to a MergedPullRequest.
// It uses GetXxx() helper methods exclusively to avoid nil pointer panics.
func mapPullRequest(pr *gh.PullRequest) model.MergedPullRequest {
	return model.MergedPullRequest{
		Number:            pr.GetNumber(),
		Title:             pr.GetTitle(),
		Author:            pr.GetUser().GetLogin(),
		SourceBranch:      pr.GetHead().GetRef(),
		DestinationBranch: pr.GetBase().GetRef(),
		CreatedAt:         pr.GetCreatedAt().UTC(),
		MergedAt:          timePtr(pr.MergedAt),
		ClosedAt:          timePtr(pr.ClosedAt),
		UpdatedAt:         timePtr(pr.UpdatedAt),
	}
}
