package github

import (
	"context"
	"encoding/json"
	"fmt"

	gh "github.com/google/go-github/v82/github"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

// ListDeployments returns up to limit deployments of the repository, newest first.
func (c *Client) ListDeployments(ctx context.Context, slug string, limit int) ([]model.DeploymentRecord, error) {
	owner, repo, err := splitRepo(slug)
	if err != nil {
		return nil, err
	}

	opts := &gh.DeploymentsListOptions{
		ListOptions: gh.ListOptions{PerPage: pageSize(limit)},
	}

	var records []model.DeploymentRecord
	for {
		deployments, resp, err := c.gh.Repositories.ListDeployments(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("listing deployments for %s (page %d): %w", slug, opts.Page, err)
		}

		logRateLimit(resp, slug+"/deployments", opts.Page, len(deployments))

		for _, d := range deployments {
			records = append(records, mapDeployment(d))
			if limit > 0 && len(records) >= limit {
				return records, nil
			}
		}

		if resp.NextPage == 0 {
			return records, nil
		}
		opts.Page = resp.NextPage
	}
}

func mapDeployment(d *gh.Deployment) model.DeploymentRecord {
	return model.DeploymentRecord{
		Environment: d.GetEnvironment(),
		CommitHash:  d.GetSHA(),
		Artifact:    deploymentArtifact(d),
		DeployedAt:  d.GetCreatedAt().UTC(),
	}
}

// deploymentArtifact returns the "image" field of the deployment payload, or
// the deployed ref when the payload names no image.
func deploymentArtifact(d *gh.Deployment) string {
	var payload struct {
		Image string `json:"image"`
	}
	if len(d.Payload) > 0 && json.Unmarshal(d.Payload, &payload) == nil && payload.Image != "" {
		return payload.Image
	}
	return d.GetRef()
}
