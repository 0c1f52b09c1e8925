// Package github implements the PipelineProvider port over GitHub Actions using
// the go-github library.
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PipelineProvider = (*Client)(nil)

const perPageMax = 100

// Client implements the driven.PipelineProvider port using the go-github library.
type Client struct {
	gh    *gh.Client
	owner string
	repos []string // Repository names under owner; empty means every repository.

	// logs downloads job logs from the pre-signed URLs GitHub redirects to.
	// It carries no credentials.
	logs *http.Client
}

// NewClient creates a new GitHub API client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client with PAT auth)
//
// baseURL is optional and points the client at a GitHub Enterprise API root.
func NewClient(token, owner string, repos []string, baseURL string) (*Client, error) {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient).WithAuthToken(token)

	if baseURL != "" {
		if err := setBaseURL(client, baseURL); err != nil {
			return nil, err
		}
	}

	return &Client{
		gh:    client,
		owner: owner,
		repos: repos,
		logs:  &http.Client{},
	}, nil
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base URL.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, owner string, repos []string) (*Client, error) {
	client := gh.NewClient(httpClient)
	if err := setBaseURL(client, baseURL); err != nil {
		return nil, err
	}

	return &Client{
		gh:    client,
		owner: owner,
		repos: repos,
		logs:  httpClient,
	}, nil
}

func setBaseURL(client *gh.Client, baseURL string) error {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u
	return nil
}

// ListRepositories returns the configured repositories of the owner, or every
// non-archived repository the owner has when none are configured. Owners that
// are users rather than organizations are listed through the user endpoint.
func (c *Client) ListRepositories(ctx context.Context) ([]model.ProviderRepository, error) {
	if len(c.repos) > 0 {
		return c.getConfiguredRepositories(ctx)
	}

	repos, err := c.listOrgRepositories(ctx)
	if isNotFound(err) {
		slog.Debug("owner is not an organization, listing user repositories", "owner", c.owner)
		repos, err = c.listUserRepositories(ctx)
	}
	if err != nil {
		return nil, err
	}

	result := make([]model.ProviderRepository, 0, len(repos))
	for _, r := range repos {
		if r.GetArchived() {
			continue
		}
		result = append(result, mapRepository(r))
	}
	return result, nil
}

func (c *Client) getConfiguredRepositories(ctx context.Context) ([]model.ProviderRepository, error) {
	result := make([]model.ProviderRepository, 0, len(c.repos))
	for _, name := range c.repos {
		r, resp, err := c.gh.Repositories.Get(ctx, c.owner, name)
		if err != nil {
			return nil, fmt.Errorf("getting repository %s/%s: %w", c.owner, name, err)
		}
		logRateLimit(resp, c.owner+"/"+name, 0, 1)
		result = append(result, mapRepository(r))
	}
	return result, nil
}

func (c *Client) listOrgRepositories(ctx context.Context) ([]*gh.Repository, error) {
	opts := &gh.RepositoryListByOrgOptions{
		Type:        "all",
		ListOptions: gh.ListOptions{PerPage: perPageMax},
	}

	var all []*gh.Repository
	for {
		repos, resp, err := c.gh.Repositories.ListByOrg(ctx, c.owner, opts)
		if err != nil {
			return nil, fmt.Errorf("listing repositories for org %s (page %d): %w", c.owner, opts.Page, err)
		}

		logRateLimit(resp, c.owner+"/repos", opts.Page, len(repos))
		all = append(all, repos...)

		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

func (c *Client) listUserRepositories(ctx context.Context) ([]*gh.Repository, error) {
	opts := &gh.RepositoryListByUserOptions{
		Type:        "owner",
		ListOptions: gh.ListOptions{PerPage: perPageMax},
	}

	var all []*gh.Repository
	for {
		repos, resp, err := c.gh.Repositories.ListByUser(ctx, c.owner, opts)
		if err != nil {
			return nil, fmt.Errorf("listing repositories for user %s (page %d): %w", c.owner, opts.Page, err)
		}

		logRateLimit(resp, c.owner+"/repos", opts.Page, len(repos))
		all = append(all, repos...)

		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

func mapRepository(r *gh.Repository) model.ProviderRepository {
	return model.ProviderRepository{
		Name:      r.GetName(),
		Slug:      r.GetFullName(),
		Workspace: r.GetOwner().GetLogin(),
	}
}

func isNotFound(err error) bool {
	var ghErr *gh.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

// pageSize returns the per-page size for fetching limit items.
func pageSize(limit int) int {
	if limit <= 0 || limit > perPageMax {
		return perPageMax
	}
	return limit
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string, page, count int) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"page", page,
		"count", count,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Remaining < 100 {
		slog.Warn("github rate limit low",
			"remaining", resp.Rate.Remaining,
			"reset_in", time.Until(resp.Rate.Reset.Time).Round(time.Second),
		)
	}
}

// timePtr converts a go-github timestamp to a UTC time pointer, nil when unset.
func timePtr(ts *gh.Timestamp) *time.Time {
	if ts == nil || ts.IsZero() {
		return nil
	}
	t := ts.UTC()
	return &t
}

// splitRepo splits an "owner/repo" string into its components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
