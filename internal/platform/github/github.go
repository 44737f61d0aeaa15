// Package github implements platform.Client against the GitHub API.
package github

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	github_ratelimit "github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	gh "github.com/google/go-github/v82/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/alanmeadows/foreman/internal/platform"
)

// Client implements platform.Client for GitHub.
// Uses go-github-ratelimit middleware for automatic rate limit handling;
// the GraphQL client is built lazily for review-state queries.
type Client struct {
	rest      *gh.Client
	gqlOnce   sync.Once
	gqlClient *githubv4.Client
	token     string
}

// NewClient creates a GitHub platform client with the given token.
func NewClient(token string) *Client {
	rateLimiter := github_ratelimit.NewClient(nil)
	return &Client{
		rest:  gh.NewClient(rateLimiter).WithAuthToken(token),
		token: token,
	}
}

// ListIssuesByLabel returns open issues carrying label. Pull requests share
// the issue namespace on GitHub and are filtered out.
func (c *Client) ListIssuesByLabel(ctx context.Context, repo, label string) ([]platform.Issue, error) {
	owner, name, err := platform.SplitRepo(repo)
	if err != nil {
		return nil, err
	}

	opts := &gh.IssueListByRepoOptions{
		State:       "open",
		Labels:      []string{label},
		ListOptions: gh.ListOptions{PerPage: 100},
	}

	var issues []platform.Issue
	for {
		page, resp, err := c.rest.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("listing issues in %s by label %q: %w", repo, label, err)
		}
		for _, is := range page {
			if is.IsPullRequest() {
				continue
			}
			labels := make([]string, 0, len(is.Labels))
			for _, l := range is.Labels {
				labels = append(labels, l.GetName())
			}
			issues = append(issues, platform.Issue{
				Repository: repo,
				Number:     is.GetNumber(),
				Title:      is.GetTitle(),
				Body:       is.GetBody(),
				Labels:     labels,
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.ListOptions.Page = resp.NextPage
	}
	return issues, nil
}

// AddLabel adds a label to an issue.
func (c *Client) AddLabel(ctx context.Context, repo string, number int, label string) error {
	owner, name, err := platform.SplitRepo(repo)
	if err != nil {
		return err
	}
	_, _, err = c.rest.Issues.AddLabelsToIssue(ctx, owner, name, number, []string{label})
	if err != nil {
		return fmt.Errorf("adding label %q to %s#%d: %w", label, repo, number, err)
	}
	return nil
}

// RemoveLabel removes a label from an issue; a label the issue does not
// carry is a no-op.
func (c *Client) RemoveLabel(ctx context.Context, repo string, number int, label string) error {
	owner, name, err := platform.SplitRepo(repo)
	if err != nil {
		return err
	}
	resp, err := c.rest.Issues.RemoveLabelForIssue(ctx, owner, name, number, label)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("removing label %q from %s#%d: %w", label, repo, number, err)
	}
	return nil
}

// PostComment posts a comment on an issue or pull request.
func (c *Client) PostComment(ctx context.Context, repo string, number int, body string) error {
	owner, name, err := platform.SplitRepo(repo)
	if err != nil {
		return err
	}
	_, _, err = c.rest.Issues.CreateComment(ctx, owner, name, number, &gh.IssueComment{
		Body: gh.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("commenting on %s#%d: %w", repo, number, err)
	}
	return nil
}

// CloseIssue closes an issue.
func (c *Client) CloseIssue(ctx context.Context, repo string, number int) error {
	owner, name, err := platform.SplitRepo(repo)
	if err != nil {
		return err
	}
	_, _, err = c.rest.Issues.Edit(ctx, owner, name, number, &gh.IssueRequest{
		State: gh.Ptr("closed"),
	})
	if err != nil {
		return fmt.Errorf("closing %s#%d: %w", repo, number, err)
	}
	return nil
}

// CreatePullRequest opens a PR from head into base.
func (c *Client) CreatePullRequest(ctx context.Context, repo, title, head, base, body string) (*platform.PullRequest, error) {
	owner, name, err := platform.SplitRepo(repo)
	if err != nil {
		return nil, err
	}
	pr, _, err := c.rest.PullRequests.Create(ctx, owner, name, &gh.NewPullRequest{
		Title: gh.Ptr(title),
		Head:  gh.Ptr(head),
		Base:  gh.Ptr(base),
		Body:  gh.Ptr(body),
	})
	if err != nil {
		return nil, fmt.Errorf("creating pull request %s -> %s in %s: %w", head, base, repo, err)
	}
	return &platform.PullRequest{
		Number: pr.GetNumber(),
		URL:    pr.GetHTMLURL(),
	}, nil
}

// RemoteBranchExists reports whether branch exists on the remote.
func (c *Client) RemoteBranchExists(ctx context.Context, repo, branch string) (bool, error) {
	owner, name, err := platform.SplitRepo(repo)
	if err != nil {
		return false, err
	}
	_, resp, err := c.rest.Repositories.GetBranch(ctx, owner, name, branch, 3)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, fmt.Errorf("checking branch %q in %s: %w", branch, repo, err)
	}
	return true, nil
}

// DefaultBranch returns the repository's default branch name.
func (c *Client) DefaultBranch(ctx context.Context, repo string) (string, error) {
	owner, name, err := platform.SplitRepo(repo)
	if err != nil {
		return "", err
	}
	r, _, err := c.rest.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", fmt.Errorf("getting repository %s: %w", repo, err)
	}
	return r.GetDefaultBranch(), nil
}

// PullRequestReview returns the review state of a PR via the GraphQL API;
// reviewDecision is not exposed over REST.
func (c *Client) PullRequestReview(ctx context.Context, repo string, number int) (platform.ReviewState, error) {
	owner, name, err := platform.SplitRepo(repo)
	if err != nil {
		return "", err
	}

	var query struct {
		Repository struct {
			PullRequest struct {
				ReviewDecision githubv4.String
				Merged         githubv4.Boolean
				Closed         githubv4.Boolean
			} `graphql:"pullRequest(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $name)"`
	}
	vars := map[string]any{
		"owner":  githubv4.String(owner),
		"name":   githubv4.String(name),
		"number": githubv4.Int(number),
	}

	if err := c.graphql(ctx).Query(ctx, &query, vars); err != nil {
		return "", fmt.Errorf("querying review state of %s#%d: %w", repo, number, err)
	}

	pr := query.Repository.PullRequest
	switch {
	case bool(pr.Merged):
		return platform.ReviewMerged, nil
	case bool(pr.Closed):
		return platform.ReviewClosed, nil
	case pr.ReviewDecision == "APPROVED":
		return platform.ReviewApproved, nil
	case pr.ReviewDecision == "CHANGES_REQUESTED":
		return platform.ReviewChangesRequested, nil
	default:
		return platform.ReviewPending, nil
	}
}

func (c *Client) graphql(ctx context.Context) *githubv4.Client {
	c.gqlOnce.Do(func() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: c.token})
		c.gqlClient = githubv4.NewClient(oauth2.NewClient(ctx, ts))
	})
	return c.gqlClient
}
