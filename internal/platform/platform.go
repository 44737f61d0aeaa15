// Package platform defines the hosting-platform interface the orchestrator
// and workers share: issue discovery, label transitions, comments, and pull
// request publication.
package platform

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Issue is an issue reference as discovered by the poller.
type Issue struct {
	Repository string   `json:"repository"`
	Number     int      `json:"number"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	Labels     []string `json:"labels"`
}

// PullRequest is the result of publishing a feature branch.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// ReviewState is the platform-side review status of a pull request.
type ReviewState string

const (
	ReviewPending          ReviewState = "pending"
	ReviewApproved         ReviewState = "approved"
	ReviewChangesRequested ReviewState = "changes_requested"
	ReviewMerged           ReviewState = "merged"
	ReviewClosed           ReviewState = "closed"
)

// Client is the narrow hosting-platform surface the system depends on.
// Repositories are identified as "owner/repo".
type Client interface {
	// ListIssuesByLabel returns open issues in repo carrying label.
	ListIssuesByLabel(ctx context.Context, repo, label string) ([]Issue, error)

	// AddLabel adds a label to an issue, creating it on the repo if needed.
	AddLabel(ctx context.Context, repo string, number int, label string) error

	// RemoveLabel removes a label from an issue. Removing a label the issue
	// does not carry is not an error.
	RemoveLabel(ctx context.Context, repo string, number int, label string) error

	// PostComment posts a comment on an issue or pull request.
	PostComment(ctx context.Context, repo string, number int, body string) error

	// CloseIssue closes an issue.
	CloseIssue(ctx context.Context, repo string, number int) error

	// CreatePullRequest opens a PR from head into base.
	CreatePullRequest(ctx context.Context, repo, title, head, base, body string) (*PullRequest, error)

	// RemoteBranchExists reports whether branch exists on the remote.
	RemoteBranchExists(ctx context.Context, repo, branch string) (bool, error)

	// DefaultBranch returns the repository's default branch name.
	DefaultBranch(ctx context.Context, repo string) (string, error)

	// PullRequestReview returns the current review state of a PR.
	PullRequestReview(ctx context.Context, repo string, number int) (ReviewState, error)
}

// ResolveBaseBranch picks the PR base branch: the configured pre-production
// branch when it exists on the remote, otherwise the repository's default
// branch. Detection happens at publication time and is logged.
func ResolveBaseBranch(ctx context.Context, c Client, repo, preferred string, log *slog.Logger) (string, error) {
	if preferred != "" {
		exists, err := c.RemoteBranchExists(ctx, repo, preferred)
		if err != nil {
			return "", fmt.Errorf("checking base branch %q on %s: %w", preferred, repo, err)
		}
		if exists {
			return preferred, nil
		}
		log.Info("preferred base branch missing on remote, falling back to default",
			"repo", repo, "preferred", preferred)
	}

	base, err := c.DefaultBranch(ctx, repo)
	if err != nil {
		return "", fmt.Errorf("detecting default branch of %s: %w", repo, err)
	}
	return base, nil
}

// SplitRepo splits an "owner/repo" identifier.
func SplitRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository %q is not in owner/repo form", repo)
	}
	return parts[0], parts[1], nil
}
