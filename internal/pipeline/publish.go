package pipeline

import (
	"context"
	"fmt"

	"github.com/alanmeadows/foreman/internal/gitops"
	"github.com/alanmeadows/foreman/internal/platform"
	"github.com/alanmeadows/foreman/internal/queue"
)

// publish derives the feature branch from the tester branch, pushes it, and
// opens a pull request against the resolved base branch. Publication never
// merges to the main line; that is the human reviewer's call.
func (d *Driver) publish(ctx context.Context, git *gitops.Runner, item *queue.Item) (*platform.PullRequest, error) {
	feature := item.BranchName
	if err := gitops.ValidateBranchName(feature); err != nil {
		return nil, err
	}

	// A previous attempt may have left the branch behind.
	if err := git.DeleteBranch(ctx, feature, true); err != nil {
		return nil, err
	}
	if err := git.CreateBranch(ctx, feature, branchTester); err != nil {
		return nil, err
	}
	if err := git.Checkout(ctx, feature); err != nil {
		return nil, err
	}
	if err := git.Push(ctx, feature); err != nil {
		return nil, fmt.Errorf("pushing %s: %w", feature, err)
	}

	base, err := platform.ResolveBaseBranch(ctx, d.client, item.Issue.Repository, d.cfg.Platform.PRTargetBranch, d.log)
	if err != nil {
		return nil, err
	}

	title := fmt.Sprintf("%s (#%d)", item.Issue.Title, item.Issue.Number)
	body := fmt.Sprintf(
		"Implements #%d through the architect, security, and tester phases.\n\nCloses #%d\n",
		item.Issue.Number, item.Issue.Number)

	pr, err := d.client.CreatePullRequest(ctx, item.Issue.Repository, title, feature, base, body)
	if err != nil {
		return nil, fmt.Errorf("opening pull request for %s: %w", feature, err)
	}
	return pr, nil
}
