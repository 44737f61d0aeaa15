package gitops

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// BranchExists reports whether a local branch exists.
func (r *Runner) BranchExists(ctx context.Context, name string) (bool, error) {
	if err := ValidateBranchName(name); err != nil {
		return false, err
	}
	_, err := r.run(ctx, DefaultCommandTimeout, "rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// BranchHasCommits reports whether name has commits that base does not.
// This is the validation gate between pipeline phases: a phase that produced
// nothing beyond its parent branch failed silently.
func (r *Runner) BranchHasCommits(ctx context.Context, name, base string) (bool, error) {
	if err := ValidateBranchName(name); err != nil {
		return false, err
	}
	if err := ValidateBranchName(base); err != nil {
		return false, err
	}
	out, err := r.run(ctx, DefaultCommandTimeout, "rev-list", "--count", base+".."+name)
	if err != nil {
		return false, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return false, fmt.Errorf("unexpected rev-list output %q: %w", out, err)
	}
	return n > 0, nil
}

// CreateBranch creates name at from without checking it out. Fails if the
// branch already exists.
func (r *Runner) CreateBranch(ctx context.Context, name, from string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	if err := ValidateBranchName(from); err != nil {
		return err
	}
	exists, err := r.BranchExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("branch %q already exists", name)
	}
	_, err = r.run(ctx, DefaultCommandTimeout, "branch", name, from)
	return err
}

// Checkout switches the workspace to branch.
func (r *Runner) Checkout(ctx context.Context, name string) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	_, err := r.run(ctx, DefaultCommandTimeout, "checkout", name)
	return err
}

// DeleteBranch removes a local branch. A nonexistent branch is not an error;
// the revision loop deletes security/tester unconditionally.
func (r *Runner) DeleteBranch(ctx context.Context, name string, force bool) error {
	if err := ValidateBranchName(name); err != nil {
		return err
	}
	exists, err := r.BranchExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err = r.run(ctx, DefaultCommandTimeout, "branch", flag, name)
	return err
}

// ListFiles returns the files tracked by source control on branch. The
// Product Owner reviews this listing, never the raw workspace tree, so large
// untracked directories stay out of the review.
func (r *Runner) ListFiles(ctx context.Context, branch string) ([]string, error) {
	if err := ValidateBranchName(branch); err != nil {
		return nil, err
	}
	out, err := r.run(ctx, DefaultCommandTimeout, "ls-tree", "-r", "--name-only", branch)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// DiffAgainst returns the diff of branch relative to base.
func (r *Runner) DiffAgainst(ctx context.Context, base, branch string) (string, error) {
	if err := ValidateBranchName(base); err != nil {
		return "", err
	}
	if err := ValidateBranchName(branch); err != nil {
		return "", err
	}
	return r.run(ctx, DefaultCommandTimeout, "diff", base+".."+branch)
}

// CommitAll stages everything and commits with a sanitized message. Returns
// false without error when there is nothing to commit.
func (r *Runner) CommitAll(ctx context.Context, message string) (bool, error) {
	if _, err := r.run(ctx, DefaultCommandTimeout, "add", "-A"); err != nil {
		return false, err
	}
	_, err := r.run(ctx, DefaultCommandTimeout, "commit", "-m", SanitizeCommitMessage(message))
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "nothing to commit") {
			return false, nil
		}
		// Some git versions report an empty index on stdout instead of
		// stderr; check the working tree directly before giving up.
		dirty, dirtyErr := r.HasUncommittedChanges(ctx)
		if dirtyErr == nil && !dirty {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
