// Package gitops wraps the git binary behind a narrow command allowlist.
// Every invocation carries an explicit working directory and a bounded
// timeout; the process-wide working directory is never touched.
package gitops

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/alanmeadows/foreman/internal/logging"
)

// DefaultCommandTimeout bounds a single git invocation. Clones of large
// repositories are the slowest operation and get their own, longer bound.
const (
	DefaultCommandTimeout = 2 * time.Minute
	CloneTimeout          = 15 * time.Minute
)

// allowedSubcommands is the closed set of git subcommands this package may
// run. Anything else is a programming error, not a configuration knob.
var allowedSubcommands = map[string]bool{
	"init": true, "clone": true, "config": true, "add": true,
	"commit": true, "branch": true, "checkout": true, "merge": true,
	"push": true, "log": true, "diff": true, "status": true,
	"ls-files": true, "ls-tree": true, "rev-parse": true, "rev-list": true,
	"fetch": true, "reset": true, "stash": true,
}

// CommandError carries the stderr of a failed git invocation so callers can
// classify it (auth failure vs. conflict vs. transient network).
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	// Clone args carry the credentialed remote URL; the whole string goes
	// through redaction, not just stderr.
	args := logging.Redact(strings.Join(e.Args, " "))
	return fmt.Sprintf("git %s: %v: %s", args, e.Err, logging.Redact(strings.TrimSpace(e.Stderr)))
}

func (e *CommandError) Unwrap() error { return e.Err }

// Runner executes git commands in a fixed working directory. One Runner is
// owned by one worker for one workspace; commands are issued sequentially.
type Runner struct {
	dir string
}

// NewRunner returns a Runner rooted at dir. The directory must already be an
// absolute path; workspace acquisition resolves it.
func NewRunner(dir string) (*Runner, error) {
	if !filepath.IsAbs(dir) {
		return nil, fmt.Errorf("git working directory must be absolute, got %q", dir)
	}
	return &Runner{dir: dir}, nil
}

// Dir returns the runner's working directory.
func (r *Runner) Dir() string { return r.dir }

// run executes a git subcommand with the runner's working directory and a
// bounded timeout, returning trimmed stdout.
func (r *Runner) run(ctx context.Context, timeout time.Duration, args ...string) (string, error) {
	if len(args) == 0 || !allowedSubcommands[args[0]] {
		return "", fmt.Errorf("git subcommand not in allowlist: %v", args)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.dir

	var stderr strings.Builder
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return strings.TrimSpace(string(out)), nil
}

// Init initializes an empty repository with main as the initial branch.
func (r *Runner) Init(ctx context.Context) error {
	_, err := r.run(ctx, DefaultCommandTimeout, "init", "--initial-branch", "main")
	return err
}

// Clone performs a full clone of url into the working directory.
func (r *Runner) Clone(ctx context.Context, url string) error {
	_, err := r.run(ctx, CloneTimeout, "clone", url, ".")
	return err
}

// ConfigureIdentity sets the commit author for the workspace repository only.
func (r *Runner) ConfigureIdentity(ctx context.Context, name, email string) error {
	if _, err := r.run(ctx, DefaultCommandTimeout, "config", "user.name", name); err != nil {
		return err
	}
	_, err := r.run(ctx, DefaultCommandTimeout, "config", "user.email", email)
	return err
}

// CurrentBranch returns the name of the checked-out branch.
func (r *Runner) CurrentBranch(ctx context.Context) (string, error) {
	return r.run(ctx, DefaultCommandTimeout, "rev-parse", "--abbrev-ref", "HEAD")
}

// RevParse resolves a reference to a commit hash.
func (r *Runner) RevParse(ctx context.Context, ref string) (string, error) {
	return r.run(ctx, DefaultCommandTimeout, "rev-parse", ref)
}

// Fetch updates remote tracking refs.
func (r *Runner) Fetch(ctx context.Context) error {
	_, err := r.run(ctx, DefaultCommandTimeout, "fetch", "origin")
	return err
}

// Push pushes branch to origin. On failure the returned error carries the
// captured stderr (redacted) so the caller can surface "Authentication
// failed" and friends verbatim.
func (r *Runner) Push(ctx context.Context, branch string) error {
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	_, err := r.run(ctx, DefaultCommandTimeout, "push", "--set-upstream", "origin", branch)
	return err
}

// Merge merges branch into the current branch. If the merge fails it is
// aborted before returning; a half-merged workspace is a fatal inconsistency
// this package refuses to leave behind.
func (r *Runner) Merge(ctx context.Context, branch string) error {
	if err := ValidateBranchName(branch); err != nil {
		return err
	}
	if _, err := r.run(ctx, DefaultCommandTimeout, "merge", "--no-edit", branch); err != nil {
		if _, abortErr := r.run(ctx, DefaultCommandTimeout, "merge", "--abort"); abortErr != nil {
			return fmt.Errorf("merge of %s failed and abort failed (%v): %w", branch, abortErr, err)
		}
		return fmt.Errorf("merge of %s failed (aborted cleanly): %w", branch, err)
	}
	return nil
}

// HasUncommittedChanges reports whether tracked files have modifications.
func (r *Runner) HasUncommittedChanges(ctx context.Context) (bool, error) {
	out, err := r.run(ctx, DefaultCommandTimeout, "status", "--porcelain", "--untracked-files=no")
	if err != nil {
		return false, err
	}
	return out != "", nil
}
