// Package review tracks open pull requests produced by the pipeline and
// gates new work assignment on their review state.
package review

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alanmeadows/foreman/internal/logging"
	"github.com/alanmeadows/foreman/internal/platform"
	"github.com/alanmeadows/foreman/internal/store"
)

// Entry is one tracked pull request.
type Entry struct {
	Repository   string               `json:"repository"`
	IssueNumber  int                  `json:"issue_number"`
	PRNumber     int                  `json:"pr_number"`
	URL          string               `json:"url"`
	State        platform.ReviewState `json:"state"`
	RegisteredAt time.Time            `json:"registered_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

func entryKey(repo string, prNumber int) string {
	return fmt.Sprintf("%s#%d", repo, prNumber)
}

// Tracker holds the review states of tracked PRs and implements the
// assignment gate: assignment blocks while any tracked PR has changes
// requested, or while pending PRs meet the configured ceiling.
type Tracker struct {
	mu             sync.Mutex
	entries        map[string]*Entry
	maxPending     int
	blockOnChanges bool
	statePath      string
	log            *slog.Logger
}

// New creates a tracker. statePath, when non-empty, persists tracked PRs
// across restarts.
func New(maxPending int, blockOnChanges bool, statePath string) (*Tracker, error) {
	t := &Tracker{
		entries:        make(map[string]*Entry),
		maxPending:     maxPending,
		blockOnChanges: blockOnChanges,
		statePath:      statePath,
		log:            logging.With("review"),
	}
	if statePath != "" {
		if err := t.load(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Register starts tracking a freshly opened PR in the pending state.
func (t *Tracker) Register(repo string, issueNumber, prNumber int, url string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now().UTC()
	t.entries[entryKey(repo, prNumber)] = &Entry{
		Repository:   repo,
		IssueNumber:  issueNumber,
		PRNumber:     prNumber,
		URL:          url,
		State:        platform.ReviewPending,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	t.log.Info("tracking pull request", "repo", repo, "pr", prNumber, "issue", issueNumber)
	t.persistLocked()
}

// MarkApproved records an approval. Unknown PRs are logged and ignored.
func (t *Tracker) MarkApproved(repo string, prNumber int) {
	t.setState(repo, prNumber, platform.ReviewApproved)
}

// MarkChangesRequested records a changes-requested review.
func (t *Tracker) MarkChangesRequested(repo string, prNumber int) {
	t.setState(repo, prNumber, platform.ReviewChangesRequested)
}

// MarkMerged records a merge and stops tracking the PR.
func (t *Tracker) MarkMerged(repo string, prNumber int) {
	t.remove(repo, prNumber, platform.ReviewMerged)
}

// MarkClosed records an unmerged close and stops tracking the PR.
func (t *Tracker) MarkClosed(repo string, prNumber int) {
	t.remove(repo, prNumber, platform.ReviewClosed)
}

func (t *Tracker) setState(repo string, prNumber int, state platform.ReviewState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[entryKey(repo, prNumber)]
	if !ok {
		t.log.Warn("review event for untracked pull request ignored",
			"repo", repo, "pr", prNumber, "state", state)
		return
	}
	if e.State == state {
		return
	}
	e.State = state
	e.UpdatedAt = time.Now().UTC()
	t.log.Info("review state changed", "repo", repo, "pr", prNumber, "state", state)
	t.persistLocked()
}

func (t *Tracker) remove(repo string, prNumber int, state platform.ReviewState) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := entryKey(repo, prNumber)
	if _, ok := t.entries[key]; !ok {
		t.log.Warn("review event for untracked pull request ignored",
			"repo", repo, "pr", prNumber, "state", state)
		return
	}
	delete(t.entries, key)
	t.log.Info("stopped tracking pull request", "repo", repo, "pr", prNumber, "state", state)
	t.persistLocked()
}

// Blocked reports whether new assignments are gated, and why. Changes
// requested on any tracked PR blocks outright (when configured); otherwise
// the pending count is checked against the ceiling. Approved PRs do not
// count toward the ceiling.
func (t *Tracker) Blocked() (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changesRequested, pending []int
	for _, e := range t.entries {
		switch e.State {
		case platform.ReviewChangesRequested:
			changesRequested = append(changesRequested, e.PRNumber)
		case platform.ReviewPending:
			pending = append(pending, e.PRNumber)
		}
	}
	slices.Sort(changesRequested)
	slices.Sort(pending)

	if t.blockOnChanges && len(changesRequested) > 0 {
		return true, fmt.Sprintf("changes requested on PRs: %v", changesRequested)
	}
	if len(pending) >= t.maxPending {
		return true, fmt.Sprintf("too many pending PRs: %v", pending)
	}
	return false, ""
}

// Sync refreshes every tracked PR's review state from the platform.
// Per-PR query failures are logged and skipped; the rest still sync.
func (t *Tracker) Sync(ctx context.Context, client platform.Client) {
	for _, e := range t.Entries() {
		state, err := client.PullRequestReview(ctx, e.Repository, e.PRNumber)
		if err != nil {
			t.log.Warn("review sync failed", "repo", e.Repository, "pr", e.PRNumber, "error", err)
			continue
		}
		switch state {
		case platform.ReviewMerged:
			t.MarkMerged(e.Repository, e.PRNumber)
		case platform.ReviewClosed:
			t.MarkClosed(e.Repository, e.PRNumber)
		case platform.ReviewApproved:
			t.MarkApproved(e.Repository, e.PRNumber)
		case platform.ReviewChangesRequested:
			t.MarkChangesRequested(e.Repository, e.PRNumber)
		}
	}
}

// Entries returns a copy of all tracked PRs, ordered by PR number.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if a.Repository != b.Repository {
			if a.Repository < b.Repository {
				return -1
			}
			return 1
		}
		return a.PRNumber - b.PRNumber
	})
	return out
}

// Lookup returns the entry tracking the given PR.
func (t *Tracker) Lookup(repo string, prNumber int) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[entryKey(repo, prNumber)]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (t *Tracker) persistLocked() {
	if t.statePath == "" {
		return
	}
	err := store.WithLock(t.statePath, store.DefaultLockTimeout, func() error {
		return store.WriteJSON(t.statePath, t.entries)
	})
	if err != nil {
		t.log.Error("persisting review state failed", "error", err)
	}
}

func (t *Tracker) load() error {
	entries := make(map[string]*Entry)
	var ok bool
	err := store.WithLock(t.statePath, store.DefaultLockTimeout, func() error {
		var readErr error
		ok, readErr = store.ReadJSON(t.statePath, &entries)
		return readErr
	})
	if err != nil {
		return err
	}
	if ok {
		t.entries = entries
		t.log.Info("review state restored", "tracked", len(entries))
	}
	return nil
}
