package review

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmeadows/foreman/internal/platform"
)

const repo = "acme/widgets"

func newTracker(t *testing.T, maxPending int) *Tracker {
	t.Helper()
	tr, err := New(maxPending, true, "")
	require.NoError(t, err)
	return tr
}

func TestBlockedOnPendingCeiling(t *testing.T) {
	tr := newTracker(t, 2)

	blocked, _ := tr.Blocked()
	assert.False(t, blocked)

	tr.Register(repo, 1, 101, "u1")
	blocked, _ = tr.Blocked()
	assert.False(t, blocked, "one pending PR is under a ceiling of two")

	tr.Register(repo, 2, 102, "u2")
	blocked, reason := tr.Blocked()
	assert.True(t, blocked)
	assert.Equal(t, "too many pending PRs: [101 102]", reason)
}

func TestApprovedDoesNotCountTowardCeiling(t *testing.T) {
	tr := newTracker(t, 2)
	tr.Register(repo, 1, 101, "u1")
	tr.Register(repo, 2, 102, "u2")

	tr.MarkApproved(repo, 101)
	blocked, _ := tr.Blocked()
	assert.False(t, blocked, "approved PRs are off the pending count")
}

func TestChangesRequestedBlocksOutright(t *testing.T) {
	tr := newTracker(t, 3)
	tr.Register(repo, 1, 101, "u1")

	tr.MarkChangesRequested(repo, 101)
	blocked, reason := tr.Blocked()
	assert.True(t, blocked)
	assert.Equal(t, "changes requested on PRs: [101]", reason)

	// A fresh review clears the block.
	tr.MarkApproved(repo, 101)
	blocked, _ = tr.Blocked()
	assert.False(t, blocked)
}

func TestChangesRequestedIgnoredWhenDisabled(t *testing.T) {
	tr, err := New(3, false, "")
	require.NoError(t, err)
	tr.Register(repo, 1, 101, "u1")
	tr.MarkChangesRequested(repo, 101)

	blocked, _ := tr.Blocked()
	assert.False(t, blocked)
}

func TestMergedStopsTracking(t *testing.T) {
	tr := newTracker(t, 1)
	tr.Register(repo, 1, 101, "u1")

	blocked, _ := tr.Blocked()
	require.True(t, blocked)

	tr.MarkMerged(repo, 101)
	blocked, _ = tr.Blocked()
	assert.False(t, blocked)
	assert.Empty(t, tr.Entries())
}

func TestEventsForUntrackedPRIgnored(t *testing.T) {
	tr := newTracker(t, 1)

	tr.MarkApproved(repo, 999)
	tr.MarkChangesRequested(repo, 999)
	tr.MarkMerged(repo, 999)

	assert.Empty(t, tr.Entries())
	blocked, _ := tr.Blocked()
	assert.False(t, blocked)
}

func TestSyncAppliesPlatformState(t *testing.T) {
	tr := newTracker(t, 10)
	tr.Register(repo, 1, 101, "u1")
	tr.Register(repo, 2, 102, "u2")
	tr.Register(repo, 3, 103, "u3")

	fake := platform.NewFake()
	fake.Reviews[repo+"#101"] = platform.ReviewApproved
	fake.Reviews[repo+"#102"] = platform.ReviewMerged
	fake.Reviews[repo+"#103"] = platform.ReviewChangesRequested

	tr.Sync(context.Background(), fake)

	e, ok := tr.Lookup(repo, 101)
	require.True(t, ok)
	assert.Equal(t, platform.ReviewApproved, e.State)

	_, ok = tr.Lookup(repo, 102)
	assert.False(t, ok, "merged PRs drop out of tracking")

	blocked, reason := tr.Blocked()
	assert.True(t, blocked)
	assert.Equal(t, "changes requested on PRs: [103]", reason)
}

func TestPersistenceRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.json")

	tr, err := New(1, true, path)
	require.NoError(t, err)
	tr.Register(repo, 1, 101, "u1")

	restored, err := New(1, true, path)
	require.NoError(t, err)

	blocked, reason := restored.Blocked()
	assert.True(t, blocked)
	assert.Equal(t, "too many pending PRs: [101]", reason)

	e, ok := restored.Lookup(repo, 101)
	require.True(t, ok)
	assert.Equal(t, 1, e.IssueNumber)
	assert.Equal(t, "u1", e.URL)
}
