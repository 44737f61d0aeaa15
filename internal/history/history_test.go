package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, Record{
		Repository:  "acme/widgets",
		IssueNumber: 1,
		Title:       "add validation",
		Outcome:     "completed",
		PRURL:       "https://example.com/pr/9",
		Attempts:    1,
		Worker:      "w1",
	}))
	require.NoError(t, s.Append(ctx, Record{
		Repository:  "acme/widgets",
		IssueNumber: 2,
		Outcome:     "failed",
		FailureKind: "rejected",
	}))

	records, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first.
	assert.Equal(t, 2, records[0].IssueNumber)
	assert.Equal(t, "rejected", records[0].FailureKind)
	assert.Equal(t, "https://example.com/pr/9", records[1].PRURL)
	assert.False(t, records[1].FinishedAt.IsZero())
}

func TestRecentHonorsLimit(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, s.Append(ctx, Record{
			Repository: "acme/widgets", IssueNumber: i, Outcome: "completed",
		}))
	}

	records, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, 5, records[0].IssueNumber)
}

func TestForIssueReturnsAllRuns(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	finished := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, Record{
		Repository: "acme/widgets", IssueNumber: 7, Outcome: "failed",
		FailureKind: "timeout", FinishedAt: finished,
	}))
	require.NoError(t, s.Append(ctx, Record{
		Repository: "acme/widgets", IssueNumber: 7, Outcome: "completed",
		FinishedAt: finished.Add(time.Hour),
	}))
	require.NoError(t, s.Append(ctx, Record{
		Repository: "acme/gears", IssueNumber: 7, Outcome: "completed",
	}))

	records, err := s.ForIssue(ctx, "acme/widgets", 7)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "completed", records[0].Outcome)
	assert.Equal(t, finished.Add(time.Hour), records[0].FinishedAt)
	assert.Equal(t, "timeout", records[1].FailureKind)
}
