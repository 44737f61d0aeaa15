package poller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmeadows/foreman/internal/platform"
	"github.com/alanmeadows/foreman/internal/queue"
)

func newQueue(t *testing.T) *queue.Queue {
	t.Helper()
	q, err := queue.New(3, "")
	require.NoError(t, err)
	return q
}

func TestPollOnceEnqueuesReadyIssues(t *testing.T) {
	fake := platform.NewFake()
	fake.Issues["acme/widgets"] = []platform.Issue{
		{Repository: "acme/widgets", Number: 1, Title: "a", Labels: []string{"ready"}},
		{Repository: "acme/widgets", Number: 2, Title: "b", Labels: []string{"ready"}},
		{Repository: "acme/widgets", Number: 3, Title: "c", Labels: []string{"bug"}},
	}

	q := newQueue(t)
	p := New(fake, q, []string{"acme/widgets"}, "ready", []string{"in-progress", "failed"})

	assert.Equal(t, 2, p.PollOnce(context.Background()))
	pending, _ := q.Counts()
	assert.Equal(t, 2, pending)
}

func TestPollOnceSkipsInProgressAndFailedLabels(t *testing.T) {
	fake := platform.NewFake()
	fake.Issues["acme/widgets"] = []platform.Issue{
		{Repository: "acme/widgets", Number: 1, Labels: []string{"ready", "in-progress"}},
		{Repository: "acme/widgets", Number: 2, Labels: []string{"ready", "failed"}},
		{Repository: "acme/widgets", Number: 3, Labels: []string{"ready"}},
	}

	q := newQueue(t)
	p := New(fake, q, []string{"acme/widgets"}, "ready", []string{"in-progress", "failed"})

	assert.Equal(t, 1, p.PollOnce(context.Background()))
	assert.True(t, q.Contains("acme/widgets", 3))
	assert.False(t, q.Contains("acme/widgets", 1))
}

func TestPollOnceIsIdempotentAcrossPolls(t *testing.T) {
	fake := platform.NewFake()
	fake.Issues["acme/widgets"] = []platform.Issue{
		{Repository: "acme/widgets", Number: 1, Labels: []string{"ready"}},
	}

	q := newQueue(t)
	p := New(fake, q, []string{"acme/widgets"}, "ready", nil)

	assert.Equal(t, 1, p.PollOnce(context.Background()))
	assert.Equal(t, 0, p.PollOnce(context.Background()), "rediscovered issues must not duplicate")
}

func TestPollOnceCoversMultipleRepositories(t *testing.T) {
	fake := platform.NewFake()
	fake.Issues["acme/widgets"] = []platform.Issue{
		{Repository: "acme/widgets", Number: 1, Labels: []string{"ready"}},
	}
	fake.Issues["acme/gears"] = []platform.Issue{
		{Repository: "acme/gears", Number: 1, Labels: []string{"ready"}},
	}

	q := newQueue(t)
	p := New(fake, q, []string{"acme/widgets", "acme/gears"}, "ready", nil)

	assert.Equal(t, 2, p.PollOnce(context.Background()))
	assert.True(t, q.Contains("acme/widgets", 1))
	assert.True(t, q.Contains("acme/gears", 1))
}

func TestPollOnceSurvivesListFailure(t *testing.T) {
	fake := platform.NewFake()
	fake.Err = context.DeadlineExceeded

	q := newQueue(t)
	p := New(fake, q, []string{"acme/widgets"}, "ready", nil)

	assert.Equal(t, 0, p.PollOnce(context.Background()))
}
