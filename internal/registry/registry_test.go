package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTouchRegistersAndUpdates(t *testing.T) {
	r := New(10 * time.Minute)

	r.Touch("w1", "box-a")
	r.Touch("w2", "box-b")
	r.Touch("w1", "")

	workers := r.List()
	assert.Len(t, workers, 2)
	assert.Equal(t, "w1", workers[0].ID)
	assert.Equal(t, "box-a", workers[0].Hostname, "empty hostname must not clobber a known one")
}

func TestIsStale(t *testing.T) {
	r := New(10 * time.Minute)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	r.Touch("w1", "")
	assert.False(t, r.IsStale("w1"))
	assert.True(t, r.IsStale("unknown"))

	r.now = func() time.Time { return base.Add(9 * time.Minute) }
	assert.False(t, r.IsStale("w1"))

	r.now = func() time.Time { return base.Add(11 * time.Minute) }
	assert.True(t, r.IsStale("w1"))
}

func TestHeartbeatResetsStaleness(t *testing.T) {
	r := New(10 * time.Minute)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	r.Touch("w1", "")

	r.now = func() time.Time { return base.Add(9 * time.Minute) }
	r.Touch("w1", "")

	r.now = func() time.Time { return base.Add(15 * time.Minute) }
	assert.False(t, r.IsStale("w1"))
}

func TestPrune(t *testing.T) {
	r := New(time.Minute)
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }
	r.Touch("old", "")

	r.now = func() time.Time { return base.Add(time.Hour) }
	r.Touch("fresh", "")

	removed := r.Prune()
	assert.Equal(t, []string{"old"}, removed)
	assert.Len(t, r.List(), 1)
}
