package queue

import (
	"log/slog"
	"sync"
	"time"

	"github.com/alanmeadows/foreman/internal/logging"
	"github.com/alanmeadows/foreman/internal/platform"
	"github.com/alanmeadows/foreman/internal/store"
)

// Gate is consulted before dequeuing; the PR-review tracker implements it.
type Gate interface {
	Blocked() (bool, string)
}

// Queue holds all work items. Every exported method takes the single mutex;
// operations are short and never perform network I/O.
type Queue struct {
	mu          sync.Mutex
	pending     []*Item
	inProgress  map[string]*Item
	done        map[string]*Item
	maxAttempts int
	statePath   string
	log         *slog.Logger
}

// New creates a queue. If statePath is non-empty, previous state is loaded
// from it and every mutation is persisted back (atomic write under a file
// lock). In-progress assignments survive a restart; the stale-assignment
// timer reclaims them if their workers are gone.
func New(maxAttempts int, statePath string) (*Queue, error) {
	q := &Queue{
		inProgress:  make(map[string]*Item),
		done:        make(map[string]*Item),
		maxAttempts: maxAttempts,
		statePath:   statePath,
		log:         logging.With("queue"),
	}
	if statePath != "" {
		if err := q.load(); err != nil {
			return nil, err
		}
	}
	return q, nil
}

// Enqueue adds an issue unless it is already known in any state.
// Returns whether a new item was added.
func (q *Queue) Enqueue(issue platform.Issue) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := Key(issue.Repository, issue.Number)
	if q.findPending(key) != nil {
		return false
	}
	if _, ok := q.inProgress[key]; ok {
		return false
	}
	if _, ok := q.done[key]; ok {
		return false
	}

	q.pending = append(q.pending, &Item{
		Issue:      issue,
		BranchName: BranchFor(issue.Number),
		State:      StatePending,
		EnqueuedAt: time.Now().UTC(),
	})
	q.log.Info("enqueued", "issue", key)
	q.persistLocked()
	return true
}

// NextFor atomically selects the oldest pending item, transitions it to
// in_progress assigned to workerID, and returns a copy. When the gate
// blocks, no item is returned and the reason is set. Ties on the discovery
// second go to the lower issue number.
func (q *Queue) NextFor(workerID string, gate Gate) (*Item, string) {
	if gate != nil {
		if blocked, reason := gate.Blocked(); blocked {
			return nil, reason
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	idx := q.oldestPendingLocked()
	if idx < 0 {
		return nil, ""
	}

	item := q.pending[idx]
	q.pending = append(q.pending[:idx], q.pending[idx+1:]...)

	item.State = StateInProgress
	item.AssignedWorker = workerID
	item.AssignedAt = time.Now().UTC()
	q.inProgress[item.Key()] = item

	q.log.Info("assigned", "issue", item.Key(), "worker", workerID, "attempt", item.Attempts+1)
	q.persistLocked()

	copy := *item
	return &copy, ""
}

// ReportSuccess transitions the item to completed. Reporting success for an
// already-completed issue is idempotent: ok is still true, but fresh is
// false so callers do not repeat side effects they already performed.
func (q *Queue) ReportSuccess(workerID, repo string, number int, prURL string) (item *Item, fresh, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := Key(repo, number)

	if prior, ok := q.done[key]; ok && prior.State == StateCompleted {
		q.log.Info("duplicate success report", "issue", key, "worker", workerID)
		return prior, false, true
	}

	item, ok = q.inProgress[key]
	if !ok {
		q.log.Warn("success report for unassigned issue ignored", "issue", key, "worker", workerID)
		return nil, false, false
	}
	if item.AssignedWorker != workerID {
		q.log.Warn("success report from non-owning worker ignored",
			"issue", key, "worker", workerID, "owner", item.AssignedWorker)
		return nil, false, false
	}

	delete(q.inProgress, key)
	item.State = StateCompleted
	item.PRURL = prURL
	item.FinishedAt = time.Now().UTC()
	q.done[key] = item

	q.log.Info("completed", "issue", key, "pr", prURL)
	q.persistLocked()
	return item, true, true
}

// FailureOutcome describes what ReportFailure decided.
type FailureOutcome struct {
	Requeued bool
	Terminal bool
	Item     *Item
}

// ReportFailure applies the failure policy: transient kinds requeue with
// attempt unchanged; retriable kinds consume an attempt and requeue while
// attempts remain; permanent kinds (and exhausted retriable ones) are
// terminal. Reports for issues not assigned to the reporting worker are
// logged and ignored.
func (q *Queue) ReportFailure(workerID, repo string, number int, kind, detail string) FailureOutcome {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := Key(repo, number)

	item, ok := q.inProgress[key]
	if !ok {
		q.log.Warn("failure report for unassigned issue ignored", "issue", key, "worker", workerID, "kind", kind)
		return FailureOutcome{}
	}
	if item.AssignedWorker != workerID {
		q.log.Warn("failure report from non-owning worker ignored",
			"issue", key, "worker", workerID, "owner", item.AssignedWorker)
		return FailureOutcome{}
	}

	delete(q.inProgress, key)
	item.AssignedWorker = ""
	item.LastError = logging.Redact(detail)

	switch Classify(kind) {
	case ClassTransient:
		q.requeueLocked(item)
		q.log.Info("requeued after transient failure", "issue", key, "kind", kind, "attempt", item.Attempts)
		q.persistLocked()
		return FailureOutcome{Requeued: true, Item: item}

	case ClassRetriable:
		item.Attempts++
		if item.Attempts < q.maxAttempts {
			q.requeueLocked(item)
			q.log.Info("requeued after failure", "issue", key, "kind", kind, "attempt", item.Attempts)
			q.persistLocked()
			return FailureOutcome{Requeued: true, Item: item}
		}
		q.log.Warn("attempts exhausted", "issue", key, "kind", kind, "attempts", item.Attempts)
	case ClassPermanent:
		q.log.Warn("terminal failure", "issue", key, "kind", kind)
	}

	item.State = StateFailed
	item.FinishedAt = time.Now().UTC()
	q.done[key] = item
	q.persistLocked()
	return FailureOutcome{Terminal: true, Item: item}
}

// ExpireStale returns any in_progress item whose worker isStale reports true
// to pending, attempt unchanged. Returns the reclaimed items.
func (q *Queue) ExpireStale(isStale func(workerID string) bool) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	var reclaimed []*Item
	for key, item := range q.inProgress {
		if !isStale(item.AssignedWorker) {
			continue
		}
		q.log.Warn("reclaiming stale assignment", "issue", key, "worker", item.AssignedWorker)
		delete(q.inProgress, key)
		item.AssignedWorker = ""
		q.requeueLocked(item)
		reclaimed = append(reclaimed, item)
	}
	if len(reclaimed) > 0 {
		q.persistLocked()
	}
	return reclaimed
}

// Snapshot is a point-in-time copy of queue state for the HTTP surface.
type Snapshot struct {
	Pending    []Item          `json:"pending"`
	InProgress map[string]Item `json:"in_progress"`
	Completed  []Item          `json:"completed"`
	Failed     []Item          `json:"failed"`
}

// Snapshot returns a copy of all queue state.
func (q *Queue) Snapshot() Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := Snapshot{
		Pending:    make([]Item, 0, len(q.pending)),
		InProgress: make(map[string]Item, len(q.inProgress)),
	}
	for _, it := range q.pending {
		snap.Pending = append(snap.Pending, *it)
	}
	for k, it := range q.inProgress {
		snap.InProgress[k] = *it
	}
	for _, it := range q.done {
		if it.State == StateCompleted {
			snap.Completed = append(snap.Completed, *it)
		} else {
			snap.Failed = append(snap.Failed, *it)
		}
	}
	return snap
}

// Counts returns the pending and in-progress totals.
func (q *Queue) Counts() (pending, inProgress int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.inProgress)
}

// Contains reports whether the issue is known in any state.
func (q *Queue) Contains(repo string, number int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	key := Key(repo, number)
	if q.findPending(key) != nil {
		return true
	}
	if _, ok := q.inProgress[key]; ok {
		return true
	}
	_, ok := q.done[key]
	return ok
}

func (q *Queue) findPending(key string) *Item {
	for _, it := range q.pending {
		if it.Key() == key {
			return it
		}
	}
	return nil
}

// oldestPendingLocked picks the FIFO head: earliest discovery second, lower
// issue number on ties.
func (q *Queue) oldestPendingLocked() int {
	best := -1
	for i, it := range q.pending {
		if best < 0 {
			best = i
			continue
		}
		b := q.pending[best]
		bs, is := b.EnqueuedAt.Unix(), it.EnqueuedAt.Unix()
		if is < bs || (is == bs && it.Issue.Number < b.Issue.Number) {
			best = i
		}
	}
	return best
}

func (q *Queue) requeueLocked(item *Item) {
	item.State = StatePending
	q.pending = append(q.pending, item)
}

// persistedState is the on-disk representation.
type persistedState struct {
	Pending    []*Item          `json:"pending"`
	InProgress map[string]*Item `json:"in_progress"`
	Done       map[string]*Item `json:"done"`
}

// persistLocked writes state atomically. Persistence failures are logged,
// not fatal: the queue keeps serving from memory.
func (q *Queue) persistLocked() {
	if q.statePath == "" {
		return
	}
	state := persistedState{Pending: q.pending, InProgress: q.inProgress, Done: q.done}
	err := store.WithLock(q.statePath, store.DefaultLockTimeout, func() error {
		return store.WriteJSON(q.statePath, state)
	})
	if err != nil {
		q.log.Error("persisting queue state failed", "error", err)
	}
}

func (q *Queue) load() error {
	var state persistedState
	var ok bool
	err := store.WithLock(q.statePath, store.DefaultLockTimeout, func() error {
		var readErr error
		ok, readErr = store.ReadJSON(q.statePath, &state)
		return readErr
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	q.pending = state.Pending
	if state.InProgress != nil {
		q.inProgress = state.InProgress
	}
	if state.Done != nil {
		q.done = state.Done
	}
	q.log.Info("queue state restored",
		"pending", len(q.pending), "in_progress", len(q.inProgress), "done", len(q.done))
	return nil
}
