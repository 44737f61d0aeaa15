// Package registry tracks the workers known to the orchestrator and when
// each was last heard from.
package registry

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alanmeadows/foreman/internal/logging"
)

// Worker is one registered execution engine.
type Worker struct {
	ID           string    `json:"id"`
	Hostname     string    `json:"hostname,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Registry records worker liveness. Workers register implicitly: any request
// carrying a worker ID counts as a heartbeat.
type Registry struct {
	mu           sync.Mutex
	workers      map[string]*Worker
	staleTimeout time.Duration
	now          func() time.Time
	log          *slog.Logger
}

// New creates a registry. A worker unseen for staleTimeout is considered
// stale and its assignments become reclaimable.
func New(staleTimeout time.Duration) *Registry {
	return &Registry{
		workers:      make(map[string]*Worker),
		staleTimeout: staleTimeout,
		now:          time.Now,
		log:          logging.With("registry"),
	}
}

// Touch records a heartbeat, registering the worker on first contact.
func (r *Registry) Touch(id, hostname string) {
	if id == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	w, ok := r.workers[id]
	if !ok {
		r.workers[id] = &Worker{ID: id, Hostname: hostname, RegisteredAt: now, LastSeen: now}
		r.log.Info("worker registered", "worker", id, "hostname", hostname)
		return
	}
	w.LastSeen = now
	if hostname != "" {
		w.Hostname = hostname
	}
}

// IsStale reports whether the worker has not been heard from within the
// stale timeout. Unknown workers are stale.
func (r *Registry) IsStale(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.workers[id]
	if !ok {
		return true
	}
	return r.now().UTC().Sub(w.LastSeen) > r.staleTimeout
}

// List returns all known workers ordered by ID.
func (r *Registry) List() []Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Worker, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, *w)
	}
	slices.SortFunc(out, func(a, b Worker) int {
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out
}

// Prune drops workers unseen for well past the stale timeout so the
// registry does not grow without bound. Returns the removed IDs.
func (r *Registry) Prune() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().UTC().Add(-10 * r.staleTimeout)
	var removed []string
	for id, w := range r.workers {
		if w.LastSeen.Before(cutoff) {
			delete(r.workers, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		r.log.Info("pruned workers", "count", len(removed))
	}
	return removed
}
