// Package poller discovers labeled issues across the configured
// repositories and feeds them to the work queue.
package poller

import (
	"context"
	"log/slog"

	"github.com/alanmeadows/foreman/internal/logging"
	"github.com/alanmeadows/foreman/internal/platform"
	"github.com/alanmeadows/foreman/internal/queue"
)

// Poller lists open issues carrying the ready label and enqueues the ones
// not already known to the queue. The orchestrator owns the poll cadence.
type Poller struct {
	client       platform.Client
	queue        *queue.Queue
	repositories []string
	readyLabel   string
	skipLabels   []string
	log          *slog.Logger
}

// New creates a poller. Issues carrying any of skipLabels (typically the
// in-progress and failed labels) are ignored even when labeled ready.
func New(client platform.Client, q *queue.Queue, repositories []string, readyLabel string, skipLabels []string) *Poller {
	return &Poller{
		client:       client,
		queue:        q,
		repositories: repositories,
		readyLabel:   readyLabel,
		skipLabels:   skipLabels,
		log:          logging.With("poller"),
	}
}

// PollOnce scans every configured repository and returns how many new
// issues were enqueued. A repository that fails to list is logged and
// skipped; the rest still poll.
func (p *Poller) PollOnce(ctx context.Context) int {
	enqueued := 0
	for _, repo := range p.repositories {
		issues, err := p.client.ListIssuesByLabel(ctx, repo, p.readyLabel)
		if err != nil {
			p.log.Warn("listing issues failed", "repo", repo, "error", err)
			continue
		}
		for _, issue := range issues {
			if p.shouldSkip(issue) {
				continue
			}
			if p.queue.Enqueue(issue) {
				enqueued++
			}
		}
	}
	if enqueued > 0 {
		p.log.Info("poll complete", "enqueued", enqueued)
	}
	return enqueued
}

func (p *Poller) shouldSkip(issue platform.Issue) bool {
	for _, l := range issue.Labels {
		for _, skip := range p.skipLabels {
			if l == skip {
				p.log.Debug("skipping issue", "issue", queue.Key(issue.Repository, issue.Number), "label", l)
				return true
			}
		}
	}
	return false
}
