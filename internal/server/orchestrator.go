// Package server is the orchestrator control plane: it owns the queue, the
// PR-review tracker, the worker registry, and the background loops, and
// serves the HTTP control surface the workers and review tooling talk to.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alanmeadows/foreman/internal/config"
	"github.com/alanmeadows/foreman/internal/history"
	"github.com/alanmeadows/foreman/internal/logging"
	"github.com/alanmeadows/foreman/internal/metrics"
	"github.com/alanmeadows/foreman/internal/platform"
	"github.com/alanmeadows/foreman/internal/poller"
	"github.com/alanmeadows/foreman/internal/queue"
	"github.com/alanmeadows/foreman/internal/registry"
	"github.com/alanmeadows/foreman/internal/review"
)

// Version is stamped at build time.
var Version = "dev"

// Orchestrator wires the control-plane components together. Shared state
// lives in the queue, tracker, and registry, each with its own lock;
// handlers never do network I/O while holding one.
type Orchestrator struct {
	cfg     *config.Config
	client  platform.Client
	queue   *queue.Queue
	tracker *review.Tracker
	workers *registry.Registry
	poller  *poller.Poller
	metrics *metrics.Metrics
	archive *history.Store
	log     *slog.Logger

	startedAt time.Time
}

// NewOrchestrator builds the control plane from configuration. State files
// live under the data directory and survive restarts.
func NewOrchestrator(cfg *config.Config, client platform.Client) (*Orchestrator, error) {
	dataDir := cfg.DataDir()

	q, err := queue.New(cfg.Orchestrator.MaxAttempts, filepath.Join(dataDir, "queue.json"))
	if err != nil {
		return nil, fmt.Errorf("restoring queue state: %w", err)
	}
	tracker, err := review.New(cfg.Review.MaxPendingPRs, cfg.Review.BlockOnChangesRequested, filepath.Join(dataDir, "review.json"))
	if err != nil {
		return nil, fmt.Errorf("restoring review state: %w", err)
	}
	archive, err := history.Open(filepath.Join(dataDir, "history.db"))
	if err != nil {
		return nil, fmt.Errorf("opening history archive: %w", err)
	}

	o := &Orchestrator{
		cfg:       cfg,
		client:    client,
		queue:     q,
		tracker:   tracker,
		workers:   registry.New(cfg.Orchestrator.ParseStaleAssignmentTimeout()),
		metrics:   metrics.New(),
		archive:   archive,
		log:       logging.With("orchestrator"),
		startedAt: time.Now(),
	}
	o.poller = poller.New(
		client, q,
		cfg.Platform.RepositoryList(),
		cfg.Platform.ReadyLabel,
		[]string{cfg.Platform.InProgressLabel, cfg.Platform.FailedLabel},
	)
	o.refreshGauges()
	return o, nil
}

// Run starts the background loops and serves HTTP until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) error {
	go o.pollLoop(ctx)
	go o.staleLoop(ctx)
	if o.cfg.Orchestrator.ReviewSyncEnabled {
		go o.reviewSyncLoop(ctx)
	}

	defer o.archive.Close()
	return o.serve(ctx)
}

// pollLoop discovers ready issues once immediately, then on every tick.
func (o *Orchestrator) pollLoop(ctx context.Context) {
	poll := func() {
		enqueued := o.poller.PollOnce(ctx)
		o.metrics.IssuesEnqueued.Add(float64(enqueued))
		o.refreshGauges()
	}
	poll()

	ticker := time.NewTicker(o.cfg.Orchestrator.ParsePollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			poll()
		}
	}
}

// staleLoop periodically reclaims assignments from workers that stopped
// heartbeating and prunes long-gone workers.
func (o *Orchestrator) staleLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Orchestrator.ParseStaleAssignmentTimeout() / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimed := o.queue.ExpireStale(o.workers.IsStale)
			for range reclaimed {
				o.metrics.StaleReclaims.Inc()
			}
			o.workers.Prune()
			o.refreshGauges()
		}
	}
}

// reviewSyncLoop refreshes tracked PR review states from the platform so
// approvals and merges are picked up without anyone calling the review
// endpoints.
func (o *Orchestrator) reviewSyncLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Orchestrator.ParseReviewSyncInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.tracker.Sync(ctx, o.client)
			o.refreshGauges()
		}
	}
}

// assignWork hands the next eligible item to workerID.
func (o *Orchestrator) assignWork(workerID string) (*queue.Item, string) {
	item, reason := o.queue.NextFor(workerID, o.tracker)
	if reason != "" {
		o.metrics.BlockedDequeues.WithLabelValues(blockLabel(reason)).Inc()
		return nil, reason
	}
	if item == nil {
		return nil, ""
	}

	o.metrics.Assignments.Inc()
	o.refreshGauges()

	// Label updates are network I/O; keep them out of the request path.
	go o.swapLabels(item.Issue,
		[]string{o.cfg.Platform.ReadyLabel},
		[]string{o.cfg.Platform.InProgressLabel})
	return item, ""
}

// completeWork finalizes a successful publication: the item completes, the
// PR enters review tracking, and the issue is relabeled. A duplicate report
// for an already-completed item is acknowledged without repeating any of
// that; re-registering the PR could resurrect a merged entry and re-block
// the gate.
func (o *Orchestrator) completeWork(workerID, repo string, issueNumber int, prURL string, costUSD float64) bool {
	item, fresh, ok := o.queue.ReportSuccess(workerID, repo, issueNumber, prURL)
	if !ok {
		return false
	}
	if !fresh {
		return true
	}

	if prNumber := prNumberFromURL(prURL); prNumber > 0 {
		o.tracker.Register(repo, issueNumber, prNumber, prURL)
	} else {
		o.log.Warn("cannot parse PR number; review gate will not track it", "pr_url", prURL)
	}

	o.metrics.Completions.WithLabelValues("completed").Inc()
	if costUSD > 0 {
		o.metrics.WorkflowCostUSD.Add(costUSD)
	}
	o.observeDuration(item)
	o.refreshGauges()
	o.archiveItem(item, "completed", "")

	go func() {
		o.swapLabels(item.Issue,
			[]string{o.cfg.Platform.InProgressLabel},
			[]string{o.cfg.Platform.CompletedLabel})
		o.comment(item.Issue, fmt.Sprintf("Opened %s for review.", prURL))
	}()
	return true
}

// failWork applies the failure policy and, on terminal failure, relabels
// and comments on the issue.
func (o *Orchestrator) failWork(workerID, repo string, issueNumber int, kind, detail string) queue.FailureOutcome {
	out := o.queue.ReportFailure(workerID, repo, issueNumber, kind, detail)
	if out.Item == nil {
		return out
	}

	o.metrics.FailureKinds.WithLabelValues(nonEmpty(kind, "unknown")).Inc()
	o.refreshGauges()

	if out.Terminal {
		o.metrics.Completions.WithLabelValues(string(out.Item.State)).Inc()
		o.observeDuration(out.Item)
		o.archiveItem(out.Item, string(out.Item.State), kind)

		issue := out.Item.Issue
		lastError := out.Item.LastError
		go func() {
			o.swapLabels(issue,
				[]string{o.cfg.Platform.InProgressLabel},
				[]string{o.cfg.Platform.FailedLabel})
			o.comment(issue, failureComment(kind, lastError))
		}()
	}
	return out
}

// markReview applies a review event from the HTTP surface. The repository
// is found by scanning tracked entries when not supplied.
func (o *Orchestrator) markReview(repo string, prNumber int, state platform.ReviewState) bool {
	if repo == "" {
		e, ok := o.findTracked(prNumber)
		if !ok {
			o.log.Warn("review event for unknown pull request", "pr", prNumber, "state", state)
			return false
		}
		repo = e.Repository
	} else if _, ok := o.tracker.Lookup(repo, prNumber); !ok {
		o.log.Warn("review event for unknown pull request", "repo", repo, "pr", prNumber, "state", state)
		return false
	}

	switch state {
	case platform.ReviewApproved:
		o.tracker.MarkApproved(repo, prNumber)
	case platform.ReviewChangesRequested:
		o.tracker.MarkChangesRequested(repo, prNumber)
	case platform.ReviewMerged:
		o.tracker.MarkMerged(repo, prNumber)
	}
	o.refreshGauges()
	return true
}

func (o *Orchestrator) findTracked(prNumber int) (review.Entry, bool) {
	for _, e := range o.tracker.Entries() {
		if e.PRNumber == prNumber {
			return e, true
		}
	}
	return review.Entry{}, false
}

func (o *Orchestrator) archiveItem(item *queue.Item, outcome, kind string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := o.archive.Append(ctx, history.Record{
		Repository:  item.Issue.Repository,
		IssueNumber: item.Issue.Number,
		Title:       item.Issue.Title,
		Outcome:     outcome,
		FailureKind: kind,
		PRURL:       item.PRURL,
		Attempts:    item.Attempts,
		Worker:      item.AssignedWorker,
		FinishedAt:  item.FinishedAt,
	})
	if err != nil {
		o.log.Error("archiving workflow failed", "issue", item.Key(), "error", err)
	}
}

func (o *Orchestrator) swapLabels(issue platform.Issue, remove, add []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, l := range remove {
		if err := o.client.RemoveLabel(ctx, issue.Repository, issue.Number, l); err != nil {
			o.log.Warn("removing label failed", "issue", issue.Number, "label", l, "error", err)
		}
	}
	for _, l := range add {
		if err := o.client.AddLabel(ctx, issue.Repository, issue.Number, l); err != nil {
			o.log.Warn("adding label failed", "issue", issue.Number, "label", l, "error", err)
		}
	}
}

func (o *Orchestrator) comment(issue platform.Issue, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := o.client.PostComment(ctx, issue.Repository, issue.Number, body); err != nil {
		o.log.Warn("posting comment failed", "issue", issue.Number, "error", err)
	}
}

func (o *Orchestrator) observeDuration(item *queue.Item) {
	if item.AssignedAt.IsZero() || item.FinishedAt.IsZero() {
		return
	}
	o.metrics.WorkflowDuration.Observe(item.FinishedAt.Sub(item.AssignedAt).Seconds())
}

func (o *Orchestrator) refreshGauges() {
	pending, inProgress := o.queue.Counts()
	o.metrics.QueueDepth.Set(float64(pending))
	o.metrics.InProgress.Set(float64(inProgress))
	o.metrics.TrackedPRs.Set(float64(len(o.tracker.Entries())))
}

// failureComment renders the terminal-failure comment: the kind and a
// single redacted line, never a stack trace.
func failureComment(kind, detail string) string {
	detail = logging.Redact(detail)
	if i := strings.IndexByte(detail, '\n'); i >= 0 {
		detail = detail[:i]
	}
	if detail == "" {
		return fmt.Sprintf("Automated work failed (%s). The issue has been labeled for triage.", nonEmpty(kind, "unknown"))
	}
	return fmt.Sprintf("Automated work failed (%s): %s", nonEmpty(kind, "unknown"), detail)
}

// prNumberFromURL extracts the trailing number of a pull request URL.
func prNumberFromURL(url string) int {
	url = strings.TrimRight(url, "/")
	i := strings.LastIndexByte(url, '/')
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(url[i+1:])
	if err != nil {
		return 0
	}
	return n
}

func blockLabel(reason string) string {
	if strings.HasPrefix(reason, "changes requested") {
		return "changes_requested"
	}
	return "max_pending"
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
