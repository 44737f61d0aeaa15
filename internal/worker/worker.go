// Package worker implements the execution engine: it polls the
// orchestrator for assignments, runs each through the pipeline, and reports
// the outcome.
package worker

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanmeadows/foreman/internal/config"
	"github.com/alanmeadows/foreman/internal/logging"
	"github.com/alanmeadows/foreman/internal/pipeline"
	"github.com/alanmeadows/foreman/internal/platform"
	"github.com/alanmeadows/foreman/internal/queue"
)

// PipelineRunner runs one work item to a terminal outcome; the pipeline
// driver implements it.
type PipelineRunner interface {
	Run(ctx context.Context, item *queue.Item, workerID string) *pipeline.Outcome
}

// Worker is one polling execution engine instance.
type Worker struct {
	id             string
	api            *apiClient
	driver         PipelineRunner
	pollInterval   time.Duration
	creditCooldown time.Duration
	log            *slog.Logger

	// sleep is swapped out by tests.
	sleep func(time.Duration)
}

// New creates a worker with a fresh identity.
func New(cfg *config.Config, driver PipelineRunner) *Worker {
	id := uuid.NewString()
	return &Worker{
		id:             id,
		api:            newAPIClient(strings.TrimRight(cfg.Worker.OrchestratorURL, "/"), id),
		driver:         driver,
		pollInterval:   cfg.Worker.ParsePollInterval(),
		creditCooldown: cfg.Worker.ParseCreditCooldown(),
		log:            logging.With("worker").With("worker_id", id),
		sleep:          time.Sleep,
	}
}

// ID returns the worker's identity.
func (w *Worker) ID() string { return w.id }

// Run polls until ctx is done. A held work item is always reported before
// returning, even when ctx was cancelled mid-pipeline, so the orchestrator
// does not have to wait out the staleness timer.
func (w *Worker) Run(ctx context.Context) error {
	hostname, _ := os.Hostname()
	w.log.Info("worker started", "hostname", hostname, "poll_interval", w.pollInterval)

	for {
		if ctx.Err() != nil {
			w.log.Info("worker stopping")
			return nil
		}

		work, err := w.api.NextWork(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("work request failed", "error", err)
			w.pause(ctx, w.pollInterval)
			continue
		}

		if !work.WorkAvailable {
			if work.Blocked {
				w.log.Info("assignment gated", "reason", work.Reason)
			}
			w.pause(ctx, w.pollInterval)
			continue
		}

		cooldown := w.execute(ctx, work)
		if cooldown > 0 {
			w.log.Warn("cooling down", "duration", cooldown)
			w.pause(ctx, cooldown)
		}
	}
}

// execute runs one assignment end to end and reports its outcome. Returns
// a nonzero cool-down when the worker should pause before polling again.
func (w *Worker) execute(ctx context.Context, work *workResponse) time.Duration {
	item := &queue.Item{
		Issue: platform.Issue{
			Repository: work.Repository,
			Number:     work.IssueNumber,
			Title:      work.Title,
			Body:       work.Body,
			Labels:     work.Labels,
		},
		BranchName: work.BranchName,
	}
	w.log.Info("executing", "issue", item.Key(), "branch", item.BranchName)

	out := w.driver.Run(ctx, item, w.id)

	// Reporting must survive a cancelled run context.
	reportCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if ctx.Err() != nil && out.Status != pipeline.StatusApproved {
		// The pipeline was interrupted by shutdown; hand the item back
		// without burning an attempt.
		out.FailureKind = "aborted"
		out.Detail = "worker shut down mid-pipeline"
	}

	switch out.Status {
	case pipeline.StatusApproved:
		var cost float64
		if out.Record != nil {
			cost = out.Record.TotalCostUSD
		}
		if err := w.api.ReportComplete(reportCtx, item.Issue.Repository, item.Issue.Number, out.PR.URL, cost); err != nil {
			w.log.Error("reporting completion failed", "issue", item.Key(), "error", err)
		}
		return 0
	default:
		if err := w.api.ReportFailed(reportCtx, item.Issue.Repository, item.Issue.Number, out.FailureKind, out.Detail); err != nil {
			w.log.Error("reporting failure failed", "issue", item.Key(), "error", err)
		}
		if out.FailureKind == "credit_exhausted" {
			return w.creditCooldown
		}
		return 0
	}
}

func (w *Worker) pause(ctx context.Context, d time.Duration) {
	if ctx.Err() != nil {
		return
	}
	w.sleep(d)
}
