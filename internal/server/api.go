package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/alanmeadows/foreman/internal/platform"
	"github.com/alanmeadows/foreman/internal/queue"
	"github.com/alanmeadows/foreman/internal/registry"
)

// prReviewSummary is the pr_review object embedded in /health and the core
// of /pr-review/status.
type prReviewSummary struct {
	Pending          int    `json:"pending"`
	ChangesRequested int    `json:"changes_requested"`
	Approved         int    `json:"approved"`
	QueueBlocked     bool   `json:"queue_blocked"`
	BlockingReason   string `json:"blocking_reason,omitempty"`
}

func (o *Orchestrator) reviewSummary() prReviewSummary {
	var s prReviewSummary
	for _, e := range o.tracker.Entries() {
		switch e.State {
		case platform.ReviewPending:
			s.Pending++
		case platform.ReviewChangesRequested:
			s.ChangesRequested++
		case platform.ReviewApproved:
			s.Approved++
		}
	}
	s.QueueBlocked, s.BlockingReason = o.tracker.Blocked()
	return s
}

func (o *Orchestrator) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", o.handleHealth)
	mux.HandleFunc("GET /workers", o.handleWorkers)
	mux.HandleFunc("GET /queue", o.handleQueue)
	mux.HandleFunc("GET /work/next", o.handleWorkNext)
	mux.HandleFunc("POST /work/complete", o.handleWorkComplete)
	mux.HandleFunc("POST /work/failed", o.handleWorkFailed)
	mux.HandleFunc("GET /pr-review/status", o.handleReviewStatus)
	mux.HandleFunc("POST /pr-review/approved/{number}", o.reviewHandler(platform.ReviewApproved))
	mux.HandleFunc("POST /pr-review/changes-requested/{number}", o.reviewHandler(platform.ReviewChangesRequested))
	mux.HandleFunc("POST /pr-review/merged/{number}", o.reviewHandler(platform.ReviewMerged))
	mux.HandleFunc("GET /history", o.handleHistory)
	mux.Handle("GET /metrics", o.metrics.Handler())
	return mux
}

func (o *Orchestrator) handleHealth(w http.ResponseWriter, r *http.Request) {
	pending, inProgress := o.queue.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "running",
		"version":     Version,
		"uptime":      time.Since(o.startedAt).Round(time.Second).String(),
		"workers":     len(o.workers.List()),
		"pending":     pending,
		"in_progress": inProgress,
		"pr_review":   o.reviewSummary(),
	})
}

// workerStatus is one /workers entry: the registry record joined with the
// worker's current assignment, if any.
type workerStatus struct {
	registry.Worker
	CurrentIssue string `json:"current_issue,omitempty"`
	CurrentRepo  string `json:"current_repository,omitempty"`
}

func (o *Orchestrator) handleWorkers(w http.ResponseWriter, r *http.Request) {
	assigned := make(map[string]queue.Item)
	for _, item := range o.queue.Snapshot().InProgress {
		assigned[item.AssignedWorker] = item
	}

	out := make([]workerStatus, 0)
	for _, worker := range o.workers.List() {
		s := workerStatus{Worker: worker}
		if item, ok := assigned[worker.ID]; ok {
			s.CurrentIssue = item.Key()
			s.CurrentRepo = item.Issue.Repository
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, out)
}

func (o *Orchestrator) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, o.queue.Snapshot())
}

func (o *Orchestrator) handleWorkNext(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("worker_id")
	if workerID == "" {
		http.Error(w, "worker_id is required", http.StatusBadRequest)
		return
	}
	o.workers.Touch(workerID, r.URL.Query().Get("hostname"))

	item, reason := o.assignWork(workerID)
	switch {
	case reason != "":
		writeJSON(w, http.StatusOK, map[string]any{
			"work_available": false,
			"blocked":        true,
			"reason":         reason,
		})
	case item == nil:
		writeJSON(w, http.StatusOK, map[string]any{"work_available": false})
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"work_available": true,
			"repository":     item.Issue.Repository,
			"issue_number":   item.Issue.Number,
			"title":          item.Issue.Title,
			"body":           item.Issue.Body,
			"labels":         item.Issue.Labels,
			"branch_name":    item.BranchName,
		})
	}
}

type completeRequest struct {
	WorkerID    string  `json:"worker_id"`
	Repository  string  `json:"repository"`
	IssueNumber int     `json:"issue_number"`
	PRURL       string  `json:"pr_url"`
	Success     bool    `json:"success"`
	CostUSD     float64 `json:"cost_usd,omitempty"`
}

func (o *Orchestrator) handleWorkComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o.workers.Touch(req.WorkerID, "")

	if !req.Success {
		http.Error(w, "use /work/failed for unsuccessful work", http.StatusBadRequest)
		return
	}
	if !o.completeWork(req.WorkerID, req.Repository, req.IssueNumber, req.PRURL, req.CostUSD) {
		http.Error(w, "issue is not assigned to this worker", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type failedRequest struct {
	WorkerID    string `json:"worker_id"`
	Repository  string `json:"repository"`
	IssueNumber int    `json:"issue_number"`
	Error       string `json:"error"`
	Kind        string `json:"kind,omitempty"`
}

func (o *Orchestrator) handleWorkFailed(w http.ResponseWriter, r *http.Request) {
	var req failedRequest
	if !decodeBody(w, r, &req) {
		return
	}
	o.workers.Touch(req.WorkerID, "")

	out := o.failWork(req.WorkerID, req.Repository, req.IssueNumber, req.Kind, req.Error)
	if out.Item == nil {
		http.Error(w, "issue is not assigned to this worker", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"requeued": out.Requeued,
		"terminal": out.Terminal,
	})
}

func (o *Orchestrator) handleReviewStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"summary": o.reviewSummary(),
		"entries": o.tracker.Entries(),
		"config": map[string]any{
			"max_pending_prs":            o.cfg.Review.MaxPendingPRs,
			"block_on_changes_requested": o.cfg.Review.BlockOnChangesRequested,
			"allow_parallel_independent": o.cfg.Review.AllowParallelIndependent,
		},
	})
}

// reviewHandler builds the POST /pr-review/<event>/{number} handlers. An
// optional ?repo= disambiguates when PR numbers collide across repositories.
func (o *Orchestrator) reviewHandler(state platform.ReviewState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		number, err := strconv.Atoi(r.PathValue("number"))
		if err != nil || number <= 0 {
			http.Error(w, "invalid pull request number", http.StatusBadRequest)
			return
		}
		if !o.markReview(r.URL.Query().Get("repo"), number, state) {
			http.Error(w, "pull request is not tracked", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "state": state})
	}
}

func (o *Orchestrator) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if repo := q.Get("repo"); repo != "" {
		number, err := strconv.Atoi(q.Get("issue"))
		if err != nil || number <= 0 {
			http.Error(w, "issue is required with repo", http.StatusBadRequest)
			return
		}
		records, err := o.archive.ForIssue(r.Context(), repo, number)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, records)
		return
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	records, err := o.archive.Recent(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
