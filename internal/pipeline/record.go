package pipeline

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/alanmeadows/foreman/internal/agent"
	"github.com/alanmeadows/foreman/internal/logging"
	"github.com/alanmeadows/foreman/internal/queue"
	"github.com/alanmeadows/foreman/internal/store"
)

// Record archives one workflow: every agent result in order, the revision
// count, and the terminal state. Written once, at termination.
type Record struct {
	Repository   string         `json:"repository"`
	IssueNumber  int            `json:"issue_number"`
	Title        string         `json:"title"`
	Task         string         `json:"task"`
	Worker       string         `json:"worker"`
	Revisions    int            `json:"revisions"`
	Phases       []agent.Result `json:"phases"`
	Status       Status         `json:"status"`
	FailureKind  string         `json:"failure_kind,omitempty"`
	Detail       string         `json:"detail,omitempty"`
	PRURL        string         `json:"pr_url,omitempty"`
	TotalCostUSD float64        `json:"total_cost_usd"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
}

func newRecord(item *queue.Item, workerID string) *Record {
	return &Record{
		Repository:  item.Issue.Repository,
		IssueNumber: item.Issue.Number,
		Title:       item.Issue.Title,
		Worker:      workerID,
		StartedAt:   time.Now().UTC(),
	}
}

func (r *Record) addResult(res *agent.Result) {
	// Raw output is bulky and already summarized in Output; keep the archive
	// readable.
	archived := *res
	archived.Raw = ""
	r.Phases = append(r.Phases, archived)
	r.TotalCostUSD += res.CostUSD
}

func (r *Record) finalize(o *Outcome) {
	r.FinishedAt = time.Now().UTC()
	r.Status = o.Status
	r.FailureKind = o.FailureKind
	// Detail can embed command errors; never persist a secret shape.
	r.Detail = logging.Redact(o.Detail)
	if o.PR != nil {
		r.PRURL = o.PR.URL
	}
}

// metricsLine is one entry in the newline-delimited metrics stream.
type metricsLine struct {
	Timestamp   time.Time `json:"ts"`
	Repository  string    `json:"repository"`
	IssueNumber int       `json:"issue_number"`
	Status      Status    `json:"status"`
	Revisions   int       `json:"revisions"`
	Phases      int       `json:"phases"`
	CostUSD     float64   `json:"cost_usd"`
	DurationSec float64   `json:"duration_seconds"`
}

// write persists the record under dir: one JSON file per workflow plus an
// appended metrics line.
func (r *Record) write(dir string) error {
	name := fmt.Sprintf("issue-%d-%d.json", r.IssueNumber, r.FinishedAt.Unix())
	if err := store.WriteJSON(filepath.Join(dir, "workflows", name), r); err != nil {
		return err
	}

	line, err := json.Marshal(metricsLine{
		Timestamp:   r.FinishedAt,
		Repository:  r.Repository,
		IssueNumber: r.IssueNumber,
		Status:      r.Status,
		Revisions:   r.Revisions,
		Phases:      len(r.Phases),
		CostUSD:     r.TotalCostUSD,
		DurationSec: r.FinishedAt.Sub(r.StartedAt).Seconds(),
	})
	if err != nil {
		return err
	}
	return store.AppendLine(filepath.Join(dir, "metrics.ndjson"), line)
}
