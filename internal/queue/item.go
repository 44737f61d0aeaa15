// Package queue implements the orchestrator's work queue and assigner: a
// FIFO pending set, an in-progress map keyed by issue identity, terminal
// sets, and the failure policy that decides requeue versus terminal failure.
package queue

import (
	"fmt"
	"time"

	"github.com/alanmeadows/foreman/internal/platform"
)

// State is a work item's lifecycle state.
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Item is one pipeline execution targeting one issue.
type Item struct {
	Issue          platform.Issue `json:"issue"`
	BranchName     string         `json:"branch_name"`
	Attempts       int            `json:"attempts"`
	State          State          `json:"state"`
	AssignedWorker string         `json:"assigned_worker,omitempty"`
	EnqueuedAt     time.Time      `json:"enqueued_at"`
	AssignedAt     time.Time      `json:"assigned_at,omitzero"`
	FinishedAt     time.Time      `json:"finished_at,omitzero"`
	PRURL          string         `json:"pr_url,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
}

// Key identifies an issue across repositories.
func Key(repo string, number int) string {
	return fmt.Sprintf("%s#%d", repo, number)
}

// Key returns the item's issue identity key.
func (i *Item) Key() string {
	return Key(i.Issue.Repository, i.Issue.Number)
}

// BranchFor returns the feature branch name for an issue number.
func BranchFor(number int) string {
	return fmt.Sprintf("feature/issue-%d", number)
}

// FailureClass groups reported failure kinds into retry policy buckets:
// transient failures requeue without consuming an attempt, retriable
// failures consume one, permanent failures are terminal.
type FailureClass int

const (
	// ClassTransient: external conditions that resolve on their own
	// (credit exhaustion, network, auth at startup). Requeued, attempt
	// unchanged.
	ClassTransient FailureClass = iota
	// ClassRetriable: the task may succeed on another run. Attempt is
	// incremented; requeued while attempts remain.
	ClassRetriable
	// ClassPermanent: retrying would re-enter the same state (silent phase
	// failure, rejection, workspace violations). Terminal.
	ClassPermanent
)

// Classify maps a reported failure kind to its policy class. Unknown kinds
// are treated as retriable so a newer worker cannot strand work.
func Classify(kind string) FailureClass {
	switch kind {
	case "credit_exhausted", "network", "auth_startup", "aborted":
		return ClassTransient
	case "empty_diff", "rejected", "workspace", "config":
		return ClassPermanent
	default:
		return ClassRetriable
	}
}
