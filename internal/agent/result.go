// Package agent supervises the opaque code-generation subprocess: one
// invocation per pipeline phase, with result parsing, a closed error
// taxonomy, and retry with exponential backoff.
package agent

import "time"

// Role identifies which pipeline phase an invocation runs as.
type Role string

const (
	RoleArchitect    Role = "Architect"
	RoleSecurity     Role = "Security"
	RoleTester       Role = "Tester"
	RoleProductOwner Role = "ProductOwner"
)

// Kind is the closed error taxonomy for agent invocations. The empty kind
// means success.
type Kind string

const (
	KindNone            Kind = ""
	KindCreditExhausted Kind = "credit_exhausted"
	KindTimeout         Kind = "timeout"
	KindNonZeroExit     Kind = "nonzero_exit"
	KindMalformedOutput Kind = "malformed_output"
	KindAgentError      Kind = "agent_error"
)

// Retriable reports whether the supervisor may retry this kind locally.
// Credit exhaustion is never retried here; it propagates to the worker main
// loop for backoff-and-resume.
func (k Kind) Retriable() bool {
	switch k {
	case KindTimeout, KindNonZeroExit, KindMalformedOutput, KindAgentError:
		return true
	default:
		return false
	}
}

// Result is the immutable outcome of one supervised invocation (including
// any local retries). It is archived into the workflow record.
type Result struct {
	Role      Role          `json:"role"`
	Success   bool          `json:"success"`
	Kind      Kind          `json:"kind,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	Output    string        `json:"output"`
	Raw       string        `json:"-"`
	CostUSD   float64       `json:"cost_usd"`
	Duration  time.Duration `json:"duration"`
	NumTurns  int           `json:"num_turns"`
	SessionID string        `json:"session_id,omitempty"`
	Attempts  int           `json:"attempts"`
}

// cliOutput is the JSON object the subprocess prints on stdout. Missing
// non-essential fields default to zero.
type cliOutput struct {
	Result       string  `json:"result"`
	IsError      bool    `json:"is_error"`
	DurationMS   int64   `json:"duration_ms"`
	NumTurns     int     `json:"num_turns"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	SessionID    string  `json:"session_id"`
}
