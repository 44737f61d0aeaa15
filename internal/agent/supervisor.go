package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/alanmeadows/foreman/internal/config"
	"github.com/alanmeadows/foreman/internal/logging"
)

// creditExhaustedPhrase is the known subprocess output for an exhausted
// account. It must never be misclassified as a generic agent failure.
const creditExhaustedPhrase = "credit balance is too low"

// maxCapturedStderr bounds how much subprocess stderr is retained.
const maxCapturedStderr = 64 * 1024

// Invocation describes one agent run.
type Invocation struct {
	Role         Role
	Task         string
	SystemPrompt string
	AllowedTools []string
	Workspace    string
}

// Supervisor runs the code-generation subprocess with per-phase
// configuration and applies the retry policy.
type Supervisor struct {
	command     string
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	log         *slog.Logger

	// sleep is swapped out by tests.
	sleep func(time.Duration)
}

// NewSupervisor builds a Supervisor from the CLI and workflow config.
func NewSupervisor(cli config.AgentCLIConfig, wf config.WorkflowConfig) *Supervisor {
	return &Supervisor{
		command:     cli.Command,
		timeout:     cli.Timeout(),
		maxRetries:  wf.MaxAgentRetries,
		backoffBase: wf.RetryBackoffBase(),
		log:         logging.With("agent"),
		sleep:       time.Sleep,
	}
}

// Execute runs the invocation, retrying retriable failures up to the
// configured limit with exponential backoff. It always returns a Result;
// the error mirrors Result.Kind for callers that branch on failure.
func (s *Supervisor) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	var res *Result

	for attempt := 1; attempt <= s.maxRetries+1; attempt++ {
		res = s.runOnce(ctx, inv)
		res.Attempts = attempt

		if res.Success {
			s.log.Info("agent succeeded",
				"role", inv.Role, "attempt", attempt,
				"cost_usd", res.CostUSD, "turns", res.NumTurns)
			return res, nil
		}

		s.log.Warn("agent failed",
			"role", inv.Role, "attempt", attempt,
			"kind", res.Kind, "detail", logging.Redact(res.Detail))

		if !res.Kind.Retriable() || attempt > s.maxRetries {
			break
		}

		backoff := s.backoffBase * (1 << (attempt - 1))
		s.log.Info("retrying agent", "role", inv.Role, "backoff", backoff)
		select {
		case <-ctx.Done():
			return res, fmt.Errorf("agent %s: %s: %s", inv.Role, res.Kind, res.Detail)
		default:
		}
		s.sleep(backoff)
	}

	return res, fmt.Errorf("agent %s: %s: %s", inv.Role, res.Kind, logging.Redact(res.Detail))
}

// runOnce launches the subprocess once and classifies the outcome.
func (s *Supervisor) runOnce(ctx context.Context, inv Invocation) *Result {
	res := &Result{Role: inv.Role}
	start := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	args := []string{
		"-p", inv.Task,
		"--output-format", "json",
		"--system-prompt", inv.SystemPrompt,
		"--dangerously-skip-permissions",
	}
	if len(inv.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(inv.AllowedTools, ","))
	}

	cmd := exec.CommandContext(runCtx, s.command, args...)
	// The workspace is the cwd for the subprocess; the worker process never
	// changes its own working directory.
	cmd.Dir = inv.Workspace
	// Suppress any interactive terminal prompt.
	cmd.Env = append(os.Environ(), "TERM=dumb", "NO_COLOR=1", "CI=true")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res.Duration = time.Since(start)

	rawOut := stdout.String()
	rawErr := truncate(stderr.String(), maxCapturedStderr)
	res.Raw = rawOut

	// Credit exhaustion wins over every other classification, wherever the
	// phrase appears.
	if containsCreditPhrase(rawOut) || containsCreditPhrase(rawErr) {
		res.Kind = KindCreditExhausted
		res.Detail = "credit balance exhausted"
		return res
	}

	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			res.Kind = KindTimeout
			res.Detail = fmt.Sprintf("wall clock exceeded %s", s.timeout)
			return res
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.Kind = KindNonZeroExit
			res.Detail = fmt.Sprintf("exit code %d: %s", exitErr.ExitCode(), logging.Redact(strings.TrimSpace(rawErr)))
			return res
		}
		res.Kind = KindNonZeroExit
		res.Detail = err.Error()
		return res
	}

	var out cliOutput
	if jsonErr := json.Unmarshal([]byte(strings.TrimSpace(rawOut)), &out); jsonErr != nil {
		res.Kind = KindMalformedOutput
		res.Detail = fmt.Sprintf("unparseable agent output: %v", jsonErr)
		return res
	}

	res.Output = out.Result
	res.CostUSD = out.TotalCostUSD
	res.NumTurns = out.NumTurns
	res.SessionID = out.SessionID
	if out.DurationMS > 0 {
		res.Duration = time.Duration(out.DurationMS) * time.Millisecond
	}

	// Re-check the parsed result text; the phrase may only appear there.
	if containsCreditPhrase(out.Result) {
		res.Kind = KindCreditExhausted
		res.Detail = "credit balance exhausted"
		return res
	}

	if out.IsError {
		res.Kind = KindAgentError
		res.Detail = truncate(out.Result, 512)
		return res
	}

	res.Success = true
	return res
}

func containsCreditPhrase(s string) bool {
	return strings.Contains(strings.ToLower(s), creditExhaustedPhrase)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
