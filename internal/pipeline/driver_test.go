package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanmeadows/foreman/internal/agent"
	"github.com/alanmeadows/foreman/internal/config"
	"github.com/alanmeadows/foreman/internal/platform"
	"github.com/alanmeadows/foreman/internal/queue"
	"github.com/alanmeadows/foreman/internal/workspace"
)

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// newOrigin builds a bare repository with one commit on main, to stand in
// for the hosting platform's remote.
func newOrigin(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	seed := t.TempDir()
	runGit(t, seed, "init", "--initial-branch", "main")
	runGit(t, seed, "config", "user.name", "test")
	runGit(t, seed, "config", "user.email", "test@localhost")
	require.NoError(t, os.WriteFile(filepath.Join(seed, "README.md"), []byte("hello\n"), 0644))
	runGit(t, seed, "add", "-A")
	runGit(t, seed, "commit", "-m", "initial commit")

	origin := filepath.Join(t.TempDir(), "origin.git")
	runGit(t, seed, "clone", "--bare", seed, origin)
	return origin
}

// fakeAgents scripts per-role behavior for the driver.
type fakeAgents struct {
	handlers map[agent.Role]func(call int, inv agent.Invocation) (*agent.Result, error)
	counts   map[agent.Role]int
	tasks    map[agent.Role][]string
}

func newFakeAgents() *fakeAgents {
	return &fakeAgents{
		handlers: make(map[agent.Role]func(int, agent.Invocation) (*agent.Result, error)),
		counts:   make(map[agent.Role]int),
		tasks:    make(map[agent.Role][]string),
	}
}

func (f *fakeAgents) Execute(_ context.Context, inv agent.Invocation) (*agent.Result, error) {
	f.counts[inv.Role]++
	f.tasks[inv.Role] = append(f.tasks[inv.Role], inv.Task)
	if h, ok := f.handlers[inv.Role]; ok {
		return h(f.counts[inv.Role], inv)
	}
	return writeAndSucceed(inv, fmt.Sprintf("%s-%d.txt", strings.ToLower(string(inv.Role)), f.counts[inv.Role]))
}

// writeAndSucceed drops a file in the workspace (the driver commits it) and
// reports success.
func writeAndSucceed(inv agent.Invocation, name string) (*agent.Result, error) {
	if err := os.WriteFile(filepath.Join(inv.Workspace, name), []byte("work\n"), 0644); err != nil {
		return nil, err
	}
	return &agent.Result{
		Role:     inv.Role,
		Success:  true,
		Output:   "done",
		CostUSD:  0.05,
		Duration: time.Second,
		Attempts: 1,
	}, nil
}

func succeedWith(output string) func(int, agent.Invocation) (*agent.Result, error) {
	return func(_ int, inv agent.Invocation) (*agent.Result, error) {
		return &agent.Result{Role: inv.Role, Success: true, Output: output, Attempts: 1}, nil
	}
}

func newDriver(t *testing.T, agents AgentRunner, client platform.Client, cfg *config.Config, recordDir string) *Driver {
	t.Helper()
	origin := newOrigin(t)

	cfg.Workspace.Root = t.TempDir()
	mgr, err := workspace.NewManager(cfg.Workspace, slog.Default())
	require.NoError(t, err)

	d := New(agents, client, mgr, cfg, recordDir)
	d.cloneURL = func(string) string { return origin }
	return d
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Platform.Token = "test-token"
	cfg.Worker.GitUserName = "foreman"
	cfg.Worker.GitUserEmail = "foreman@localhost"
	return &cfg
}

func workItem(number int) *queue.Item {
	return &queue.Item{
		Issue: platform.Issue{
			Repository: "acme/widgets",
			Number:     number,
			Title:      "add validation",
			Body:       "inputs must be validated",
		},
		BranchName: queue.BranchFor(number),
	}
}

func TestRunHappyPath(t *testing.T) {
	agents := newFakeAgents()
	agents.handlers[agent.RoleProductOwner] = succeedWith("solid work\nDECISION: APPROVE")

	client := platform.NewFake()
	cfg := testConfig()
	recordDir := t.TempDir()
	d := newDriver(t, agents, client, cfg, recordDir)

	out := d.Run(context.Background(), workItem(42), "w1")

	require.Equal(t, StatusApproved, out.Status, "detail: %s", out.Detail)
	require.NotNil(t, out.PR)
	assert.Equal(t, []string{"acme/widgets:feature/issue-42->main"}, client.CreatedPRs)

	// Every phase ran once, in order.
	assert.Equal(t, 1, agents.counts[agent.RoleArchitect])
	assert.Equal(t, 1, agents.counts[agent.RoleSecurity])
	assert.Equal(t, 1, agents.counts[agent.RoleTester])
	assert.Equal(t, 1, agents.counts[agent.RoleProductOwner])

	// The PO saw the tracked files and the diff, not the raw tree.
	poTask := agents.tasks[agent.RoleProductOwner][0]
	assert.Contains(t, poTask, "architect-1.txt")
	assert.Contains(t, poTask, "```diff")

	// The feature branch reached the origin.
	branch := runGit(t, d.cloneURL(""), "rev-parse", "--verify", "feature/issue-42")
	assert.NotEmpty(t, branch)

	// Workspace destroyed on exit.
	_, err := os.Stat(filepath.Join(cfg.Workspace.Root, "issue-42"))
	assert.True(t, os.IsNotExist(err))

	// Record archived with all four phases.
	require.NotNil(t, out.Record)
	assert.Len(t, out.Record.Phases, 4)
	assert.Equal(t, StatusApproved, out.Record.Status)
	assert.InDelta(t, 0.15, out.Record.TotalCostUSD, 0.001)

	entries, err := os.ReadDir(filepath.Join(recordDir, "workflows"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.FileExists(t, filepath.Join(recordDir, "metrics.ndjson"))
}

func TestRunRevisionLoop(t *testing.T) {
	agents := newFakeAgents()
	agents.handlers[agent.RoleProductOwner] = func(call int, inv agent.Invocation) (*agent.Result, error) {
		if call == 1 {
			return succeedWith("DECISION: REVISE\nadd input validation")(call, inv)
		}
		return succeedWith("DECISION: APPROVE")(call, inv)
	}
	agents.handlers[agent.RoleArchitect] = func(call int, inv agent.Invocation) (*agent.Result, error) {
		if call == 2 {
			// Downstream branches were destroyed before this revision ran.
			out := runGitQuiet(inv.Workspace, "branch", "--list", "security", "tester")
			if out != "" {
				return nil, fmt.Errorf("stale branches survived into revision: %q", out)
			}
		}
		return writeAndSucceed(inv, fmt.Sprintf("architect-%d.txt", call))
	}

	client := platform.NewFake()
	d := newDriver(t, agents, client, testConfig(), "")

	out := d.Run(context.Background(), workItem(7), "w1")

	require.Equal(t, StatusApproved, out.Status, "detail: %s", out.Detail)
	assert.Equal(t, 2, agents.counts[agent.RoleArchitect])
	assert.Equal(t, 2, agents.counts[agent.RoleSecurity])
	assert.Equal(t, 1, out.Record.Revisions)

	// The feedback reached the Architect's second task verbatim.
	assert.Contains(t, agents.tasks[agent.RoleArchitect][1], "add input validation")
	assert.NotContains(t, agents.tasks[agent.RoleArchitect][0], "add input validation")
}

func runGitQuiet(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, _ := cmd.Output()
	return strings.TrimSpace(string(out))
}

func TestRunRejectsAtRevisionLimit(t *testing.T) {
	agents := newFakeAgents()
	agents.handlers[agent.RoleProductOwner] = succeedWith("DECISION: REVISE\nstill not right")

	cfg := testConfig()
	cfg.Workflow.MaxRevisions = 1
	d := newDriver(t, agents, platform.NewFake(), cfg, "")

	out := d.Run(context.Background(), workItem(7), "w1")

	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, "rejected", out.FailureKind)
	assert.Contains(t, out.Detail, "revision limit")
	assert.Equal(t, 2, agents.counts[agent.RoleProductOwner])
	assert.Nil(t, out.PR)
}

func TestRunZeroMaxRevisionsTreatsReviseAsRejected(t *testing.T) {
	agents := newFakeAgents()
	agents.handlers[agent.RoleProductOwner] = succeedWith("DECISION: REVISE\nnope")

	cfg := testConfig()
	cfg.Workflow.MaxRevisions = 0
	d := newDriver(t, agents, platform.NewFake(), cfg, "")

	out := d.Run(context.Background(), workItem(7), "w1")
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, 1, agents.counts[agent.RoleProductOwner])
}

func TestRunRejectDecision(t *testing.T) {
	agents := newFakeAgents()
	agents.handlers[agent.RoleProductOwner] = succeedWith("unsalvageable\nDECISION: REJECT")

	client := platform.NewFake()
	d := newDriver(t, agents, client, testConfig(), "")

	out := d.Run(context.Background(), workItem(7), "w1")
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, "rejected", out.FailureKind)
	assert.Contains(t, out.Detail, "unsalvageable")
	assert.Empty(t, client.CreatedPRs, "rejected workflows publish nothing")
}

func TestRunSilentArchitectFailure(t *testing.T) {
	agents := newFakeAgents()
	// Architect succeeds but leaves no commits.
	agents.handlers[agent.RoleArchitect] = succeedWith("did nothing")

	d := newDriver(t, agents, platform.NewFake(), testConfig(), "")

	out := d.Run(context.Background(), workItem(7), "w1")
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, "empty_diff", out.FailureKind)
	assert.Zero(t, agents.counts[agent.RoleSecurity], "downstream phases must not run")
}

func TestRunWorkspaceLimitViolationIsTerminal(t *testing.T) {
	agents := newFakeAgents()
	agents.handlers[agent.RoleArchitect] = func(_ int, inv agent.Invocation) (*agent.Result, error) {
		big := make([]byte, 1<<20+1)
		if err := os.WriteFile(filepath.Join(inv.Workspace, "model.bin"), big, 0644); err != nil {
			return nil, err
		}
		return &agent.Result{Role: inv.Role, Success: true, Output: "done", Attempts: 1}, nil
	}

	cfg := testConfig()
	cfg.Workspace.Limits.MaxFileSizeMB = 1
	d := newDriver(t, agents, platform.NewFake(), cfg, "")

	out := d.Run(context.Background(), workItem(7), "w1")
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, "workspace", out.FailureKind)
	assert.Contains(t, out.Detail, "model.bin")
	assert.Zero(t, agents.counts[agent.RoleSecurity], "downstream phases must not run")
}

func TestRunCreditExhaustionPropagates(t *testing.T) {
	agents := newFakeAgents()
	agents.handlers[agent.RoleArchitect] = func(_ int, inv agent.Invocation) (*agent.Result, error) {
		res := &agent.Result{Role: inv.Role, Kind: agent.KindCreditExhausted, Detail: "credit balance exhausted"}
		return res, fmt.Errorf("agent %s: %s", inv.Role, res.Kind)
	}

	d := newDriver(t, agents, platform.NewFake(), testConfig(), "")

	out := d.Run(context.Background(), workItem(7), "w1")
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, "credit_exhausted", out.FailureKind)
}

func TestRunTesterGateWhenTestsRequired(t *testing.T) {
	agents := newFakeAgents()
	agents.handlers[agent.RoleTester] = func(call int, inv agent.Invocation) (*agent.Result, error) {
		res, err := writeAndSucceed(inv, "tester.txt")
		if err != nil {
			return nil, err
		}
		res.Output = "could not make it green\nTESTS: FAILING"
		return res, nil
	}

	cfg := testConfig()
	cfg.Workflow.RequireTestsPassing = true
	d := newDriver(t, agents, platform.NewFake(), cfg, "")

	out := d.Run(context.Background(), workItem(7), "w1")
	assert.Equal(t, StatusFailed, out.Status)
	assert.Equal(t, "tests_failing", out.FailureKind)
	assert.Zero(t, agents.counts[agent.RoleProductOwner])
}
