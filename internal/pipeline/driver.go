// Package pipeline drives the four-phase branch state machine that turns a
// work item into a reviewed pull request: Architect implements on its own
// branch, Security and Tester each build on the previous phase's branch,
// and the Product Owner decides whether the result ships, iterates, or
// dies. The implementation branch survives revisions; the downstream
// branches are cut fresh every time.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanmeadows/foreman/internal/agent"
	"github.com/alanmeadows/foreman/internal/config"
	"github.com/alanmeadows/foreman/internal/gitops"
	"github.com/alanmeadows/foreman/internal/logging"
	"github.com/alanmeadows/foreman/internal/platform"
	"github.com/alanmeadows/foreman/internal/prompts"
	"github.com/alanmeadows/foreman/internal/queue"
	"github.com/alanmeadows/foreman/internal/workspace"
)

// Fixed branch names used inside every workspace.
const (
	branchArchitect = "architect"
	branchSecurity  = "security"
	branchTester    = "tester"
)

// Status is a workflow's terminal state.
type Status string

const (
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Outcome is what a pipeline run reports back to the orchestrator.
type Outcome struct {
	Status      Status
	FailureKind string
	Detail      string
	PR          *platform.PullRequest
	Record      *Record
}

// AgentRunner runs one agent invocation; the supervisor implements it.
type AgentRunner interface {
	Execute(ctx context.Context, inv agent.Invocation) (*agent.Result, error)
}

// Driver executes the state machine for one work item at a time.
type Driver struct {
	agents     AgentRunner
	client     platform.Client
	workspaces *workspace.Manager
	cfg        *config.Config
	recordDir  string
	log        *slog.Logger

	// cloneURL is swapped out by tests to clone from a local origin.
	cloneURL func(repo string) string
}

// New creates a Driver. recordDir, when non-empty, receives one workflow
// record file per run plus the metrics stream.
func New(agents AgentRunner, client platform.Client, workspaces *workspace.Manager, cfg *config.Config, recordDir string) *Driver {
	d := &Driver{
		agents:     agents,
		client:     client,
		workspaces: workspaces,
		cfg:        cfg,
		recordDir:  recordDir,
		log:        logging.With("pipeline"),
	}
	// The token is embedded so pushes authenticate. The URL is never logged;
	// command errors pass through redaction before surfacing.
	d.cloneURL = func(repo string) string {
		return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", cfg.Platform.Token, repo)
	}
	return d
}

// Run executes the full pipeline for item and returns its terminal outcome.
// The workspace is destroyed on every exit path.
func (d *Driver) Run(ctx context.Context, item *queue.Item, workerID string) *Outcome {
	rec := newRecord(item, workerID)
	outcome := d.run(ctx, item, workerID, rec)
	outcome.Record = rec
	rec.finalize(outcome)

	if d.recordDir != "" {
		if err := rec.write(d.recordDir); err != nil {
			d.log.Error("writing workflow record failed", "issue", item.Key(), "error", err)
		}
	}
	return outcome
}

func (d *Driver) run(ctx context.Context, item *queue.Item, workerID string, rec *Record) *Outcome {
	issue := item.Issue

	ws, err := d.workspaces.Acquire(workerID, issue.Number)
	if err != nil {
		return fail("workspace", fmt.Sprintf("acquiring workspace: %v", err))
	}
	defer func() {
		if err := d.workspaces.Release(ws); err != nil {
			d.log.Error("releasing workspace failed", "issue", item.Key(), "error", err)
		}
	}()

	git, err := gitops.NewRunner(ws.Path)
	if err != nil {
		return fail("workspace", err.Error())
	}

	if err := git.Clone(ctx, d.cloneURL(issue.Repository)); err != nil {
		return fail("network", fmt.Sprintf("cloning %s: %v", issue.Repository, err))
	}
	if err := git.ConfigureIdentity(ctx, d.cfg.Worker.GitUserName, d.cfg.Worker.GitUserEmail); err != nil {
		return fail("config", err.Error())
	}
	mainBranch, err := git.CurrentBranch(ctx)
	if err != nil {
		return fail("git", err.Error())
	}

	task := buildTask(issue)
	rec.Task = task

	for revision := 0; ; revision++ {
		rec.Revisions = revision
		if err := d.prepareBranches(ctx, git, mainBranch, revision); err != nil {
			return fail("git", err.Error())
		}

		if out := d.runBuildPhases(ctx, git, issue, task, mainBranch, ws, rec); out != nil {
			return out
		}

		decision, poResult, out := d.review(ctx, git, issue, mainBranch, ws.Path, rec)
		if out != nil {
			return out
		}

		switch decision {
		case DecisionApprove:
			pr, err := d.publish(ctx, git, item)
			if err != nil {
				return fail("push_failed", logging.Redact(err.Error()))
			}
			d.log.Info("pipeline approved", "issue", item.Key(), "pr", pr.URL, "revisions", revision)
			return &Outcome{Status: StatusApproved, PR: pr}

		case DecisionReject:
			d.log.Warn("pipeline rejected", "issue", item.Key(), "revisions", revision)
			return &Outcome{
				Status:      StatusRejected,
				FailureKind: "rejected",
				Detail:      summarize(poResult.Output),
			}

		case DecisionRevise:
			if revision >= d.cfg.Workflow.MaxRevisions {
				d.log.Warn("revision limit reached", "issue", item.Key(), "revisions", revision)
				return &Outcome{
					Status:      StatusRejected,
					FailureKind: "rejected",
					Detail:      fmt.Sprintf("revision limit (%d) reached", d.cfg.Workflow.MaxRevisions),
				}
			}
			task = task + fmt.Sprintf("\n\n## Reviewer feedback (revision %d)\n\n%s", revision+1, poResult.Output)
			d.log.Info("revising", "issue", item.Key(), "revision", revision+1)
		}
	}
}

// prepareBranches establishes the branch set for one iteration. The
// implementation branch is created from main on the first pass and preserved
// afterwards; the downstream branches are destroyed so no iteration inherits
// stale state. A missing implementation branch on a revision is recreated
// from main and logged as a recovery.
func (d *Driver) prepareBranches(ctx context.Context, git *gitops.Runner, mainBranch string, revision int) error {
	if revision == 0 {
		return git.CreateBranch(ctx, branchArchitect, mainBranch)
	}

	exists, err := git.BranchExists(ctx, branchArchitect)
	if err != nil {
		return err
	}
	if !exists {
		d.log.Warn("implementation branch missing on revision; recreating from main")
		if err := git.CreateBranch(ctx, branchArchitect, mainBranch); err != nil {
			return err
		}
	}

	if err := git.Checkout(ctx, branchArchitect); err != nil {
		return err
	}
	for _, b := range []string{branchSecurity, branchTester} {
		if err := git.DeleteBranch(ctx, b, true); err != nil {
			return err
		}
	}
	return nil
}

// runBuildPhases runs Architect, Security, and Tester in order, committing
// and gating each. Returns a terminal outcome on failure, nil on success.
func (d *Driver) runBuildPhases(ctx context.Context, git *gitops.Runner, issue platform.Issue, task, mainBranch string, ws *workspace.Workspace, rec *Record) *Outcome {
	phases := []struct {
		prompt string
		role   agent.Role
		branch string
		parent string
		create bool
		task   string
	}{
		{"architect.md", agent.RoleArchitect, branchArchitect, mainBranch, false, task},
		{"security.md", agent.RoleSecurity, branchSecurity, branchArchitect, true, securityTask(issue)},
		{"tester.md", agent.RoleTester, branchTester, branchSecurity, true, testerTask(issue)},
	}

	for _, phase := range phases {
		if phase.create {
			if err := git.CreateBranch(ctx, phase.branch, phase.parent); err != nil {
				return fail("git", err.Error())
			}
		}
		if err := git.Checkout(ctx, phase.branch); err != nil {
			return fail("git", err.Error())
		}

		res, out := d.runAgent(ctx, phase.prompt, phase.task, ws.Path, rec)
		if out != nil {
			return out
		}

		// An agent that blew past the workspace limits is terminal before
		// its output gets committed anywhere.
		if err := d.workspaces.CheckLimits(ws); err != nil {
			return fail("workspace", err.Error())
		}

		// Agents are told to commit; sweep up anything they left behind.
		if _, err := git.CommitAll(ctx, fmt.Sprintf("%s: %s (#%d)", strings.ToLower(string(phase.role)), issue.Title, issue.Number)); err != nil {
			return fail("git", err.Error())
		}

		advanced, err := git.BranchHasCommits(ctx, phase.branch, phase.parent)
		if err != nil {
			return fail("git", err.Error())
		}
		if !advanced {
			d.log.Warn("phase produced no commits", "role", phase.role, "issue", issue.Number)
			return fail("empty_diff", fmt.Sprintf("%s phase produced no commits beyond %s", phase.role, phase.parent))
		}

		if phase.role == agent.RoleTester && d.cfg.Workflow.RequireTestsPassing && testsFailing(res.Output) {
			return fail("tests_failing", "tester reported a failing suite")
		}
	}
	return nil
}

// review runs the Product Owner over the source-controlled result and
// parses its decision.
func (d *Driver) review(ctx context.Context, git *gitops.Runner, issue platform.Issue, mainBranch, wsPath string, rec *Record) (Decision, *agent.Result, *Outcome) {
	files, err := git.ListFiles(ctx, branchTester)
	if err != nil {
		return 0, nil, fail("git", err.Error())
	}
	diff, err := git.DiffAgainst(ctx, mainBranch, branchTester)
	if err != nil {
		return 0, nil, fail("git", err.Error())
	}

	res, out := d.runAgent(ctx, "product_owner.md", reviewTask(issue, files, diff), wsPath, rec)
	if out != nil {
		return 0, nil, out
	}

	decision := ParseDecision(res.Output)
	d.log.Info("product owner decided", "issue", issue.Number, "decision", decision)
	return decision, res, nil
}

// runAgent loads the prompt, executes the agent, and records the result.
// Returns a terminal outcome when the agent fails after its own retries.
func (d *Driver) runAgent(ctx context.Context, promptFile, task, wsPath string, rec *Record) (*agent.Result, *Outcome) {
	p, err := prompts.Load(promptFile)
	if err != nil {
		return nil, fail("config", err.Error())
	}

	tools := p.AllowedTools
	if len(d.cfg.CLI.AllowedTools) > 0 {
		tools = intersect(tools, d.cfg.CLI.AllowedTools)
	}

	res, err := d.agents.Execute(ctx, agent.Invocation{
		Role:         agent.Role(p.Role),
		Task:         task,
		SystemPrompt: p.System,
		AllowedTools: tools,
		Workspace:    wsPath,
	})
	if res != nil {
		rec.addResult(res)
	}
	if err != nil {
		kind := "agent_error"
		detail := err.Error()
		if res != nil {
			kind = string(res.Kind)
			detail = res.Detail
		}
		return nil, fail(kind, detail)
	}
	return res, nil
}

func fail(kind, detail string) *Outcome {
	return &Outcome{Status: StatusFailed, FailureKind: kind, Detail: detail}
}

func summarize(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 512 {
		return s[:512] + "..."
	}
	return s
}

func intersect(a, b []string) []string {
	allowed := make(map[string]bool, len(b))
	for _, t := range b {
		allowed[t] = true
	}
	var out []string
	for _, t := range a {
		if allowed[t] {
			out = append(out, t)
		}
	}
	return out
}
