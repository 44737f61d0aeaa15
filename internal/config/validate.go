package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alanmeadows/foreman/internal/gitops"
)

// ValidateOrchestrator checks the settings the control plane depends on.
// Startup aborts on the first problem with a descriptive message; the
// orchestrator never degrades silently.
func ValidateOrchestrator(cfg *Config) error {
	if err := validateCommon(cfg); err != nil {
		return err
	}
	if cfg.Platform.Token == "" {
		return fmt.Errorf("missing hosting-platform credential: set platform.token or GITHUB_TOKEN")
	}
	repos := cfg.Platform.RepositoryList()
	if len(repos) == 0 {
		return fmt.Errorf("no repositories configured: set platform.repositories (comma-separated owner/repo)")
	}
	for _, r := range repos {
		if strings.Count(r, "/") != 1 {
			return fmt.Errorf("repository %q is not in owner/repo form", r)
		}
	}
	if cfg.Review.MaxPendingPRs < 1 {
		return fmt.Errorf("review.max_pending_prs must be >= 1, got %d", cfg.Review.MaxPendingPRs)
	}
	if cfg.Orchestrator.MaxAttempts < 1 {
		return fmt.Errorf("orchestrator.max_attempts must be >= 1, got %d", cfg.Orchestrator.MaxAttempts)
	}
	return nil
}

// ValidateWorker checks the settings the execution engine depends on.
func ValidateWorker(cfg *Config) error {
	if err := validateCommon(cfg); err != nil {
		return err
	}
	if cfg.Platform.Token == "" {
		return fmt.Errorf("missing hosting-platform credential: set platform.token or GITHUB_TOKEN")
	}
	if cfg.CLI.Command == "" {
		return fmt.Errorf("missing agent command: set cli.command or FOREMAN_AGENT_COMMAND")
	}
	if cfg.Worker.OrchestratorURL == "" {
		return fmt.Errorf("missing orchestrator URL: set worker.orchestrator_url or FOREMAN_ORCHESTRATOR_URL")
	}

	root := cfg.Workspace.Root
	if root == "" {
		return fmt.Errorf("missing workspace root: set workspace.root")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving workspace root %q: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("workspace root %q does not exist: %w", abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("workspace root %q is not a directory", abs)
	}
	return nil
}

// validateCommon checks settings both processes read.
func validateCommon(cfg *Config) error {
	if cfg.Workflow.MaxRevisions < 0 {
		return fmt.Errorf("workflow.max_revisions must be >= 0, got %d", cfg.Workflow.MaxRevisions)
	}
	if cfg.Workflow.MaxAgentRetries < 0 {
		return fmt.Errorf("workflow.max_agent_retries must be >= 0, got %d", cfg.Workflow.MaxAgentRetries)
	}
	if cfg.CLI.TimeoutSeconds < 60 {
		return fmt.Errorf("cli.timeout_seconds must be >= 60, got %d", cfg.CLI.TimeoutSeconds)
	}
	// The single-machine auto-merge path no longer exists; a config that asks
	// for it fails loudly rather than silently merging to main.
	if cfg.Workflow.AutoMergeOnApproval {
		return fmt.Errorf("workflow.auto_merge_on_approval is not supported with distributed publication; merging to main is reserved for human review")
	}
	if cfg.Platform.PRTargetBranch != "" {
		if err := gitops.ValidateBranchName(cfg.Platform.PRTargetBranch); err != nil {
			return fmt.Errorf("platform.pr_target_branch: %w", err)
		}
	}
	return nil
}
