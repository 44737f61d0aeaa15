package config

import (
	"strings"
	"testing"
)

func orchestratorConfig() Config {
	cfg := DefaultConfig()
	cfg.Platform.Token = "token"
	cfg.Platform.Repositories = "acme/widgets"
	return cfg
}

func TestValidateOrchestrator(t *testing.T) {
	cfg := orchestratorConfig()
	if err := ValidateOrchestrator(&cfg); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateOrchestrator_MissingToken(t *testing.T) {
	cfg := orchestratorConfig()
	cfg.Platform.Token = ""
	err := ValidateOrchestrator(&cfg)
	if err == nil || !strings.Contains(err.Error(), "credential") {
		t.Errorf("expected credential error, got %v", err)
	}
}

func TestValidateOrchestrator_BadRepository(t *testing.T) {
	cfg := orchestratorConfig()
	cfg.Platform.Repositories = "not-owner-repo"
	if err := ValidateOrchestrator(&cfg); err == nil {
		t.Error("expected error for repository without owner/repo form")
	}

	cfg.Platform.Repositories = ""
	if err := ValidateOrchestrator(&cfg); err == nil {
		t.Error("expected error for empty repository list")
	}
}

func TestValidateOrchestrator_Bounds(t *testing.T) {
	cfg := orchestratorConfig()
	cfg.Review.MaxPendingPRs = 0
	if err := ValidateOrchestrator(&cfg); err == nil {
		t.Error("expected error for max_pending_prs < 1")
	}

	cfg = orchestratorConfig()
	cfg.Orchestrator.MaxAttempts = 0
	if err := ValidateOrchestrator(&cfg); err == nil {
		t.Error("expected error for max_attempts < 1")
	}
}

func TestValidateRejectsAutoMerge(t *testing.T) {
	cfg := orchestratorConfig()
	cfg.Workflow.AutoMergeOnApproval = true
	err := ValidateOrchestrator(&cfg)
	if err == nil || !strings.Contains(err.Error(), "auto_merge") {
		t.Errorf("expected auto_merge rejection, got %v", err)
	}
}

func TestValidateRejectsShortAgentTimeout(t *testing.T) {
	cfg := orchestratorConfig()
	cfg.CLI.TimeoutSeconds = 30
	if err := ValidateOrchestrator(&cfg); err == nil {
		t.Error("expected error for timeout below 60s")
	}
}

func TestValidateRejectsBadTargetBranch(t *testing.T) {
	cfg := orchestratorConfig()
	cfg.Platform.PRTargetBranch = "bad..name"
	if err := ValidateOrchestrator(&cfg); err == nil {
		t.Error("expected error for invalid pr_target_branch")
	}
}

func TestValidateWorker(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Platform.Token = "token"
	cfg.Workspace.Root = t.TempDir()

	if err := ValidateWorker(&cfg); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.Workspace.Root = ""
	if err := ValidateWorker(&cfg); err == nil {
		t.Error("expected error for missing workspace root")
	}

	cfg.Workspace.Root = "/nonexistent/foreman-workspaces"
	if err := ValidateWorker(&cfg); err == nil {
		t.Error("expected error for workspace root that does not exist")
	}
}

func TestValidateWorker_MissingAgentCommand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Platform.Token = "token"
	cfg.Workspace.Root = t.TempDir()
	cfg.CLI.Command = ""
	if err := ValidateWorker(&cfg); err == nil {
		t.Error("expected error for missing agent command")
	}
}
