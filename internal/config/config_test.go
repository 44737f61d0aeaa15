package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Orchestrator.Port != 4610 {
		t.Errorf("expected orchestrator port 4610, got %d", cfg.Orchestrator.Port)
	}
	if cfg.Orchestrator.MaxAttempts != 3 {
		t.Errorf("expected max_attempts 3, got %d", cfg.Orchestrator.MaxAttempts)
	}
	if cfg.Workflow.MaxRevisions != 3 {
		t.Errorf("expected max_revisions 3, got %d", cfg.Workflow.MaxRevisions)
	}
	if cfg.Review.MaxPendingPRs != 3 {
		t.Errorf("expected max_pending_prs 3, got %d", cfg.Review.MaxPendingPRs)
	}
	if !cfg.Review.BlockOnChangesRequested {
		t.Error("expected block_on_changes_requested to default true")
	}
	if cfg.Platform.PRTargetBranch != "staging" {
		t.Errorf("expected pr_target_branch staging, got %s", cfg.Platform.PRTargetBranch)
	}
	if cfg.Orchestrator.ParsePollInterval() != time.Minute {
		t.Errorf("expected poll interval 1m, got %v", cfg.Orchestrator.ParsePollInterval())
	}
	if cfg.Orchestrator.ParseStaleAssignmentTimeout() != 10*time.Minute {
		t.Errorf("expected stale timeout 10m, got %v", cfg.Orchestrator.ParseStaleAssignmentTimeout())
	}
	if cfg.Worker.ParseCreditCooldown() != 5*time.Minute {
		t.Errorf("expected credit cooldown 5m, got %v", cfg.Worker.ParseCreditCooldown())
	}
}

func TestLoadJSONC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.jsonc")

	content := []byte(`{
  // This is a JSONC comment
  "platform": {
    "repositories": "acme/widgets"
  },
  "orchestrator": {
    "port": 9999
  }
}`)

	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	m, err := loadJSONC(path)
	if err != nil {
		t.Fatalf("loadJSONC failed: %v", err)
	}

	platform, ok := m["platform"].(map[string]any)
	if !ok {
		t.Fatal("expected platform to be a map")
	}
	if platform["repositories"] != "acme/widgets" {
		t.Errorf("expected repositories=acme/widgets, got %v", platform["repositories"])
	}

	orch, ok := m["orchestrator"].(map[string]any)
	if !ok {
		t.Fatal("expected orchestrator to be a map")
	}
	if orch["port"] != float64(9999) {
		t.Errorf("expected port=9999, got %v", orch["port"])
	}
}

func TestLoadJSONC_FileNotFound(t *testing.T) {
	_, err := loadJSONC("/nonexistent/path/config.jsonc")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadJSONC_MalformedContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.jsonc")

	// Truncated JSON
	if err := os.WriteFile(path, []byte(`{"platform": {"token": "x"`), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	_, err := loadJSONC(path)
	if err == nil {
		t.Error("expected error for malformed JSONC")
	}
}

func TestMergeDeepPreservesNestedFields(t *testing.T) {
	cfg := DefaultConfig()

	// Override only platform.repositories; everything else should survive.
	src := map[string]any{
		"platform": map[string]any{
			"repositories": "acme/widgets",
		},
	}
	if err := mergeIntoConfig(&cfg, src); err != nil {
		t.Fatalf("mergeIntoConfig failed: %v", err)
	}

	if cfg.Platform.Repositories != "acme/widgets" {
		t.Errorf("expected repositories=acme/widgets, got %s", cfg.Platform.Repositories)
	}
	if cfg.Platform.ReadyLabel != "ready" {
		t.Errorf("expected ready_label preserved as ready, got %s", cfg.Platform.ReadyLabel)
	}
	if cfg.Orchestrator.Port != 4610 {
		t.Errorf("expected orchestrator.port preserved as 4610, got %d", cfg.Orchestrator.Port)
	}
	if cfg.Workflow.MaxRevisions != 3 {
		t.Errorf("expected workflow.max_revisions preserved as 3, got %d", cfg.Workflow.MaxRevisions)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := DefaultConfig()

	t.Setenv("GITHUB_TOKEN", "gh-token-456")
	t.Setenv("FOREMAN_AGENT_COMMAND", "my-agent")
	t.Setenv("FOREMAN_ORCHESTRATOR_URL", "http://orchestrator:4610")
	t.Setenv("FOREMAN_WORKSPACE_ROOT", "/srv/workspaces")

	applyEnvOverrides(&cfg)

	if cfg.Platform.Token != "gh-token-456" {
		t.Errorf("expected token=gh-token-456, got %s", cfg.Platform.Token)
	}
	if cfg.CLI.Command != "my-agent" {
		t.Errorf("expected command=my-agent, got %s", cfg.CLI.Command)
	}
	if cfg.Worker.OrchestratorURL != "http://orchestrator:4610" {
		t.Errorf("expected orchestrator URL override, got %s", cfg.Worker.OrchestratorURL)
	}
	if cfg.Workspace.Root != "/srv/workspaces" {
		t.Errorf("expected workspace root override, got %s", cfg.Workspace.Root)
	}
}

func TestLoadMergesUserConfig(t *testing.T) {
	userConfigDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", userConfigDir)
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("FOREMAN_AGENT_COMMAND", "")
	t.Setenv("FOREMAN_ORCHESTRATOR_URL", "")
	t.Setenv("FOREMAN_WORKSPACE_ROOT", "")

	foremanDir := filepath.Join(userConfigDir, "foreman")
	if err := os.MkdirAll(foremanDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	userConfig := []byte(`{"platform":{"repositories":"acme/widgets"},"orchestrator":{"port":5555}}`)
	if err := os.WriteFile(filepath.Join(foremanDir, "foreman.jsonc"), userConfig, 0644); err != nil {
		t.Fatalf("failed to write user config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Platform.Repositories != "acme/widgets" {
		t.Errorf("expected repositories=acme/widgets, got %s", cfg.Platform.Repositories)
	}
	if cfg.Orchestrator.Port != 5555 {
		t.Errorf("expected orchestrator.port=5555, got %d", cfg.Orchestrator.Port)
	}
	// Defaults preserved for fields the user did not set.
	if cfg.Worker.OrchestratorURL != "http://localhost:4610" {
		t.Errorf("expected default orchestrator URL, got %s", cfg.Worker.OrchestratorURL)
	}
}

func TestParseDurationDefault_Invalid(t *testing.T) {
	o := OrchestratorConfig{PollInterval: "not-a-duration"}
	if o.ParsePollInterval() != time.Minute {
		t.Error("expected fallback to 1m for invalid duration")
	}
	w := WorkerConfig{PollInterval: "-5s"}
	if w.ParsePollInterval() != 15*time.Second {
		t.Error("expected fallback to 15s for non-positive duration")
	}
}
