package config

import (
	"strings"
	"time"
)

// Config is the top-level foreman configuration. It is constructed once at
// startup, validated, and passed by reference; nothing mutates it afterwards.
type Config struct {
	Workflow     WorkflowConfig     `json:"workflow"`
	CLI          AgentCLIConfig     `json:"cli"`
	Review       ReviewConfig       `json:"review"`
	Platform     PlatformConfig     `json:"platform"`
	Workspace    WorkspaceConfig    `json:"workspace"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	Worker       WorkerConfig       `json:"worker"`
}

// WorkflowConfig controls the revision loop and per-phase retry behavior.
type WorkflowConfig struct {
	MaxRevisions            int  `json:"max_revisions"`
	MaxAgentRetries         int  `json:"max_agent_retries"`
	RetryBackoffBaseSeconds int  `json:"retry_backoff_base_seconds"`
	AutoMergeOnApproval     bool `json:"auto_merge_on_approval"`
	RequireTestsPassing     bool `json:"require_tests_passing"`
}

// RetryBackoffBase returns the agent retry backoff base as a duration.
func (w WorkflowConfig) RetryBackoffBase() time.Duration {
	return time.Duration(w.RetryBackoffBaseSeconds) * time.Second
}

// AgentCLIConfig controls the code-generation subprocess invocation.
type AgentCLIConfig struct {
	Command        string   `json:"command"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	AllowedTools   []string `json:"allowed_tools"`
}

// Timeout returns the per-agent wall clock as a duration.
func (c AgentCLIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ReviewConfig controls the PR-review gate.
type ReviewConfig struct {
	MaxPendingPRs            int  `json:"max_pending_prs"`
	BlockOnChangesRequested  bool `json:"block_on_changes_requested"`
	AllowParallelIndependent bool `json:"allow_parallel_independent"`
}

// PlatformConfig holds hosting-platform settings. Repositories is a
// comma-separated "owner/repo" list for multi-repo polling.
type PlatformConfig struct {
	Token           string `json:"token"`
	Repositories    string `json:"repositories"`
	PRTargetBranch  string `json:"pr_target_branch"`
	ReadyLabel      string `json:"ready_label"`
	InProgressLabel string `json:"in_progress_label"`
	CompletedLabel  string `json:"completed_label"`
	FailedLabel     string `json:"failed_label"`
}

// RepositoryList splits the comma-separated repositories string.
func (p PlatformConfig) RepositoryList() []string {
	var repos []string
	for _, r := range strings.Split(p.Repositories, ",") {
		if r = strings.TrimSpace(r); r != "" {
			repos = append(repos, r)
		}
	}
	return repos
}

// WorkspaceLimits bounds the size of a worker workspace.
type WorkspaceLimits struct {
	MaxSizeMB     int `json:"max_size_mb"`
	MaxFileSizeMB int `json:"max_file_size_mb"`
	MaxFiles      int `json:"max_files"`
}

// WorkspaceConfig controls per-issue workspace placement and limits.
type WorkspaceConfig struct {
	Root              string          `json:"root"`
	ForbiddenPrefixes []string        `json:"forbidden_prefixes,omitempty"`
	Limits            WorkspaceLimits `json:"limits"`
}

// OrchestratorConfig holds control-plane settings.
type OrchestratorConfig struct {
	Port                        int    `json:"port"`
	PollInterval                string `json:"poll_interval"`
	StaleAssignmentTimeout      string `json:"stale_assignment_timeout"`
	MaxAttempts                 int    `json:"max_attempts"`
	DataDir                     string `json:"data_dir,omitempty"`
	ReviewSyncEnabled           bool   `json:"review_sync_enabled"`
	ReviewSyncInterval          string `json:"review_sync_interval"`
}

// ParsePollInterval returns the issue poll interval as a duration.
func (o OrchestratorConfig) ParsePollInterval() time.Duration {
	return parseDurationDefault(o.PollInterval, time.Minute)
}

// ParseStaleAssignmentTimeout returns the stale-assignment timeout as a duration.
func (o OrchestratorConfig) ParseStaleAssignmentTimeout() time.Duration {
	return parseDurationDefault(o.StaleAssignmentTimeout, 10*time.Minute)
}

// ParseReviewSyncInterval returns the review sync interval as a duration.
func (o OrchestratorConfig) ParseReviewSyncInterval() time.Duration {
	return parseDurationDefault(o.ReviewSyncInterval, 2*time.Minute)
}

// WorkerConfig holds execution-engine settings.
type WorkerConfig struct {
	OrchestratorURL    string `json:"orchestrator_url"`
	PollInterval       string `json:"poll_interval"`
	CreditCooldown     string `json:"credit_cooldown"`
	GitUserName        string `json:"git_user_name"`
	GitUserEmail       string `json:"git_user_email"`
}

// ParsePollInterval returns the work poll interval as a duration.
func (w WorkerConfig) ParsePollInterval() time.Duration {
	return parseDurationDefault(w.PollInterval, 15*time.Second)
}

// ParseCreditCooldown returns the credit-exhaustion cool-down as a duration.
func (w WorkerConfig) ParseCreditCooldown() time.Duration {
	return parseDurationDefault(w.CreditCooldown, 5*time.Minute)
}

func parseDurationDefault(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workflow: WorkflowConfig{
			MaxRevisions:            3,
			MaxAgentRetries:         2,
			RetryBackoffBaseSeconds: 5,
			AutoMergeOnApproval:     false,
			RequireTestsPassing:     true,
		},
		CLI: AgentCLIConfig{
			Command:        "claude",
			TimeoutSeconds: 2400,
			AllowedTools:   []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"},
		},
		Review: ReviewConfig{
			MaxPendingPRs:            3,
			BlockOnChangesRequested:  true,
			AllowParallelIndependent: false,
		},
		Platform: PlatformConfig{
			PRTargetBranch:  "staging",
			ReadyLabel:      "ready",
			InProgressLabel: "in-progress",
			CompletedLabel:  "completed",
			FailedLabel:     "failed",
		},
		Workspace: WorkspaceConfig{
			Limits: WorkspaceLimits{
				MaxSizeMB:     2048,
				MaxFileSizeMB: 64,
				MaxFiles:      20000,
			},
		},
		Orchestrator: OrchestratorConfig{
			Port:                   4610,
			PollInterval:           "60s",
			StaleAssignmentTimeout: "10m",
			MaxAttempts:            3,
			ReviewSyncEnabled:      true,
			ReviewSyncInterval:     "2m",
		},
		Worker: WorkerConfig{
			OrchestratorURL: "http://localhost:4610",
			PollInterval:    "15s",
			CreditCooldown:  "5m",
			GitUserName:     "foreman",
			GitUserEmail:    "foreman@localhost",
		},
	}
}
