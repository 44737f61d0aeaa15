package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/foreman/internal/agent"
	"github.com/alanmeadows/foreman/internal/config"
	"github.com/alanmeadows/foreman/internal/logging"
	"github.com/alanmeadows/foreman/internal/pipeline"
	"github.com/alanmeadows/foreman/internal/platform/github"
	"github.com/alanmeadows/foreman/internal/worker"
	"github.com/alanmeadows/foreman/internal/workspace"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage the worker execution engine",
}

func init() {
	workerCmd.AddCommand(workerStartCmd)
	rootCmd.AddCommand(workerCmd)
}

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a worker and poll the orchestrator for issues",
	Long: `Starts a worker that polls the orchestrator for assigned issues and runs
each one through the agent pipeline in an isolated workspace. Runs in the
foreground until SIGTERM or SIGINT.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := config.ValidateWorker(cfg); err != nil {
			return err
		}

		client := github.NewClient(cfg.Platform.Token)

		workspaces, err := workspace.NewManager(cfg.Workspace, logging.With("workspace"))
		if err != nil {
			return fmt.Errorf("initializing workspace manager: %w", err)
		}

		agents := agent.NewSupervisor(cfg.CLI, cfg.Workflow)
		recordDir := filepath.Join(cfg.DataDir(), "records")
		driver := pipeline.New(agents, client, workspaces, cfg, recordDir)

		w := worker.New(cfg, driver)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		return w.Run(ctx)
	},
}
