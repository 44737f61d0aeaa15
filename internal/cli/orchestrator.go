package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/foreman/internal/server"
)

var orchestratorCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Manage the orchestrator control plane",
	Long:  `Start, stop, and inspect the orchestrator daemon that polls issues, assigns work, and gates publication on PR review.`,
}

var foregroundFlag bool

func init() {
	orchestratorCmd.AddCommand(orchestratorStartCmd)
	orchestratorCmd.AddCommand(orchestratorStopCmd)
	orchestratorCmd.AddCommand(orchestratorStatusCmd)
	orchestratorCmd.AddCommand(orchestratorInstallCmd)

	orchestratorStartCmd.Flags().BoolVar(&foregroundFlag, "foreground", false, "Run in foreground (don't daemonize)")

	rootCmd.AddCommand(orchestratorCmd)
}

var orchestratorStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the orchestrator daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.StartDaemon(foregroundFlag)
	},
}

var orchestratorStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the orchestrator daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := server.StopDaemon(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "orchestrator stopped")
		return nil
	},
}

var orchestratorStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show orchestrator daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		running, pid, uptime, err := server.DaemonStatus()
		if err != nil {
			return err
		}
		if running {
			fmt.Fprintf(cmd.OutOrStdout(), "orchestrator is running (PID %d, uptime %s)\n", pid, uptime.Round(time.Second))
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "orchestrator is not running")
		}
		return nil
	},
}

var orchestratorInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install as systemd user service",
	RunE: func(cmd *cobra.Command, args []string) error {
		return server.InstallSystemdService()
	},
}
