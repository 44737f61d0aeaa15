package cli

import (
	"github.com/spf13/cobra"

	"github.com/alanmeadows/foreman/internal/logging"
)

var (
	verbose bool
	rootCmd = &cobra.Command{
		Use:   "foreman",
		Short: "Distributed orchestrator that turns labeled issues into reviewed pull requests",
		Long: `Foreman watches repositories for labeled issues and delegates each one to a
pool of workers. Every issue flows through a fixed pipeline (Architect,
Security, Tester, Product Owner) on isolated branches, and approved work is
published as a pull request gated by human review.`,
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Setup(verbose)
	}
}

func Execute() error {
	return rootCmd.Execute()
}
