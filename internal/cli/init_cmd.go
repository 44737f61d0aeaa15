package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"

	"github.com/alanmeadows/foreman/internal/config"
)

func init() {
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a config file interactively",
	Long: `Walk through the settings both processes need and write them to
~/.config/foreman/foreman.jsonc. Existing values are pre-filled and
anything not asked about keeps its default.`,
	Example: `  foreman init`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		token := cfg.Platform.Token
		repositories := cfg.Platform.Repositories
		workspaceRoot := cfg.Workspace.Root
		agentCommand := cfg.CLI.Command
		orchestratorURL := cfg.Worker.OrchestratorURL

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Platform token (GitHub personal access token)").
					EchoMode(huh.EchoModePassword).
					Value(&token).
					Validate(func(s string) error {
						if s == "" {
							return fmt.Errorf("token is required")
						}
						return nil
					}),
				huh.NewInput().
					Title("Repositories (comma-separated owner/repo)").
					Value(&repositories).
					Validate(func(s string) error {
						for _, r := range strings.Split(s, ",") {
							if r = strings.TrimSpace(r); r != "" && strings.Count(r, "/") != 1 {
								return fmt.Errorf("%q is not in owner/repo form", r)
							}
						}
						return nil
					}),
				huh.NewInput().
					Title("Workspace root (workers clone repositories here)").
					Value(&workspaceRoot),
				huh.NewInput().
					Title("Agent command").
					Value(&agentCommand),
				huh.NewInput().
					Title("Orchestrator URL").
					Value(&orchestratorURL),
			),
		)

		if err := form.Run(); err != nil {
			return fmt.Errorf("form cancelled: %w", err)
		}

		path, err := config.Path()
		if err != nil {
			return err
		}

		data := []byte("{}")
		if existing, err := os.ReadFile(path); err == nil {
			data = existing
		}

		for key, value := range map[string]string{
			"platform.token":          token,
			"platform.repositories":   repositories,
			"workspace.root":          workspaceRoot,
			"cli.command":             agentCommand,
			"worker.orchestrator_url": orchestratorURL,
		} {
			if data, err = sjson.SetBytes(data, key, value); err != nil {
				return fmt.Errorf("setting key %q: %w", key, err)
			}
		}

		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		if err := os.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return nil
	},
}
