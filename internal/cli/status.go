package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/alanmeadows/foreman/internal/config"
	"github.com/alanmeadows/foreman/internal/queue"
	"github.com/alanmeadows/foreman/internal/registry"
)

var statusJSONFlag bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSONFlag, "json", false, "Output raw JSON (default when stdout is not a terminal)")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
}

func wantJSON() bool {
	return statusJSONFlag || !term.IsTerminal(int(os.Stdout.Fd()))
}

// orchestratorGet fetches a JSON document from the configured orchestrator.
func orchestratorGet(path string, v any) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(cfg.Worker.OrchestratorURL + path)
	if err != nil {
		return fmt.Errorf("reaching orchestrator at %s: %w", cfg.Worker.OrchestratorURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("orchestrator returned %s for %s", resp.Status, path)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func orchestratorPost(path string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(cfg.Worker.OrchestratorURL+path, "application/json", nil)
	if err != nil {
		return fmt.Errorf("reaching orchestrator at %s: %w", cfg.Worker.OrchestratorURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("orchestrator returned %s for %s", resp.Status, path)
	}
	return nil
}

func renderTable(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Short:   "Show orchestrator health and connected workers",
	Example: `  foreman status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if wantJSON() {
			var raw json.RawMessage
			if err := orchestratorGet("/health", &raw); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		}

		var health struct {
			Status     string `json:"status"`
			Version    string `json:"version"`
			Uptime     string `json:"uptime"`
			Workers    int    `json:"workers"`
			Pending    int    `json:"pending"`
			InProgress int    `json:"in_progress"`
			PRReview   struct {
				Pending        int    `json:"pending"`
				Approved       int    `json:"approved"`
				QueueBlocked   bool   `json:"queue_blocked"`
				BlockingReason string `json:"blocking_reason"`
			} `json:"pr_review"`
		}
		if err := orchestratorGet("/health", &health); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Orchestrator: %s (version %s, up %s)\n", health.Status, health.Version, health.Uptime)
		fmt.Fprintf(out, "Queue: %d pending, %d in progress\n", health.Pending, health.InProgress)
		fmt.Fprintf(out, "PRs awaiting review: %d (%d approved)\n", health.PRReview.Pending, health.PRReview.Approved)
		if health.PRReview.QueueBlocked {
			fmt.Fprintf(out, "Queue blocked: %s\n", health.PRReview.BlockingReason)
		}

		var workers []registry.Worker
		if err := orchestratorGet("/workers", &workers); err != nil {
			return err
		}
		if len(workers) == 0 {
			fmt.Fprintln(out, "\nNo workers connected.")
			return nil
		}

		rows := make([][]string, 0, len(workers))
		for _, w := range workers {
			rows = append(rows, []string{
				w.ID,
				w.Hostname,
				w.LastSeen.Local().Format(time.RFC3339),
			})
		}
		fmt.Fprintln(out, renderTable([]string{"WORKER", "HOSTNAME", "LAST SEEN"}, rows))
		return nil
	},
}

var queueCmd = &cobra.Command{
	Use:     "queue",
	Short:   "Show the work queue",
	Example: `  foreman queue`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if wantJSON() {
			var raw json.RawMessage
			if err := orchestratorGet("/queue", &raw); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		}

		var snap queue.Snapshot
		if err := orchestratorGet("/queue", &snap); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		var rows [][]string
		add := func(state string, items []queue.Item) {
			for _, it := range items {
				rows = append(rows, []string{
					state,
					it.Issue.Repository,
					strconv.Itoa(it.Issue.Number),
					it.Issue.Title,
					it.AssignedWorker,
					strconv.Itoa(it.Attempts),
				})
			}
		}
		add("pending", snap.Pending)
		inProgress := make([]queue.Item, 0, len(snap.InProgress))
		for _, it := range snap.InProgress {
			inProgress = append(inProgress, it)
		}
		slices.SortFunc(inProgress, func(a, b queue.Item) int {
			return a.Issue.Number - b.Issue.Number
		})
		add("in progress", inProgress)
		add("failed", snap.Failed)

		if len(rows) == 0 {
			fmt.Fprintln(out, "Queue is empty.")
			return nil
		}
		fmt.Fprintln(out, renderTable([]string{"STATE", "REPOSITORY", "ISSUE", "TITLE", "WORKER", "ATTEMPT"}, rows))
		return nil
	},
}

// reviewQuery builds the pr-review path with the optional repo disambiguator.
func reviewQuery(event string, number int, repo string) string {
	path := fmt.Sprintf("/pr-review/%s/%d", event, number)
	if repo != "" {
		path += "?repo=" + url.QueryEscape(repo)
	}
	return path
}
