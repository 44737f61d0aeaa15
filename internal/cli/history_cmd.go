package cli

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/foreman/internal/history"
)

var (
	historyLimitFlag int
	historyRepoFlag  string
	historyIssueFlag int
)

func init() {
	historyCmd.Flags().IntVar(&historyLimitFlag, "limit", 20, "Maximum number of workflows to show")
	historyCmd.Flags().StringVar(&historyRepoFlag, "repo", "", "Filter by repository (owner/repo, requires --issue)")
	historyCmd.Flags().IntVar(&historyIssueFlag, "issue", 0, "Filter by issue number (requires --repo)")
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:     "history",
	Short:   "Show archived workflow outcomes",
	Example: `  foreman history
  foreman history --repo acme/widgets --issue 42`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/history?limit=" + strconv.Itoa(historyLimitFlag)
		if historyRepoFlag != "" || historyIssueFlag != 0 {
			if historyRepoFlag == "" || historyIssueFlag == 0 {
				return fmt.Errorf("--repo and --issue go together")
			}
			path = fmt.Sprintf("/history?repo=%s&issue=%d",
				url.QueryEscape(historyRepoFlag), historyIssueFlag)
		}

		var records []history.Record
		if err := orchestratorGet(path, &records); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "No workflows recorded.")
			return nil
		}

		rows := make([][]string, 0, len(records))
		for _, r := range records {
			rows = append(rows, []string{
				r.FinishedAt.Local().Format("2006-01-02 15:04"),
				r.Repository,
				strconv.Itoa(r.IssueNumber),
				r.Outcome,
				r.FailureKind,
				strconv.Itoa(r.Attempts),
				r.PRURL,
			})
		}
		fmt.Fprintln(out, renderTable([]string{"FINISHED", "REPOSITORY", "ISSUE", "OUTCOME", "KIND", "ATTEMPTS", "PR"}, rows))
		return nil
	},
}
