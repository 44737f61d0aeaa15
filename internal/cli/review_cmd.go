package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/alanmeadows/foreman/internal/review"
)

var prReviewCmd = &cobra.Command{
	Use:   "pr-review",
	Short: "Inspect and update the PR-review gate",
	Long: `The orchestrator gates new work on pull requests awaiting human review.
Review events normally arrive through platform polling; these commands show
the gate state and let you record a review outcome by hand.`,
	Example: `  foreman pr-review status
  foreman pr-review approve 101
  foreman pr-review merged 101 --repo acme/widgets`,
}

var reviewRepoFlag string

func init() {
	for _, c := range []*cobra.Command{prReviewApproveCmd, prReviewChangesCmd, prReviewMergedCmd} {
		c.Flags().StringVar(&reviewRepoFlag, "repo", "", "Repository (owner/repo) when PR numbers collide")
		prReviewCmd.AddCommand(c)
	}
	prReviewCmd.AddCommand(prReviewStatusCmd)
	rootCmd.AddCommand(prReviewCmd)
}

var prReviewStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tracked pull requests and gate state",
	RunE: func(cmd *cobra.Command, args []string) error {
		var status struct {
			Summary struct {
				Pending          int    `json:"pending"`
				ChangesRequested int    `json:"changes_requested"`
				Approved         int    `json:"approved"`
				QueueBlocked     bool   `json:"queue_blocked"`
				BlockingReason   string `json:"blocking_reason"`
			} `json:"summary"`
			Entries []review.Entry `json:"entries"`
		}
		if err := orchestratorGet("/pr-review/status", &status); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		s := status.Summary
		fmt.Fprintf(out, "Pending: %d  Changes requested: %d  Approved: %d\n",
			s.Pending, s.ChangesRequested, s.Approved)
		if s.QueueBlocked {
			fmt.Fprintf(out, "Queue blocked: %s\n", s.BlockingReason)
		}

		if len(status.Entries) == 0 {
			fmt.Fprintln(out, "No pull requests tracked.")
			return nil
		}

		rows := make([][]string, 0, len(status.Entries))
		for _, e := range status.Entries {
			rows = append(rows, []string{
				e.Repository,
				strconv.Itoa(e.PRNumber),
				strconv.Itoa(e.IssueNumber),
				string(e.State),
				e.URL,
			})
		}
		fmt.Fprintln(out, renderTable([]string{"REPOSITORY", "PR", "ISSUE", "STATE", "URL"}, rows))
		return nil
	},
}

func reviewEventCmd(use, short, event string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <number>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[0])
			if err != nil || number <= 0 {
				return fmt.Errorf("invalid pull request number %q", args[0])
			}
			if err := orchestratorPost(reviewQuery(event, number, reviewRepoFlag)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for PR #%d\n", event, number)
			return nil
		},
	}
}

var (
	prReviewApproveCmd = reviewEventCmd("approve", "Record an approval", "approved")
	prReviewChangesCmd = reviewEventCmd("changes-requested", "Record a changes-requested review", "changes-requested")
	prReviewMergedCmd  = reviewEventCmd("merged", "Record a merge", "merged")
)
