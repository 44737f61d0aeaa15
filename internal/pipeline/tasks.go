package pipeline

import (
	"fmt"
	"strings"

	"github.com/alanmeadows/foreman/internal/platform"
)

// buildTask renders the Architect's task text from the issue. Revision
// feedback is appended to this text by the driver.
func buildTask(issue platform.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Issue #%d: %s\n\n", issue.Number, issue.Title)
	if body := strings.TrimSpace(issue.Body); body != "" {
		b.WriteString(body)
		b.WriteString("\n")
	}
	return b.String()
}

func securityTask(issue platform.Issue) string {
	return fmt.Sprintf(
		"Review the implementation on this branch for issue #%d (%q). "+
			"The commits beyond the parent branch are the change under review.",
		issue.Number, issue.Title)
}

func testerTask(issue platform.Issue) string {
	return fmt.Sprintf(
		"Test the change on this branch for issue #%d (%q). "+
			"Cover the behavior the issue asks for and anything the security pass touched.",
		issue.Number, issue.Title)
}

// reviewTask renders the Product Owner's input: the issue, the tracked file
// list, and the diff against main. The PO never sees the raw workspace tree.
func reviewTask(issue platform.Issue, files []string, diff string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Issue #%d: %s\n\n", issue.Number, issue.Title)
	if body := strings.TrimSpace(issue.Body); body != "" {
		b.WriteString(body)
		b.WriteString("\n")
	}

	b.WriteString("\n## Files tracked on the final branch\n\n")
	for _, f := range files {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	b.WriteString("\n## Diff against the main branch\n\n```diff\n")
	b.WriteString(diff)
	b.WriteString("\n```\n")
	return b.String()
}
