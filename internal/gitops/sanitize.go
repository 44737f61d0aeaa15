package gitops

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxCommitMessageLength caps commit messages; anything longer is truncated
// rather than rejected, since agent output drives the text.
const MaxCommitMessageLength = 4096

var branchNamePattern = regexp.MustCompile(`^[A-Za-z0-9/_-]+$`)

// ValidateBranchName rejects names outside [A-Za-z0-9/_-]+ plus the ref
// shapes git itself refuses: leading dot, "..", trailing slash, empty path
// segments, and "@{". Shell metacharacters cannot appear because the
// character class excludes them, but the explicit checks keep the error
// messages descriptive.
func ValidateBranchName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("branch name is empty")
	case !branchNamePattern.MatchString(name):
		return fmt.Errorf("branch name %q contains characters outside [A-Za-z0-9/_-]", name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("branch name %q must not start with a dot", name)
	case strings.Contains(name, ".."):
		return fmt.Errorf("branch name %q must not contain %q", name, "..")
	case strings.HasSuffix(name, "/"):
		return fmt.Errorf("branch name %q must not end with a slash", name)
	case strings.Contains(name, "//"):
		return fmt.Errorf("branch name %q must not contain empty path segments", name)
	case strings.Contains(name, "@{"):
		return fmt.Errorf("branch name %q must not contain %q", name, "@{")
	}
	return nil
}

// SanitizeCommitMessage strips null bytes and control characters (newlines
// excepted) and caps the length. Agent-produced text goes through here before
// it reaches git.
func SanitizeCommitMessage(msg string) string {
	var b strings.Builder
	b.Grow(len(msg))
	for _, r := range msg {
		if r == '\n' || r >= 32 {
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		out = "update"
	}
	if len(out) > MaxCommitMessageLength {
		out = out[:MaxCommitMessageLength]
	}
	return out
}
