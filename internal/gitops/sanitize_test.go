package gitops

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateBranchName(t *testing.T) {
	valid := []string{
		"main",
		"architect",
		"feature/issue-42",
		"release/v1_2-rc",
	}
	for _, name := range valid {
		if err := ValidateBranchName(name); err != nil {
			t.Errorf("expected %q to be valid, got %v", name, err)
		}
	}

	invalid := []string{
		"",
		".hidden",
		"a..b",
		"trailing/",
		"a//b",
		"a@{1}",
		"feature branch",
		"feat;rm -rf",
		"feat$(x)",
		"feat|x",
		"feat`x`",
		"héllo",
	}
	for _, name := range invalid {
		if err := ValidateBranchName(name); err == nil {
			t.Errorf("expected %q to be rejected", name)
		}
	}
}

func TestSanitizeCommitMessage(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Add input validation", "Add input validation"},
		{"null bytes", "fix\x00bug", "fixbug"},
		{"control chars", "line1\r\nline2\tend\x07", "line1\nline2end"},
		{"newlines kept", "subject\n\nbody text", "subject\n\nbody text"},
		{"empty becomes placeholder", "\x00\x01", "update"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeCommitMessage(tt.in))
		})
	}
}

func TestSanitizeCommitMessageStripsLowCodepoints(t *testing.T) {
	out := SanitizeCommitMessage("a\x00b\x1fc\nd")
	for _, r := range out {
		if r < 32 && r != '\n' {
			t.Fatalf("sanitized message contains control character %q", r)
		}
	}
}

func TestSanitizeCommitMessageCapsLength(t *testing.T) {
	out := SanitizeCommitMessage(strings.Repeat("x", MaxCommitMessageLength+500))
	assert.Len(t, out, MaxCommitMessageLength)
}
