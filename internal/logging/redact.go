package logging

import "regexp"

// secretPatterns match token shapes that must never reach a log line:
// GitHub tokens (classic and fine-grained), Anthropic API keys, and
// bearer/authorization header values.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`),
	regexp.MustCompile(`github_pat_[A-Za-z0-9_]{20,}`),
	regexp.MustCompile(`sk-ant-[A-Za-z0-9\-_]{20,}`),
	regexp.MustCompile(`(?i)(authorization:\s*(?:bearer|basic|token)\s+)\S+`),
	regexp.MustCompile(`(https?://)[^/@\s]+@`), // credentials embedded in URLs
}

// Redact masks known secret shapes in arbitrary text before it is logged or
// posted as an issue comment. Command stderr and API error bodies go through
// this; structured fields holding credentials are never logged at all.
func Redact(s string) string {
	out := s
	for i, re := range secretPatterns {
		switch i {
		case 3:
			out = re.ReplaceAllString(out, "${1}***")
		case 4:
			out = re.ReplaceAllString(out, "${1}***@")
		default:
			out = re.ReplaceAllString(out, "***")
		}
	}
	return out
}
