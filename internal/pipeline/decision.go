package pipeline

import "strings"

// Decision is the Product Owner's verdict on a finished pipeline run.
type Decision int

const (
	DecisionRevise Decision = iota
	DecisionApprove
	DecisionReject
)

func (d Decision) String() string {
	switch d {
	case DecisionApprove:
		return "approve"
	case DecisionReject:
		return "reject"
	default:
		return "revise"
	}
}

// ParseDecision extracts the verdict from the Product Owner's free-text
// output. Matching is case-insensitive and tolerates whitespace around the
// colon; an output with no recognizable decision line defaults to revise,
// which is the safe direction.
func ParseDecision(output string) Decision {
	normalized := strings.Join(strings.Fields(strings.ToUpper(output)), "")
	switch {
	case strings.Contains(normalized, "DECISION:APPROVE"):
		return DecisionApprove
	case strings.Contains(normalized, "DECISION:REJECT"):
		return DecisionReject
	default:
		return DecisionRevise
	}
}

// testsFailing reports whether the tester's summary declares a failing
// suite. Used only when the tests-passing gate is enabled.
func testsFailing(output string) bool {
	normalized := strings.Join(strings.Fields(strings.ToUpper(output)), "")
	return strings.Contains(normalized, "TESTS:FAILING")
}
