package platform

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Client for tests.
type Fake struct {
	mu sync.Mutex

	// Issues maps repo -> issues returned by ListIssuesByLabel.
	Issues map[string][]Issue
	// RemoteBranches maps repo -> branch names that exist on the remote.
	RemoteBranches map[string][]string
	// Default maps repo -> default branch (falls back to "main").
	Default map[string]string
	// Reviews maps "repo#number" -> review state.
	Reviews map[string]ReviewState

	// Recorded side effects.
	AddedLabels   []string // "repo#number:label"
	RemovedLabels []string
	Comments      []string // "repo#number:body"
	ClosedIssues  []string
	CreatedPRs    []string // "repo:head->base"

	// NextPRNumber numbers created PRs; zero means start at 1.
	NextPRNumber int
	// Err, when set, is returned by every call.
	Err error
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{
		Issues:         make(map[string][]Issue),
		RemoteBranches: make(map[string][]string),
		Default:        make(map[string]string),
		Reviews:        make(map[string]ReviewState),
	}
}

// Recorded returns copies of the label, comment, and close records, safe to
// read while handlers mutate the fake from other goroutines.
func (f *Fake) Recorded() (added, removed, comments, closed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.AddedLabels...),
		append([]string(nil), f.RemovedLabels...),
		append([]string(nil), f.Comments...),
		append([]string(nil), f.ClosedIssues...)
}

func (f *Fake) ListIssuesByLabel(_ context.Context, repo, label string) ([]Issue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	var out []Issue
	for _, is := range f.Issues[repo] {
		for _, l := range is.Labels {
			if l == label {
				out = append(out, is)
				break
			}
		}
	}
	return out, nil
}

func (f *Fake) AddLabel(_ context.Context, repo string, number int, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.AddedLabels = append(f.AddedLabels, fmt.Sprintf("%s#%d:%s", repo, number, label))
	return nil
}

func (f *Fake) RemoveLabel(_ context.Context, repo string, number int, label string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.RemovedLabels = append(f.RemovedLabels, fmt.Sprintf("%s#%d:%s", repo, number, label))
	return nil
}

func (f *Fake) PostComment(_ context.Context, repo string, number int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Comments = append(f.Comments, fmt.Sprintf("%s#%d:%s", repo, number, body))
	return nil
}

func (f *Fake) CloseIssue(_ context.Context, repo string, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.ClosedIssues = append(f.ClosedIssues, fmt.Sprintf("%s#%d", repo, number))
	return nil
}

func (f *Fake) CreatePullRequest(_ context.Context, repo, title, head, base, body string) (*PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	f.CreatedPRs = append(f.CreatedPRs, fmt.Sprintf("%s:%s->%s", repo, head, base))
	if f.NextPRNumber == 0 {
		f.NextPRNumber = 1
	}
	n := f.NextPRNumber
	f.NextPRNumber++
	return &PullRequest{
		Number: n,
		URL:    fmt.Sprintf("https://example.com/%s/pull/%d", repo, n),
	}, nil
}

func (f *Fake) RemoteBranchExists(_ context.Context, repo, branch string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return false, f.Err
	}
	for _, b := range f.RemoteBranches[repo] {
		if b == branch {
			return true, nil
		}
	}
	return false, nil
}

func (f *Fake) DefaultBranch(_ context.Context, repo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	if d, ok := f.Default[repo]; ok {
		return d, nil
	}
	return "main", nil
}

func (f *Fake) PullRequestReview(_ context.Context, repo string, number int) (ReviewState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	if s, ok := f.Reviews[fmt.Sprintf("%s#%d", repo, number)]; ok {
		return s, nil
	}
	return ReviewPending, nil
}

var _ Client = (*Fake)(nil)
