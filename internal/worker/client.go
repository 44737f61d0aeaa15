package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// workResponse is the orchestrator's answer to a work request.
type workResponse struct {
	WorkAvailable bool     `json:"work_available"`
	Blocked       bool     `json:"blocked,omitempty"`
	Reason        string   `json:"reason,omitempty"`
	Repository    string   `json:"repository,omitempty"`
	IssueNumber   int      `json:"issue_number,omitempty"`
	Title         string   `json:"title,omitempty"`
	Body          string   `json:"body,omitempty"`
	Labels        []string `json:"labels,omitempty"`
	BranchName    string   `json:"branch_name,omitempty"`
}

type completeRequest struct {
	WorkerID    string  `json:"worker_id"`
	Repository  string  `json:"repository"`
	IssueNumber int     `json:"issue_number"`
	PRURL       string  `json:"pr_url"`
	Success     bool    `json:"success"`
	CostUSD     float64 `json:"cost_usd,omitempty"`
}

type failedRequest struct {
	WorkerID    string `json:"worker_id"`
	Repository  string `json:"repository"`
	IssueNumber int    `json:"issue_number"`
	Error       string `json:"error"`
	Kind        string `json:"kind,omitempty"`
}

// apiClient speaks the orchestrator's control protocol.
type apiClient struct {
	base     string
	workerID string
	http     *http.Client
}

func newAPIClient(base, workerID string) *apiClient {
	return &apiClient{
		base:     base,
		workerID: workerID,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// NextWork asks for the next assignment.
func (c *apiClient) NextWork(ctx context.Context) (*workResponse, error) {
	u := fmt.Sprintf("%s/work/next?worker_id=%s", c.base, url.QueryEscape(c.workerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting work: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return &workResponse{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("work request returned %s", resp.Status)
	}

	var work workResponse
	if err := json.NewDecoder(resp.Body).Decode(&work); err != nil {
		return nil, fmt.Errorf("decoding work response: %w", err)
	}
	return &work, nil
}

// ReportComplete finalizes a successful publication.
func (c *apiClient) ReportComplete(ctx context.Context, repo string, issueNumber int, prURL string, costUSD float64) error {
	return c.post(ctx, "/work/complete", completeRequest{
		WorkerID:    c.workerID,
		Repository:  repo,
		IssueNumber: issueNumber,
		PRURL:       prURL,
		Success:     true,
		CostUSD:     costUSD,
	})
}

// ReportFailed reports a terminal or requeueable failure.
func (c *apiClient) ReportFailed(ctx context.Context, repo string, issueNumber int, kind, detail string) error {
	return c.post(ctx, "/work/failed", failedRequest{
		WorkerID:    c.workerID,
		Repository:  repo,
		IssueNumber: issueNumber,
		Error:       detail,
		Kind:        kind,
	})
}

func (c *apiClient) post(ctx context.Context, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting %s: %w", path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned %s", path, resp.Status)
	}
	return nil
}
