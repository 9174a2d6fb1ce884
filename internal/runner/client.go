// Package runner implements the reference runner: a standalone process that
// registers with the coordinator, long-polls for claimable runs, executes
// them with a pluggable Executor, and reports results back over HTTP.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/orbweave/coordinator/internal/api"
)

// Client is a thin HTTP client over the coordinator's runner-facing
// endpoints (§6 "Runner Gateway"). It carries no retry logic of its own;
// Runner's poll loop decides when to retry a failed call.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client against baseURL, e.g. "http://localhost:8080".
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Register calls POST /runner/register and returns the assigned runner ID.
func (c *Client) Register(ctx context.Context, req api.RunnerRegisterRequest) (string, error) {
	var resp api.RunnerRegisterResponse
	if err := c.do(ctx, http.MethodPost, "/runner/register", req, &resp); err != nil {
		return "", err
	}
	return resp.RunnerID, nil
}

// Heartbeat calls POST /runner/heartbeat.
func (c *Client) Heartbeat(ctx context.Context, runnerID string) error {
	return c.do(ctx, http.MethodPost, "/runner/heartbeat", api.HeartbeatRequest{RunnerID: runnerID}, nil)
}

// ClaimedRun is the wire shape of a long-poll response body, an exported
// copy of internal/api's unexported claimedRunResponse built from the same
// api DTOs.
type ClaimedRun struct {
	Run       api.RunResponse    `json:"run"`
	Blueprint *api.AgentResponse `json:"blueprint"`
}

// ClaimNext issues one long-poll call to GET /runner/runs. It returns
// (nil, nil) when the server replies 204 (nothing claimable before ctx was
// cancelled) so the caller can loop without treating that as an error.
func (c *Client) ClaimNext(ctx context.Context, runnerID string, pollTimeout time.Duration) (*ClaimedRun, error) {
	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/runner/runs?runner_id=%s", c.baseURL, runnerID)
	httpReq, err := http.NewRequestWithContext(pollCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if pollCtx.Err() != nil && ctx.Err() == nil {
			// the poll's own timeout fired, not the caller's context
			return nil, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var claimed ClaimedRun
	if err := json.NewDecoder(resp.Body).Decode(&claimed); err != nil {
		return nil, fmt.Errorf("decode claimed run: %w", err)
	}
	return &claimed, nil
}

// ReportRunning calls POST /runner/runs/{id}/running.
func (c *Client) ReportRunning(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, "/runner/runs/"+runID+"/running", nil, nil)
}

// ReportCompleted calls POST /runner/runs/{id}/completed.
func (c *Client) ReportCompleted(ctx context.Context, runID string, req api.CompleteRunRequest) error {
	return c.do(ctx, http.MethodPost, "/runner/runs/"+runID+"/completed", req, nil)
}

// ReportFailed calls POST /runner/runs/{id}/failed.
func (c *Client) ReportFailed(ctx context.Context, runID string, reason string) error {
	return c.do(ctx, http.MethodPost, "/runner/runs/"+runID+"/failed", api.FailRunRequest{Error: reason}, nil)
}

// AppendEvent calls POST /events, reporting progress on behalf of runID.
func (c *Client) AppendEvent(ctx context.Context, req api.AppendEventRequest) error {
	return c.do(ctx, http.MethodPost, "/events", req, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// wireError mirrors the {"error", "message"} envelope ErrorHandler writes.
type wireError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func statusError(resp *http.Response) error {
	var we wireError
	_ = json.NewDecoder(resp.Body).Decode(&we)
	if we.Message != "" {
		return fmt.Errorf("coordinator returned %d %s: %s", resp.StatusCode, we.Error, we.Message)
	}
	return fmt.Errorf("coordinator returned status %d", resp.StatusCode)
}
