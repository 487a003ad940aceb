// Package orchclient is the worker's HTTP client to the orchestrator:
// register, heartbeat, claim, complete, and log-push, wrapped in the
// same retry-with-backoff shape the control loop wants for every
// roundtrip to a control plane that may be briefly unreachable.
package orchclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/alloybuild/orchestrator/internal/model"
)

// Client talks to the orchestrator's /api/v1/workers/* surface.
type Client struct {
	baseURL      string
	workerSecret string
	http         *http.Client
}

// New builds a Client with bounded exponential-backoff retries (up to 3
// retries after the first attempt, 1s initial, 30s cap, x2 multiplier).
func New(baseURL, workerSecret string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 1 * time.Second
	rc.RetryWaitMax = 30 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:      baseURL,
		workerSecret: workerSecret,
		http:         rc.StandardClient(),
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.workerSecret != "" {
		req.Header.Set("X-Worker-Secret", c.workerSecret)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	if resp.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Register registers the worker, returning the orchestrator-assigned id.
func (c *Client) Register(ctx context.Context, hostname string, capacity int, proposedID string) (string, error) {
	var resp struct {
		WorkerID string `json:"worker_id"`
	}
	req := map[string]any{"hostname": hostname, "capacity": capacity}
	if proposedID != "" {
		req["worker_id"] = proposedID
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/workers/register", req, &resp); err != nil {
		return "", err
	}
	return resp.WorkerID, nil
}

// Heartbeat reports current load.
func (c *Client) Heartbeat(ctx context.Context, workerID string, currentJobs, capacity int) error {
	body := map[string]any{"worker_id": workerID, "current_jobs": currentJobs, "capacity": capacity}
	return c.do(ctx, http.MethodPost, "/api/v1/workers/heartbeat", body, nil)
}

// Claim asks for the next pending job. ok is false when none is available.
func (c *Client) Claim(ctx context.Context, workerID string) (model.Job, bool, error) {
	var job *model.Job
	body := map[string]string{"worker_id": workerID}
	if err := c.do(ctx, http.MethodPost, "/api/v1/workers/claim", body, &job); err != nil {
		return model.Job{}, false, err
	}
	if job == nil {
		return model.Job{}, false, nil
	}
	return *job, true, nil
}

// Complete reports a job's terminal result.
func (c *Client) Complete(ctx context.Context, workerID, jobID string, exitCode int, artifacts []model.Artifact, buildMinutes float64) error {
	body := map[string]any{
		"job_id":        jobID,
		"exit_code":     exitCode,
		"artifacts":     artifacts,
		"build_minutes": buildMinutes,
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/workers/%s/complete", workerID), body, nil)
}

// Deregister marks the worker offline.
func (c *Client) Deregister(ctx context.Context, workerID string) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/workers/%s/deregister", workerID), nil, nil)
}

// PushLog forwards a single live log line. Failures are non-fatal to the
// caller per the executor's tee step; callers should log and continue.
func (c *Client) PushLog(ctx context.Context, workerID string, entry model.LogEntry) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/v1/workers/%s/log", workerID), entry, nil)
}
