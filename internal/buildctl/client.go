package buildctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/alloybuild/orchestrator/internal/logstream"
	"github.com/alloybuild/orchestrator/internal/model"
)

// APIError is returned for any non-2xx response, carrying the
// server-supplied kind and message from the error taxonomy.
type APIError struct {
	Status  int
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%s, status %d)", e.Message, e.Kind, e.Status)
}

// Client talks to the orchestrator's client-facing /api/v1 surface.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a Client bound to baseURL, authenticating with token
// when non-empty (either a bearer JWT or a raw `bld_...` API key).
func NewClient(baseURL, token string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 500 * time.Millisecond
	rc.RetryWaitMax = 5 * time.Second
	rc.Logger = nil

	return &Client{baseURL: baseURL, token: token, http: rc.StandardClient()}
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
	if c.token != "" {
		if len(c.token) > 4 && c.token[:4] == "bld_" {
			req.Header.Set("Authorization", "ApiKey "+c.token)
		} else {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var body struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		raw, _ := io.ReadAll(resp.Body)
		_ = json.Unmarshal(raw, &body)
		if body.Error == "" {
			body.Error = string(raw)
		}
		return &APIError{Status: resp.StatusCode, Kind: body.Kind, Message: body.Error}
	}
	if out == nil || resp.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Login exchanges email/password for a bearer token.
func (c *Client) Login(ctx context.Context, email, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", body, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// Register creates a new account and returns a bearer token.
func (c *Client) Register(ctx context.Context, email, password string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/register", body, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// CreateGitJobResult is the response from creating a git-source job.
type CreateGitJobResult struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StreamURL string `json:"stream_url"`
}

// CreateGitJob submits a git-source build.
func (c *Client) CreateGitJob(ctx context.Context, sourceURL, command, script string) (CreateGitJobResult, error) {
	var resp CreateGitJobResult
	body := map[string]string{"source_url": sourceURL, "command": command, "script": script}
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs", body, &resp)
	return resp, err
}

// ListJobs returns up to limit jobs, optionally filtered by status.
func (c *Client) ListJobs(ctx context.Context, status string, limit int) ([]model.Job, error) {
	path := fmt.Sprintf("/api/v1/jobs?status=%s&limit=%d", status, limit)
	var jobs []model.Job
	err := c.do(ctx, http.MethodGet, path, nil, &jobs)
	return jobs, err
}

// GetJob fetches a single job by id.
func (c *Client) GetJob(ctx context.Context, jobID string) (model.Job, error) {
	var job model.Job
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+jobID, nil, &job)
	return job, err
}

// CancelJob cancels a pending or running job.
func (c *Client) CancelJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/jobs/"+jobID+"/cancel", nil, nil)
}

// RetryResult is the response from retrying a failed or cancelled job.
type RetryResult struct {
	NewJobID      string `json:"new_job_id"`
	OriginalJobID string `json:"original_job_id"`
}

// RetryJob clones a failed or cancelled job into a fresh pending one.
func (c *Client) RetryJob(ctx context.Context, jobID string) (RetryResult, error) {
	var resp RetryResult
	err := c.do(ctx, http.MethodPost, "/api/v1/jobs/"+jobID+"/retry", nil, &resp)
	return resp, err
}

// GetArtifacts lists the artifacts collected for a job.
func (c *Client) GetArtifacts(ctx context.Context, jobID string) ([]model.Artifact, error) {
	var artifacts []model.Artifact
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+jobID+"/artifacts", nil, &artifacts)
	return artifacts, err
}

// GetStoredLogs fetches the persisted log lines for a completed job.
func (c *Client) GetStoredLogs(ctx context.Context, jobID string) ([]model.StoredLogLine, error) {
	var lines []model.StoredLogLine
	err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+jobID+"/logs/stored", nil, &lines)
	return lines, err
}

// BaseURL returns the server base URL the client was built with, e.g.
// for deriving the live-log WebSocket URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the bearer/API-key credential the client authenticates
// with, e.g. for a follow-up WebSocket dial.
func (c *Client) Token() string {
	return c.token
}

func (c *Client) authHeader() string {
	if len(c.token) > 4 && c.token[:4] == "bld_" {
		return "ApiKey " + c.token
	}
	return "Bearer " + c.token
}

// StreamLogs dials the job's live log WebSocket and invokes onFrame for
// every frame the server pushes, returning when the stream completes,
// the context is cancelled, or the connection drops.
func (c *Client) StreamLogs(ctx context.Context, jobID string, onFrame func(logstream.Frame)) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/api/v1/jobs/" + jobID + "/logs"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", c.authHeader())
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 300 {
			return &APIError{Status: resp.StatusCode, Message: "log stream rejected"}
		}
		return fmt.Errorf("dial log stream: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var frame logstream.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read log frame: %w", err)
		}
		onFrame(frame)
		if frame.Complete != nil {
			return nil
		}
	}
}
