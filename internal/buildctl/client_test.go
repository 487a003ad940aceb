package buildctl

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGitJob(t *testing.T) {
	var gotAuth, gotSourceURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotSourceURL = body["source_url"]

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(CreateGitJobResult{
			JobID:     "job-1",
			Status:    "pending",
			StreamURL: "/api/v1/jobs/job-1/logs",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "bld_abc123")
	result, err := c.CreateGitJob(context.Background(), "https://example.com/repo.git", "make build", "")
	require.NoError(t, err)

	assert.Equal(t, "job-1", result.JobID)
	assert.Equal(t, "https://example.com/repo.git", gotSourceURL)
	assert.Equal(t, "ApiKey bld_abc123", gotAuth)
}

func TestLoginUsesBearerForPlainToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "a.jwt.token"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "a.jwt.token")
	token, err := c.Login(context.Background(), "dev@example.com", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "a.jwt.token", token)
	assert.Equal(t, "Bearer a.jwt.token", gotAuth)
}

func TestDoReturnsAPIErrorOnFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "job not found",
			"kind":  "job_not_found",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.GetJob(context.Background(), "missing-job")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "job_not_found", apiErr.Kind)
}

func TestCancelJobSendsNoBody(t *testing.T) {
	var method, path string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	require.NoError(t, c.CancelJob(context.Background(), "job-7"))
	assert.Equal(t, http.MethodPost, method)
	assert.Equal(t, "/api/v1/jobs/job-7/cancel", path)
	assert.Empty(t, body)
}

func TestListJobsBuildsQueryString(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]string{})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.ListJobs(context.Background(), "running", 5)
	require.NoError(t, err)
	assert.Equal(t, "status=running&limit=5", gotQuery)
}
