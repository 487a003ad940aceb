package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alloybuild/orchestrator/internal/authsvc"
	"github.com/alloybuild/orchestrator/internal/events"
	"github.com/alloybuild/orchestrator/internal/logstream"
	"github.com/alloybuild/orchestrator/internal/ratelimit"
	"github.com/alloybuild/orchestrator/internal/store"
)

type memObjectStore struct {
	blobs map[string][]byte
}

func newMemObjectStore() *memObjectStore { return &memObjectStore{blobs: make(map[string][]byte)} }

func (m *memObjectStore) Put(_ context.Context, key string, r io.Reader) (int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.blobs[key] = b
	return int64(len(b)), nil
}

func (m *memObjectStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := m.blobs[key]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memObjectStore) Head(_ context.Context, key string) (bool, error) {
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *memObjectStore) SignedURL(_ context.Context, key string) (string, error) {
	return "https://storage.example.com/" + key, nil
}

func (m *memObjectStore) Delete(_ context.Context, key string) error {
	delete(m.blobs, key)
	return nil
}

func newTestServer(t *testing.T) (http.Handler, Deps) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	deps := Deps{
		Store:                 s,
		Hub:                   logstream.NewHub(),
		Objects:               newMemObjectStore(),
		Issuer:                authsvc.NewTokenIssuer([]byte("test-secret"), time.Hour),
		APIKeySecret:          []byte("api-key-secret"),
		Limiter:               ratelimit.New(1000, 1000),
		Bus:                   events.NewBus(),
		WorkerSecret:          "",
		BaseURL:               "http://localhost:8080",
		DefaultTimeoutMinutes: 60,
	}
	return NewRouter(deps), deps
}

func registerAndLogin(t *testing.T, router http.Handler) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": "dev@example.com", "password": "hunter22xyz"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["token"]
}

func TestHealth(t *testing.T) {
	router, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateJobRequiresAuth(t *testing.T) {
	router, _ := newTestServer(t)
	body, _ := json.Marshal(map[string]string{"source_url": "https://example.com/repo.git", "command": "echo hi"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// TestGitJobSuccessScenario implements the §8 scenario 1 flow through the
// HTTP surface: create, worker claims, worker completes, client reads back
// the terminal status.
func TestGitJobSuccessScenario(t *testing.T) {
	router, _ := newTestServer(t)
	token := registerAndLogin(t, router)

	createBody, _ := json.Marshal(map[string]string{
		"source_url": "https://example.com/repo.git",
		"command":    "echo hi",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(createBody))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "pending", created["status"])
	jobID := created["job_id"]

	registerBody, _ := json.Marshal(map[string]any{"hostname": "mac-1", "capacity": 2})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/workers/register", bytes.NewReader(registerBody))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var workerResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &workerResp))
	workerID := workerResp["worker_id"]

	claimBody, _ := json.Marshal(map[string]string{"worker_id": workerID})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/workers/claim", bytes.NewReader(claimBody))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var claimedJob map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &claimedJob))
	assert.Equal(t, jobID, claimedJob["id"])
	assert.Equal(t, "running", claimedJob["status"])

	completeBody, _ := json.Marshal(map[string]any{
		"job_id":        jobID,
		"exit_code":     0,
		"build_minutes": 0.05,
		"artifacts":     []any{},
	})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/workers/"+workerID+"/complete", bytes.NewReader(completeBody))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var final map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &final))
	assert.Equal(t, "completed", final["status"])
	assert.EqualValues(t, 0, final["exit_code"])
}

// TestCancelThenCompleteTerminalWins implements §8 scenario 5 through the
// HTTP surface.
func TestCancelThenCompleteTerminalWins(t *testing.T) {
	router, _ := newTestServer(t)
	token := registerAndLogin(t, router)

	createBody, _ := json.Marshal(map[string]string{"source_url": "https://example.com/repo.git", "command": "sleep 120"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(createBody))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	jobID := created["job_id"]

	registerBody, _ := json.Marshal(map[string]any{"hostname": "mac-1", "capacity": 1})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/workers/register", bytes.NewReader(registerBody))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var workerResp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &workerResp))
	workerID := workerResp["worker_id"]

	claimBody, _ := json.Marshal(map[string]string{"worker_id": workerID})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/workers/claim", bytes.NewReader(claimBody))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+jobID+"/cancel", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	completeBody, _ := json.Marshal(map[string]any{"job_id": jobID, "exit_code": 0, "build_minutes": 0.5, "artifacts": []any{}})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/workers/"+workerID+"/complete", bytes.NewReader(completeBody))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, "late completion of a cancelled job is still accepted")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var final map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &final))
	assert.Equal(t, "cancelled", final["status"], "terminal wins: cancellation is not overwritten by a late completion")
}

func TestRequestUploadDedup(t *testing.T) {
	router, _ := newTestServer(t)
	token := registerAndLogin(t, router)

	body, _ := json.Marshal(map[string]string{"command": "echo hi", "commit_sha": "abc123"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/upload", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var first map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.Equal(t, false, first["skip_upload"])
	jobID := first["job_id"].(string)

	req = httptest.NewRequest(http.MethodPut, "/api/v1/jobs/"+jobID+"/upload", bytes.NewReader([]byte("zip-bytes")))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	body, _ = json.Marshal(map[string]string{"command": "echo hi", "commit_sha": "abc123"})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/jobs/upload", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var second map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))
	assert.Equal(t, true, second["skip_upload"])
	assert.Equal(t, first["download_url"], second["download_url"])
}
