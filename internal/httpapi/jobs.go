package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/alloybuild/orchestrator/internal/apierr"
	"github.com/alloybuild/orchestrator/internal/model"
	"github.com/alloybuild/orchestrator/internal/store"
)

type createGitJobRequest struct {
	SourceURL string `json:"source_url"`
	Command   string `json:"command,omitempty"`
	Script    string `json:"script,omitempty"`
}

func (h *handlers) createGitJob(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	if !h.checkRateLimit(w, userID) {
		return
	}

	var req createGitJobRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, apierr.Wrap(apierr.KindValidation, err, "malformed request body"))
		return
	}
	work := model.Work{Command: req.Command, Script: req.Script}
	if err := work.Validate(); err != nil {
		writeError(w, apierr.Wrap(apierr.KindValidation, err, ""))
		return
	}
	if req.SourceURL == "" {
		writeError(w, apierr.New(apierr.KindValidation, "source_url is required"))
		return
	}

	job := model.Job{
		ID:        uuid.NewString(),
		OwnerID:   userID,
		Source:    model.Source{Kind: model.SourceGit, URL: req.SourceURL},
		Command:   req.Command,
		Script:    req.Script,
		Status:    model.JobPending,
		CreatedAt: time.Now(),
	}
	if err := h.deps.Store.InsertJob(job); err != nil {
		writeError(w, apierr.Wrap(apierr.KindDatabaseError, err, "failed to create job"))
		return
	}
	h.deps.Hub.CreateStream(job.ID)

	writeJSON(w, http.StatusCreated, map[string]string{
		"job_id":     job.ID,
		"status":     string(job.Status),
		"stream_url": h.streamURL(job.ID),
	})
}

type requestUploadRequest struct {
	Command   string `json:"command,omitempty"`
	Script    string `json:"script,omitempty"`
	CommitSHA string `json:"commit_sha,omitempty"`
}

func (h *handlers) requestUpload(w http.ResponseWriter, r *http.Request) {
	userID, _ := userIDFromContext(r.Context())
	if !h.checkRateLimit(w, userID) {
		return
	}

	var req requestUploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, apierr.Wrap(apierr.KindValidation, err, "malformed request body"))
		return
	}
	work := model.Work{Command: req.Command, Script: req.Script}
	if err := work.Validate(); err != nil {
		writeError(w, apierr.Wrap(apierr.KindValidation, err, ""))
		return
	}

	jobID := uuid.NewString()
	storageKey := fmt.Sprintf("sources/%s.zip", jobID)
	if req.CommitSHA != "" {
		storageKey = fmt.Sprintf("sources/%s.zip", req.CommitSHA)
	}

	skipUpload := false
	if req.CommitSHA != "" {
		exists, err := h.deps.Objects.Head(r.Context(), storageKey)
		if err != nil {
			writeError(w, apierr.Wrap(apierr.KindStorageError, err, "failed to check existing upload"))
			return
		}
		skipUpload = exists
	}

	downloadURL, err := h.deps.Objects.SignedURL(r.Context(), storageKey)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindStorageError, err, "failed to derive download url"))
		return
	}

	job := model.Job{
		ID:        jobID,
		OwnerID:   userID,
		Source:    model.Source{Kind: model.SourceUpload, StorageKey: storageKey, DownloadURL: downloadURL},
		Command:   req.Command,
		Script:    req.Script,
		Status:    model.JobPending,
		CreatedAt: time.Now(),
	}
	if err := h.deps.Store.InsertJob(job); err != nil {
		writeError(w, apierr.Wrap(apierr.KindDatabaseError, err, "failed to create job"))
		return
	}
	h.deps.Hub.CreateStream(job.ID)

	writeJSON(w, http.StatusCreated, map[string]any{
		"job_id":       job.ID,
		"upload_url":   h.uploadURL(job.ID),
		"download_url": downloadURL,
		"upload_token": uuid.NewString(),
		"skip_upload":  skipUpload,
	})
}

func (h *handlers) uploadArchive(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	job, err := h.loadOwnedJob(w, r, jobID)
	if err != nil {
		return
	}

	storageKey, err := job.StorageKeyFromSourceURL()
	if err != nil {
		writeError(w, apierr.New(apierr.KindNoSourceURL, "job has no upload source"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, uploadBodyLimit)
	defer r.Body.Close()

	if _, err := h.deps.Objects.Put(r.Context(), storageKey, r.Body); err != nil {
		writeError(w, apierr.Wrap(apierr.KindStorageUpload, err, "failed to upload archive"))
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *handlers) startJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	job, err := h.loadOwnedJob(w, r, jobID)
	if err != nil {
		return
	}

	switch job.Status {
	case model.JobPending, model.JobRunning:
		writeJSON(w, http.StatusOK, map[string]string{
			"job_id":     job.ID,
			"status":     string(job.Status),
			"stream_url": h.streamURL(job.ID),
		})
	default:
		writeError(w, apierr.New(apierr.KindInvalidState, "job is in a terminal state"))
	}
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	status := model.JobStatus(r.URL.Query().Get("status"))
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}
	if limit <= 0 {
		limit = 20
	}

	jobs, err := h.deps.Store.ListJobs(status, limit)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindDatabaseError, err, "failed to list jobs"))
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *handlers) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	job, err := h.loadOwnedJob(w, r, jobID)
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *handlers) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if _, err := h.loadOwnedJob(w, r, jobID); err != nil {
		return
	}

	if _, err := h.deps.Store.CancelJob(jobID); err != nil {
		writeError(w, apierr.Wrap(apierr.KindInvalidState, err, "job cannot be cancelled from its current state"))
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (h *handlers) retryJob(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	job, err := h.loadOwnedJob(w, r, jobID)
	if err != nil {
		return
	}

	if job.Status != model.JobFailed && job.Status != model.JobCancelled {
		writeError(w, apierr.New(apierr.KindInvalidState, "only failed or cancelled jobs may be retried"))
		return
	}

	fresh := job.Clone(uuid.NewString())
	fresh.CreatedAt = time.Now()
	if err := h.deps.Store.InsertJob(fresh); err != nil {
		writeError(w, apierr.Wrap(apierr.KindDatabaseError, err, "failed to create retry job"))
		return
	}
	h.deps.Hub.CreateStream(fresh.ID)

	writeJSON(w, http.StatusCreated, map[string]string{
		"new_job_id":      fresh.ID,
		"original_job_id": job.ID,
	})
}

func (h *handlers) getArtifacts(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if _, err := h.loadOwnedJob(w, r, jobID); err != nil {
		return
	}
	artifacts, err := h.deps.Store.ListArtifacts(jobID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindDatabaseError, err, "failed to list artifacts"))
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}

func (h *handlers) getStoredLogs(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if _, err := h.loadOwnedJob(w, r, jobID); err != nil {
		return
	}

	rc, err := h.deps.Objects.Get(r.Context(), fmt.Sprintf("logs/%s.log", jobID))
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindStorageError, err, "log file not available"))
		return
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindStorageError, err, "failed to read log file"))
		return
	}

	writeJSON(w, http.StatusOK, parseStoredLog(jobID, raw))
}

func (h *handlers) streamLogs(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	if _, err := h.loadOwnedJob(w, r, jobID); err != nil {
		return
	}
	serveLogWebSocket(h.deps.Hub, w, r, jobID)
}

// loadOwnedJob fetches a job and verifies the authenticated caller owns
// it, writing the appropriate error response and returning a non-nil
// error if either check fails.
func (h *handlers) loadOwnedJob(w http.ResponseWriter, r *http.Request, jobID string) (model.Job, error) {
	job, err := h.deps.Store.GetJob(jobID)
	if err != nil {
		notFound := apierr.New(apierr.KindJobNotFound, "job not found")
		if err != store.ErrNotFound {
			notFound = apierr.Wrap(apierr.KindDatabaseError, err, "failed to load job")
		}
		writeError(w, notFound)
		return model.Job{}, notFound
	}
	userID, _ := userIDFromContext(r.Context())
	if userID != "" && job.OwnerID != userID {
		err := apierr.New(apierr.KindJobNotFound, "job not found")
		writeError(w, err)
		return model.Job{}, err
	}
	return job, nil
}

func (h *handlers) checkRateLimit(w http.ResponseWriter, userID string) bool {
	if h.deps.Limiter == nil {
		return true
	}
	if h.deps.Limiter.Allow(userID) {
		return true
	}
	writeError(w, apierr.New(apierr.KindRateLimited, "too many job submissions, slow down"))
	return false
}

func (h *handlers) streamURL(jobID string) string {
	return fmt.Sprintf("%s/api/v1/jobs/%s/logs", h.deps.BaseURL, jobID)
}

func (h *handlers) uploadURL(jobID string) string {
	return fmt.Sprintf("%s/api/v1/jobs/%s/upload", h.deps.BaseURL, jobID)
}
