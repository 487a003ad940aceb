package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/alloybuild/orchestrator/internal/apierr"
	"github.com/alloybuild/orchestrator/internal/events"
	"github.com/alloybuild/orchestrator/internal/logstream"
	"github.com/alloybuild/orchestrator/internal/model"
)

type registerWorkerRequest struct {
	Hostname string `json:"hostname"`
	Capacity int    `json:"capacity"`
	WorkerID string `json:"worker_id,omitempty"`
}

func (h *handlers) registerWorker(w http.ResponseWriter, r *http.Request) {
	var req registerWorkerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, apierr.Wrap(apierr.KindValidation, err, "malformed request body"))
		return
	}
	if req.Hostname == "" || req.Capacity <= 0 {
		writeError(w, apierr.New(apierr.KindValidation, "hostname and a positive capacity are required"))
		return
	}

	workerID := req.WorkerID
	if workerID == "" {
		workerID = uuid.NewString()
	}

	worker := model.Worker{
		ID:            workerID,
		Hostname:      req.Hostname,
		Capacity:      req.Capacity,
		LastHeartbeat: time.Now(),
		Status:        model.WorkerOnline,
		CreatedAt:     time.Now(),
	}
	if err := h.deps.Store.UpsertWorker(worker); err != nil {
		writeError(w, apierr.Wrap(apierr.KindDatabaseError, err, "failed to register worker"))
		return
	}
	h.deps.Bus.Emit(events.ForWorker(events.WorkerRegistered, workerID))

	writeJSON(w, http.StatusCreated, map[string]string{
		"worker_id": workerID,
		"token":     uuid.NewString(),
	})
}

type heartbeatRequest struct {
	WorkerID    string `json:"worker_id"`
	CurrentJobs int    `json:"current_jobs"`
	Capacity    int    `json:"capacity"`
}

func (h *handlers) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, apierr.Wrap(apierr.KindValidation, err, "malformed request body"))
		return
	}
	if err := h.deps.Store.Heartbeat(req.WorkerID, req.CurrentJobs, req.Capacity); err != nil {
		writeError(w, apierr.Wrap(apierr.KindWorkerNotFound, err, "unknown worker"))
		return
	}
	h.deps.Bus.Emit(events.ForWorker(events.WorkerHeartbeat, req.WorkerID))
	writeJSON(w, http.StatusOK, nil)
}

type claimRequest struct {
	WorkerID string `json:"worker_id"`
}

func (h *handlers) claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, apierr.Wrap(apierr.KindValidation, err, "malformed request body"))
		return
	}

	job, ok, err := h.deps.Store.Claim(req.WorkerID)
	if err != nil {
		h.deps.Bus.Emit(events.ForWorker(events.WorkerClaimError, req.WorkerID).WithError(err))
		writeError(w, apierr.Wrap(apierr.KindDatabaseError, err, "claim failed"))
		return
	}
	if !ok {
		h.deps.Bus.Emit(events.ForWorker(events.WorkerClaimEmpty, req.WorkerID))
		writeJSON(w, http.StatusOK, nil)
		return
	}

	h.deps.Bus.Emit(events.NewEvent(events.JobClaimed, job.ID).WithWorker(job.WorkerID))
	writeJSON(w, http.StatusOK, job)
}

type completeRequest struct {
	JobID        string            `json:"job_id"`
	ExitCode     int               `json:"exit_code"`
	Artifacts    []model.Artifact  `json:"artifacts"`
	BuildMinutes float64           `json:"build_minutes"`
}

func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, apierr.Wrap(apierr.KindValidation, err, "malformed request body"))
		return
	}

	status := model.JobCompleted
	if req.ExitCode != 0 {
		status = model.JobFailed
	}

	if err := h.deps.Store.CompleteJob(req.JobID, status, req.ExitCode, req.BuildMinutes); err != nil {
		writeError(w, apierr.Wrap(apierr.KindDatabaseError, err, "failed to record completion"))
		return
	}
	for _, a := range req.Artifacts {
		a.JobID = req.JobID
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if err := h.deps.Store.InsertArtifact(a); err != nil {
			writeError(w, apierr.Wrap(apierr.KindDatabaseError, err, "failed to record artifact"))
			return
		}
	}

	stored, err := h.deps.Store.GetJob(req.JobID)
	if err != nil {
		writeError(w, apierr.Wrap(apierr.KindDatabaseError, err, "failed to reload job after completion"))
		return
	}
	h.deps.Bus.Emit(events.NewEvent(eventTypeForStatus(stored.Status), req.JobID))

	h.deps.Hub.Complete(req.JobID, completePayloadFor(stored, len(req.Artifacts)))
	writeJSON(w, http.StatusOK, nil)
}

func (h *handlers) deregister(w http.ResponseWriter, r *http.Request) {
	workerID := mux.Vars(r)["id"]
	if err := h.deps.Store.MarkOffline(workerID); err != nil {
		writeError(w, apierr.Wrap(apierr.KindWorkerNotFound, err, "unknown worker"))
		return
	}
	h.deps.Bus.Emit(events.ForWorker(events.WorkerDeregistered, workerID))
	writeJSON(w, http.StatusOK, nil)
}

func (h *handlers) pushLog(w http.ResponseWriter, r *http.Request) {
	var entry model.LogEntry
	if err := decodeJSON(w, r, &entry); err == nil {
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now()
		}
		h.deps.Hub.Push(entry.JobID, entry)
	}
	// Always 200: log push is best-effort and never fails the worker.
	writeJSON(w, http.StatusOK, nil)
}

func eventTypeForStatus(status model.JobStatus) events.EventType {
	switch status {
	case model.JobCompleted:
		return events.JobCompleted
	case model.JobFailed:
		return events.JobFailed
	case model.JobCancelled:
		return events.JobCancelled
	default:
		return events.JobCompleted
	}
}

func completePayloadFor(job model.Job, artifactsCount int) logstream.CompletePayload {
	return logstream.CompletePayload{
		Status:         job.Status,
		ExitCode:       job.ExitCode,
		BuildMinutes:   job.BuildMinutes,
		ArtifactsCount: artifactsCount,
	}
}
