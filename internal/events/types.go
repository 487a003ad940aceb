// Package events carries structured notifications between the build
// service's components: job lifecycle transitions, worker control-loop
// actions, and VM pool state changes. It exists so every component logs
// through the same shape instead of ad hoc log.Printf calls.
package events

import (
	"fmt"
	"strings"
	"time"
)

// Event is a single occurrence in the orchestrator or worker lifecycle.
type Event struct {
	// Time is when the event occurred (set by the bus on Emit if zero).
	Time time.Time `json:"time"`

	// Type identifies what happened.
	Type EventType `json:"type"`

	// JobID is the job this event relates to (empty for worker-only events).
	JobID string `json:"job_id,omitempty"`

	// WorkerID is the worker this event relates to (empty for job-only events).
	WorkerID string `json:"worker_id,omitempty"`

	// Payload carries event-specific structured data.
	Payload any `json:"payload,omitempty"`

	// Error carries a failure message when this is a failure event.
	Error string `json:"error,omitempty"`
}

// EventType is a string constant identifying the event category.
type EventType string

// Job lifecycle events.
const (
	JobCreated   EventType = "job.created"
	JobClaimed   EventType = "job.claimed"
	JobStarted   EventType = "job.started"
	JobCompleted EventType = "job.completed"
	JobFailed    EventType = "job.failed"
	JobCancelled EventType = "job.cancelled"
	JobRetried   EventType = "job.retried"
	JobTimedOut  EventType = "job.timed_out"
)

// Worker lifecycle events.
const (
	WorkerRegistered   EventType = "worker.registered"
	WorkerHeartbeat    EventType = "worker.heartbeat"
	WorkerOffline      EventType = "worker.offline"
	WorkerDeregistered EventType = "worker.deregistered"
	WorkerClaimEmpty   EventType = "worker.claim.empty"
	WorkerClaimError   EventType = "worker.claim.error"
)

// VM pool events.
const (
	PoolSlotInitialized EventType = "pool.slot.initialized"
	PoolSlotAcquired    EventType = "pool.slot.acquired"
	PoolSlotReleased    EventType = "pool.slot.released"
	PoolSlotResetFailed EventType = "pool.slot.reset_failed"
	PoolSlotSetupFailed EventType = "pool.slot.setup_failed"
)

// Log fan-out events.
const (
	StreamCreated    EventType = "stream.created"
	StreamPushed     EventType = "stream.pushed"
	StreamDropped    EventType = "stream.dropped"
	StreamSubscriber EventType = "stream.subscriber.joined"
	StreamEvicted    EventType = "stream.subscriber.evicted"
	StreamRemoved    EventType = "stream.removed"
)

// NewEvent creates an event of the given type for a job.
func NewEvent(eventType EventType, jobID string) Event {
	return Event{Type: eventType, JobID: jobID}
}

// ForWorker creates an event of the given type for a worker.
func ForWorker(eventType EventType, workerID string) Event {
	return Event{Type: eventType, WorkerID: workerID}
}

// WithWorker returns a copy of the event with the worker id set.
func (e Event) WithWorker(workerID string) Event {
	e.WorkerID = workerID
	return e
}

// WithPayload returns a copy of the event with the payload set.
func (e Event) WithPayload(payload any) Event {
	e.Payload = payload
	return e
}

// WithError returns a copy of the event with the error message set.
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// IsFailure reports whether this is a failure-flavored event type.
func (e Event) IsFailure() bool {
	return strings.HasSuffix(string(e.Type), ".failed") || e.Error != ""
}

// String renders a human-readable one-line representation of the event.
func (e Event) String() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Type))
	if e.JobID != "" {
		parts = append(parts, "job="+e.JobID)
	}
	if e.WorkerID != "" {
		parts = append(parts, "worker="+e.WorkerID)
	}
	if e.Error != "" {
		parts = append(parts, "error="+e.Error)
	}
	return strings.Join(parts, " ")
}
