// Package logstream implements the log fan-out hub: the in-memory
// broadcast layer that lets any number of GET /jobs/{id}/logs
// WebSocket subscribers observe a running job's output live, without
// the executor blocking on a slow reader.
package logstream

import (
	"encoding/json"
	"sync"

	"github.com/alloybuild/orchestrator/internal/model"
)

// subscriberBuffer is the minimum channel capacity per subscriber.
// A job producing less than this many lines before any reader catches
// up never drops a line; beyond it, the slowest reader is evicted
// rather than blocking the push side.
const subscriberBuffer = 1000

// Frame is a line sent down a log WebSocket connection. It is either a
// log line (Entry set) or the terminal completion frame (Complete set).
type Frame struct {
	Entry    *model.LogEntry `json:"entry,omitempty"`
	Complete *CompletePayload `json:"complete,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// CompletePayload is the terminal frame pushed once a job reaches a
// terminal state, after which the stream is torn down.
type CompletePayload struct {
	Status          model.JobStatus `json:"status"`
	ExitCode        *int            `json:"exit_code,omitempty"`
	BuildMinutes    float64         `json:"build_minutes"`
	ArtifactsCount  int             `json:"artifacts_count"`
}

// marshal encodes a frame in its wire shape. Nothing in the package calls
// it; ServeSubscriber encodes frames itself.
func (f Frame) marshal() ([]byte, error) { return json.Marshal(f) }

type subscriber struct {
	id string
	ch chan Frame
}

// stream is the fan-out point for a single job's log output.
type stream struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
	closed      bool
}

// Hub owns one stream per in-flight job.
type Hub struct {
	mu      sync.Mutex
	streams map[string]*stream
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{streams: make(map[string]*stream)}
}

// CreateStream registers a new, empty stream for jobID. Safe to call
// more than once; subsequent calls are no-ops.
func (h *Hub) CreateStream(jobID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.streams[jobID]; ok {
		return
	}
	h.streams[jobID] = &stream{subscribers: make(map[string]*subscriber)}
}

// Push fans a log entry out to every current subscriber of jobID. If
// the job has no stream (never created, or already removed), Push is a
// silent no-op — producers never block or error on an unobserved job.
func (h *Hub) Push(jobID string, entry model.LogEntry) {
	s := h.get(jobID)
	if s == nil {
		return
	}
	s.broadcast(Frame{Entry: &entry})
}

// Complete pushes the terminal frame for jobID and tears the stream
// down: existing subscriber channels are closed after the frame is
// delivered, and the stream is removed so a stale late subscriber gets
// the "not found" response rather than hanging forever.
func (h *Hub) Complete(jobID string, payload CompletePayload) {
	s := h.get(jobID)
	if s != nil {
		s.broadcast(Frame{Complete: &payload})
	}
	h.RemoveStream(jobID)
}

// RemoveStream closes every subscriber channel for jobID and forgets
// the stream.
func (h *Hub) RemoveStream(jobID string) {
	h.mu.Lock()
	s, ok := h.streams[jobID]
	if ok {
		delete(h.streams, jobID)
	}
	h.mu.Unlock()
	if !ok {
		return
	}
	s.closeAll()
}

func (h *Hub) get(jobID string) *stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[jobID]
}

// Subscribe attaches a new reader to jobID's stream, returning a
// channel of frames and an unsubscribe func. ok is false if jobID has
// no active stream (job not found, or already completed and removed) —
// callers should respond with the "job not found or already completed"
// error frame per the external interface.
func (h *Hub) Subscribe(jobID string) (ch <-chan Frame, unsubscribe func(), ok bool) {
	s := h.get(jobID)
	if s == nil {
		return nil, func() {}, false
	}
	return s.subscribe()
}

func (s *stream) subscribe() (<-chan Frame, func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, func() {}, false
	}

	id := newSubscriberID()
	sub := &subscriber{id: id, ch: make(chan Frame, subscriberBuffer)}
	s.subscribers[id] = sub

	unsubscribe := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if existing, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(existing.ch)
		}
	}
	return sub.ch, unsubscribe, true
}

// broadcast delivers frame to every subscriber. A subscriber whose
// buffer is already full is evicted (its channel closed and removed)
// rather than blocking the push side or silently dropping frames for a
// reader that might otherwise catch up.
func (s *stream) broadcast(frame Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for id, sub := range s.subscribers {
		select {
		case sub.ch <- frame:
		default:
			delete(s.subscribers, id)
			close(sub.ch)
		}
	}
}

func (s *stream) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, sub := range s.subscribers {
		delete(s.subscribers, id)
		close(sub.ch)
	}
}
