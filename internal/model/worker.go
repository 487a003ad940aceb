package model

import "time"

// WorkerStatus enumerates the lifecycle states of a registered worker.
type WorkerStatus string

const (
	WorkerOnline   WorkerStatus = "online"
	WorkerBusy     WorkerStatus = "busy"
	WorkerOffline  WorkerStatus = "offline"
	WorkerDraining WorkerStatus = "draining"
)

// Worker is a registered macOS host capable of claiming and running jobs.
type Worker struct {
	ID            string       `json:"id"`
	Hostname      string       `json:"hostname"`
	Capacity      int          `json:"capacity"`
	CurrentJobs   int          `json:"current_jobs"`
	LastHeartbeat time.Time    `json:"last_heartbeat"`
	Status        WorkerStatus `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
}

// DeriveStatus computes the status a heartbeat should set, given load.
// A worker at or above capacity is Busy; otherwise Online. Offline and
// Draining are never derived from load: Offline is set when a worker
// deregisters, and nothing in the service sets Draining.
func DeriveStatus(currentJobs, capacity int) WorkerStatus {
	if capacity > 0 && currentJobs >= capacity {
		return WorkerBusy
	}
	return WorkerOnline
}
