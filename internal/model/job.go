// Package model defines the wire-and-storage shapes for the build
// service's core entities: jobs, workers, artifacts, log entries, and API
// keys, plus the job state machine's transition rules.
package model

import (
	"fmt"
	"time"
)

// JobStatus enumerates the lifecycle states of a Job. The wire
// representation is the lowercase snake_case string.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status accepts no further transitions
// other than artifact insertion.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// SourceKind tags the variant carried by a Job's Source field.
type SourceKind string

const (
	SourceGit    SourceKind = "git"
	SourceUpload SourceKind = "upload"
)

// Source is the tagged {Git{url}, Upload{storage_key, download_url}}
// variant from the data model. Kind selects which fields apply: URL for
// Git, (StorageKey, DownloadURL) for Upload. A job loaded from the store
// carries the stored source URL in both URL and DownloadURL.
type Source struct {
	Kind        SourceKind `json:"kind"`
	URL         string     `json:"url,omitempty"`
	StorageKey  string     `json:"storage_key,omitempty"`
	DownloadURL string     `json:"download_url,omitempty"`
}

// Work is the tagged {command, script} variant: exactly one of Command
// or Script is non-empty.
type Work struct {
	Command string `json:"command,omitempty"`
	Script  string `json:"script,omitempty"`
}

// Validate enforces the exactly-one-of-Command-or-Script rule at the boundary.
func (w Work) Validate() error {
	hasCommand := w.Command != ""
	hasScript := w.Script != ""
	if hasCommand == hasScript {
		return fmt.Errorf("exactly one of command or script must be set")
	}
	return nil
}

// Job is the central entity of the build service.
type Job struct {
	ID       string    `json:"id"`
	OwnerID  string    `json:"owner_id"`
	Source   Source    `json:"source"`
	Work     Work      `json:"-"`
	Command  string    `json:"command,omitempty"`
	Script   string    `json:"script,omitempty"`
	Status   JobStatus `json:"status"`
	WorkerID string    `json:"worker_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ExitCode     *int    `json:"exit_code,omitempty"`
	BuildMinutes float64 `json:"build_minutes,omitempty"`
}

// StorageKeyFromSourceURL returns the Upload source's recorded storage
// key (Source.StorageKey), or a "no_source_url" error when none is set.
// It does not parse the key out of the download URL.
func (j Job) StorageKeyFromSourceURL() (string, error) {
	if j.Source.StorageKey != "" {
		return j.Source.StorageKey, nil
	}
	return "", fmt.Errorf("no_source_url")
}

// Clone produces the fields carried forward by RetryJob: source,
// command, script, and owner. Status, timestamps, worker
// assignment, and result are deliberately not copied.
func (j Job) Clone(newID string) Job {
	return Job{
		ID:      newID,
		OwnerID: j.OwnerID,
		Source:  j.Source,
		Command: j.Command,
		Script:  j.Script,
		Status:  JobPending,
	}
}
