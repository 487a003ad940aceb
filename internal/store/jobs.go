package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alloybuild/orchestrator/internal/model"
)

// ErrNotFound is returned when a lookup by id finds no row.
var ErrNotFound = errors.New("not found")

// InsertJob persists a new job. The job is expected to already carry a
// generated id and CreatedAt.
func (s *Store) InsertJob(j model.Job) error {
	sourceURL := j.Source.URL
	if sourceURL == "" {
		sourceURL = j.Source.DownloadURL
	}
	_, err := s.conn.Exec(`
		INSERT INTO jobs (id, owner_id, source_kind, source_url, storage_key, command, script, status, worker_id, created_at, started_at, completed_at, exit_code, build_minutes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.OwnerID, string(j.Source.Kind), nullableString(sourceURL), nullableString(j.Source.StorageKey),
		nullableString(j.Command), nullableString(j.Script), string(j.Status), nullableString(j.WorkerID),
		j.CreatedAt, nullableTime(j.StartedAt), nullableTime(j.CompletedAt), nullableInt(j.ExitCode), j.BuildMinutes,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads a job by id.
func (s *Store) GetJob(id string) (model.Job, error) {
	row := s.conn.QueryRow(`
		SELECT id, owner_id, source_kind, source_url, storage_key, command, script, status, worker_id, created_at, started_at, completed_at, exit_code, build_minutes
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// ListJobs returns jobs optionally filtered by status, newest first,
// capped at limit.
func (s *Store) ListJobs(status model.JobStatus, limit int) ([]model.Job, error) {
	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.conn.Query(`
			SELECT id, owner_id, source_kind, source_url, storage_key, command, script, status, worker_id, created_at, started_at, completed_at, exit_code, build_minutes
			FROM jobs WHERE status = ? ORDER BY created_at DESC, id DESC LIMIT ?`, string(status), limit)
	} else {
		rows, err = s.conn.Query(`
			SELECT id, owner_id, source_kind, source_url, storage_key, command, script, status, worker_id, created_at, started_at, completed_at, exit_code, build_minutes
			FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateJobSource sets the upload source fields once the storage key and
// public download URL are known.
func (s *Store) UpdateJobSource(id, storageKey, downloadURL string) error {
	res, err := s.conn.Exec(`UPDATE jobs SET storage_key = ?, source_url = ? WHERE id = ?`, storageKey, downloadURL, id)
	if err != nil {
		return fmt.Errorf("update job source: %w", err)
	}
	return checkRowsAffected(res)
}

// CancelJob performs the Pending|Running -> Cancelled transition,
// returning ErrInvalidTransition-wrapping error if the job is not in one
// of those states. The check-and-set runs in one statement so it is safe
// under concurrent callers.
func (s *Store) CancelJob(id string) (model.Job, error) {
	res, err := s.conn.Exec(`
		UPDATE jobs SET status = ?, completed_at = ?
		WHERE id = ? AND status IN (?, ?)`,
		string(model.JobCancelled), time.Now(), id, string(model.JobPending), string(model.JobRunning))
	if err != nil {
		return model.Job{}, fmt.Errorf("cancel job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Job{}, err
	}
	if n == 0 {
		j, getErr := s.GetJob(id)
		if getErr != nil {
			return model.Job{}, getErr
		}
		return model.Job{}, &model.ErrInvalidTransition{From: j.Status, To: model.JobCancelled}
	}
	return s.GetJob(id)
}

// CompleteJob records a worker's completion report. Per §5, "terminal
// wins": if the job has already reached Cancelled, the report is
// accepted (no error) but the stored status is left untouched.
func (s *Store) CompleteJob(id string, status model.JobStatus, exitCode int, buildMinutes float64) error {
	current, err := s.GetJob(id)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return nil
	}
	now := time.Now()
	res, err := s.conn.Exec(`
		UPDATE jobs SET status = ?, exit_code = ?, build_minutes = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		string(status), exitCode, buildMinutes, now, id, string(model.JobRunning))
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Raced with a cancellation between the read above and this
		// write: terminal wins, silently accept.
		return nil
	}
	return nil
}

// InsertArtifact appends an artifact row for a job.
func (s *Store) InsertArtifact(a model.Artifact) error {
	_, err := s.conn.Exec(`
		INSERT INTO artifacts (id, job_id, name, path, size_bytes, download_url)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.JobID, a.Name, a.Path, a.SizeBytes, nullableString(a.DownloadURL))
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

// ListArtifacts returns the artifacts recorded for a job.
func (s *Store) ListArtifacts(jobID string) ([]model.Artifact, error) {
	rows, err := s.conn.Query(`SELECT id, job_id, name, path, size_bytes, download_url FROM artifacts WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []model.Artifact
	for rows.Next() {
		var a model.Artifact
		var downloadURL sql.NullString
		if err := rows.Scan(&a.ID, &a.JobID, &a.Name, &a.Path, &a.SizeBytes, &downloadURL); err != nil {
			return nil, err
		}
		a.DownloadURL = downloadURL.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// HeadStorageKeyUsed reports whether any job already references the
// given storage key as its source. The upload handler's dedup check uses
// the object store's Head call and does not call this.
func (s *Store) HeadStorageKeyUsed(storageKey string) (bool, error) {
	var n int
	err := s.conn.QueryRow(`SELECT COUNT(1) FROM jobs WHERE storage_key = ?`, storageKey).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (model.Job, error) {
	var j model.Job
	var sourceKind, sourceURL, storageKey, command, script, workerID sql.NullString
	var startedAt, completedAt sql.NullTime
	var exitCode sql.NullInt64
	var buildMinutes sql.NullFloat64
	var status string

	err := row.Scan(&j.ID, &j.OwnerID, &sourceKind, &sourceURL, &storageKey, &command, &script, &status, &workerID,
		&j.CreatedAt, &startedAt, &completedAt, &exitCode, &buildMinutes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Job{}, ErrNotFound
		}
		return model.Job{}, fmt.Errorf("scan job: %w", err)
	}

	j.Status = model.JobStatus(status)
	j.Source = model.Source{Kind: model.SourceKind(sourceKind.String), URL: sourceURL.String, StorageKey: storageKey.String, DownloadURL: sourceURL.String}
	j.Command = command.String
	j.Script = script.String
	j.WorkerID = workerID.String
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	if exitCode.Valid {
		v := int(exitCode.Int64)
		j.ExitCode = &v
	}
	j.BuildMinutes = buildMinutes.Float64
	return j, nil
}

func nullableString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullableTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullableInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
