package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alloybuild/orchestrator/internal/model"
)

// UpsertWorker inserts a new worker row or updates an existing one's
// hostname/capacity on re-registration (worker identity is stable across
// restarts per the design notes).
func (s *Store) UpsertWorker(w model.Worker) error {
	_, err := s.conn.Exec(`
		INSERT INTO workers (id, hostname, capacity, current_jobs, last_heartbeat, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET hostname = excluded.hostname, capacity = excluded.capacity, status = excluded.status`,
		w.ID, w.Hostname, w.Capacity, w.CurrentJobs, w.LastHeartbeat, string(w.Status), w.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert worker: %w", err)
	}
	return nil
}

// Heartbeat updates a worker's load and liveness timestamp.
func (s *Store) Heartbeat(id string, currentJobs, capacity int) error {
	status := model.DeriveStatus(currentJobs, capacity)
	res, err := s.conn.Exec(`
		UPDATE workers SET current_jobs = ?, capacity = ?, status = ?, last_heartbeat = ?
		WHERE id = ?`, currentJobs, capacity, string(status), time.Now(), id)
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return checkRowsAffected(res)
}

// MarkOffline flips a worker to Offline without deleting it (workers are
// never deleted, only marked Offline).
func (s *Store) MarkOffline(id string) error {
	_, err := s.conn.Exec(`UPDATE workers SET status = ? WHERE id = ?`, string(model.WorkerOffline), id)
	return err
}

// GetWorker loads a worker by id.
func (s *Store) GetWorker(id string) (model.Worker, error) {
	row := s.conn.QueryRow(`SELECT id, hostname, capacity, current_jobs, last_heartbeat, status, created_at FROM workers WHERE id = ?`, id)
	return scanWorker(row)
}

// ListWorkers returns every worker, including Offline ones.
func (s *Store) ListWorkers() ([]model.Worker, error) {
	rows, err := s.conn.Query(`SELECT id, hostname, capacity, current_jobs, last_heartbeat, status, created_at FROM workers ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// StaleWorkers returns workers whose last heartbeat is older than cutoff
// and are not already marked Offline. Nothing in the service calls it.
func (s *Store) StaleWorkers(cutoff time.Time) ([]model.Worker, error) {
	rows, err := s.conn.Query(`
		SELECT id, hostname, capacity, current_jobs, last_heartbeat, status, created_at
		FROM workers WHERE last_heartbeat < ? AND status != ?`, cutoff, string(model.WorkerOffline))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWorker(row scanner) (model.Worker, error) {
	var w model.Worker
	var status string
	var lastHeartbeat sql.NullTime
	err := row.Scan(&w.ID, &w.Hostname, &w.Capacity, &w.CurrentJobs, &lastHeartbeat, &status, &w.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Worker{}, ErrNotFound
		}
		return model.Worker{}, fmt.Errorf("scan worker: %w", err)
	}
	w.Status = model.WorkerStatus(status)
	if lastHeartbeat.Valid {
		w.LastHeartbeat = lastHeartbeat.Time
	}
	return w, nil
}
