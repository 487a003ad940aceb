package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alloybuild/orchestrator/internal/model"
)

// Claim atomically assigns the oldest Pending job to workerID and
// transitions it to Running. It returns (model.Job{}, false, nil) if no
// Pending job exists.
//
// The read-then-update sequence runs inside a single transaction guarded
// by claimMu, so two concurrent Claim calls can never both win the same
// job: sqlite's single-writer-connection serializes the two
// transactions, and claimMu additionally serializes Go-level callers so
// the observed behavior does not depend on driver-level lock semantics.
func (s *Store) Claim(workerID string) (model.Job, bool, error) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()

	tx, err := s.conn.Begin()
	if err != nil {
		return model.Job{}, false, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	var jobID string
	err = tx.QueryRow(`
		SELECT id FROM jobs
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
		LIMIT 1`, string(model.JobPending)).Scan(&jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, false, nil
	}
	if err != nil {
		return model.Job{}, false, fmt.Errorf("select pending job: %w", err)
	}

	now := time.Now()
	res, err := tx.Exec(`
		UPDATE jobs SET status = ?, worker_id = ?, started_at = ?
		WHERE id = ? AND status = ?`,
		string(model.JobRunning), workerID, now, jobID, string(model.JobPending))
	if err != nil {
		return model.Job{}, false, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Job{}, false, err
	}
	if n == 0 {
		// Lost a race despite the mutex (e.g. external mutation) — report
		// no job available rather than returning a stale row.
		return model.Job{}, false, nil
	}

	row := tx.QueryRow(`
		SELECT id, owner_id, source_kind, source_url, storage_key, command, script, status, worker_id, created_at, started_at, completed_at, exit_code, build_minutes
		FROM jobs WHERE id = ?`, jobID)
	j, err := scanJob(row)
	if err != nil {
		return model.Job{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return model.Job{}, false, fmt.Errorf("commit claim tx: %w", err)
	}
	return j, true, nil
}
