package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/alloybuild/orchestrator/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedPendingJob(t *testing.T, s *Store) model.Job {
	t.Helper()
	j := model.Job{
		ID:        uuid.NewString(),
		OwnerID:   "user-1",
		Source:    model.Source{Kind: model.SourceGit, URL: "https://example.com/repo.git"},
		Command:   "echo hi",
		Status:    model.JobPending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.InsertJob(j))
	return j
}

// TestClaimUniqueness verifies P1: for concurrent Claim calls against a
// single Pending job, exactly one call wins.
func TestClaimUniqueness(t *testing.T) {
	s := newTestStore(t)
	job := seedPendingJob(t, s)

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	var winners []string

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		workerID := uuid.NewString()
		go func() {
			defer wg.Done()
			got, ok, err := s.Claim(workerID)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				winners = append(winners, got.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1, "exactly one caller should claim the job")
	require.Equal(t, job.ID, winners[0])

	stored, err := s.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobRunning, stored.Status)
	require.NotEmpty(t, stored.WorkerID)
	require.NotNil(t, stored.StartedAt)
}

func TestClaimOldestFirst(t *testing.T) {
	s := newTestStore(t)

	older := seedPendingJob(t, s)
	time.Sleep(5 * time.Millisecond)
	newer := seedPendingJob(t, s)
	_ = newer

	got, ok, err := s.Claim("worker-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, older.ID, got.ID)
}

func TestClaimEmptyWhenNoPending(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Claim("worker-1")
	require.NoError(t, err)
	require.False(t, ok)
}

// TestCancelThenCompleteTerminalWins verifies the scenario from §8.5:
// once a job is Cancelled, a late Complete report is accepted but does
// not change the stored status.
func TestCancelThenCompleteTerminalWins(t *testing.T) {
	s := newTestStore(t)
	job := seedPendingJob(t, s)

	_, ok, err := s.Claim("worker-1")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.CancelJob(job.ID)
	require.NoError(t, err)

	err = s.CompleteJob(job.ID, model.JobCompleted, 0, 0.5)
	require.NoError(t, err)

	stored, err := s.GetJob(job.ID)
	require.NoError(t, err)
	require.Equal(t, model.JobCancelled, stored.Status)
}

func TestCancelInvalidStateFromTerminal(t *testing.T) {
	s := newTestStore(t)
	job := seedPendingJob(t, s)
	_, err := s.CancelJob(job.ID)
	require.NoError(t, err)

	_, err = s.CancelJob(job.ID)
	require.Error(t, err)
}

func TestHeadStorageKeyUsedDedup(t *testing.T) {
	s := newTestStore(t)
	used, err := s.HeadStorageKeyUsed("sources/abc123.zip")
	require.NoError(t, err)
	require.False(t, used)

	job := model.Job{
		ID:        uuid.NewString(),
		OwnerID:   "user-1",
		Source:    model.Source{Kind: model.SourceUpload, StorageKey: "sources/abc123.zip"},
		Command:   "echo hi",
		Status:    model.JobPending,
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.InsertJob(job))

	used, err = s.HeadStorageKeyUsed("sources/abc123.zip")
	require.NoError(t, err)
	require.True(t, used)
}
