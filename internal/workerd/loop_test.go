package workerd

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/alloybuild/orchestrator/internal/events"
	"github.com/alloybuild/orchestrator/internal/model"
	"github.com/alloybuild/orchestrator/internal/vmpool"
)

// fakeOrchestrator stands in for the orchestrator's worker-facing HTTP
// surface, handing out exactly one job before always answering claim
// with null, and recording registration, completion and deregistration.
type fakeOrchestrator struct {
	mu         sync.Mutex
	registered bool
	jobGiven   bool
	completed  chan completeCall
	deregistered chan struct{}
}

type completeCall struct {
	JobID    string `json:"job_id"`
	ExitCode int    `json:"exit_code"`
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		completed:    make(chan completeCall, 1),
		deregistered: make(chan struct{}, 1),
	}
}

func (f *fakeOrchestrator) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/workers/register", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.registered = true
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"worker_id": "worker-test-1"})
	})
	mux.HandleFunc("/api/v1/workers/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/workers/claim", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.jobGiven {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte("null"))
			return
		}
		f.jobGiven = true
		job := model.Job{
			ID:      "job-1",
			Status:  model.JobRunning,
			Source:  model.Source{Kind: model.SourceGit, URL: "https://example.com/repo.git"},
			Command: "echo hi",
		}
		json.NewEncoder(w).Encode(job)
	})
	mux.HandleFunc("/api/v1/workers/worker-test-1/complete", func(w http.ResponseWriter, r *http.Request) {
		var body completeCall
		json.NewDecoder(r.Body).Decode(&body)
		select {
		case f.completed <- body:
		default:
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/workers/worker-test-1/deregister", func(w http.ResponseWriter, r *http.Request) {
		select {
		case f.deregistered <- struct{}{}:
		default:
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/workers/worker-test-1/log", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// fakeVMGuest is a minimal SSH server accepting any password and
// answering every exec request with a zero exit status.
type fakeVMGuest struct{ addr string }

func startFakeVMGuest(t *testing.T) *fakeVMGuest {
	return startFakeVMGuestWithDelay(t, 0)
}

// startFakeVMGuestWithDelay behaves like startFakeVMGuest but sleeps delay
// before answering an exec request, giving a test room to cancel a
// daemon's shutdown context while the job is still running in the VM.
func startFakeVMGuestWithDelay(t *testing.T, delay time.Duration) *fakeVMGuest {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(key)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(ssh.ConnMetadata, []byte) (*ssh.Permissions, error) { return nil, nil },
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				sshConn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
				if err != nil {
					return
				}
				defer sshConn.Close()
				go ssh.DiscardRequests(reqs)
				for nc := range chans {
					if nc.ChannelType() != "session" {
						nc.Reject(ssh.UnknownChannelType, "unsupported")
						continue
					}
					ch, reqs, err := nc.Accept()
					if err != nil {
						continue
					}
					go func() {
						defer ch.Close()
						for req := range reqs {
							switch req.Type {
							case "pty-req":
								req.Reply(true, nil)
							case "exec":
								req.Reply(true, nil)
								if delay > 0 {
									time.Sleep(delay)
								}
								ch.Write([]byte("ok\n"))
								ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
								return
							}
						}
					}()
				}
			}()
		}
	}()
	return &fakeVMGuest{addr: ln.Addr().String()}
}

func (g *fakeVMGuest) host(t *testing.T) string {
	t.Helper()
	host, _, err := net.SplitHostPort(g.addr)
	require.NoError(t, err)
	return host
}

func (g *fakeVMGuest) port(t *testing.T) int {
	t.Helper()
	_, p, err := net.SplitHostPort(g.addr)
	require.NoError(t, err)
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return n
}

// fakeHypervisor hands every slot the same fake guest's address.
type fakeHypervisor struct {
	ip string
}

func (f *fakeHypervisor) Clone(ctx context.Context, base, name string) error { return nil }
func (f *fakeHypervisor) Run(ctx context.Context, name string) error        { return nil }
func (f *fakeHypervisor) IP(ctx context.Context, name string) (string, error) {
	return f.ip, nil
}
func (f *fakeHypervisor) Stop(ctx context.Context, name string) error   { return nil }
func (f *fakeHypervisor) Delete(ctx context.Context, name string) error { return nil }

var _ vmpool.Hypervisor = (*fakeHypervisor)(nil)

func TestDaemonRegistersRunsJobAndShutsDownGracefully(t *testing.T) {
	guest := startFakeVMGuest(t)
	orch := newFakeOrchestrator()
	srv := httptest.NewServer(orch.handler())
	defer srv.Close()

	cfg := &Config{
		OrchestratorURL:   srv.URL,
		Hostname:          "test-host",
		Capacity:          1,
		DataDir:           t.TempDir(),
		BaseVMImage:       "base",
		PoolSize:          1,
		SSHUser:           "admin",
		SSHPassword:       "anything",
		BootWait:          time.Millisecond,
		JobTimeoutMinutes: 1,
	}

	hv := &fakeHypervisor{ip: guest.host(t)}
	bus := events.NewBus()

	d, err := New(cfg, hv, bus)
	require.NoError(t, err)
	d.executorSSHPort = guest.port(t)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(ctx) }()

	select {
	case call := <-orch.completed:
		assert.Equal(t, "job-1", call.JobID)
		assert.Equal(t, 0, call.ExitCode)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for job completion")
	}

	cancel()

	select {
	case <-orch.deregistered:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for deregister")
	}

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	assert.True(t, orch.registered)
}

// TestDaemonFinishesInFlightJobOnShutdownSignal exercises the race the
// graceful-shutdown contract depends on: a shutdown signal arriving while
// a job is already running must not abort that job. The fake guest holds
// the SSH exec open for longer than the window before cancel() fires, so
// if Run wired the shutdown context into the job's own execution context,
// the job would be reported with exit_code=-1 instead of running to
// completion.
func TestDaemonFinishesInFlightJobOnShutdownSignal(t *testing.T) {
	guest := startFakeVMGuestWithDelay(t, 800*time.Millisecond)
	orch := newFakeOrchestrator()
	srv := httptest.NewServer(orch.handler())
	defer srv.Close()

	cfg := &Config{
		OrchestratorURL:   srv.URL,
		Hostname:          "test-host",
		Capacity:          1,
		DataDir:           t.TempDir(),
		BaseVMImage:       "base",
		PoolSize:          1,
		SSHUser:           "admin",
		SSHPassword:       "anything",
		BootWait:          time.Millisecond,
		JobTimeoutMinutes: 1,
	}

	hv := &fakeHypervisor{ip: guest.host(t)}
	bus := events.NewBus()

	d, err := New(cfg, hv, bus)
	require.NoError(t, err)
	d.executorSSHPort = guest.port(t)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- d.Run(ctx) }()

	// The job is claimed and its SSH exec started well before the guest's
	// 800ms delay elapses; cancel mid-flight.
	time.Sleep(200 * time.Millisecond)
	cancel()

	select {
	case call := <-orch.completed:
		assert.Equal(t, "job-1", call.JobID)
		assert.Equal(t, 0, call.ExitCode, "job must run to completion despite the shutdown signal")
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for job completion")
	}

	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not shut down")
	}
}
