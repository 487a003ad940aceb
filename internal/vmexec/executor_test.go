package vmexec

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/alloybuild/orchestrator/internal/model"
	"github.com/alloybuild/orchestrator/internal/vmpool"
)

// fakeVMGuest answers exec requests deterministically by command
// substring, enough to exercise fetch/run/collect without a real VM.
type fakeVMGuest struct{ addr string }

func startFakeVMGuest(t *testing.T) *fakeVMGuest {
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
					go fakeVMServeSession(ch, reqs)
				}
			}()
		}
	}()
	return &fakeVMGuest{addr: ln.Addr().String()}
}

func fakeVMServeSession(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req":
			req.Reply(true, nil)
		case "exec":
			cmd := string(req.Payload[4:])
			req.Reply(true, nil)
			fakeVMRun(channel, cmd)
			return
		}
	}
}

func fakeVMRun(channel ssh.Channel, cmd string) {
	status := 0
	switch {
	case strings.Contains(cmd, "git clone"):
		// fetch succeeds silently
	case strings.Contains(cmd, "workspace && echo"):
		channel.Write([]byte("hello stdout\n"))
		channel.Stderr().Write([]byte("hello stderr\n"))
	case strings.Contains(cmd, "workspace && exit 1"):
		status = 1
	case strings.Contains(cmd, "ls -1"):
		if strings.Contains(cmd, "*.app") {
			channel.Write([]byte("/Users/admin/build/MyApp.app\n"))
		}
	case strings.Contains(cmd, "stat -f%z") || strings.Contains(cmd, "stat -c%s"):
		channel.Write([]byte("4096\n"))
	}
	channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{uint32(status)}))
}

func (g *fakeVMGuest) host(t *testing.T) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(g.addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

// memStore is a minimal in-memory objectstore.Store for tests.
type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemStore() *memStore { return &memStore{blobs: make(map[string][]byte)} }

func (m *memStore) Put(_ context.Context, key string, r io.Reader) (int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	m.blobs[key] = b
	m.mu.Unlock()
	return int64(len(b)), nil
}
func (m *memStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return io.NopCloser(bytes.NewReader(m.blobs[key])), nil
}
func (m *memStore) Head(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok, nil
}
func (m *memStore) SignedURL(_ context.Context, key string) (string, error) { return "https://x/" + key, nil }
func (m *memStore) Delete(_ context.Context, key string) error              { return nil }

type recordingPusher struct {
	mu      sync.Mutex
	entries []model.LogEntry
}

func (p *recordingPusher) PushLog(_ context.Context, _ string, entry model.LogEntry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, entry)
	return nil
}

func newTestExecutor(t *testing.T, guest *fakeVMGuest) (*Executor, *memStore, *recordingPusher) {
	t.Helper()
	_, port := guest.host(t)
	store := newMemStore()
	pusher := &recordingPusher{}
	exec := New(Deps{
		Objects:     store,
		Pusher:      pusher,
		WorkerID:    "worker-1",
		DataDir:     t.TempDir(),
		SSHUser:     "admin",
		SSHPassword: "anything",
		SSHPort:     port,
	})
	return exec, store, pusher
}

func TestExecuteGitJobSuccess(t *testing.T) {
	guest := startFakeVMGuest(t)
	host, _ := guest.host(t)
	exec, store, pusher := newTestExecutor(t, guest)

	job := model.Job{
		ID:      "job-1",
		Source:  model.Source{Kind: model.SourceGit, URL: "https://example.com/repo.git"},
		Work:    model.Work{Command: "echo hi"},
		Command: "echo hi",
	}
	handle := vmpool.Handle{SlotIndex: 0, Name: "pool-vm-0", IP: host}

	result := exec.Execute(context.Background(), job, handle, 1)
	require.NoError(t, result.Err)
	assert.Equal(t, 0, result.ExitCode)
	require.Len(t, pusher.entries, 2)
	var contents []string
	for _, e := range pusher.entries {
		contents = append(contents, e.Content)
	}
	assert.ElementsMatch(t, []string{"hello stdout", "hello stderr"}, contents)

	uploaded, err := store.Get(context.Background(), "logs/job-1.log")
	require.NoError(t, err)
	content, err := io.ReadAll(uploaded)
	require.NoError(t, err)
	assert.Contains(t, string(content), "[stdout] hello stdout")
	assert.Contains(t, string(content), "[stderr] hello stderr")
}

func TestExecuteNonZeroExitIsNotExecutorError(t *testing.T) {
	guest := startFakeVMGuest(t)
	host, _ := guest.host(t)
	exec, _, _ := newTestExecutor(t, guest)

	job := model.Job{
		ID:      "job-2",
		Source:  model.Source{Kind: model.SourceGit, URL: "https://example.com/repo.git"},
		Work:    model.Work{Command: "exit 1"},
		Command: "exit 1",
	}
	handle := vmpool.Handle{SlotIndex: 0, Name: "pool-vm-0", IP: host}

	result := exec.Execute(context.Background(), job, handle, 1)
	assert.NoError(t, result.Err)
	assert.Equal(t, 1, result.ExitCode)
}

func TestExecuteCollectsArtifacts(t *testing.T) {
	guest := startFakeVMGuest(t)
	host, _ := guest.host(t)
	exec, _, _ := newTestExecutor(t, guest)

	job := model.Job{
		ID:      "job-3",
		Source:  model.Source{Kind: model.SourceGit, URL: "https://example.com/repo.git"},
		Work:    model.Work{Command: "echo hi"},
		Command: "echo hi",
	}
	handle := vmpool.Handle{SlotIndex: 0, Name: "pool-vm-0", IP: host}

	result := exec.Execute(context.Background(), job, handle, 1)
	require.NoError(t, result.Err)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "MyApp.app", result.Artifacts[0].Name)
	assert.Equal(t, int64(4096), result.Artifacts[0].SizeBytes)
}
