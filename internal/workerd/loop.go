// Package workerd is the worker's control loop: register with the
// orchestrator, keep a VM pool warm, and steadily heartbeat/claim/execute
// jobs until told to stop.
package workerd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alloybuild/orchestrator/internal/events"
	"github.com/alloybuild/orchestrator/internal/model"
	"github.com/alloybuild/orchestrator/internal/objectstore"
	"github.com/alloybuild/orchestrator/internal/orchclient"
	"github.com/alloybuild/orchestrator/internal/vmexec"
	"github.com/alloybuild/orchestrator/internal/vmpool"
)

const (
	idlePollInterval  = 5 * time.Second
	errorPollInterval = 10 * time.Second
)

// Daemon runs the worker's steady-state loop.
type Daemon struct {
	cfg      *Config
	client   *orchclient.Client
	pool     *vmpool.Pool
	executor *vmexec.Executor
	bus      *events.Bus
	pidFile  *PIDFile

	workerID string

	// executorSSHPort overrides the SSH port the executor dials, left at
	// zero in production so sshrun's default (22) applies; tests point it
	// at an in-process fake guest's ephemeral port.
	executorSSHPort int

	mu          sync.Mutex
	currentJobs int

	shutdown chan struct{}
}

// New wires a Daemon from cfg. The VM pool and executor are constructed
// from cfg so callers only need to supply the event bus and, in tests, a
// substitute Hypervisor.
func New(cfg *Config, hv vmpool.Hypervisor, bus *events.Bus) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	client := orchclient.New(cfg.OrchestratorURL, cfg.WorkerSecret)
	pool := vmpool.NewPool(hv, vmpool.Config{
		BaseImage:    cfg.BaseVMImage,
		Size:         cfg.PoolSize,
		SSHUser:      cfg.SSHUser,
		SSHPassword:  cfg.SSHPassword,
		SetupCommand: cfg.SetupCommand,
		BootWait:     cfg.BootWait,
	}, bus)

	return &Daemon{
		cfg:      cfg,
		client:   client,
		pool:     pool,
		bus:      bus,
		pidFile:  NewPIDFile(cfg.PIDFilePath()),
		shutdown: make(chan struct{}),
	}, nil
}

// Run registers the worker, brings the VM pool up, and runs the
// steady-state loop until ctx is cancelled or a SIGINT/SIGTERM arrives.
// Once the steady-state loop ends it deregisters and tears down the pool
// before returning; an error during registration, pool initialisation or
// log-storage setup returns early without doing either.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.pidFile.Acquire(); err != nil {
		return fmt.Errorf("acquire pid file: %w", err)
	}
	defer d.pidFile.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.installSignalHandler(cancel)
	defer close(d.shutdown)

	if err := d.register(ctx); err != nil {
		return fmt.Errorf("register with orchestrator: %w", err)
	}

	if err := d.pool.Init(ctx); err != nil {
		return fmt.Errorf("initialise vm pool: %w", err)
	}

	var objects objectstore.Store
	if d.cfg.StorageBucket != "" {
		store, err := objectstore.NewGCSStore(ctx, d.cfg.StorageBucket)
		if err != nil {
			return fmt.Errorf("open log storage: %w", err)
		}
		defer store.Close()
		objects = store
	}

	d.executor = vmexec.New(vmexec.Deps{
		Objects:               objects,
		WorkerID:              d.workerID,
		DataDir:               d.cfg.DataDir,
		SSHUser:               d.cfg.SSHUser,
		SSHPassword:           d.cfg.SSHPassword,
		SSHPort:               d.executorSSHPort,
		DefaultTimeoutMinutes: d.cfg.JobTimeoutMinutes,
		Pusher:                d.client,
	})

	d.steadyState(ctx)

	_ = d.client.Deregister(context.Background(), d.workerID)
	d.bus.Emit(events.ForWorker(events.WorkerDeregistered, d.workerID))
	return d.pool.Shutdown(context.Background())
}

func (d *Daemon) installSignalHandler(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-d.shutdown:
		}
	}()
}

func (d *Daemon) register(ctx context.Context) error {
	persisted, err := loadWorkerID(d.cfg.WorkerIDPath())
	if err != nil {
		return err
	}

	id, err := d.client.Register(ctx, d.cfg.Hostname, d.cfg.Capacity, persisted)
	if err != nil {
		return err
	}
	d.workerID = id
	d.bus.Emit(events.ForWorker(events.WorkerRegistered, id))
	return saveWorkerID(d.cfg.WorkerIDPath(), id)
}

// steadyState loops heartbeat/claim/execute until ctx is done. No new job
// is claimed once ctx is cancelled, but a job already running is allowed
// to finish before the loop exits.
func (d *Daemon) steadyState(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := d.client.Heartbeat(ctx, d.workerID, d.loadCurrentJobs(), d.cfg.Capacity); err != nil {
			d.bus.Emit(events.ForWorker(events.WorkerOffline, d.workerID).WithError(err))
		}

		if ctx.Err() != nil {
			return
		}

		job, ok, err := d.client.Claim(ctx, d.workerID)
		switch {
		case err != nil:
			d.bus.Emit(events.ForWorker(events.WorkerClaimError, d.workerID).WithError(err))
			d.sleep(ctx, errorPollInterval)
		case !ok:
			d.bus.Emit(events.ForWorker(events.WorkerClaimEmpty, d.workerID))
			d.sleep(ctx, idlePollInterval)
		default:
			d.runJob(job)
		}
	}
}

// runJob drives a claimed job to completion against a context independent
// of the daemon's shutdown signal: once a job is claimed it runs until it
// finishes or its own timeout expires, even if a SIGINT/SIGTERM arrives
// mid-run. Only the not-yet-claimed path in steadyState honors shutdown.
func (d *Daemon) runJob(job model.Job) {
	jobCtx := context.Background()

	d.setCurrentJobs(1)
	defer d.setCurrentJobs(0)

	d.bus.Emit(events.NewEvent(events.JobStarted, job.ID).WithWorker(d.workerID))

	handle, ok := d.pool.Acquire(jobCtx)
	if !ok {
		d.reportExecutorFailure(jobCtx, job, fmt.Errorf("no VM slot available"), 0)
		return
	}
	defer func() { _ = d.pool.Release(context.Background(), handle) }()

	result := d.executor.Execute(jobCtx, job, handle, d.cfg.JobTimeoutMinutes)
	if result.Err != nil {
		d.reportExecutorFailure(jobCtx, job, result.Err, result.BuildMinutes)
		return
	}

	if err := d.client.Complete(jobCtx, d.workerID, job.ID, result.ExitCode, result.Artifacts, result.BuildMinutes); err != nil {
		d.bus.Emit(events.NewEvent(events.JobFailed, job.ID).WithWorker(d.workerID).WithError(err))
	}
}

// reportExecutorFailure implements the guarantee that every claimed job
// reaches a terminal orchestrator-side state even when the executor
// itself errors out before producing a normal exit code.
func (d *Daemon) reportExecutorFailure(ctx context.Context, job model.Job, execErr error, buildMinutes float64) {
	_ = d.client.PushLog(ctx, d.workerID, model.LogEntry{
		JobID:     job.ID,
		Timestamp: time.Now(),
		Stream:    model.StreamStderr,
		Content:   fmt.Sprintf("Job execution failed on worker: %s", execErr),
	})
	_ = d.client.Complete(ctx, d.workerID, job.ID, -1, nil, buildMinutes)
	d.bus.Emit(events.NewEvent(events.JobFailed, job.ID).WithWorker(d.workerID).WithError(execErr))
}

func (d *Daemon) sleep(ctx context.Context, dur time.Duration) {
	select {
	case <-time.After(dur):
	case <-ctx.Done():
	}
}

func (d *Daemon) setCurrentJobs(n int) {
	d.mu.Lock()
	d.currentJobs = n
	d.mu.Unlock()
}

func (d *Daemon) loadCurrentJobs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentJobs
}
