package orchestratord

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alloybuild/orchestrator/internal/authsvc"
	"github.com/alloybuild/orchestrator/internal/events"
	"github.com/alloybuild/orchestrator/internal/httpapi"
	"github.com/alloybuild/orchestrator/internal/logstream"
	"github.com/alloybuild/orchestrator/internal/objectstore"
	"github.com/alloybuild/orchestrator/internal/ratelimit"
	"github.com/alloybuild/orchestrator/internal/store"
)

// Daemon is the orchestrator process: the job store, the claim
// dispatcher's HTTP face, the log fan-out hub, and auth, all bound to
// one HTTP listener.
type Daemon struct {
	cfg     *Config
	store   *store.Store
	objects *objectstore.GCSStore
	hub     *logstream.Hub
	bus     *events.Bus
	server  *httpapi.Server
	pidFile *PIDFile

	shutdown chan struct{}
}

// New opens the database and object store and wires the HTTP router.
// Callers must call Run to begin serving.
func New(ctx context.Context, cfg *Config, bus *events.Bus) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	objects, err := objectstore.NewGCSStore(ctx, cfg.StorageBucket)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open object store: %w", err)
	}

	hub := logstream.NewHub()
	issuer := authsvc.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTTTL)
	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst)

	server := httpapi.New(fmt.Sprintf(":%d", cfg.Port), httpapi.Deps{
		Store:                 db,
		Hub:                   hub,
		Objects:               objects,
		Issuer:                issuer,
		APIKeySecret:          []byte(cfg.APIKeySecret),
		Limiter:               limiter,
		Bus:                   bus,
		WorkerSecret:          cfg.WorkerSecret,
		BaseURL:               cfg.BaseURL,
		DefaultTimeoutMinutes: cfg.DefaultTimeoutMinutes,
		CORSOrigins:           cfg.Origins(),
	})

	return &Daemon{
		cfg:      cfg,
		store:    db,
		objects:  objects,
		hub:      hub,
		bus:      bus,
		server:   server,
		pidFile:  NewPIDFile(cfg.PIDFilePath()),
		shutdown: make(chan struct{}),
	}, nil
}

// Run acquires the PID file, starts serving, and blocks until ctx is
// cancelled or a SIGINT/SIGTERM arrives, then shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.pidFile.Acquire(); err != nil {
		return fmt.Errorf("acquire pid file: %w", err)
	}
	defer d.pidFile.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.installSignalHandler(cancel)
	defer close(d.shutdown)

	if err := d.server.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := d.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop http server: %w", err)
	}

	if err := d.objects.Close(); err != nil {
		return fmt.Errorf("close object store: %w", err)
	}
	return d.store.Close()
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
