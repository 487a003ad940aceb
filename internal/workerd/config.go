package workerd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the worker daemon's configuration, loaded from the
// environment with sensible defaults applied by DefaultConfig.
type Config struct {
	OrchestratorURL string `envconfig:"ORCHESTRATOR_URL"`
	WorkerSecret    string `envconfig:"WORKER_SECRET"`
	Hostname        string `envconfig:"WORKER_HOSTNAME"`
	Capacity        int    `envconfig:"WORKER_CAPACITY"`
	DataDir         string `envconfig:"WORKER_DATA_DIR"`

	BaseVMImage  string        `envconfig:"BASE_VM_IMAGE"`
	PoolSize     int           `envconfig:"POOL_SIZE"`
	SSHUser      string        `envconfig:"VM_SSH_USER"`
	SSHPassword  string        `envconfig:"VM_SSH_PASSWORD"`
	SetupCommand string        `envconfig:"VM_SETUP_COMMAND"`
	BootWait     time.Duration `envconfig:"VM_BOOT_WAIT"`

	// StorageBucket is where job logs are uploaded after the command
	// exits. Left empty, the worker skips log upload entirely (useful for
	// tests; a production deployment always sets it).
	StorageBucket string `envconfig:"STORAGE_BUCKET"`

	JobTimeoutMinutes int `envconfig:"JOB_TIMEOUT_MINUTES"`
}

// DefaultConfig returns a Config with sensible defaults, then overlays
// any ALLOYBUILD_WORKER_* environment variables found.
func DefaultConfig() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}

	cfg := Config{
		Hostname:          defaultHostname(),
		Capacity:          1,
		DataDir:           filepath.Join(home, ".alloybuild", "worker"),
		PoolSize:          1,
		SSHUser:           "admin",
		BootWait:          30 * time.Second,
		JobTimeoutMinutes: 60,
	}

	if err := envconfig.Process("alloybuild_worker", &cfg); err != nil {
		return nil, fmt.Errorf("load worker config from environment: %w", err)
	}
	return &cfg, nil
}

func defaultHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown-worker"
	}
	return h
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.OrchestratorURL == "" {
		return fmt.Errorf("OrchestratorURL is required")
	}
	if c.Capacity <= 0 {
		return fmt.Errorf("Capacity must be greater than 0, got %d", c.Capacity)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("PoolSize must be greater than 0, got %d", c.PoolSize)
	}
	if !filepath.IsAbs(c.DataDir) {
		return fmt.Errorf("DataDir must be absolute, got %s", c.DataDir)
	}
	if c.BaseVMImage == "" {
		return fmt.Errorf("BaseVMImage is required")
	}
	return nil
}

// EnsureDirectories creates the worker's data directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// WorkerIDPath is where the persisted worker id is stored, per the
// service's storage layout.
func (c *Config) WorkerIDPath() string {
	return filepath.Join(c.DataDir, "worker_id")
}

// PIDFilePath is where the single-instance PID file is stored.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.DataDir, "worker.pid")
}
