// Package orchestratord wires and runs the control-plane daemon: the
// SQLite-backed job store, the claim dispatcher's HTTP face, the log
// fan-out hub, and auth, bound to one listen address.
package orchestratord

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the orchestrator daemon's configuration, loaded from the
// environment with sensible defaults applied by DefaultConfig.
type Config struct {
	Port        int    `envconfig:"PORT"`
	BaseURL     string `envconfig:"BASE_URL"`
	CORSOrigins string `envconfig:"CORS_ORIGINS"`

	DataDir string `envconfig:"DATA_DIR"`
	DBPath  string `envconfig:"DB_PATH"`

	WorkerSecret string        `envconfig:"WORKER_SECRET"`
	JWTSecret    string        `envconfig:"JWT_SECRET"`
	JWTTTL       time.Duration `envconfig:"JWT_TTL"`
	APIKeySecret string        `envconfig:"API_KEY_SECRET"`

	StorageBucket string `envconfig:"STORAGE_BUCKET"`

	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST"`

	DefaultTimeoutMinutes int `envconfig:"DEFAULT_TIMEOUT_MINUTES"`
}

// DefaultConfig returns a Config with sensible defaults, then overlays
// any ALLOYBUILD_ORCHESTRATOR_* environment variables found.
func DefaultConfig() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".alloybuild", "orchestrator")

	cfg := Config{
		Port:                  8080,
		DataDir:               dataDir,
		DBPath:                filepath.Join(dataDir, "orchestrator.db"),
		JWTTTL:                24 * time.Hour,
		RateLimitRPS:          5,
		RateLimitBurst:        10,
		DefaultTimeoutMinutes: 60,
	}

	if err := envconfig.Process("alloybuild_orchestrator", &cfg); err != nil {
		return nil, fmt.Errorf("load orchestrator config from environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("BaseURL is required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("Port must be greater than 0, got %d", c.Port)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWTSecret is required")
	}
	if c.APIKeySecret == "" {
		return fmt.Errorf("APIKeySecret is required")
	}
	if c.StorageBucket == "" {
		return fmt.Errorf("StorageBucket is required")
	}
	if !filepath.IsAbs(c.DataDir) {
		return fmt.Errorf("DataDir must be absolute, got %s", c.DataDir)
	}
	return nil
}

// EnsureDirectories creates the orchestrator's data directory.
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.DataDir, 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// Origins splits the comma-separated CORSOrigins into a slice.
func (c *Config) Origins() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PIDFilePath is where the single-instance PID file is stored.
func (c *Config) PIDFilePath() string {
	return filepath.Join(c.DataDir, "orchestratord.pid")
}
