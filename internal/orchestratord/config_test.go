package orchestratord

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig(t *testing.T) *Config {
	return &Config{
		Port:          8080,
		BaseURL:       "https://build.example.com",
		DataDir:       t.TempDir(),
		JWTSecret:     "jwt-secret",
		APIKeySecret:  "apikey-secret",
		StorageBucket: "alloybuild-logs",
	}
}

func TestConfigValidate(t *testing.T) {
	t.Run("accepts a fully populated config", func(t *testing.T) {
		require.NoError(t, validConfig(t).Validate())
	})

	t.Run("rejects a missing BaseURL", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.BaseURL = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects a non-positive Port", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.Port = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects a missing JWTSecret", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.JWTSecret = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects a missing APIKeySecret", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.APIKeySecret = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects a missing StorageBucket", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.StorageBucket = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects a relative DataDir", func(t *testing.T) {
		cfg := validConfig(t)
		cfg.DataDir = "relative/path"
		assert.Error(t, cfg.Validate())
	})
}

func TestConfigOrigins(t *testing.T) {
	cfg := &Config{CORSOrigins: " https://a.example.com, https://b.example.com ,,"}
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Origins())

	empty := &Config{}
	assert.Nil(t, empty.Origins())
}

func TestConfigPIDFilePath(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/alloybuild"}
	assert.Equal(t, filepath.Join("/var/lib/alloybuild", "orchestratord.pid"), cfg.PIDFilePath())
}

func TestDefaultConfigAppliesDefaults(t *testing.T) {
	cfg, err := DefaultConfig()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 5.0, cfg.RateLimitRPS)
	assert.Equal(t, 10, cfg.RateLimitBurst)
	assert.Equal(t, 60, cfg.DefaultTimeoutMinutes)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.DBPath)
}
