package buildctl

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFakeHome(t *testing.T) string {
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	withFakeHome(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.ServerURL)
	assert.Empty(t, cfg.Token)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	withFakeHome(t)

	cfg := &Config{ServerURL: "https://build.example.com", Token: "bld_abc123"}
	require.NoError(t, cfg.Save())

	loaded, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg.ServerURL, loaded.ServerURL)
	assert.Equal(t, cfg.Token, loaded.Token)
}

func TestSaveCreatesConfigDirWithRestrictivePermissions(t *testing.T) {
	home := withFakeHome(t)

	require.NoError(t, (&Config{ServerURL: "http://localhost:8080"}).Save())

	info, err := os.Stat(filepath.Join(home, ".buildctl"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}
