package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setTestDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)
	ClearCache()
	t.Cleanup(ClearCache)
	return dir
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	setTestDataDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dark", cfg.Theme)
	assert.Equal(t, 0.4, cfg.Search.Threshold)
	assert.True(t, cfg.Updates.CheckEnabled)
	assert.Equal(t, 24, cfg.Updates.CheckIntervalHours)
	assert.Equal(t, 8420, cfg.Server.Port)
}

func TestSaveAndReload(t *testing.T) {
	dir := setTestDataDir(t)

	cfg, err := Load()
	require.NoError(t, err)

	updated := *cfg
	updated.Theme = "futuristic"
	updated.Search.Threshold = 0.25
	updated.Updates.CheckEnabled = false
	require.NoError(t, Save(&updated))

	// Save clears the cache, so Load reads from disk.
	reloaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "futuristic", reloaded.Theme)
	assert.Equal(t, 0.25, reloaded.Search.Threshold)
	assert.False(t, reloaded.Updates.CheckEnabled)

	// No temp file left behind.
	_, err = os.Stat(filepath.Join(dir, FileName+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	dir := setTestDataDir(t)

	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("theme = \"light\"\n"), 0o600))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "light", cfg.Theme)
	assert.Equal(t, 0.4, cfg.Search.Threshold)
	assert.True(t, cfg.Updates.CheckEnabled)
}

func TestLoadMalformedFileReturnsDefaultsWithError(t *testing.T) {
	dir := setTestDataDir(t)

	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("theme = [not toml"), 0o600))

	cfg, err := Load()
	assert.Error(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "dark", cfg.Theme)
}

func TestGetThemeRejectsUnknownValues(t *testing.T) {
	dir := setTestDataDir(t)

	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("theme = \"neon\"\n"), 0o600))

	assert.Equal(t, "dark", GetTheme())
}

func TestCacheDirOverride(t *testing.T) {
	dir := setTestDataDir(t)

	got, err := CacheDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "cache"), got)

	cfg, err := Load()
	require.NoError(t, err)
	updated := *cfg
	updated.Cache.Dir = "/tmp/elsewhere"
	require.NoError(t, Save(&updated))

	got, err = CacheDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/elsewhere", got)
}
