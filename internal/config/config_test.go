package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "default", cfg.Owner)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, int64(32<<20), cfg.HTTP.MaxDocumentSize)
	assert.Equal(t, time.Minute, cfg.OAuth.ExpiryBuffer)
	assert.Equal(t, time.Hour, cfg.OAuth.DefaultLifetime)
	assert.Equal(t, 4, cfg.Parser.RefreshConcurrency)
	assert.Equal(t, "spec2call", cfg.Invoke.UserAgent)
	assert.False(t, cfg.Guard.AllowPrivateNetworks)
	assert.NotEmpty(t, cfg.Store.Dir)
	assert.Equal(t, "tag", cfg.Catalog.GroupBy)
	assert.NoError(t, cfg.Validate())
}

func TestLoadLayers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spec2call.yaml")
	content := `
owner: acme
log:
  level: debug
http:
  timeout: 5s
oauth:
  expiry_buffer: 30s
invoke:
  rate_per_host: 2.5
  burst: 3
store:
  dir: /var/lib/spec2call
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("SPEC2CALL_LOG__LEVEL", "warn")
	t.Setenv("SPEC2CALL_GUARD__ALLOW_PRIVATE_NETWORKS", "true")
	t.Setenv("SPEC2CALL_OAUTH__DEFAULT_LIFETIME", "15m")

	cfg, err := Load(path, map[string]any{"owner": "globex"})
	require.NoError(t, err)

	assert.Equal(t, "globex", cfg.Owner, "flags win over the file")
	assert.Equal(t, "warn", cfg.Log.Level, "env wins over the file")
	assert.Equal(t, "console", cfg.Log.Format, "defaults fill gaps")
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 30*time.Second, cfg.OAuth.ExpiryBuffer)
	assert.Equal(t, 15*time.Minute, cfg.OAuth.DefaultLifetime)
	assert.True(t, cfg.Guard.AllowPrivateNetworks)
	assert.InDelta(t, 2.5, cfg.Invoke.RatePerHost, 1e-9)
	assert.Equal(t, 3, cfg.Invoke.Burst)
	assert.Equal(t, "/var/lib/spec2call", cfg.Store.Dir)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spec2call.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"catalog": {"title": "Pets", "group_by": "path"}}`), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "Pets", cfg.Catalog.Title)
	assert.Equal(t, "path", cfg.Catalog.GroupBy)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "config.toml"), nil)
	assert.ErrorIs(t, err, ErrUnsupportedFile)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unclosed"), 0o600))
	_, err = Load(path, nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Dir = ""
	cfg.Owner = ""
	cfg.Log.Level = "loud"
	cfg.Log.Format = "xml"
	cfg.Catalog.GroupBy = "color"
	cfg.Invoke.Burst = -1

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []error{
		ErrStoreDirRequired,
		ErrOwnerRequired,
		ErrInvalidLogLevel,
		ErrInvalidLogFormat,
		ErrInvalidGroupBy,
		ErrInvalidLimit,
	} {
		assert.ErrorIs(t, err, want)
	}
}
