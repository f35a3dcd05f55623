package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 30*time.Second, cfg.Store.RequestTimeout)
	assert.Equal(t, 3, cfg.Search.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Search.Delay)
	assert.Equal(t, "sw-", cfg.Labels.Prefix)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snipsync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  base_url: http://store.internal:8090
  request_timeout: 5s
search:
  delay: 500ms
labels:
  prefix: ui-
`), 0o644))
	t.Setenv("SNIPSYNC_REQUEST_TIMEOUT", "12s")
	t.Setenv("SNIPSYNC_PAGE_SIZE", "not-a-number")

	cfg, warnings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://store.internal:8090", cfg.Store.BaseURL)
	assert.Equal(t, 12*time.Second, cfg.Store.RequestTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Search.Delay)
	assert.Equal(t, "ui-", cfg.Labels.Prefix)
	assert.Equal(t, 100, cfg.Store.PageSize)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "SNIPSYNC_PAGE_SIZE")
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  base_urll: x\n"), 0o644))
	_, _, err := Load(path)
	assert.Error(t, err)
}

func TestLoadEmptyFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().Store, cfg.Store)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Search.MaxAttempts = 0
	cfg.Store.PageSize = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search.max_attempts")
	assert.Contains(t, err.Error(), "store.page_size")
}

func TestEnvReaderParsesTypes(t *testing.T) {
	env := map[string]string{
		"SNIPSYNC_WATCH_JITTER":    "0.5",
		"SNIPSYNC_WATCH_REALTIME":  "false",
		"SNIPSTORE_MAX_BODY_BYTES": "2048",
		"SNIPSYNC_SEARCH_DELAY":    "soon",
	}
	r := newEnvReader(func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	})
	cfg := Default()
	r.apply(&cfg)
	assert.Equal(t, 0.5, cfg.Watch.Jitter)
	assert.False(t, cfg.Watch.Realtime)
	assert.Equal(t, int64(2048), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 2*time.Second, cfg.Search.Delay)
	require.Len(t, r.warnings, 1)
}

func TestStoreDSNProfiles(t *testing.T) {
	cases := []struct {
		cfg  ServerConfig
		want string
	}{
		{ServerConfig{}, "memory://"},
		{ServerConfig{BackendProfile: "durable-local", DataDir: "/data"}, "file:///data/state.json"},
		{ServerConfig{BackendProfile: "sqlite", DataDir: "/data"}, "sqlite:///data/state.db"},
		{ServerConfig{BackendProfile: "production", BackendDSN: "postgres://db/snip"}, "postgres://db/snip"},
	}
	for _, tc := range cases {
		got, err := tc.cfg.StoreDSN()
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
	_, err := ServerConfig{BackendProfile: "production"}.StoreDSN()
	assert.Error(t, err)
	_, err = ServerConfig{BackendProfile: "cloud"}.StoreDSN()
	assert.Error(t, err)
}
