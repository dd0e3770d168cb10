package config

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_WithoutFile(t *testing.T) {
	v, err := New(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 8765, cfg.Server.Port)
	assert.Equal(t, "", cfg.Server.URL)
	assert.Equal(t, []string{"localhost:*", "127.0.0.1:*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 1.0, cfg.Assist.RateLimit)
	assert.Equal(t, filepath.Join(Dir(), "session.yaml"), cfg.Session.Cache)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.toml")
	content := `
[server]
url = "http://nexus.lan:9000"
port = 9000
allowed_origins = ["app.example.com"]

[assist]
model = "claude-test"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	v, err := New(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "http://nexus.lan:9000", cfg.Server.URL)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, []string{"app.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "claude-test", cfg.Assist.Model)
	assert.Equal(t, 1024, cfg.Assist.MaxTokens, "unset keys keep defaults")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nurl = \"http://file\"\n"), 0o600))
	t.Setenv("NEXUS_SERVER_URL", "http://env")
	t.Setenv("NEXUS_ASSIST_API_KEY", "k")

	v, err := New(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, "http://env", cfg.Server.URL)
	assert.Equal(t, "k", cfg.Assist.APIKey)
}

func TestLoad_InvalidPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 70000\n"), 0o600))

	v, err := New(path)
	require.NoError(t, err)
	_, err = Load(v)
	assert.Error(t, err)
}

func TestNew_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nexus.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\n"), 0o600))

	_, err := New(path)
	assert.Error(t, err)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "nexus.toml")
	require.NoError(t, WriteDefault(path, false))
	assert.Error(t, WriteDefault(path, false), "refuses to overwrite")
	require.NoError(t, WriteDefault(path, true))

	v, err := New(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, *Defaults(), *cfg)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nexus.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nallowed_origins = [\"a.example\"]\n"), 0o600))

	v, err := New(path)
	require.NoError(t, err)

	var latest atomic.Value
	ok := Watch(v, log.New(io.Discard, "", 0), func(cfg *Config) {
		latest.Store(cfg.Server.AllowedOrigins)
	})
	require.True(t, ok)

	require.NoError(t, os.WriteFile(path, []byte("[server]\nallowed_origins = [\"b.example\"]\n"), 0o600))
	require.Eventually(t, func() bool {
		got, _ := latest.Load().([]string)
		return len(got) == 1 && got[0] == "b.example"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestWatch_NoFile(t *testing.T) {
	v, err := New(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.False(t, Watch(v, log.New(io.Discard, "", 0), func(*Config) {}))
}

func TestWatch_NoSearchedFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	v, err := New("")
	require.NoError(t, err)
	assert.False(t, Watch(v, log.New(io.Discard, "", 0), func(*Config) {}))
}
