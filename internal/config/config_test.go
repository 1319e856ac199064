package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OPENAI_API_KEY", "OPENAI_BASE_URL", "DOCCHAT_DEFAULT_ASSISTANT_ID", "DOCCHAT_ADDR",
		"DOCCHAT_DB", "DOCCHAT_SESSION_STORE", "DOCCHAT_LOG_LEVEL", "DOCCHAT_REDIS_ADDR",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadJSONWithEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"basic_config": {"server_address": ":9000"},
		"providers": {"openai": {"model": "gpt-4o", "api_key": "file-key"}},
		"assistant": {"default_id": "asst_file"},
		"databases": {"sqlite3": {"dsn": "ledger.db"}}
	}`), 0o600))

	t.Setenv("OPENAI_API_KEY", "env-key")
	t.Setenv("DOCCHAT_REDIS_ADDR", "redis.local:6380")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.OpenAI().APIKey)
	assert.True(t, cfg.APIKeySet())
	assert.Equal(t, ":9000", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "asst_file", cfg.Assistant.DefaultID)
	assert.Equal(t, "gpt-4o", cfg.Assistant.DefaultModel)
	assert.Equal(t, filepath.Join(dir, "ledger.db"), cfg.Databases["sqlite3"].DSN)
	assert.Equal(t, "redis.local", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
}

func TestLoadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
basic_config:
  session_store: redis
poll:
  interval_ms: 250
  timeout_seconds: 10
assistant:
  default_id: asst_yaml
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.BasicConfig.SessionStore)
	assert.Equal(t, 250*time.Millisecond, cfg.Poll.Interval())
	assert.Equal(t, 10*time.Second, cfg.Poll.Timeout())
	assert.Equal(t, "asst_yaml", cfg.Assistant.DefaultID)
	assert.False(t, cfg.APIKeySet())
}

func TestLoadDefaultsWhenDefaultFileMissing(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.BasicConfig.ServerAddress)
	assert.Equal(t, "memory", cfg.BasicConfig.SessionStore)
	assert.Equal(t, time.Second, cfg.Poll.Interval())
	assert.Equal(t, 2*time.Minute, cfg.Poll.Timeout())
	assert.Equal(t, int64(10<<20), cfg.BasicConfig.MaxUploadBytes)
	assert.Contains(t, cfg.BasicConfig.AllowedExtensions, ".md")
	assert.Equal(t, DefaultInstructions, cfg.Assistant.Instructions)
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	clearEnv(t)
	t.Setenv("DOCCHAT_SESSION_STORE", "etcd")
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))

	_, err := Load(path)
	require.ErrorContains(t, err, "session_store")
}
