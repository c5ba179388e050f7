package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 5*time.Minute, cfg.ActionTTL)
	assert.NotEmpty(t, cfg.DatabaseURL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("ACTION_TTL", "90s")

	cfg := Load()
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, 90*time.Second, cfg.ActionTTL)
}

func TestBadTTLFallsBack(t *testing.T) {
	t.Setenv("ACTION_TTL", "soon")
	cfg := Load()
	assert.Equal(t, 5*time.Minute, cfg.ActionTTL)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chantier.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: "7070"
log_level: WARN
database_url: postgres://file@db/chantier
mirror_path: /var/lib/chantier/legacy.db
action_ttl: 2m
`), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, "WARN", cfg.LogLevel)
	assert.Equal(t, "postgres://file@db/chantier", cfg.DatabaseURL)
	assert.Equal(t, "/var/lib/chantier/legacy.db", cfg.MirrorPath)
	assert.Equal(t, 2*time.Minute, cfg.ActionTTL)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chantier.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: \"7070\"\nlog_level: WARN\n"), 0o600))

	t.Setenv("PORT", "9999")
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port, "environment wins over the file")
	assert.Equal(t, "WARN", cfg.LogLevel, "unset environment keys keep the file value")
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestLoadFileMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chantier.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not-a-scalar"), 0o600))
	_, err := LoadFile(path)
	assert.Error(t, err)
}
