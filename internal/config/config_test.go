package config_test

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seragusa/espalier/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, 10, cfg.Compressor.Threshold)
	assert.Equal(t, 4, cfg.Compressor.Tail)
	assert.Equal(t, 24*time.Hour, cfg.Checkpoint.Expiry.Std())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":9090"
log_level: debug
store:
  backend: redis
  redis:
    addr: localhost:6379
    db: 2
checkpoint:
  expiry: 2h
compressor:
  threshold: 20
  tail: 6
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "redis", cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.Store.Redis.Addr)
	assert.Equal(t, 2, cfg.Store.Redis.DB)
	assert.Equal(t, 2*time.Hour, cfg.Checkpoint.Expiry.Std())
	assert.Equal(t, 20, cfg.Compressor.Threshold)
	assert.Equal(t, 6, cfg.Compressor.Tail)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: \":9090\"\n"), 0o600))

	t.Setenv("ESPALIER_LISTEN_ADDR", ":7070")
	t.Setenv("ESPALIER_COMPRESS_THRESHOLD", "30")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.ListenAddr)
	assert.Equal(t, 30, cfg.Compressor.Threshold)
}

func TestValidation(t *testing.T) {
	t.Setenv("ESPALIER_STORE_BACKEND", "etcd")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestRedisBackendRequiresAddr(t *testing.T) {
	t.Setenv("ESPALIER_STORE_BACKEND", "redis")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "store.redis.addr")
}

func TestCompressorBoundsChecked(t *testing.T) {
	t.Setenv("ESPALIER_COMPRESS_TAIL", "12")
	_, err := config.Load("")
	assert.ErrorContains(t, err, "tail")
}

func TestMissingFileIsAnError(t *testing.T) {
	_, err := config.Load("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestEncryptionKeyDecoding(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	t.Setenv("ESPALIER_ENCRYPTION_KEY", key)

	cfg, err := config.Load("")
	require.NoError(t, err)

	active, fallbacks, err := cfg.Persistence.Keys()
	require.NoError(t, err)
	assert.Len(t, active, 32)
	assert.Empty(t, fallbacks)
}

func TestEncryptionKeyMustBe32Bytes(t *testing.T) {
	t.Setenv("ESPALIER_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString([]byte("short")))
	_, err := config.Load("")
	assert.ErrorContains(t, err, "32 bytes")
}

func TestPIIPatternsValidated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
persistence:
  pii_patterns: ["(unclosed"]
`), 0o600))

	_, err := config.Load(path)
	assert.ErrorContains(t, err, "pii pattern")
}
