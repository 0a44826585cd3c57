package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 9190, cfg.Server.Port)
	assert.Equal(t, "rrf", cfg.Search.FusionMethod)
	assert.Equal(t, 60, cfg.Search.RRFK)
	assert.Equal(t, 0.5, cfg.Search.Alpha)
	assert.Equal(t, 10, cfg.Search.OverfetchFactor)
	assert.Equal(t, 100, cfg.Search.OverfetchMin)
	assert.Equal(t, 100, cfg.Search.RerankPoolSize)
	assert.Equal(t, "chromem", cfg.Stores.Dense.Provider)
	assert.Equal(t, "tei", cfg.Embeddings.Provider)
	assert.Equal(t, 384, cfg.Embeddings.VectorSize)
	assert.Equal(t, 200, cfg.Index.ChunkSize)
	assert.Equal(t, 20, cfg.Index.ChunkOverlap)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL.Duration())

	require.NoError(t, cfg.Validate())
}

func TestLoadWithFile_YAMLOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 8099
search:
  fusion_method: linear
  alpha: 0.3
  request_timeout: 5s
stores:
  dense:
    provider: qdrant
cache:
  enabled: true
  ttl: 30s
`)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8099, cfg.Server.Port)
	assert.Equal(t, "linear", cfg.Search.FusionMethod)
	assert.Equal(t, 0.3, cfg.Search.Alpha)
	assert.Equal(t, 5*time.Second, cfg.Search.RequestTimeout.Duration())
	assert.Equal(t, "qdrant", cfg.Stores.Dense.Provider)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL.Duration())

	// Untouched fields keep their defaults.
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 60, cfg.Search.RRFK)
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
search:
  fusion_method: linear
`)
	t.Setenv("SEARCH_FUSION_METHOD", "adaptive")
	t.Setenv("SERVER_PORT", "8200")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "adaptive", cfg.Search.FusionMethod)
	assert.Equal(t, 8200, cfg.Server.Port)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 9190, cfg.Server.Port)
}

func TestLoadWithFile_MalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a map")
	_, err := LoadWithFile(path)
	assert.Error(t, err)
}

func TestLoadWithFile_ValidationFailure(t *testing.T) {
	path := writeConfigFile(t, `
search:
  fusion_method: cosine
`)
	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fusion method")
}
