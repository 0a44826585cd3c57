package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "port"},
		{"zero max_k", func(c *Config) { c.Search.MaxK = -1 }, "max_k"},
		{"bad fusion method", func(c *Config) { c.Search.FusionMethod = "cosine" }, "fusion method"},
		{"zero rrf_k", func(c *Config) { c.Search.RRFK = -5 }, "rrf_k"},
		{"alpha above one", func(c *Config) { c.Search.Alpha = 1.5 }, "alpha"},
		{"overfetch below one", func(c *Config) { c.Search.OverfetchFactor = -1 }, "overfetch_factor"},
		{"zero rerank pool", func(c *Config) { c.Search.RerankPoolSize = -1 }, "rerank_pool_size"},
		{"cache on without ttl", func(c *Config) {
			c.Cache.Enabled = true
			c.Cache.TTL = 0
		}, "ttl"},
		{"unknown embeddings provider", func(c *Config) { c.Embeddings.Provider = "cohere" }, "embeddings provider"},
		{"zero vector size", func(c *Config) { c.Embeddings.VectorSize = -1 }, "vector_size"},
		{"overlap >= chunk size", func(c *Config) {
			c.Index.ChunkSize = 10
			c.Index.ChunkOverlap = 10
		}, "chunk_overlap"},
		{"unknown dense provider", func(c *Config) { c.Stores.Dense.Provider = "pinecone" }, "dense store provider"},
		{"unknown rerank provider", func(c *Config) { c.Rerank.Provider = "cohere" }, "rerank provider"},
		{"tei rerank without url", func(c *Config) {
			c.Rerank.Provider = "tei"
			c.Rerank.BaseURL = ""
		}, "base_url"},
		{"telemetry without service name", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.ServiceName = ""
		}, "service name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("forever")))
}

func TestSecret_NeverLeaks(t *testing.T) {
	s := Secret("hunter2")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `"[REDACTED]"`, string(data))

	empty := Secret("")
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}
