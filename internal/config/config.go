// Package config provides configuration loading for searchd.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables. Missing values fall back to defaults suitable for local
// development.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete searchd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Search     SearchConfig     `koanf:"search"`
	Cache      CacheConfig      `koanf:"cache"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Index      IndexConfig      `koanf:"index"`
	Stores     StoresConfig     `koanf:"stores"`
	Rerank     RerankConfig     `koanf:"rerank"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	RateLimitRPS    float64  `koanf:"rate_limit_rps"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig holds OpenTelemetry export configuration.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	ServiceName    string   `koanf:"service_name"`
	Endpoint       string   `koanf:"endpoint"`
	Insecure       bool     `koanf:"insecure"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// SearchConfig holds hybrid search defaults. Values are resolved once per
// request into an immutable snapshot; nothing reads this struct mid-request.
type SearchConfig struct {
	// MaxK is the upper bound on the requested result count.
	MaxK int `koanf:"max_k"`

	// FusionMethod is the default fusion algorithm: rrf, linear, or adaptive.
	FusionMethod string `koanf:"fusion_method"`

	// RRFK is the RRF smoothing constant (Cormack et al. use 60).
	RRFK int `koanf:"rrf_k"`

	// Alpha is the default dense weight for linear fusion.
	Alpha float64 `koanf:"alpha"`

	// OverfetchFactor multiplies k when querying the origin stores.
	OverfetchFactor int `koanf:"overfetch_factor"`

	// OverfetchMin is the floor on per-store candidate counts.
	OverfetchMin int `koanf:"overfetch_min"`

	// RerankEnabled turns on the reranking stage by default.
	RerankEnabled bool `koanf:"rerank_enabled"`

	// RerankPoolSize is the number of fused candidates passed to the reranker.
	RerankPoolSize int `koanf:"rerank_pool_size"`

	RequestTimeout   Duration `koanf:"request_timeout"`
	EmbedTimeout     Duration `koanf:"embed_timeout"`
	RetrievalTimeout Duration `koanf:"retrieval_timeout"`
	RerankTimeout    Duration `koanf:"rerank_timeout"`
}

// CacheConfig holds result cache configuration.
type CacheConfig struct {
	Enabled    bool     `koanf:"enabled"`
	TTL        Duration `koanf:"ttl"`
	MaxEntries int      `koanf:"max_entries"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	// Provider selects the embedding backend: tei, openai, or fastembed.
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`

	// VectorSize is the expected embedding dimensionality. Fixed for the
	// lifetime of a collection; upserts are validated against it.
	VectorSize int `koanf:"vector_size"`

	Retry RetryConfig `koanf:"retry"`
}

// RetryConfig holds bounded exponential backoff settings for upstream calls.
type RetryConfig struct {
	MaxAttempts int      `koanf:"max_attempts"`
	BaseDelay   Duration `koanf:"base_delay"`
	MaxDelay    Duration `koanf:"max_delay"`
}

// IndexConfig holds indexing pipeline configuration.
type IndexConfig struct {
	// ChunkSize is the chunk window in words.
	ChunkSize int `koanf:"chunk_size"`

	// ChunkOverlap is the number of words shared between adjacent chunks.
	ChunkOverlap int `koanf:"chunk_overlap"`

	// EmbedBatchSize is the number of chunks per embedding request.
	EmbedBatchSize int `koanf:"embed_batch_size"`
}

// StoresConfig holds backing store configuration.
type StoresConfig struct {
	Dense DenseStoreConfig `koanf:"dense"`
}

// DenseStoreConfig selects and configures the dense vector store.
type DenseStoreConfig struct {
	// Provider is chromem (embedded, default) or qdrant.
	Provider string `koanf:"provider"`

	Chromem ChromemConfig `koanf:"chromem"`
	Qdrant  QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty means in-memory only.
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	Compress   bool   `koanf:"compress"`
}

// QdrantConfig configures the Qdrant gRPC store.
type QdrantConfig struct {
	Host           string   `koanf:"host"`
	Port           int      `koanf:"port"`
	UseTLS         bool     `koanf:"use_tls"`
	APIKey         Secret   `koanf:"api_key"`
	Collection     string   `koanf:"collection"`
	RequestTimeout Duration `koanf:"request_timeout"`
	RetryAttempts  int      `koanf:"retry_attempts"`
}

// RerankConfig configures the reranking stage.
type RerankConfig struct {
	// Provider is none, simple (term overlap), or tei (cross-encoder service).
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Search.MaxK <= 0 {
		return errors.New("search max_k must be positive")
	}
	switch c.Search.FusionMethod {
	case "rrf", "linear", "adaptive":
	default:
		return fmt.Errorf("unknown fusion method %q (must be rrf, linear, or adaptive)", c.Search.FusionMethod)
	}
	if c.Search.RRFK <= 0 {
		return fmt.Errorf("rrf_k must be positive, got %d", c.Search.RRFK)
	}
	if c.Search.Alpha < 0 || c.Search.Alpha > 1 {
		return fmt.Errorf("alpha must be in [0,1], got %g", c.Search.Alpha)
	}
	if c.Search.OverfetchFactor < 1 {
		return fmt.Errorf("overfetch_factor must be >= 1, got %d", c.Search.OverfetchFactor)
	}
	if c.Search.RerankPoolSize <= 0 {
		return fmt.Errorf("rerank_pool_size must be positive, got %d", c.Search.RerankPoolSize)
	}

	if c.Cache.Enabled {
		if c.Cache.TTL.Duration() <= 0 {
			return errors.New("cache ttl must be positive when cache is enabled")
		}
		if c.Cache.MaxEntries <= 0 {
			return errors.New("cache max_entries must be positive when cache is enabled")
		}
	}

	switch c.Embeddings.Provider {
	case "tei", "openai", "fastembed":
	default:
		return fmt.Errorf("unknown embeddings provider %q (must be tei, openai, or fastembed)", c.Embeddings.Provider)
	}
	if c.Embeddings.VectorSize <= 0 {
		return errors.New("embeddings vector_size must be positive")
	}

	if c.Index.ChunkSize <= 0 {
		return errors.New("chunk_size must be positive")
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_size), got %d", c.Index.ChunkOverlap)
	}
	if c.Index.EmbedBatchSize <= 0 {
		return errors.New("embed_batch_size must be positive")
	}

	switch c.Stores.Dense.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("unknown dense store provider %q (must be chromem or qdrant)", c.Stores.Dense.Provider)
	}

	switch c.Rerank.Provider {
	case "none", "simple", "tei":
	default:
		return fmt.Errorf("unknown rerank provider %q (must be none, simple, or tei)", c.Rerank.Provider)
	}
	if c.Rerank.Provider == "tei" && c.Rerank.BaseURL == "" {
		return errors.New("rerank base_url required for tei provider")
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9190
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.RateLimitRPS == 0 {
		cfg.Server.RateLimitRPS = 50
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "searchd"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(30 * time.Second)
	}

	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Search.FusionMethod == "" {
		cfg.Search.FusionMethod = "rrf"
	}
	if cfg.Search.RRFK == 0 {
		cfg.Search.RRFK = 60
	}
	if cfg.Search.Alpha == 0 {
		cfg.Search.Alpha = 0.5
	}
	if cfg.Search.OverfetchFactor == 0 {
		cfg.Search.OverfetchFactor = 10
	}
	if cfg.Search.OverfetchMin == 0 {
		cfg.Search.OverfetchMin = 100
	}
	if cfg.Search.RerankPoolSize == 0 {
		cfg.Search.RerankPoolSize = 100
	}
	if cfg.Search.RequestTimeout == 0 {
		cfg.Search.RequestTimeout = Duration(10 * time.Second)
	}
	if cfg.Search.EmbedTimeout == 0 {
		cfg.Search.EmbedTimeout = Duration(2 * time.Second)
	}
	if cfg.Search.RetrievalTimeout == 0 {
		cfg.Search.RetrievalTimeout = Duration(3 * time.Second)
	}
	if cfg.Search.RerankTimeout == 0 {
		cfg.Search.RerankTimeout = Duration(3 * time.Second)
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(5 * time.Minute)
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 1024
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "tei"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.VectorSize == 0 {
		cfg.Embeddings.VectorSize = 384
	}
	if cfg.Embeddings.Retry.MaxAttempts == 0 {
		cfg.Embeddings.Retry.MaxAttempts = 3
	}
	if cfg.Embeddings.Retry.BaseDelay == 0 {
		cfg.Embeddings.Retry.BaseDelay = Duration(100 * time.Millisecond)
	}
	if cfg.Embeddings.Retry.MaxDelay == 0 {
		cfg.Embeddings.Retry.MaxDelay = Duration(2 * time.Second)
	}

	if cfg.Index.ChunkSize == 0 {
		cfg.Index.ChunkSize = 200
	}
	if cfg.Index.ChunkOverlap == 0 {
		cfg.Index.ChunkOverlap = 20
	}
	if cfg.Index.EmbedBatchSize == 0 {
		cfg.Index.EmbedBatchSize = 32
	}

	if cfg.Stores.Dense.Provider == "" {
		cfg.Stores.Dense.Provider = "chromem"
	}
	if cfg.Stores.Dense.Chromem.Collection == "" {
		cfg.Stores.Dense.Chromem.Collection = "searchd_chunks"
	}
	if cfg.Stores.Dense.Qdrant.Host == "" {
		cfg.Stores.Dense.Qdrant.Host = "localhost"
	}
	if cfg.Stores.Dense.Qdrant.Port == 0 {
		cfg.Stores.Dense.Qdrant.Port = 6334
	}
	if cfg.Stores.Dense.Qdrant.Collection == "" {
		cfg.Stores.Dense.Qdrant.Collection = "searchd_chunks"
	}
	if cfg.Stores.Dense.Qdrant.RequestTimeout == 0 {
		cfg.Stores.Dense.Qdrant.RequestTimeout = Duration(30 * time.Second)
	}
	if cfg.Stores.Dense.Qdrant.RetryAttempts == 0 {
		cfg.Stores.Dense.Qdrant.RetryAttempts = 3
	}

	if cfg.Rerank.Provider == "" {
		cfg.Rerank.Provider = "simple"
	}
}
