// Package config provides configuration loading for answerd.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// Common configuration errors.
var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config is the root configuration for the answerd service.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	LLM           LLMConfig           `koanf:"llm"`
	Cache         CacheConfig         `koanf:"cache"`
	Vault         VaultConfig         `koanf:"vault"`
	Store         StoreConfig         `koanf:"store"`
	RAG           RAGConfig           `koanf:"rag"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// AdminToken guards the tenant admin API. Empty disables it.
	AdminToken Secret `koanf:"admin_token"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	Enabled      bool   `koanf:"enabled"`
	ServiceName  string `koanf:"service_name"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	Insecure     bool   `koanf:"insecure"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	// Provider is "chromem" (embedded, default) or "qdrant".
	Provider string        `koanf:"provider"`
	Chromem  ChromemConfig `koanf:"chromem"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds settings for the embedded chromem-go backend.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds settings for the Qdrant gRPC backend.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// EmbeddingsConfig holds embedding provider settings.
type EmbeddingsConfig struct {
	// Provider is "openai" (langchaingo) or "tei" (HTTP inference server).
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`

	// Dimension is the expected embedding width. A provider returning a
	// different width is a fatal deployment error, never retried.
	Dimension int `koanf:"dimension"`

	// BatchConcurrency bounds fan-out when the provider lacks native batching.
	BatchConcurrency int      `koanf:"batch_concurrency"`
	Timeout          Duration `koanf:"timeout"`
}

// LLMConfig holds completion provider settings.
type LLMConfig struct {
	// Provider is "anthropic" or "openai".
	Provider    string   `koanf:"provider"`
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	MaxTokens   int      `koanf:"max_tokens"`
	Temperature float64  `koanf:"temperature"`
	Timeout     Duration `koanf:"timeout"`

	// RateLimit is provider calls per second (0 disables limiting).
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	TTL        Duration `koanf:"ttl"`
	MaxEntries int      `koanf:"max_entries"`
}

// VaultConfig holds credential vault settings.
type VaultConfig struct {
	// MasterKey is the hex-encoded 256-bit key used to seal tenant
	// credential bundles at rest.
	MasterKey Secret `koanf:"master_key"`

	// Path is the directory holding encrypted tenant bundles.
	Path string `koanf:"path"`
}

// StoreConfig holds relational store settings.
type StoreConfig struct {
	// Path is the directory holding per-tenant SQLite databases.
	Path string `koanf:"path"`
}

// RAGConfig holds pipeline defaults. Tenants may override per-bundle.
type RAGConfig struct {
	TopK                int      `koanf:"top_k"`
	ConfidenceThreshold float64  `koanf:"confidence_threshold"`
	ChunkSize           int      `koanf:"chunk_size"`
	ChunkOverlap        int      `koanf:"chunk_overlap"`
	QuestionTimeout     Duration `koanf:"question_timeout"`
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port %d", ErrInvalidConfig, c.Server.Port)
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	default:
		return fmt.Errorf("%w: unknown vectorstore provider %q", ErrInvalidConfig, c.VectorStore.Provider)
	}

	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("%w: embedding dimension must be positive", ErrInvalidConfig)
	}

	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk size must be positive", ErrInvalidConfig)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("%w: chunk overlap must be in [0, chunk_size)", ErrInvalidConfig)
	}
	if c.RAG.ConfidenceThreshold < 0 || c.RAG.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence threshold must be in [0,1]", ErrInvalidConfig)
	}

	if c.Vault.MasterKey.IsSet() {
		key, err := hex.DecodeString(c.Vault.MasterKey.Value())
		if err != nil {
			return fmt.Errorf("%w: vault master key must be hex", ErrInvalidConfig)
		}
		if len(key) != 32 {
			return fmt.Errorf("%w: vault master key must be 32 bytes, got %d", ErrInvalidConfig, len(key))
		}
	}

	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8089
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "answerd"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
		cfg.Observability.Insecure = true
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Chromem.Path == "" {
		cfg.VectorStore.Chromem.Path = "~/.config/answerd/vectorstore"
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "openai"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-small"
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 1536
	}
	if cfg.Embeddings.BatchConcurrency == 0 {
		cfg.Embeddings.BatchConcurrency = 4
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(30 * time.Second)
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = Duration(60 * time.Second)
	}
	if cfg.LLM.RateBurst == 0 {
		cfg.LLM.RateBurst = 1
	}

	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = Duration(15 * time.Minute)
	}
	if cfg.Cache.MaxEntries == 0 {
		cfg.Cache.MaxEntries = 4096
	}

	if cfg.Vault.Path == "" {
		cfg.Vault.Path = "~/.config/answerd/tenants"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.config/answerd/store"
	}

	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.ConfidenceThreshold == 0 {
		cfg.RAG.ConfidenceThreshold = 0.35
	}
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = 1000
	}
	if cfg.RAG.ChunkOverlap == 0 {
		cfg.RAG.ChunkOverlap = 150
	}
	if cfg.RAG.QuestionTimeout == 0 {
		cfg.RAG.QuestionTimeout = Duration(90 * time.Second)
	}
}
