// Package embeddings provides embedding generation via multiple providers.
//
// A Provider turns text into fixed-width vectors, singly or batched. The
// vector dimension is fixed by deployment configuration; a provider
// response with any other width is a fatal configuration error, not a
// runtime-recoverable one.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrDimensionMismatch indicates the provider returned vectors of a
	// width other than the configured dimension. Deployment-level fault;
	// fail the request, never retry.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Provider is the interface for embedding providers.
type Provider interface {
	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments generates embeddings for multiple texts, preserving
	// input order and length.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the configured embedding width.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// Config holds configuration for creating an embedding provider.
type Config struct {
	// Provider is "openai" or "tei".
	Provider string
	// Model is the embedding model name.
	Model string
	// BaseURL overrides the provider endpoint (required for TEI).
	BaseURL string
	// APIKey authenticates against the provider (optional for TEI).
	APIKey string
	// Dimension is the expected embedding width.
	Dimension int
	// BatchConcurrency bounds fan-out on the degrade-to-loop batch path.
	BatchConcurrency int
	// Timeout bounds each upstream embed call. Zero uses the provider's
	// default.
	Timeout time.Duration
}

// NewProvider creates an embedding provider from configuration.
func NewProvider(cfg Config, logger *zap.Logger) (Provider, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIProvider(cfg, logger)
	case "tei":
		return NewTEIProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// validateDimensions checks every vector against the expected width.
func validateDimensions(vecs [][]float32, want int) error {
	for i, v := range vecs {
		if len(v) != want {
			return fmt.Errorf("%w: got %d, configured %d (vector %d)", ErrDimensionMismatch, len(v), want, i)
		}
	}
	return nil
}
