// Package vectorstore defines the interface for vector storage operations.
//
// Stores work on precomputed vectors: the retrieval pipeline owns
// embedding generation and hands finished vectors to the store. Every
// operation enforces tenant isolation fail-closed; a missing tenant
// context is an error, never an unfiltered query.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector store operations.
var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists is returned when attempting to create an existing collection.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyChunks indicates empty or nil chunks.
	ErrEmptyChunks = errors.New("empty or nil chunks")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to vector store")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrDimensionMismatch indicates a vector width that does not match
	// the collection's configured size.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Chunk is one embedded fragment of a document, ready for storage.
type Chunk struct {
	// ID is the unique identifier for this chunk.
	ID string

	// DocumentID identifies the source document, used for cascade deletes.
	DocumentID string

	// Index is the chunk's position within its document.
	Index int

	// Content is the chunk text.
	Content string

	// Vector is the precomputed embedding.
	Vector []float32

	// Metadata carries additional key-value pairs for filtering.
	Metadata map[string]interface{}
}

// SearchResult is one retrieval hit ordered by similarity.
type SearchResult struct {
	// ID is the chunk identifier.
	ID string

	// DocumentID identifies the source document.
	DocumentID string

	// Content is the chunk text.
	Content string

	// Score is the similarity score (higher = more similar).
	Score float32

	// Metadata contains the stored chunk metadata.
	Metadata map[string]interface{}
}

// CollectionInfo contains metadata about a vector collection.
type CollectionInfo struct {
	Name       string `json:"name"`
	PointCount int    `json:"point_count"`
	VectorSize int    `json:"vector_size"`
}

// Store is the interface for vector storage operations.
//
// Tenant Isolation:
//
// All implementations enforce PayloadIsolation by default: chunk
// metadata carries tenant_id, queries and deletes are filtered by the
// tenant in the context, and a missing tenant returns ErrMissingTenant.
// Callers provide tenant context before any operation:
//
//	ctx = vectorstore.ContextWithTenant(ctx, &vectorstore.TenantInfo{TenantID: "acme"})
//	results, err := store.SearchVector(ctx, collection, vec, 5, 0.35)
//
// Implementations:
//   - ChromemStore: embedded chromem-go (default)
//   - QdrantStore: external Qdrant gRPC client
type Store interface {
	// AddChunks stores embedded chunks in the named collection.
	// Returns the chunk IDs that were stored.
	AddChunks(ctx context.Context, collection string, chunks []Chunk) ([]string, error)

	// SearchVector performs similarity search with a precomputed query
	// vector. Up to topK results are returned ordered by score, highest
	// first; results scoring below threshold are excluded. An empty
	// result set is valid output, not an error.
	SearchVector(ctx context.Context, collection string, vector []float32, topK int, threshold float32) ([]SearchResult, error)

	// DeleteByDocument removes every chunk belonging to a document.
	DeleteByDocument(ctx context.Context, collection string, documentID string) error

	// CreateCollection creates a collection sized for vectorSize embeddings.
	CreateCollection(ctx context.Context, collection string, vectorSize int) error

	// DeleteCollection removes a collection and all its chunks.
	DeleteCollection(ctx context.Context, collection string) error

	// CollectionExists checks if a collection exists.
	CollectionExists(ctx context.Context, collection string) (bool, error)

	// GetCollectionInfo returns point count and vector size for a collection.
	GetCollectionInfo(ctx context.Context, collection string) (*CollectionInfo, error)

	// Close closes the vector store connection and releases resources.
	Close() error
}
