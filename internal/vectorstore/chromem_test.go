package vectorstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(ChromemConfig{
		Path:       t.TempDir(),
		VectorSize: 3,
	}, zap.NewNop())
	require.NoError(t, err)
	return store
}

func tenantCtx(tenantID string) context.Context {
	return ContextWithTenant(context.Background(), &TenantInfo{TenantID: tenantID})
}

// unit vectors so cosine similarity is exact.
var (
	vecX = []float32{1, 0, 0}
	vecY = []float32{0, 1, 0}
)

func testChunk(docID string, index int, content string, vec []float32) Chunk {
	return Chunk{
		ID:         uuid.New().String(),
		DocumentID: docID,
		Index:      index,
		Content:    content,
		Vector:     vec,
	}
}

func TestChromemAddChunksRequiresTenant(t *testing.T) {
	store := newTestStore(t)
	_, err := store.AddChunks(context.Background(), "acme_chunks", []Chunk{
		testChunk("doc-1", 0, "hello", vecX),
	})
	require.ErrorIs(t, err, ErrMissingTenant)
}

func TestChromemSearchRequiresTenant(t *testing.T) {
	store := newTestStore(t)
	ctx := tenantCtx("acme")
	_, err := store.AddChunks(ctx, "acme_chunks", []Chunk{testChunk("doc-1", 0, "hello", vecX)})
	require.NoError(t, err)

	_, err = store.SearchVector(context.Background(), "acme_chunks", vecX, 5, 0)
	require.ErrorIs(t, err, ErrMissingTenant)
}

func TestChromemAddAndSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := tenantCtx("acme")

	chunks := []Chunk{
		testChunk("doc-1", 0, "the quick brown fox", vecX),
		testChunk("doc-1", 1, "jumps over the lazy dog", vecY),
	}
	ids, err := store.AddChunks(ctx, "acme_chunks", chunks)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	results, err := store.SearchVector(ctx, "acme_chunks", vecX, 5, 0)
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// Best match is the chunk with the identical vector.
	assert.Equal(t, chunks[0].ID, results[0].ID)
	assert.Equal(t, "doc-1", results[0].DocumentID)
	assert.Equal(t, "the quick brown fox", results[0].Content)
	assert.InDelta(t, 1.0, float64(results[0].Score), 0.001)
}

func TestChromemThresholdExcludesWeakMatches(t *testing.T) {
	store := newTestStore(t)
	ctx := tenantCtx("acme")

	_, err := store.AddChunks(ctx, "acme_chunks", []Chunk{
		testChunk("doc-1", 0, "aligned", vecX),
		testChunk("doc-1", 1, "orthogonal", vecY),
	})
	require.NoError(t, err)

	results, err := store.SearchVector(ctx, "acme_chunks", vecX, 5, 0.5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "aligned", results[0].Content)
}

func TestChromemEmptyResultIsNotError(t *testing.T) {
	store := newTestStore(t)
	ctx := tenantCtx("acme")

	_, err := store.AddChunks(ctx, "acme_chunks", []Chunk{
		testChunk("doc-1", 0, "orthogonal", vecY),
	})
	require.NoError(t, err)

	results, err := store.SearchVector(ctx, "acme_chunks", vecX, 5, 0.9)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestChromemTenantFilterHidesOtherTenants(t *testing.T) {
	store := newTestStore(t)

	// Two tenants sharing one collection; payload filtering must separate them.
	_, err := store.AddChunks(tenantCtx("acme"), "shared_chunks", []Chunk{
		testChunk("doc-a", 0, "acme secret", vecX),
	})
	require.NoError(t, err)
	_, err = store.AddChunks(tenantCtx("globex"), "shared_chunks", []Chunk{
		testChunk("doc-g", 0, "globex secret", vecX),
	})
	require.NoError(t, err)

	results, err := store.SearchVector(tenantCtx("acme"), "shared_chunks", vecX, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "acme secret", results[0].Content)
}

func TestChromemDeleteByDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := tenantCtx("acme")

	_, err := store.AddChunks(ctx, "acme_chunks", []Chunk{
		testChunk("doc-1", 0, "keep me out", vecX),
		testChunk("doc-2", 0, "still here", vecY),
	})
	require.NoError(t, err)

	require.NoError(t, store.DeleteByDocument(ctx, "acme_chunks", "doc-1"))

	results, err := store.SearchVector(ctx, "acme_chunks", vecY, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-2", results[0].DocumentID)
}

func TestChromemDeleteByDocumentIsTenantScoped(t *testing.T) {
	store := newTestStore(t)

	_, err := store.AddChunks(tenantCtx("acme"), "shared_chunks", []Chunk{
		testChunk("doc-1", 0, "acme copy", vecX),
	})
	require.NoError(t, err)
	_, err = store.AddChunks(tenantCtx("globex"), "shared_chunks", []Chunk{
		testChunk("doc-1", 0, "globex copy", vecX),
	})
	require.NoError(t, err)

	// acme deleting doc-1 must not touch globex's chunks.
	require.NoError(t, store.DeleteByDocument(tenantCtx("acme"), "shared_chunks", "doc-1"))

	results, err := store.SearchVector(tenantCtx("globex"), "shared_chunks", vecX, 10, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "globex copy", results[0].Content)
}

func TestChromemDimensionMismatch(t *testing.T) {
	store := newTestStore(t)
	ctx := tenantCtx("acme")

	_, err := store.AddChunks(ctx, "acme_chunks", []Chunk{
		testChunk("doc-1", 0, "wrong width", []float32{1, 0}),
	})
	require.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = store.AddChunks(ctx, "acme_chunks", []Chunk{testChunk("doc-1", 0, "ok", vecX)})
	require.NoError(t, err)

	_, err = store.SearchVector(ctx, "acme_chunks", []float32{1, 0}, 5, 0)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestChromemCollectionLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateCollection(ctx, "acme_chunks", 3))
	require.ErrorIs(t, store.CreateCollection(ctx, "acme_chunks", 3), ErrCollectionExists)

	exists, err := store.CollectionExists(ctx, "acme_chunks")
	require.NoError(t, err)
	assert.True(t, exists)

	info, err := store.GetCollectionInfo(ctx, "acme_chunks")
	require.NoError(t, err)
	assert.Equal(t, 0, info.PointCount)
	assert.Equal(t, 3, info.VectorSize)

	require.NoError(t, store.DeleteCollection(ctx, "acme_chunks"))
	exists, err = store.CollectionExists(ctx, "acme_chunks")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestChromemInvalidCollectionName(t *testing.T) {
	store := newTestStore(t)
	ctx := tenantCtx("acme")

	for _, name := range []string{"", "Has-Upper", "../etc/passwd", "spaces here"} {
		_, err := store.SearchVector(ctx, name, vecX, 5, 0)
		assert.ErrorIs(t, err, ErrInvalidCollectionName, "name %q", name)
	}
}

func TestNewStoreUnknownProvider(t *testing.T) {
	_, err := NewStore(Config{Provider: "pinecone"}, zap.NewNop())
	require.ErrorIs(t, err, ErrInvalidConfig)
}
