package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(Config{Provider: "cohere", Dimension: 384}, zap.NewNop())
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewProviderRequiresDimension(t *testing.T) {
	_, err := NewProvider(Config{Provider: "tei", BaseURL: "http://localhost:8080"}, zap.NewNop())
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(Config{Dimension: 1536}, zap.NewNop())
	require.ErrorIs(t, err, ErrInvalidConfig)
}

// newTEIServer serves the TEI /embed contract with a fixed vector width.
func newTEIServer(t *testing.T, dimension int, fail func(input string) bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if fail != nil && fail(req.Inputs) {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}

		vec := make([]float32, dimension)
		for i := range vec {
			vec[i] = float32(len(req.Inputs)%7) / 7.0
		}
		require.NoError(t, json.NewEncoder(w).Encode([][]float32{vec}))
	}))
}

func TestTEIEmbedQuery(t *testing.T) {
	srv := newTEIServer(t, 8, nil)
	defer srv.Close()

	p, err := NewTEIProvider(Config{Provider: "tei", BaseURL: srv.URL, Dimension: 8}, zap.NewNop())
	require.NoError(t, err)

	vec, err := p.EmbedQuery(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 8)

	_, err = p.EmbedQuery(context.Background(), "")
	require.ErrorIs(t, err, ErrEmptyInput)
}

func TestTEITimeoutConfigurable(t *testing.T) {
	p, err := NewTEIProvider(Config{Provider: "tei", BaseURL: "http://localhost:8080", Dimension: 8, Timeout: 5 * time.Second}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, p.client.Timeout)

	// No configured timeout still leaves the client bounded.
	p, err = NewTEIProvider(Config{Provider: "tei", BaseURL: "http://localhost:8080", Dimension: 8}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, p.client.Timeout)
}

func TestTEIEmbedDocumentsPreservesOrder(t *testing.T) {
	dim := 4
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req teiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// Encode the input length into the vector so order is observable.
		vec := make([]float32, dim)
		vec[0] = float32(len(req.Inputs))
		require.NoError(t, json.NewEncoder(w).Encode([][]float32{vec}))
	}))
	defer srv.Close()

	p, err := NewTEIProvider(Config{Provider: "tei", BaseURL: srv.URL, Dimension: dim, BatchConcurrency: 3}, zap.NewNop())
	require.NoError(t, err)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	vecs, err := p.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	for i, text := range texts {
		assert.Equal(t, float32(len(text)), vecs[i][0], "vector %d out of order", i)
	}
}

func TestTEIDimensionMismatchFatal(t *testing.T) {
	srv := newTEIServer(t, 5, nil) // server returns width 5
	defer srv.Close()

	p, err := NewTEIProvider(Config{Provider: "tei", BaseURL: srv.URL, Dimension: 8}, zap.NewNop())
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "hello")
	require.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFanOutIsolatesItemFailures(t *testing.T) {
	var calls atomic.Int32
	embed := func(_ context.Context, text string) ([]float32, error) {
		calls.Add(1)
		if text == "bad" {
			return nil, errors.New("provider exploded")
		}
		return []float32{float32(len(text))}, nil
	}

	_, err := fanOut(context.Background(), []string{"one", "bad", "three", "four"}, 2, embed)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrEmbeddingFailed)

	// Every sibling was still attempted despite the failure.
	assert.Equal(t, int32(4), calls.Load())
}

func TestFanOutEmptySucceeds(t *testing.T) {
	embed := func(_ context.Context, text string) ([]float32, error) {
		return []float32{1}, nil
	}
	vecs, err := fanOut(context.Background(), []string{"x"}, 1, embed)
	require.NoError(t, err)
	require.Len(t, vecs, 1)
}

func TestValidateDimensions(t *testing.T) {
	good := [][]float32{make([]float32, 3), make([]float32, 3)}
	require.NoError(t, validateDimensions(good, 3))

	bad := [][]float32{make([]float32, 3), make([]float32, 4)}
	err := validateDimensions(bad, 3)
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "vector 1")
}

func TestTEIServerError(t *testing.T) {
	srv := newTEIServer(t, 8, func(input string) bool { return true })
	defer srv.Close()

	p, err := NewTEIProvider(Config{Provider: "tei", BaseURL: srv.URL, Dimension: 8}, zap.NewNop())
	require.NoError(t, err)

	_, err = p.EmbedQuery(context.Background(), "hello")
	require.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.True(t, fmt.Sprintf("%v", err) != "")
}
