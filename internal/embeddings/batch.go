package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// fanOut is the degrade-to-loop batch fallback for providers without a
// native batch call. It embeds every item with bounded concurrency,
// preserving input order in the result.
//
// Per-item failures are isolated: one bad item does not cancel the
// sibling calls already in flight, and every item is attempted. If any
// item failed, the joined per-item errors are returned and the caller
// decides whether the partial batch is fatal.
func fanOut(ctx context.Context, texts []string, concurrency int, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	itemErrs := make([]error, len(texts))

	// No ctx-derived group: a sibling failure must not cancel the rest.
	var g errgroup.Group
	g.SetLimit(concurrency)

	var mu sync.Mutex
	for i, text := range texts {
		g.Go(func() error {
			vec, err := embed(ctx, text)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				itemErrs[i] = fmt.Errorf("item %d: %w", i, err)
				return nil
			}
			vecs[i] = vec
			return nil
		})
	}
	_ = g.Wait()

	if joined := errors.Join(itemErrs...); joined != nil {
		// Dimension mismatch is a deployment fault; keep it identifiable.
		if errors.Is(joined, ErrDimensionMismatch) {
			return nil, joined
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, joined)
	}
	return vecs, nil
}
