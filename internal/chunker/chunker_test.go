package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitShortContent(t *testing.T) {
	chunks, err := Split("Revenue grew 20% in Q4.", Options{Size: 500, Overlap: 50})
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, "Revenue grew 20% in Q4.", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, 23, chunks[0].EndOffset)
}

func TestSplitEmptyContent(t *testing.T) {
	_, err := Split("", Options{Size: 500, Overlap: 50})
	require.ErrorIs(t, err, ErrEmptyContent)

	_, err = Split("   \n\t  ", Options{Size: 500, Overlap: 50})
	require.ErrorIs(t, err, ErrEmptyContent)
}

func TestSplitInvalidOptions(t *testing.T) {
	_, err := Split("text", Options{Size: 0, Overlap: 0})
	require.Error(t, err)

	_, err = Split("text", Options{Size: 100, Overlap: 100})
	require.Error(t, err)

	_, err = Split("text", Options{Size: 100, Overlap: -1})
	require.Error(t, err)
}

func TestSplitOverlap(t *testing.T) {
	content := strings.Repeat("abcdefghij", 50) // 500 bytes, no whitespace
	chunks, err := Split(content, Options{Size: 200, Overlap: 40})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		assert.Equal(t, prev.EndOffset-40, cur.StartOffset, "chunk %d starts overlap bytes before predecessor end", i)
		// Shared region is byte-identical.
		shared := content[cur.StartOffset:prev.EndOffset]
		assert.True(t, strings.HasSuffix(prev.Content, shared))
		assert.True(t, strings.HasPrefix(cur.Content, shared))
	}
}

func TestSplitOffsetsTraceBack(t *testing.T) {
	content := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 40)
	chunks, err := Split(content, Options{Size: 300, Overlap: 60})
	require.NoError(t, err)

	for _, c := range chunks {
		assert.GreaterOrEqual(t, c.StartOffset, 0)
		assert.LessOrEqual(t, c.EndOffset, len(content))
		assert.Less(t, c.StartOffset, c.EndOffset)
		assert.Equal(t, content[c.StartOffset:c.EndOffset], c.Content)
		assert.LessOrEqual(t, len(c.Content), 300)
	}
}

func TestSplitCoversContent(t *testing.T) {
	content := strings.Repeat("lorem ipsum dolor sit amet. ", 100)
	chunks, err := Split(content, Options{Size: 250, Overlap: 50})
	require.NoError(t, err)

	// Chunks cover the whole content: each starts at or before the
	// previous end, the first at 0, the last at len(content).
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, len(content), chunks[len(chunks)-1].EndOffset)
	for i := 1; i < len(chunks); i++ {
		assert.LessOrEqual(t, chunks[i].StartOffset, chunks[i-1].EndOffset)
	}

	// Total length with overlap counted once is at least the content length.
	total := 0
	for i, c := range chunks {
		total += len(c.Content)
		if i > 0 {
			total -= chunks[i-1].EndOffset - c.StartOffset
		}
	}
	assert.GreaterOrEqual(t, total, len(content))
}

func TestSplitDeterministic(t *testing.T) {
	content := strings.Repeat("deterministic chunking is required for stable retrieval. ", 60)
	opts := Options{Size: 400, Overlap: 80}

	first, err := Split(content, opts)
	require.NoError(t, err)
	second, err := Split(content, opts)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

func TestSplitIndexesSequential(t *testing.T) {
	content := strings.Repeat("x y z w v u t s r q ", 200)
	chunks, err := Split(content, Options{Size: 150, Overlap: 30})
	require.NoError(t, err)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
	}
}
