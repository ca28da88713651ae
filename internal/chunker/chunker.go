// Package chunker splits document text into overlapping, position-tracked
// segments. Chunks are the unit of embedding and retrieval; offsets are
// recorded against the original content so snippets trace back exactly.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyContent is returned when chunking produces zero usable chunks.
// Ingestion treats this as fatal rather than silently skipping the document.
var ErrEmptyContent = errors.New("content produced no chunks")

// Options controls chunk boundaries.
type Options struct {
	// Size is the maximum chunk length in bytes.
	Size int

	// Overlap is how many bytes each chunk shares with its predecessor,
	// preserving context across a retrieval boundary. Must be < Size.
	Overlap int
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.Size)
	}
	if o.Overlap < 0 || o.Overlap >= o.Size {
		return fmt.Errorf("chunk overlap must be in [0, size), got %d", o.Overlap)
	}
	return nil
}

// Chunk is one segment of a document's text.
type Chunk struct {
	// Index is the zero-based position of the chunk within its document.
	Index int

	// Content is the chunk text.
	Content string

	// StartOffset and EndOffset locate the chunk in the original content:
	// Content == original[StartOffset:EndOffset].
	StartOffset int
	EndOffset   int
}

// Split divides content into overlapping chunks of at most opts.Size
// bytes. Boundaries snap back to the nearest whitespace when one exists
// in the final eighth of the window, so words are not cut mid-way.
//
// Splitting is deterministic: identical content and options always yield
// identical boundaries. Content that is empty after trimming returns
// ErrEmptyContent.
func Split(content string, opts Options) ([]Chunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	if len(content) <= opts.Size {
		return []Chunk{{
			Index:       0,
			Content:     content,
			StartOffset: 0,
			EndOffset:   len(content),
		}}, nil
	}

	var chunks []Chunk
	start := 0
	for start < len(content) {
		end := start + opts.Size
		if end >= len(content) {
			end = len(content)
		} else {
			end = snapToBoundary(content, start, end, opts.Overlap)
		}

		chunks = append(chunks, Chunk{
			Index:       len(chunks),
			Content:     content[start:end],
			StartOffset: start,
			EndOffset:   end,
		})

		if end == len(content) {
			break
		}
		start = end - opts.Overlap
	}

	return chunks, nil
}

// snapToBoundary moves end back to the last whitespace within the final
// eighth of the window. The snapped end must still leave the next chunk
// room to advance past the overlap; otherwise the hard cut stands.
func snapToBoundary(content string, start, end, overlap int) int {
	window := content[start:end]
	idx := strings.LastIndexAny(window, " \n\t")
	if idx < 0 {
		return end
	}
	snapped := start + idx + 1 // keep the separator in the earlier chunk
	if snapped-start <= overlap || (end-start)-idx > (end-start)/8 {
		return end
	}
	return snapped
}
