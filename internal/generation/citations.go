package generation

import (
	"regexp"
	"unicode/utf8"
)

// citationPattern matches numbered in-text references like [3].
var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// snippetLength bounds citation snippets.
const snippetLength = 160

// ExtractCitations scans answer text for numbered references and maps
// each to its retrieved context.
//
// Repeated references to the same source document collapse into one
// citation (the first, highest-ranked chunk wins). References to
// numbers outside the retrieved set are not citations; they stay in
// the answer text untouched rather than being stripped, so the text is
// never corrupted.
func ExtractCitations(text string, contexts []Retrieved) []Citation {
	matches := citationPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seenDocs := make(map[string]bool)
	var citations []Citation
	for _, m := range matches {
		idx := parseIndex(m[1])
		if idx < 1 || idx > len(contexts) {
			// Dangling reference: left as literal text.
			continue
		}
		ctx := contexts[idx-1]
		if seenDocs[ctx.DocumentID] {
			continue
		}
		seenDocs[ctx.DocumentID] = true

		citations = append(citations, Citation{
			Index:      idx,
			ChunkID:    ctx.ChunkID,
			DocumentID: ctx.DocumentID,
			DocTitle:   ctx.DocTitle,
			Snippet:    snippet(ctx.Content),
			Confidence: ctx.Score,
		})
	}
	return citations
}

func parseIndex(s string) int {
	// Guard against absurdly long digit runs overflowing int.
	if len(s) > 6 {
		return 0
	}
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
	}
	return n
}

// snippet returns the head of content, cut at a rune boundary.
func snippet(content string) string {
	if len(content) <= snippetLength {
		return content
	}
	cut := snippetLength
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "…"
}

// ConfidenceFor derives answer confidence from the similarity scores
// of the sources actually cited. An answer citing nothing reports at
// most half the top retrieval score; evidence that was never referenced
// is weak support.
func ConfidenceFor(citations []Citation, contexts []Retrieved) float64 {
	if len(citations) > 0 {
		var sum float64
		for _, c := range citations {
			sum += float64(c.Confidence)
		}
		return clamp01(sum / float64(len(citations)))
	}

	if len(contexts) == 0 {
		return 0
	}
	top := float64(contexts[0].Score)
	for _, ctx := range contexts[1:] {
		if float64(ctx.Score) > top {
			top = float64(ctx.Score)
		}
	}
	return clamp01(top / 2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
