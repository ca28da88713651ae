// Package sanitize defends the prompt pipeline against injection.
//
// Untrusted text (user questions, document content) passes through
// Sanitize before it can reach chunking, retrieval, or prompt assembly.
// Detection is advisory - matched patterns are reported to the audit
// log but do not block by themselves. The explicit ShouldBlock gate is
// applied to raw user questions before any provider call.
package sanitize

import (
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// Kind identifies the class of untrusted input, selecting length limits.
type Kind string

const (
	KindUserQuestion    Kind = "user_question"
	KindDocumentContent Kind = "document_content"
	KindDocumentTitle   Kind = "document_title"
)

// Maximum input lengths per kind, in bytes.
const (
	MaxQuestionLength = 2_000
	MaxContentLength  = 500_000
	MaxTitleLength    = 300
)

// TruncationMarker is appended when input is cut at the length limit.
const TruncationMarker = " [truncated]"

// Boundary markers wrap trusted instructions, retrieved context, and the
// user question in assembled prompts. Untrusted text reproducing them is
// escaped so the model cannot be handed spoofed section boundaries.
const (
	MarkerInstructionsOpen  = "[[INSTRUCTIONS]]"
	MarkerInstructionsClose = "[[/INSTRUCTIONS]]"
	MarkerContextOpen       = "[[CONTEXT]]"
	MarkerContextClose      = "[[/CONTEXT]]"
	MarkerSourceOpen        = "[[SOURCE "
	MarkerQuestionOpen      = "[[QUESTION]]"
	MarkerQuestionClose     = "[[/QUESTION]]"
)

// Result is the outcome of sanitizing one input.
type Result struct {
	Sanitized         string
	Truncated         bool
	InjectionDetected bool
	Patterns          []string
}

// Sanitizer cleans untrusted text and reports detections to the audit log.
type Sanitizer struct {
	logger *zap.Logger
}

// New creates a Sanitizer. A nil logger disables audit reporting.
func New(logger *zap.Logger) *Sanitizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sanitizer{logger: logger}
}

// MaxLength returns the length limit for a kind.
func MaxLength(kind Kind) int {
	switch kind {
	case KindDocumentContent:
		return MaxContentLength
	case KindDocumentTitle:
		return MaxTitleLength
	default:
		return MaxQuestionLength
	}
}

// Sanitize cleans text for the given kind: strips control characters,
// collapses excessive whitespace, escapes boundary markers, truncates at
// a word boundary, and runs the injection detector catalogue.
//
// Detections are reported to the audit log as a side effect; callers that
// need a hard gate use ShouldBlock.
func (s *Sanitizer) Sanitize(text string, kind Kind) Result {
	cleaned := stripControl(text)
	cleaned = collapseWhitespace(cleaned)

	// Detect before escaping and truncation: marker spoofing must be seen
	// in its original form, and a payload at the tail still counts.
	patterns := detect(cleaned)

	cleaned = EscapeBoundaryMarkers(cleaned)

	truncated := false
	if max := MaxLength(kind); len(cleaned) > max {
		cleaned = truncateAtWord(cleaned, max-len(TruncationMarker)) + TruncationMarker
		truncated = true
	}

	res := Result{
		Sanitized:         strings.TrimSpace(cleaned),
		Truncated:         truncated,
		InjectionDetected: len(patterns) > 0,
		Patterns:          patterns,
	}

	if res.InjectionDetected {
		s.logger.Warn("injection patterns detected",
			zap.String("kind", string(kind)),
			zap.Strings("patterns", patterns),
			zap.Int("input_length", len(text)),
		)
	}

	return res
}

// EscapeBoundaryMarkers neutralizes any text that reproduces the
// pipeline's structural markers. The double bracket is broken with a
// backslash so the section parser can never match it.
func EscapeBoundaryMarkers(text string) string {
	if !strings.Contains(text, "[[") && !strings.Contains(text, "]]") {
		return text
	}
	text = strings.ReplaceAll(text, "[[", `[\[`)
	text = strings.ReplaceAll(text, "]]", `]\]`)
	return text
}

// stripControl removes non-printable control characters, preserving
// newlines and tabs.
func stripControl(text string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r == '\r' {
			return -1
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
}

// collapseWhitespace reduces runs of spaces/tabs to one space and runs
// of 3+ newlines to a paragraph break.
func collapseWhitespace(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	spaceRun := 0
	newlineRun := 0
	for _, r := range text {
		switch {
		case r == '\n':
			newlineRun++
			spaceRun = 0
			if newlineRun <= 2 {
				b.WriteRune(r)
			}
		case r == ' ' || r == '\t':
			spaceRun++
			newlineRun = 0
			if spaceRun == 1 {
				b.WriteRune(' ')
			}
		default:
			spaceRun = 0
			newlineRun = 0
			b.WriteRune(r)
		}
	}
	return b.String()
}

// truncateAtWord cuts text to at most max bytes, backing up to the last
// word boundary when one exists in the final quarter of the cut.
func truncateAtWord(text string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(text) <= max {
		return text
	}

	// Avoid cutting a multi-byte rune in half.
	cut := max
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	head := text[:cut]

	if idx := strings.LastIndexAny(head, " \n\t"); idx > max*3/4 {
		head = head[:idx]
	}
	return strings.TrimRight(head, " \n\t")
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
