package sanitize

import (
	"strings"
	"unicode"
)

// BlockThreshold is the minimum legitimacy score for a question to be
// allowed through to the pipeline.
const BlockThreshold = 0.3

// Scoring weights. Penalties are cumulative; the result is clamped to [0,1].
const (
	penaltyPerPattern     = 0.40
	penaltySpecialDensity = 0.20
	penaltyNearMaxLength  = 0.10
	penaltyCodeDensity    = 0.15
	bonusInterrogative    = 0.10
)

var interrogativePrefixes = []string{
	"what", "when", "where", "which", "who", "whom", "whose", "why", "how",
	"is", "are", "was", "were", "do", "does", "did", "can", "could",
	"should", "would", "will",
}

// AssessLegitimacy scores how much text looks like a genuine question,
// in [0,1]. Low scores indicate injection attempts or garbage input.
func (s *Sanitizer) AssessLegitimacy(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}

	score := 1.0

	score -= float64(len(detect(text))) * penaltyPerPattern

	if specialCharDensity(text) > 0.30 {
		score -= penaltySpecialDensity
	}

	if len(text) > MaxQuestionLength*9/10 {
		score -= penaltyNearMaxLength
	}

	if codeTokenDensity(text) > 0.08 {
		score -= penaltyCodeDensity
	}

	if isInterrogative(text) {
		score += bonusInterrogative
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// ShouldBlock is the hard gate applied to raw user questions before any
// provider call. It rejects empty input, input over twice the question
// limit, and input whose legitimacy score falls below BlockThreshold.
func (s *Sanitizer) ShouldBlock(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}
	if len(text) > 2*MaxQuestionLength {
		return true
	}
	return s.AssessLegitimacy(text) < BlockThreshold
}

// specialCharDensity is the fraction of runes that are neither letters,
// digits, whitespace, nor common punctuation.
func specialCharDensity(text string) float64 {
	if text == "" {
		return 0
	}
	special, total := 0, 0
	for _, r := range text {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		switch r {
		case '.', ',', '?', '!', '\'', '"', '-', ':', ';', '(', ')', '%', '$':
			continue
		}
		special++
	}
	return float64(special) / float64(total)
}

// codeTokenDensity is the fraction of runes that are code-structural
// characters ({}[]<>=`|\&).
func codeTokenDensity(text string) float64 {
	if text == "" {
		return 0
	}
	code := 0
	total := 0
	for _, r := range text {
		total++
		switch r {
		case '{', '}', '[', ']', '<', '>', '=', '`', '|', '\\', '&', '#':
			code++
		}
	}
	return float64(code) / float64(total)
}

// isInterrogative reports whether text has question structure: starts
// with an interrogative word or ends with a question mark.
func isInterrogative(text string) bool {
	trimmed := strings.TrimSpace(text)
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	lower := strings.ToLower(trimmed)
	first, _, _ := strings.Cut(lower, " ")
	for _, w := range interrogativePrefixes {
		if first == w {
			return true
		}
	}
	return false
}
