// Package generation turns retrieved context into a grounded, cited
// answer. The generator runs the tail of the ask pipeline as an
// explicit state machine: confidence gate, prompt building, streaming
// generation, citation extraction.
package generation

import "errors"

var (
	// ErrGenerationFailed indicates a provider failure during generation.
	// Recoverable: reported as a structured error, never cached.
	ErrGenerationFailed = errors.New("generation failed")
)

// State is a phase of the answer state machine. States are reported on
// the event stream so callers can surface progress.
type State string

const (
	StateConfidenceGate     State = "confidence_gate"
	StatePromptBuilding     State = "prompt_building"
	StateGenerating         State = "generating"
	StateCitationExtraction State = "citation_extraction"
	StateDone               State = "done"
	StateFallback           State = "fallback"
	StateError              State = "error"
)

// FallbackAnswer is the fixed response when retrieval produced no
// usable evidence. It never varies, so it cannot hallucinate.
const FallbackAnswer = "I don't have enough information in the provided documents to answer that question."

// Retrieved is one context chunk handed to the generator, ordered by
// similarity (highest first). The slice order defines the numbered
// source references in the prompt.
type Retrieved struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	DocTitle   string  `json:"doc_title"`
	Content    string  `json:"content"`
	Score      float32 `json:"score"`
}

// Citation maps a numbered in-text reference to the retrieved source
// it refers to.
type Citation struct {
	// Index is the 1-based source number as cited in the answer.
	Index      int     `json:"index"`
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	DocTitle   string  `json:"doc_title"`
	Snippet    string  `json:"snippet"`
	Confidence float32 `json:"confidence"`
}

// Answer is a completed generation. A fallback answer has the same
// shape as a normal one (confidence 0, no citations), so callers need
// no special casing.
type Answer struct {
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations,omitempty"`
	Confidence float64    `json:"confidence"`
	Fallback   bool       `json:"fallback"`
}

// Event is one increment of the answer stream. Exactly one terminal
// event arrives (Answer set, or Err set); the channel closes after it.
type Event struct {
	// State is the machine state this event was emitted from.
	State State `json:"state"`

	// Delta is an incremental piece of answer text (Generating only).
	Delta string `json:"delta,omitempty"`

	// Answer is set on the terminal Done/Fallback event.
	Answer *Answer `json:"answer,omitempty"`

	// Err is set on the terminal Error event.
	Err error `json:"-"`
}
