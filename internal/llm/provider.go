// Package llm provides the completion capability behind the answer
// generator. Providers are swappable behind a fixed interface; the
// registry is an explicit object constructed at startup and injected,
// never a process-wide singleton, so tests can substitute fakes.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrGenerationFailed indicates a completion provider failure.
	// Recoverable at the pipeline level: reported as a structured error,
	// never a crash, never cached.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrUnknownProvider indicates a provider name with no registered factory.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a completion request.
type Request struct {
	// System carries trusted instructions, kept separate from messages.
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Usage reports token accounting from the provider.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Completion is a finished generation.
type Completion struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// StreamEvent is one increment of a streaming generation. A terminal
// event carries a non-empty FinishReason or a non-nil Err; no further
// events follow it.
type StreamEvent struct {
	Content      string
	FinishReason string
	Err          error
}

// Provider is the completion capability consumed by the generator.
type Provider interface {
	// Complete runs a blocking completion.
	Complete(ctx context.Context, req Request) (*Completion, error)

	// StreamComplete streams a completion incrementally. The returned
	// channel is closed after the terminal event. Cancelling ctx aborts
	// the upstream call; no events are delivered after cancellation.
	StreamComplete(ctx context.Context, req Request) (<-chan StreamEvent, error)

	// Close releases resources held by the provider.
	Close() error
}
