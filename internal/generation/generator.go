package generation

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/llm"
)

var generationTracer = otel.Tracer("answerd.generation")

// Options tune a single generation run.
type Options struct {
	// Threshold is the minimum top similarity required to generate.
	// Below it the confidence gate short-circuits to the fallback.
	Threshold float32

	MaxTokens   int
	Temperature float64
}

// Generator drives the answer state machine over a completion provider.
type Generator struct {
	provider llm.Provider
	logger   *zap.Logger
}

// New creates a Generator bound to a provider.
func New(provider llm.Provider, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{provider: provider, logger: logger}
}

// Generate runs the state machine and streams events. The returned
// channel closes after exactly one terminal event: Done or Fallback
// with an Answer, or Error with Err set. Cancelling ctx aborts the
// provider stream; nothing runs on after cancellation.
func (g *Generator) Generate(ctx context.Context, question string, contexts []Retrieved, opts Options) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		g.run(ctx, question, contexts, opts, events)
	}()
	return events
}

// Complete runs Generate to completion, discarding intermediate deltas.
func (g *Generator) Complete(ctx context.Context, question string, contexts []Retrieved, opts Options) (*Answer, error) {
	for ev := range g.Generate(ctx, question, contexts, opts) {
		if ev.Err != nil {
			return nil, ev.Err
		}
		if ev.Answer != nil {
			return ev.Answer, nil
		}
	}
	return nil, fmt.Errorf("%w: stream ended without terminal event", ErrGenerationFailed)
}

func (g *Generator) run(ctx context.Context, question string, contexts []Retrieved, opts Options, events chan<- Event) {
	ctx, span := generationTracer.Start(ctx, "Generator.Generate")
	defer span.End()

	span.SetAttributes(
		attribute.Int("context_count", len(contexts)),
		attribute.Float64("threshold", float64(opts.Threshold)),
	)

	emit := func(ev Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// ConfidenceGate: no evidence, or evidence too weak, means the
	// provider is never invoked. This is the anti-hallucination gate.
	if !emit(Event{State: StateConfidenceGate}) {
		return
	}
	if len(contexts) == 0 || topScore(contexts) < opts.Threshold {
		span.SetAttributes(attribute.Bool("fallback", true))
		span.SetStatus(codes.Ok, "fallback")
		g.logger.Debug("confidence gate triggered fallback",
			zap.Int("contexts", len(contexts)),
			zap.Float32("top_score", topScore(contexts)),
			zap.Float32("threshold", opts.Threshold),
		)
		emit(Event{State: StateFallback, Answer: &Answer{
			Text:       FallbackAnswer,
			Confidence: 0,
			Fallback:   true,
		}})
		return
	}

	if !emit(Event{State: StatePromptBuilding}) {
		return
	}
	system, user := BuildPrompt(contexts, question)

	if !emit(Event{State: StateGenerating}) {
		return
	}

	stream, err := g.provider.StreamComplete(ctx, llm.Request{
		System:      system,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: user}},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		emit(Event{State: StateError, Err: fmt.Errorf("%w: %v", ErrGenerationFailed, err)})
		return
	}

	var text strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			span.RecordError(chunk.Err)
			span.SetStatus(codes.Error, chunk.Err.Error())
			emit(Event{State: StateError, Err: fmt.Errorf("%w: %v", ErrGenerationFailed, chunk.Err)})
			return
		}
		if chunk.Content != "" {
			text.WriteString(chunk.Content)
			if !emit(Event{State: StateGenerating, Delta: chunk.Content}) {
				return
			}
		}
	}
	if ctx.Err() != nil {
		// Cancelled mid-stream: no terminal event, channel just closes.
		return
	}

	if !emit(Event{State: StateCitationExtraction}) {
		return
	}
	answer := text.String()
	citations := ExtractCitations(answer, contexts)
	confidence := ConfidenceFor(citations, contexts)

	span.SetAttributes(
		attribute.Int("citation_count", len(citations)),
		attribute.Float64("confidence", confidence),
	)
	span.SetStatus(codes.Ok, "success")

	emit(Event{State: StateDone, Answer: &Answer{
		Text:       answer,
		Citations:  citations,
		Confidence: confidence,
	}})
}

func topScore(contexts []Retrieved) float32 {
	var top float32
	for _, ctx := range contexts {
		if ctx.Score > top {
			top = ctx.Score
		}
	}
	return top
}
