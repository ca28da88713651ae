package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/cache"
	"github.com/fyrsmithlabs/answerd/internal/docstore"
	"github.com/fyrsmithlabs/answerd/internal/generation"
	"github.com/fyrsmithlabs/answerd/internal/sanitize"
	"github.com/fyrsmithlabs/answerd/internal/tenant"
	"github.com/fyrsmithlabs/answerd/internal/vectorstore"
)

// AskResult is a completed ask flow.
type AskResult struct {
	Answer generation.Answer `json:"answer"`
	Cached bool              `json:"cached"`
}

// Ask answers a question synchronously. Streaming callers use
// AskStream; this drains the same machinery.
func (p *Pipeline) Ask(ctx context.Context, b *tenant.Bundle, question string) (*AskResult, error) {
	events, err := p.AskStream(ctx, b, question)
	if err != nil {
		return nil, err
	}

	for ev := range events {
		if ev.Err != nil {
			return nil, ev.Err
		}
		if ev.Answer != nil {
			return &AskResult{
				Answer: *ev.Answer,
				Cached: ev.State == generation.StateDone && ev.Delta == deltaCached,
			}, nil
		}
	}
	return nil, fmt.Errorf("%w: stream ended without terminal event", generation.ErrGenerationFailed)
}

// deltaCached marks a terminal event served from cache. It rides the
// otherwise-unused Delta field of the terminal event.
const deltaCached = "\x00cached"

// AskStream runs the ask flow and streams generation events. The
// question is gated and sanitized before anything else; a blocked
// question returns ErrQuestionBlocked with no provider call. On a
// successful or fallback completion the QA log and cache are updated
// before the terminal event is delivered. Errors are never cached.
func (p *Pipeline) AskStream(ctx context.Context, b *tenant.Bundle, question string) (<-chan generation.Event, error) {
	if p.sanitizer.ShouldBlock(question) {
		p.countAsk(ctx, "blocked")
		p.logger.Warn("question blocked",
			zap.String("tenant", b.Tenant.Slug),
			zap.Float64("legitimacy", p.sanitizer.AssessLegitimacy(question)),
		)
		return nil, ErrQuestionBlocked
	}

	res := p.sanitizer.Sanitize(question, sanitize.KindUserQuestion)
	sanitized := res.Sanitized

	events := make(chan generation.Event)
	go func() {
		defer close(events)
		p.runAsk(ctx, b, sanitized, events)
	}()
	return events, nil
}

func (p *Pipeline) runAsk(ctx context.Context, b *tenant.Bundle, question string, events chan<- generation.Event) {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.Ask")
	defer span.End()

	slug := b.Tenant.Slug
	span.SetAttributes(attribute.String("tenant", slug))

	opts := p.tenantOpts(b)
	ctx, cancel := context.WithTimeout(ctx, opts.QuestionTimeout)
	defer cancel()

	emit := func(ev generation.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(err error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.countAsk(ctx, "error")
		emit(generation.Event{State: generation.StateError, Err: err})
	}

	// Cache first; a hit skips the whole machine.
	if cached, ok := p.cache.Get(slug, question); ok {
		span.SetAttributes(attribute.Bool("cache_hit", true))
		span.SetStatus(codes.Ok, "cache hit")
		p.countAsk(ctx, "cached")
		answer := cachedAnswer(cached)
		emit(generation.Event{State: generation.StateDone, Delta: deltaCached, Answer: answer})
		return
	}

	vec, err := p.embedder.EmbedQuery(ctx, question)
	if err != nil {
		fail(fmt.Errorf("embedding question: %w", err))
		return
	}

	tctx := vectorstore.ContextWithTenant(ctx, &vectorstore.TenantInfo{TenantID: slug})
	results, err := p.store.SearchVector(tctx, b.Collection, vec, opts.TopK, float32(opts.ConfidenceThreshold))
	if err != nil && !isEmptyCorpus(err) {
		fail(fmt.Errorf("searching: %w", err))
		return
	}
	contexts := toRetrieved(results)

	provider, release, err := p.providerFor(b)
	if err != nil {
		fail(err)
		return
	}
	defer release()

	gen := generation.New(provider, p.logger)
	for ev := range gen.Generate(ctx, question, contexts, generation.Options{
		Threshold:   float32(opts.ConfidenceThreshold),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}) {
		if ev.Err != nil {
			fail(ev.Err)
			return
		}
		if ev.Answer != nil {
			p.finishAsk(ctx, b, question, ev)
			span.SetStatus(codes.Ok, string(ev.State))
			emit(ev)
			return
		}
		if !emit(ev) {
			return
		}
	}
	// Stream closed with no terminal event: cancelled mid-generation.
}

// finishAsk records the QA log and populates the cache for a terminal
// Done or Fallback answer. Both are best-effort for the caller's
// response but the audit failure is logged loudly.
func (p *Pipeline) finishAsk(ctx context.Context, b *tenant.Bundle, question string, ev generation.Event) {
	slug := b.Tenant.Slug
	answer := ev.Answer

	outcome := "done"
	if answer.Fallback {
		outcome = "fallback"
	}
	p.countAsk(ctx, outcome)

	citations := make([]string, 0, len(answer.Citations))
	for _, c := range answer.Citations {
		citations = append(citations, c.DocumentID)
	}

	docs, err := p.docs.ForTenant(slug)
	if err != nil {
		p.logger.Error("qa log store unavailable", zap.String("tenant", slug), zap.Error(err))
	} else if _, err := docs.AppendQALog(ctx, docstore.QALog{
		Question:   question,
		Answer:     answer.Text,
		Confidence: answer.Confidence,
		Fallback:   answer.Fallback,
		Citations:  citations,
	}); err != nil {
		p.logger.Error("failed to append qa log", zap.String("tenant", slug), zap.Error(err))
	}

	p.cache.Put(slug, question, cache.Answer{
		Answer:     answer.Text,
		Citations:  citations,
		Confidence: answer.Confidence,
		Fallback:   answer.Fallback,
	})
}

// cachedAnswer rebuilds an Answer from a cache entry. Citation detail
// beyond document IDs is not cached; callers needing full snippets get
// them on the first, uncached answer.
func cachedAnswer(c *cache.Answer) *generation.Answer {
	answer := &generation.Answer{
		Text:       c.Answer,
		Confidence: c.Confidence,
		Fallback:   c.Fallback,
	}
	for i, docID := range c.Citations {
		answer.Citations = append(answer.Citations, generation.Citation{
			Index:      i + 1,
			DocumentID: docID,
		})
	}
	return answer
}

func toRetrieved(results []vectorstore.SearchResult) []generation.Retrieved {
	contexts := make([]generation.Retrieved, 0, len(results))
	for _, r := range results {
		title, _ := r.Metadata[metaDocTitle].(string)
		contexts = append(contexts, generation.Retrieved{
			ChunkID:    r.ID,
			DocumentID: r.DocumentID,
			DocTitle:   title,
			Content:    r.Content,
			Score:      r.Score,
		})
	}
	return contexts
}

// isEmptyCorpus treats a missing collection as an empty result: a
// tenant who has uploaded nothing gets the fallback answer, not an
// error.
func isEmptyCorpus(err error) bool {
	return err == nil || errors.Is(err, vectorstore.ErrCollectionNotFound)
}
