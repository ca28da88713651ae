// Package pipeline orchestrates the ingestion and ask flows end to
// end: sanitize, chunk, embed, store, retrieve, generate, audit. Each
// request is an independent unit of work; the only shared state is the
// cache and the persisted stores.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/cache"
	"github.com/fyrsmithlabs/answerd/internal/chunker"
	"github.com/fyrsmithlabs/answerd/internal/docstore"
	"github.com/fyrsmithlabs/answerd/internal/embeddings"
	"github.com/fyrsmithlabs/answerd/internal/llm"
	"github.com/fyrsmithlabs/answerd/internal/sanitize"
	"github.com/fyrsmithlabs/answerd/internal/tenant"
	"github.com/fyrsmithlabs/answerd/internal/vectorstore"
)

var (
	// ErrQuestionBlocked indicates a question rejected by the
	// legitimacy gate before any provider call.
	ErrQuestionBlocked = errors.New("question blocked")

	// ErrEmptyDocument indicates a document with no usable content
	// after sanitization.
	ErrEmptyDocument = errors.New("document has no usable content")
)

var pipelineTracer = otel.Tracer("answerd.pipeline")

// metaDocTitle carries the document title on each stored chunk so
// retrieval can cite it without a docstore lookup.
const metaDocTitle = "doc_title"

// Config holds deployment-wide pipeline defaults. Tenants may override
// the retrieval knobs through their credential bundle.
type Config struct {
	TopK                int
	ConfidenceThreshold float64
	ChunkSize           int
	ChunkOverlap        int
	QuestionTimeout     time.Duration

	MaxTokens   int
	Temperature float64
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.ConfidenceThreshold == 0 {
		c.ConfidenceThreshold = 0.35
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 150
	}
	if c.QuestionTimeout == 0 {
		c.QuestionTimeout = 60 * time.Second
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 1024
	}
}

// Pipeline wires the ingestion and ask flows.
type Pipeline struct {
	cfg       Config
	sanitizer *sanitize.Sanitizer
	embedder  embeddings.Provider
	store     vectorstore.Store
	docs      *docstore.Manager
	cache     *cache.Cache
	registry  *llm.Registry
	llmCfg    llm.Config
	defaultLP llm.Provider
	logger    *zap.Logger

	asks metric.Int64Counter
}

// New creates a Pipeline. defaultProvider serves tenants without their
// own LLM credentials; tenants with a sealed key get a dedicated
// provider per request.
func New(
	cfg Config,
	sanitizer *sanitize.Sanitizer,
	embedder embeddings.Provider,
	store vectorstore.Store,
	docs *docstore.Manager,
	answerCache *cache.Cache,
	registry *llm.Registry,
	llmCfg llm.Config,
	defaultProvider llm.Provider,
	logger *zap.Logger,
) (*Pipeline, error) {
	if sanitizer == nil || embedder == nil || store == nil || docs == nil || answerCache == nil {
		return nil, fmt.Errorf("sanitizer, embedder, store, docs and cache are required")
	}
	if defaultProvider == nil {
		return nil, fmt.Errorf("default completion provider is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	p := &Pipeline{
		cfg:       cfg,
		sanitizer: sanitizer,
		embedder:  embedder,
		store:     store,
		docs:      docs,
		cache:     answerCache,
		registry:  registry,
		llmCfg:    llmCfg,
		defaultLP: defaultProvider,
		logger:    logger,
	}

	meter := otel.Meter("github.com/fyrsmithlabs/answerd/internal/pipeline")
	var err error
	p.asks, err = meter.Int64Counter("answerd.pipeline.asks_total",
		metric.WithDescription("Ask requests by outcome (cached, done, fallback, blocked, error)"))
	if err != nil {
		logger.Warn("failed to create asks counter", zap.Error(err))
	}

	return p, nil
}

func (p *Pipeline) countAsk(ctx context.Context, outcome string) {
	if p.asks != nil {
		p.asks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

// tenantOpts merges deployment defaults with a tenant's overrides.
func (p *Pipeline) tenantOpts(b *tenant.Bundle) Config {
	cfg := p.cfg
	if b.Credentials.RAG == nil {
		return cfg
	}
	o := b.Credentials.RAG
	if o.TopK > 0 {
		cfg.TopK = o.TopK
	}
	if o.ConfidenceThreshold > 0 {
		cfg.ConfidenceThreshold = o.ConfidenceThreshold
	}
	if o.ChunkSize > 0 {
		cfg.ChunkSize = o.ChunkSize
	}
	if o.ChunkOverlap > 0 {
		cfg.ChunkOverlap = o.ChunkOverlap
	}
	return cfg
}

// providerFor returns the completion provider for a tenant and a
// release function. Tenants with their own key get a fresh provider
// whose credential material lives only for the request; release closes
// the provider and scrubs the bundle's key material.
func (p *Pipeline) providerFor(b *tenant.Bundle) (llm.Provider, func(), error) {
	if b.Credentials.LLMAPIKey == "" {
		return p.defaultLP, func() { b.Scrub() }, nil
	}

	cfg := p.llmCfg
	cfg.APIKey = b.Credentials.LLMAPIKey
	if b.Credentials.LLMProvider != "" {
		cfg.Provider = b.Credentials.LLMProvider
	}

	provider, err := p.registry.New(cfg, p.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("building tenant provider: %w", err)
	}
	return provider, func() {
		_ = provider.Close()
		b.Scrub()
	}, nil
}

// Ingest runs the full ingestion flow for one document and returns its
// final metadata row. Ingestion is all-or-nothing per document: any
// failure after the row exists sets status error, never a dangling
// processing state.
func (p *Pipeline) Ingest(ctx context.Context, b *tenant.Bundle, title, content string) (*docstore.Document, error) {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.Ingest")
	defer span.End()

	slug := b.Tenant.Slug
	span.SetAttributes(attribute.String("tenant", slug))

	titleRes := p.sanitizer.Sanitize(title, sanitize.KindDocumentTitle)
	contentRes := p.sanitizer.Sanitize(content, sanitize.KindDocumentContent)
	if contentRes.Sanitized == "" {
		return nil, ErrEmptyDocument
	}
	if titleRes.Sanitized == "" {
		titleRes.Sanitized = "untitled"
	}

	docs, err := p.docs.ForTenant(slug)
	if err != nil {
		return nil, fmt.Errorf("opening tenant store: %w", err)
	}

	doc, err := docs.CreateDocument(ctx, titleRes.Sanitized)
	if err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}
	if err := docs.SetStatus(ctx, doc.ID, docstore.StatusProcessing, 0, ""); err != nil {
		return nil, err
	}

	chunkCount, err := p.ingestChunks(ctx, b, doc.ID, titleRes.Sanitized, contentRes.Sanitized)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if serr := docs.SetStatus(ctx, doc.ID, docstore.StatusError, 0, err.Error()); serr != nil {
			p.logger.Error("failed to record document error status",
				zap.String("tenant", slug),
				zap.String("document_id", doc.ID),
				zap.Error(serr),
			)
		}
		return nil, err
	}

	if err := docs.SetStatus(ctx, doc.ID, docstore.StatusReady, chunkCount, ""); err != nil {
		return nil, err
	}

	// Best-effort: a failed invalidation must not fail the upload.
	removed := p.cache.InvalidateTenant(slug)

	span.SetAttributes(
		attribute.Int("chunk_count", chunkCount),
		attribute.Int("cache_invalidated", removed),
	)
	span.SetStatus(codes.Ok, "success")

	p.logger.Info("document ingested",
		zap.String("tenant", slug),
		zap.String("document_id", doc.ID),
		zap.Int("chunks", chunkCount),
		zap.Bool("injection_detected", contentRes.InjectionDetected),
	)

	return docs.GetDocument(ctx, doc.ID)
}

// ingestChunks is the failable middle of ingestion: chunk, embed,
// persist. Partial batch failure is fatal for the whole document so
// chunkCount stays consistent.
func (p *Pipeline) ingestChunks(ctx context.Context, b *tenant.Bundle, docID, title, content string) (int, error) {
	opts := p.tenantOpts(b)

	chunks, err := chunker.Split(content, chunker.Options{Size: opts.ChunkSize, Overlap: opts.ChunkOverlap})
	if err != nil {
		return 0, fmt.Errorf("chunking: %w", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vecs, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embedding document: %w", err)
	}

	stored := make([]vectorstore.Chunk, len(chunks))
	for i, c := range chunks {
		stored[i] = vectorstore.Chunk{
			ID:         uuid.New().String(),
			DocumentID: docID,
			Index:      c.Index,
			Content:    c.Content,
			Vector:     vecs[i],
			Metadata:   map[string]interface{}{metaDocTitle: title},
		}
	}

	tctx := vectorstore.ContextWithTenant(ctx, &vectorstore.TenantInfo{TenantID: b.Tenant.Slug})
	if _, err := p.store.AddChunks(tctx, b.Collection, stored); err != nil {
		return 0, fmt.Errorf("storing chunks: %w", err)
	}
	return len(stored), nil
}

// DeleteDocument removes a document's chunks and metadata, then
// invalidates the tenant's cache.
func (p *Pipeline) DeleteDocument(ctx context.Context, b *tenant.Bundle, docID string) error {
	ctx, span := pipelineTracer.Start(ctx, "Pipeline.DeleteDocument")
	defer span.End()

	slug := b.Tenant.Slug
	docs, err := p.docs.ForTenant(slug)
	if err != nil {
		return err
	}
	if _, err := docs.GetDocument(ctx, docID); err != nil {
		return err
	}

	tctx := vectorstore.ContextWithTenant(ctx, &vectorstore.TenantInfo{TenantID: slug})
	if err := p.store.DeleteByDocument(tctx, b.Collection, docID); err != nil && !errors.Is(err, vectorstore.ErrCollectionNotFound) {
		span.RecordError(err)
		return fmt.Errorf("deleting chunks: %w", err)
	}

	if err := docs.DeleteDocument(ctx, docID); err != nil {
		return err
	}

	p.cache.InvalidateTenant(slug)
	span.SetStatus(codes.Ok, "success")

	p.logger.Info("document deleted",
		zap.String("tenant", slug),
		zap.String("document_id", docID),
	)
	return nil
}

// Documents lists a tenant's documents.
func (p *Pipeline) Documents(ctx context.Context, b *tenant.Bundle) ([]docstore.Document, error) {
	docs, err := p.docs.ForTenant(b.Tenant.Slug)
	if err != nil {
		return nil, err
	}
	return docs.ListDocuments(ctx)
}
