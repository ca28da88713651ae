package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// OpenAIProvider generates completions through an OpenAI-compatible
// chat API via langchaingo, which also covers self-hosted gateways
// exposing the same surface.
type OpenAIProvider struct {
	llm       *openai.LLM
	model     string
	maxTokens int
	temp      float64
	timeout   time.Duration
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// NewOpenAIProvider creates an OpenAI chat completion provider.
func NewOpenAIProvider(cfg Config, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: API key required for openai provider", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []openai.Option{openai.WithToken(cfg.APIKey)}
	if cfg.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating openai client: %v", ErrInvalidConfig, err)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &OpenAIProvider{
		llm:       client,
		model:     cfg.Model,
		maxTokens: maxTokens,
		temp:      cfg.Temperature,
		timeout:   timeout,
		limiter:   limiter,
		logger:    logger,
	}, nil
}

// Complete runs a blocking chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	resp, err := p.generate(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// StreamComplete streams a chat completion through langchaingo's
// streaming callback, bridged onto a channel.
func (p *OpenAIProvider) StreamComplete(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	events := make(chan StreamEvent)

	streamFn := func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		select {
		case events <- StreamEvent{Content: string(chunk)}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	go func() {
		defer close(events)
		resp, err := p.generate(ctx, req, streamFn)

		var terminal StreamEvent
		if err != nil {
			terminal = StreamEvent{Err: err}
		} else {
			terminal = StreamEvent{FinishReason: resp.FinishReason}
		}
		select {
		case events <- terminal:
		case <-ctx.Done():
		}
	}()
	return events, nil
}

func (p *OpenAIProvider) generate(ctx context.Context, req Request, streamFn func(context.Context, []byte) error) (*Completion, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limit wait: %v", ErrGenerationFailed, err)
		}
	}

	content := buildMessages(req)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}
	temp := req.Temperature
	if temp == 0 {
		temp = p.temp
	}

	opts := []llms.CallOption{
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(temp),
	}
	if streamFn != nil {
		opts = append(opts, llms.WithStreamingFunc(streamFn))
	}

	// Bound the upstream call even when the caller's context carries no
	// deadline of its own.
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.llm.GenerateContent(ctx, content, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response choices", ErrGenerationFailed)
	}

	choice := resp.Choices[0]
	return &Completion{
		Content:      choice.Content,
		FinishReason: choice.StopReason,
	}, nil
}

// buildMessages converts a Request into langchaingo chat messages,
// system text first.
func buildMessages(req Request) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, len(req.Messages)+1)
	if req.System != "" {
		content = append(content, llms.TextParts(schema.ChatMessageTypeSystem, req.System))
	}
	for _, msg := range req.Messages {
		role := schema.ChatMessageTypeHuman
		if msg.Role == RoleAssistant {
			role = schema.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, msg.Content))
	}
	return content
}

// Close is a no-op for the HTTP-backed provider.
func (p *OpenAIProvider) Close() error {
	return nil
}

var _ Provider = (*OpenAIProvider)(nil)
