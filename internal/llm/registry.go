package llm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config is provider configuration shared by all backends.
type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	MaxTokens   int
	Temperature float64

	// Timeout bounds each upstream completion call. Zero uses the
	// provider's default.
	Timeout time.Duration

	// RateLimit is requests per second allowed against the upstream API.
	// Zero disables client-side limiting.
	RateLimit float64
	RateBurst int
}

// Factory constructs a provider from configuration.
type Factory func(cfg Config, logger *zap.Logger) (Provider, error)

// Registry maps provider names to factories. Instances are built at
// startup and passed to whoever needs them.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any previous entry.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// New constructs the provider registered under cfg.Provider.
func (r *Registry) New(cfg Config, logger *zap.Logger) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownProvider, cfg.Provider, r.Names())
	}
	return factory(cfg, logger)
}

// Names lists registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with the built-in providers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("anthropic", func(cfg Config, logger *zap.Logger) (Provider, error) {
		return NewAnthropicProvider(cfg, logger)
	})
	r.Register("openai", func(cfg Config, logger *zap.Logger) (Provider, error) {
		return NewOpenAIProvider(cfg, logger)
	})
	return r
}
