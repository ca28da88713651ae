// Package cache provides the per-question answer cache.
//
// Keys are derived from tenant plus the normalized question, so two
// tenants asking the same question never share an entry. Invalidation
// is deliberately coarse: any ingestion change for a tenant evicts all
// of that tenant's entries, trading hit rate for guaranteed freshness.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Answer is a cached pipeline result. Completed answers are cached,
// fallbacks included; errors never are.
type Answer struct {
	Answer     string    `json:"answer"`
	Citations  []string  `json:"citations,omitempty"`
	Confidence float64   `json:"confidence"`
	Fallback   bool      `json:"fallback,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// entry pairs the answer with its owning tenant so tenant-wide
// invalidation can find it without a reverse index.
type entry struct {
	tenant string
	answer Answer
}

// Config holds cache sizing.
type Config struct {
	// TTL is how long an entry stays valid.
	TTL time.Duration

	// MaxEntries bounds the cache; LRU eviction beyond it.
	MaxEntries int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TTL == 0 {
		c.TTL = 15 * time.Minute
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = 4096
	}
}

// Cache is a TTL-bounded LRU of answered questions.
type Cache struct {
	lru    *expirable.LRU[string, entry]
	logger *zap.Logger

	hits   metric.Int64Counter
	misses metric.Int64Counter
}

// New creates a cache.
func New(cfg Config, logger *zap.Logger) *Cache {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Cache{
		lru:    expirable.NewLRU[string, entry](cfg.MaxEntries, nil, cfg.TTL),
		logger: logger,
	}

	meter := otel.Meter("github.com/fyrsmithlabs/answerd/internal/cache")
	var err error
	c.hits, err = meter.Int64Counter("answerd.cache.hits_total",
		metric.WithDescription("Answer cache hits"))
	if err != nil {
		logger.Warn("failed to create cache hits counter", zap.Error(err))
	}
	c.misses, err = meter.Int64Counter("answerd.cache.misses_total",
		metric.WithDescription("Answer cache misses"))
	if err != nil {
		logger.Warn("failed to create cache misses counter", zap.Error(err))
	}

	return c
}

// normalizeQuestion folds trivially different phrasings of the same
// question onto one key: case and whitespace only, nothing semantic.
func normalizeQuestion(question string) string {
	return strings.Join(strings.Fields(strings.ToLower(question)), " ")
}

// Key derives the cache key for a tenant and question.
func Key(tenant, question string) string {
	h := sha256.New()
	h.Write([]byte(tenant))
	h.Write([]byte{0})
	h.Write([]byte(normalizeQuestion(question)))
	return hex.EncodeToString(h.Sum(nil))
}

// Get looks up a cached answer.
func (c *Cache) Get(tenant, question string) (*Answer, bool) {
	e, ok := c.lru.Get(Key(tenant, question))
	if !ok {
		if c.misses != nil {
			c.misses.Add(context.Background(), 1)
		}
		return nil, false
	}
	if c.hits != nil {
		c.hits.Add(context.Background(), 1)
	}
	answer := e.answer
	return &answer, true
}

// Put stores an answer for a tenant's question.
func (c *Cache) Put(tenant, question string, answer Answer) {
	if answer.CreatedAt.IsZero() {
		answer.CreatedAt = time.Now().UTC()
	}
	c.lru.Add(Key(tenant, question), entry{tenant: tenant, answer: answer})
}

// InvalidateTenant evicts every entry belonging to a tenant and
// returns the number removed.
func (c *Cache) InvalidateTenant(tenant string) int {
	removed := 0
	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if e.tenant == tenant {
			c.lru.Remove(key)
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug("invalidated tenant cache",
			zap.String("tenant", tenant),
			zap.Int("entries", removed),
		)
	}
	return removed
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops everything.
func (c *Cache) Purge() {
	c.lru.Purge()
}
