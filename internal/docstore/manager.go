package docstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/sanitize"
)

// Manager hands out one Store per tenant, each backed by its own
// SQLite file under the configured directory. Handles are opened
// lazily and cached for the process lifetime.
type Manager struct {
	dir    string
	logger *zap.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates a manager rooted at dir.
func NewManager(dir string, logger *zap.Logger) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	return &Manager{
		dir:    dir,
		logger: logger,
		stores: make(map[string]*Store),
	}, nil
}

// ForTenant returns the tenant's store, opening it on first use.
// The slug must already be a validated identifier.
func (m *Manager) ForTenant(slug string) (*Store, error) {
	if !sanitize.ValidIdentifier(slug) {
		return nil, fmt.Errorf("invalid tenant slug %q", slug)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.stores[slug]; ok {
		return store, nil
	}

	path := filepath.Join(m.dir, slug+".db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening tenant database %s: %w", path, err)
	}
	// SQLite handles one writer at a time; avoid lock contention from
	// the pool.
	db.SetMaxOpenConns(1)

	store, err := NewStore(db, m.logger.With(zap.String("tenant", slug)))
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	m.stores[slug] = store
	m.logger.Info("opened tenant document store",
		zap.String("tenant", slug),
		zap.String("path", path),
	)
	return store, nil
}

// DropTenant closes and deletes a tenant's database file.
func (m *Manager) DropTenant(slug string) error {
	if !sanitize.ValidIdentifier(slug) {
		return fmt.Errorf("invalid tenant slug %q", slug)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if store, ok := m.stores[slug]; ok {
		if err := store.Close(); err != nil {
			return fmt.Errorf("closing tenant store: %w", err)
		}
		delete(m.stores, slug)
	}

	path := filepath.Join(m.dir, slug+".db")
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing tenant database: %w", err)
	}

	m.logger.Info("dropped tenant document store", zap.String("tenant", slug))
	return nil
}

// Close closes all open tenant stores.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for slug, store := range m.stores {
		if err := store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing store %q: %w", slug, err))
		}
	}
	m.stores = make(map[string]*Store)
	return errors.Join(errs...)
}
