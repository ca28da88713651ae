package tenant

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/answerd/internal/logging"
	"github.com/fyrsmithlabs/answerd/internal/sanitize"
)

var (
	// ErrTenantNotFound indicates no tenant matches the identifier.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrUnknownAPIKey indicates an API key that resolves to no tenant.
	ErrUnknownAPIKey = errors.New("unknown API key")

	// ErrSlugTaken indicates a slug collision on create.
	ErrSlugTaken = errors.New("tenant slug already exists")

	// ErrInvalidSlug indicates a slug that is not a safe identifier.
	ErrInvalidSlug = errors.New("invalid tenant slug")
)

// Tenant is one registered tenant.
type Tenant struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Credentials are the tenant's provider secrets plus optional RAG
// overrides, stored sealed as one blob.
type Credentials struct {
	LLMProvider     string `json:"llm_provider,omitempty"`
	LLMAPIKey       string `json:"llm_api_key,omitempty"`
	EmbeddingAPIKey string `json:"embedding_api_key,omitempty"`

	// RAG overrides the deployment defaults for this tenant when set.
	RAG *RAGOverrides `json:"rag,omitempty"`
}

// Scrub erases the key material once a request is done with it.
func (c *Credentials) Scrub() {
	c.LLMAPIKey = ""
	c.EmbeddingAPIKey = ""
}

// RAGOverrides are per-tenant retrieval knobs. Zero fields fall back
// to the deployment defaults.
type RAGOverrides struct {
	TopK                int     `json:"top_k,omitempty"`
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	ChunkSize           int     `json:"chunk_size,omitempty"`
	ChunkOverlap        int     `json:"chunk_overlap,omitempty"`
}

// Bundle is a resolved tenant with everything a request needs:
// identity, opened credentials, and the tenant's collection name.
// Never log a Bundle directly; its String is redacted but individual
// credential fields are not.
type Bundle struct {
	Tenant      Tenant
	Credentials Credentials
	Collection  string
}

// String redacts credentials.
func (b *Bundle) String() string {
	return fmt.Sprintf("Bundle{tenant=%s collection=%s credentials=[REDACTED]}", b.Tenant.Slug, b.Collection)
}

// Scrub erases the bundle's decrypted key material.
func (b *Bundle) Scrub() {
	b.Credentials.Scrub()
}

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id           TEXT PRIMARY KEY,
	slug         TEXT NOT NULL UNIQUE,
	name         TEXT NOT NULL,
	api_key_hash BLOB NOT NULL,
	credentials  BLOB NOT NULL,
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tenants_slug ON tenants(slug);
`

// Registry resolves API keys to tenants and owns the credential rows.
type Registry struct {
	db     *sql.DB
	vault  *Vault
	logger *zap.Logger
}

// NewRegistry creates a registry and applies the schema.
func NewRegistry(db *sql.DB, vault *Vault, logger *zap.Logger) (*Registry, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if vault == nil {
		return nil, fmt.Errorf("vault is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("applying tenant schema: %w", err)
	}
	return &Registry{db: db, vault: vault, logger: logger}, nil
}

// hashAPIKey derives the stored lookup hash for an API key.
func hashAPIKey(apiKey string) []byte {
	sum := sha256.Sum256([]byte(apiKey))
	return sum[:]
}

// Create registers a tenant. The API key is stored only as a hash; the
// credentials are sealed with the vault before insert.
func (r *Registry) Create(ctx context.Context, name, slug, apiKey string, creds Credentials) (*Tenant, error) {
	if !sanitize.ValidIdentifier(slug) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	if apiKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	plaintext, err := json.Marshal(creds)
	if err != nil {
		return nil, fmt.Errorf("encoding credentials: %w", err)
	}
	sealed, err := r.vault.Seal(plaintext)
	Wipe(plaintext)
	if err != nil {
		return nil, fmt.Errorf("sealing credentials: %w", err)
	}

	t := Tenant{
		ID:        uuid.New().String(),
		Slug:      slug,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tenants (id, slug, name, api_key_hash, credentials, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Slug, t.Name, hashAPIKey(apiKey), sealed, t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %q", ErrSlugTaken, slug)
		}
		return nil, fmt.Errorf("inserting tenant: %w", err)
	}

	r.logger.Info("tenant created",
		zap.String("tenant", t.Slug),
		zap.String("tenant_id", t.ID),
		logging.RedactedString("api_key", apiKey),
	)
	return &t, nil
}

func isUniqueViolation(err error) bool {
	// modernc/sqlite reports constraint violations in the message.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}

// ResolveAPIKey maps an API key to a tenant bundle. Hash comparison is
// constant time per row; an unknown key returns ErrUnknownAPIKey with
// no hint of which tenants exist.
func (r *Registry) ResolveAPIKey(ctx context.Context, apiKey string) (*Bundle, error) {
	if apiKey == "" {
		return nil, ErrUnknownAPIKey
	}
	want := hashAPIKey(apiKey)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, slug, name, api_key_hash, credentials, created_at FROM tenants`)
	if err != nil {
		return nil, fmt.Errorf("querying tenants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t Tenant
		var hash, sealed []byte
		if err := rows.Scan(&t.ID, &t.Slug, &t.Name, &hash, &sealed, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		if subtle.ConstantTimeCompare(hash, want) != 1 {
			continue
		}
		return r.bundle(t, sealed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tenants: %w", err)
	}
	return nil, ErrUnknownAPIKey
}

// BySlug fetches a tenant bundle by slug.
func (r *Registry) BySlug(ctx context.Context, slug string) (*Bundle, error) {
	var t Tenant
	var sealed []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT id, slug, name, credentials, created_at FROM tenants WHERE slug = ?`, slug,
	).Scan(&t.ID, &t.Slug, &t.Name, &sealed, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrTenantNotFound, slug)
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant %q: %w", slug, err)
	}
	return r.bundle(t, sealed)
}

func (r *Registry) bundle(t Tenant, sealed []byte) (*Bundle, error) {
	plaintext, err := r.vault.Open(sealed)
	if err != nil {
		r.logger.Error("tenant credentials unreadable",
			zap.String("tenant", t.Slug),
			zap.Error(err),
		)
		return nil, fmt.Errorf("opening credentials for %q: %w", t.Slug, err)
	}
	defer Wipe(plaintext)

	var creds Credentials
	if err := json.Unmarshal(plaintext, &creds); err != nil {
		return nil, fmt.Errorf("decoding credentials for %q: %w", t.Slug, err)
	}
	return &Bundle{
		Tenant:      t,
		Credentials: creds,
		Collection:  sanitize.TenantCollection(t.Slug),
	}, nil
}

// UpdateCredentials reseals a tenant's credentials.
func (r *Registry) UpdateCredentials(ctx context.Context, slug string, creds Credentials) error {
	plaintext, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("encoding credentials: %w", err)
	}
	sealed, err := r.vault.Seal(plaintext)
	Wipe(plaintext)
	if err != nil {
		return fmt.Errorf("sealing credentials: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `UPDATE tenants SET credentials = ? WHERE slug = ?`, sealed, slug)
	if err != nil {
		return fmt.Errorf("updating credentials: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrTenantNotFound, slug)
	}

	r.logger.Info("tenant credentials rotated", zap.String("tenant", slug))
	return nil
}

// List returns all tenants without credentials.
func (r *Registry) List(ctx context.Context) ([]Tenant, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, slug, name, created_at FROM tenants ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Slug, &t.Name, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// Delete removes a tenant row. Callers are responsible for cascading
// the tenant's collection and document store.
func (r *Registry) Delete(ctx context.Context, slug string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tenants WHERE slug = ?`, slug)
	if err != nil {
		return fmt.Errorf("deleting tenant %q: %w", slug, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %q", ErrTenantNotFound, slug)
	}
	r.logger.Info("tenant deleted", zap.String("tenant", slug))
	return nil
}
