package vectorstore

import (
	"context"
	"fmt"
	"regexp"
)

// collectionNamePattern restricts collection names to safe identifiers.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name against security rules.
// Pattern: ^[a-z0-9_]{1,64}$
// Rejects: uppercase, special chars, path traversal, spaces.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// IsolationMode defines how tenant isolation is enforced in vector stores.
//
// Security: all implementations must enforce fail-closed behavior.
type IsolationMode interface {
	// InjectFilter adds tenant filtering to search filters.
	// Must fail with ErrMissingTenant if tenant context is absent.
	InjectFilter(ctx context.Context, filters map[string]interface{}) (map[string]interface{}, error)

	// InjectMetadata adds tenant metadata to chunks before storage.
	// Must fail with ErrMissingTenant if tenant context is absent.
	InjectMetadata(ctx context.Context, chunks []Chunk) error

	// ValidateTenant checks that tenant context is present and valid.
	ValidateTenant(ctx context.Context) error

	// Mode returns the isolation mode name for logging.
	Mode() string
}

// PayloadIsolation implements IsolationMode using metadata filtering.
//
// In this mode:
//   - tenant_id is stored as chunk metadata
//   - all queries and deletes are filtered by tenant context
//   - missing tenant context = error (fail closed)
//
// Filter injection happens in the store's private query path, so there
// is no unfiltered entry point to bypass.
type PayloadIsolation struct{}

// NewPayloadIsolation creates a new PayloadIsolation mode.
func NewPayloadIsolation() *PayloadIsolation {
	return &PayloadIsolation{}
}

// InjectFilter adds tenant filters to existing query filters.
func (p *PayloadIsolation) InjectFilter(ctx context.Context, filters map[string]interface{}) (map[string]interface{}, error) {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := tenant.Validate(); err != nil {
		return nil, err
	}

	merged := make(map[string]interface{}, len(filters)+1)
	for k, v := range filters {
		merged[k] = v
	}
	// Tenant filter wins on collision.
	for k, v := range tenant.TenantFilter() {
		merged[k] = v
	}
	return merged, nil
}

// InjectMetadata adds tenant metadata to all chunks.
func (p *PayloadIsolation) InjectMetadata(ctx context.Context, chunks []Chunk) error {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return err
	}
	if err := tenant.Validate(); err != nil {
		return err
	}

	tenantMeta := tenant.TenantMetadata()
	for i := range chunks {
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = make(map[string]interface{})
		}
		// Overwrites any caller-provided tenant fields.
		for k, v := range tenantMeta {
			chunks[i].Metadata[k] = v
		}
	}
	return nil
}

// ValidateTenant checks tenant context is present and valid.
func (p *PayloadIsolation) ValidateTenant(ctx context.Context) error {
	tenant, err := TenantFromContext(ctx)
	if err != nil {
		return err
	}
	return tenant.Validate()
}

// Mode returns "payload" for this isolation mode.
func (p *PayloadIsolation) Mode() string {
	return "payload"
}

// NoIsolation provides no tenant isolation - for testing only.
//
// WARNING: This mode provides no security guarantees.
type NoIsolation struct{}

// NewNoIsolation creates a new NoIsolation mode (testing only).
func NewNoIsolation() *NoIsolation {
	return &NoIsolation{}
}

// InjectFilter passes through filters unchanged.
func (n *NoIsolation) InjectFilter(ctx context.Context, filters map[string]interface{}) (map[string]interface{}, error) {
	return filters, nil
}

// InjectMetadata is a no-op.
func (n *NoIsolation) InjectMetadata(ctx context.Context, chunks []Chunk) error {
	return nil
}

// ValidateTenant always succeeds.
func (n *NoIsolation) ValidateTenant(ctx context.Context) error {
	return nil
}

// Mode returns "none" for this isolation mode.
func (n *NoIsolation) Mode() string {
	return "none"
}

var (
	_ IsolationMode = (*PayloadIsolation)(nil)
	_ IsolationMode = (*NoIsolation)(nil)
)
