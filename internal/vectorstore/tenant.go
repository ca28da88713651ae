package vectorstore

import (
	"context"
	"errors"
)

// Tenant isolation error types - fail closed security model.
var (
	// ErrMissingTenant is returned when tenant info is missing from context.
	// This triggers "fail closed" behavior - no empty results, just errors.
	ErrMissingTenant = errors.New("tenant info missing from context")

	// ErrInvalidTenant is returned when tenant identifier is invalid.
	ErrInvalidTenant = errors.New("invalid tenant identifier")
)

// tenantContextKey is the context key for TenantInfo.
type tenantContextKey struct{}

// TenantInfo holds tenant context for filtering and isolation.
type TenantInfo struct {
	// TenantID is the tenant identifier (required).
	TenantID string
}

// Validate checks that required fields are present.
func (t *TenantInfo) Validate() error {
	if t.TenantID == "" {
		return ErrInvalidTenant
	}
	return nil
}

// ContextWithTenant adds TenantInfo to a context.
func ContextWithTenant(ctx context.Context, tenant *TenantInfo) context.Context {
	return context.WithValue(ctx, tenantContextKey{}, tenant)
}

// TenantFromContext extracts TenantInfo from a context.
// Returns ErrMissingTenant if not present - fail closed.
func TenantFromContext(ctx context.Context) (*TenantInfo, error) {
	val := ctx.Value(tenantContextKey{})
	if val == nil {
		return nil, ErrMissingTenant
	}
	tenant, ok := val.(*TenantInfo)
	if !ok || tenant == nil {
		return nil, ErrMissingTenant
	}
	return tenant, nil
}

// HasTenant checks if TenantInfo is present in context without error.
func HasTenant(ctx context.Context) bool {
	_, err := TenantFromContext(ctx)
	return err == nil
}

// TenantMetadata returns tenant info as a metadata map for chunk storage.
func (t *TenantInfo) TenantMetadata() map[string]interface{} {
	return map[string]interface{}{
		"tenant_id": t.TenantID,
	}
}

// TenantFilter returns filter conditions matching this tenant's scope.
func (t *TenantInfo) TenantFilter() map[string]interface{} {
	return map[string]interface{}{
		"tenant_id": t.TenantID,
	}
}
