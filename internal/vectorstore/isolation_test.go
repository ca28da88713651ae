package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantFromContextFailClosed(t *testing.T) {
	_, err := TenantFromContext(context.Background())
	require.ErrorIs(t, err, ErrMissingTenant)

	ctx := ContextWithTenant(context.Background(), nil)
	_, err = TenantFromContext(ctx)
	require.ErrorIs(t, err, ErrMissingTenant)
}

func TestTenantRoundTrip(t *testing.T) {
	ctx := ContextWithTenant(context.Background(), &TenantInfo{TenantID: "acme"})
	tenant, err := TenantFromContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acme", tenant.TenantID)
	assert.True(t, HasTenant(ctx))
	assert.False(t, HasTenant(context.Background()))
}

func TestTenantValidate(t *testing.T) {
	assert.ErrorIs(t, (&TenantInfo{}).Validate(), ErrInvalidTenant)
	assert.NoError(t, (&TenantInfo{TenantID: "acme"}).Validate())
}

func TestPayloadIsolationInjectFilter(t *testing.T) {
	iso := NewPayloadIsolation()

	_, err := iso.InjectFilter(context.Background(), nil)
	require.ErrorIs(t, err, ErrMissingTenant)

	ctx := ContextWithTenant(context.Background(), &TenantInfo{TenantID: "acme"})
	filters, err := iso.InjectFilter(ctx, map[string]interface{}{"document_id": "doc-1"})
	require.NoError(t, err)
	assert.Equal(t, "acme", filters["tenant_id"])
	assert.Equal(t, "doc-1", filters["document_id"])
}

func TestPayloadIsolationFilterOverridesSpoofedTenant(t *testing.T) {
	iso := NewPayloadIsolation()
	ctx := ContextWithTenant(context.Background(), &TenantInfo{TenantID: "acme"})

	// A caller-supplied tenant_id filter must not widen the scope.
	filters, err := iso.InjectFilter(ctx, map[string]interface{}{"tenant_id": "globex"})
	require.NoError(t, err)
	assert.Equal(t, "acme", filters["tenant_id"])
}

func TestPayloadIsolationInjectMetadata(t *testing.T) {
	iso := NewPayloadIsolation()
	ctx := ContextWithTenant(context.Background(), &TenantInfo{TenantID: "acme"})

	chunks := []Chunk{
		{ID: "c1", Metadata: map[string]interface{}{"tenant_id": "spoofed"}},
		{ID: "c2"},
	}
	require.NoError(t, iso.InjectMetadata(ctx, chunks))
	assert.Equal(t, "acme", chunks[0].Metadata["tenant_id"])
	assert.Equal(t, "acme", chunks[1].Metadata["tenant_id"])
}

func TestValidateCollectionName(t *testing.T) {
	valid := []string{"acme_chunks", "a", "tenant_42_chunks"}
	for _, name := range valid {
		assert.NoError(t, ValidateCollectionName(name), name)
	}

	invalid := []string{"", "UPPER", "has-dash", "has space", "../traversal", "x!"}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateCollectionName(name), ErrInvalidCollectionName, name)
	}
}
