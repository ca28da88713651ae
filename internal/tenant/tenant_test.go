package tenant

import (
	"context"
	"database/sql"
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testMasterKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "control.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	vault, err := NewVault(testMasterKey)
	require.NoError(t, err)

	reg, err := NewRegistry(db, vault, zap.NewNop())
	require.NoError(t, err)
	return reg
}

func TestVaultRoundTrip(t *testing.T) {
	vault, err := NewVault(testMasterKey)
	require.NoError(t, err)

	sealed, err := vault.Seal([]byte("sk-super-secret"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "sk-super-secret")

	opened, err := vault.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-super-secret", string(opened))
}

func TestVaultNoncesDiffer(t *testing.T) {
	vault, err := NewVault(testMasterKey)
	require.NoError(t, err)

	a, err := vault.Seal([]byte("same plaintext"))
	require.NoError(t, err)
	b, err := vault.Seal([]byte("same plaintext"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVaultTamperFailsClosed(t *testing.T) {
	vault, err := NewVault(testMasterKey)
	require.NoError(t, err)

	sealed, err := vault.Seal([]byte("payload"))
	require.NoError(t, err)

	sealed[len(sealed)-1] ^= 0xff
	_, err = vault.Open(sealed)
	require.ErrorIs(t, err, ErrDecryptFailed)

	_, err = vault.Open([]byte("short"))
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestVaultWrongKeyFailsClosed(t *testing.T) {
	vault, err := NewVault(testMasterKey)
	require.NoError(t, err)
	sealed, err := vault.Seal([]byte("payload"))
	require.NoError(t, err)

	otherKey := hex.EncodeToString(make([]byte, 32))
	other, err := NewVault(otherKey)
	require.NoError(t, err)

	_, err = other.Open(sealed)
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestNewVaultRejectsBadKeys(t *testing.T) {
	_, err := NewVault("not hex")
	require.ErrorIs(t, err, ErrInvalidMasterKey)

	_, err = NewVault("abcd")
	require.ErrorIs(t, err, ErrInvalidMasterKey)
}

func TestRegistryCreateAndResolve(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	creds := Credentials{LLMProvider: "anthropic", LLMAPIKey: "sk-ant-test"}
	created, err := reg.Create(ctx, "Acme Corp", "acme", "key-acme-123", creds)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)

	bundle, err := reg.ResolveAPIKey(ctx, "key-acme-123")
	require.NoError(t, err)
	assert.Equal(t, "acme", bundle.Tenant.Slug)
	assert.Equal(t, "Acme Corp", bundle.Tenant.Name)
	assert.Equal(t, "sk-ant-test", bundle.Credentials.LLMAPIKey)
	assert.Equal(t, "acme_chunks", bundle.Collection)
}

func TestRegistryUnknownKey(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, "Acme", "acme", "key-acme", Credentials{})
	require.NoError(t, err)

	_, err = reg.ResolveAPIKey(ctx, "key-wrong")
	require.ErrorIs(t, err, ErrUnknownAPIKey)

	_, err = reg.ResolveAPIKey(ctx, "")
	require.ErrorIs(t, err, ErrUnknownAPIKey)
}

func TestRegistrySlugCollision(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, "Acme", "acme", "key-1", Credentials{})
	require.NoError(t, err)

	_, err = reg.Create(ctx, "Acme Again", "acme", "key-2", Credentials{})
	require.ErrorIs(t, err, ErrSlugTaken)
}

func TestRegistryRejectsInvalidSlug(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Create(context.Background(), "Bad", "Not A Slug!", "key", Credentials{})
	require.ErrorIs(t, err, ErrInvalidSlug)
}

func TestWipeZeroesBuffer(t *testing.T) {
	buf := []byte("sk-super-secret")
	Wipe(buf)
	for i, b := range buf {
		require.Zerof(t, b, "byte %d not wiped", i)
	}
}

func TestBundleScrubErasesKeyMaterial(t *testing.T) {
	b := &Bundle{
		Tenant: Tenant{Slug: "acme"},
		Credentials: Credentials{
			LLMProvider:     "anthropic",
			LLMAPIKey:       "sk-ant-secret",
			EmbeddingAPIKey: "sk-embed-secret",
		},
		Collection: "acme_chunks",
	}

	b.Scrub()
	assert.Empty(t, b.Credentials.LLMAPIKey)
	assert.Empty(t, b.Credentials.EmbeddingAPIKey)

	// Identity and non-secret routing survive the scrub.
	assert.Equal(t, "acme", b.Tenant.Slug)
	assert.Equal(t, "anthropic", b.Credentials.LLMProvider)
	assert.Equal(t, "acme_chunks", b.Collection)
}

func TestRegistryBundleStringRedacts(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, "Acme", "acme", "key-acme", Credentials{LLMAPIKey: "sk-very-secret"})
	require.NoError(t, err)

	bundle, err := reg.BySlug(ctx, "acme")
	require.NoError(t, err)
	assert.NotContains(t, bundle.String(), "sk-very-secret")
	assert.Contains(t, bundle.String(), "acme")
}

func TestRegistryUpdateCredentials(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, "Acme", "acme", "key-acme", Credentials{LLMAPIKey: "old"})
	require.NoError(t, err)

	require.NoError(t, reg.UpdateCredentials(ctx, "acme", Credentials{LLMAPIKey: "new"}))

	bundle, err := reg.BySlug(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "new", bundle.Credentials.LLMAPIKey)

	err = reg.UpdateCredentials(ctx, "missing", Credentials{})
	require.ErrorIs(t, err, ErrTenantNotFound)
}

func TestRegistryListAndDelete(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, "B Corp", "bcorp", "key-b", Credentials{})
	require.NoError(t, err)
	_, err = reg.Create(ctx, "Acme", "acme", "key-a", Credentials{})
	require.NoError(t, err)

	tenants, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 2)
	assert.Equal(t, "acme", tenants[0].Slug)
	assert.Equal(t, "bcorp", tenants[1].Slug)

	require.NoError(t, reg.Delete(ctx, "acme"))
	require.ErrorIs(t, reg.Delete(ctx, "acme"), ErrTenantNotFound)

	_, err = reg.BySlug(ctx, "acme")
	require.ErrorIs(t, err, ErrTenantNotFound)
}
