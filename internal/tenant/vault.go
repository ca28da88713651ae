// Package tenant provides tenant resolution and the encrypted
// credential vault. Tenant API keys are stored as SHA-256 hashes and
// compared in constant time; provider credentials are sealed with
// AES-256-GCM before they touch disk.
package tenant

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrInvalidMasterKey indicates a master key that is not 32 bytes of hex.
	ErrInvalidMasterKey = errors.New("invalid master key")

	// ErrDecryptFailed indicates ciphertext that could not be opened.
	// Fail closed: a tenant whose credentials cannot be decrypted is
	// unusable, never served with partial data.
	ErrDecryptFailed = errors.New("decryption failed")
)

// Vault seals and opens credential blobs with AES-256-GCM.
// Each sealed blob carries its own random nonce.
type Vault struct {
	aead cipher.AEAD
}

// NewVault creates a vault from a hex-encoded 32-byte master key.
func NewVault(masterKeyHex string) (*Vault, error) {
	key, err := hex.DecodeString(masterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid hex", ErrInvalidMasterKey)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: need 32 bytes, got %d", ErrInvalidMasterKey, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMasterKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &Vault{aead: aead}, nil
}

// Seal encrypts plaintext. Output layout: nonce || ciphertext+tag.
func (v *Vault) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return v.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal. Any tampering or a wrong
// master key yields ErrDecryptFailed. Callers must Wipe the returned
// plaintext once its contents are copied out.
func (v *Vault) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < v.aead.NonceSize() {
		return nil, ErrDecryptFailed
	}
	nonce, ciphertext := sealed[:v.aead.NonceSize()], sealed[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// Wipe zeroes a plaintext buffer. Best effort: the GC may have copied
// the data, but the primary holder no longer carries it.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
