package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Vector store collection names must match ^[a-z0-9_]{1,64}$.
const (
	// MaxIdentifierLength is the maximum collection name length.
	MaxIdentifierLength = 64

	// hashSuffixLength is "_" plus 8 hex chars, appended when truncating.
	hashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces nothing usable.
	DefaultIdentifier = "default"
)

var identifierPattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidIdentifier reports whether s is already a safe identifier.
func ValidIdentifier(s string) bool {
	return identifierPattern.MatchString(s)
}

// Identifier sanitizes a string for use in collection names: lowercase,
// invalid runes become underscores, runs collapse, and over-long results
// are truncated with a hash suffix to preserve uniqueness.
func Identifier(s string) string {
	if s == "" {
		return DefaultIdentifier
	}

	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	out = strings.Trim(out, "_")

	if out == "" {
		return DefaultIdentifier
	}
	if len(out) > MaxIdentifierLength {
		out = truncateWithHash(out)
	}
	return out
}

// TenantCollection builds the chunk collection name for a tenant.
// Format: {sanitized_tenant}_chunks.
func TenantCollection(tenantID string) string {
	name := Identifier(tenantID) + "_chunks"
	if len(name) > MaxIdentifierLength {
		name = truncateWithHash(name)
	}
	return name
}

func truncateWithHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(sum[:])[:8]
	base := strings.TrimRight(s[:MaxIdentifierLength-hashSuffixLength], "_")
	return base + suffix
}
