package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// Token size constants (in bytes before encoding).
const (
	// TokenSize128 provides 128 bits of entropy (22 chars base64url).
	TokenSize128 = 16
	// TokenSize256 provides 256 bits of entropy (43 chars base64url).
	TokenSize256 = 32
)

// Scheme prefixes for the opaque credentials we hand out. They make leaked
// credentials easy to recognise in logs and secret scanners, nothing more.
const (
	PrefixSession = "ps_sess_"
	PrefixDevice  = "ps_dev_"
	PrefixRefresh = "ps_rt_"
	PrefixService = "mcp_"
)

// GenerateToken creates a cryptographically secure random token of the specified byte length.
// The token is returned as a base64url-encoded string (URL-safe, no padding).
func GenerateToken(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("token size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// GenerateOpaqueToken returns a 256-bit random token with an optional
// human-readable prefix, e.g. "mcp_<43 chars>". The prefix carries no
// authority: lookups always go through FingerprintToken.
func GenerateOpaqueToken(prefix string) (string, error) {
	raw, err := GenerateToken(TokenSize256)
	if err != nil {
		return "", err
	}
	return prefix + raw, nil
}

// HasPrefix reports whether token carries prefix followed by a non-empty body.
func HasPrefix(token, prefix string) bool {
	return len(token) > len(prefix) && strings.HasPrefix(token, prefix)
}

// FingerprintToken returns a deterministic SHA-256 fingerprint of a token.
// This is used to store hashed tokens in databases, allowing lookup without
// storing the original token value.
//
// The fingerprint is returned as a base64url-encoded string (43 chars).
func FingerprintToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ConstantTimeEquals compares a and b without leaking the position of the
// first differing byte. When the lengths differ the comparison still runs
// over a buffer of the expected length before reporting false.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		_ = subtle.ConstantTimeCompare([]byte(a), []byte(a))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
