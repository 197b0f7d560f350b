package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultBearerTTL is the default lifetime for stateless bearer tokens.
// Kept short because revocation relies on the live token version check.
const DefaultBearerTTL = 15 * time.Minute

// Claims are the bearer-token claims issued by authcore. External ID tokens
// are parsed into the same struct; fields they do not carry stay empty.
type Claims struct {
	jwt.RegisteredClaims

	// Session ID, set when the bearer was minted alongside a session.
	SID string `json:"sid,omitempty"`

	// Device token ID for bearers minted on a native device. The bearer
	// dies with that device token.
	DID string `json:"did,omitempty"`

	// Role of the subject at issue time ("user", "admin").
	Role string `json:"role,omitempty"`

	// TokenVersion snapshot. A bearer whose "tv" no longer matches the
	// user's live token version is rejected.
	TokenVersion int64 `json:"tv,omitempty"`

	// Authentication Methods Reference ["pwd","otp","oidc"]
	AMR []string `json:"amr,omitempty"`

	// Populated by external identity providers.
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
}

// NewBearerClaims builds minimally-correct bearer claims.
func NewBearerClaims(
	subject, sid, role string,
	tokenVersion int64,
	amr []string,
	ttl time.Duration,
	issuer string,
	audience []string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		SID:          sid,
		Role:         role,
		TokenVersion: tokenVersion,
		AMR:          amr,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateExpiryWithLeeway checks exp and nbf against now, allowing a small
// grace period for clock skew.
func (c *Claims) ValidateExpiryWithLeeway(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}
	return nil
}
