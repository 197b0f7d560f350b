package jwtx

import (
	"context"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
)

// maxJWKSBytes bounds how much of a provider's JWKS response we read.
const maxJWKSBytes = 1 << 20

// JWK represents a public key in JSON Web Key format (RFC 7517).
type JWK struct {
	Kty string `json:"kty"`           // key type: "RSA", "OKP", "EC"
	Use string `json:"use,omitempty"` // "sig"
	Alg string `json:"alg,omitempty"` // "EdDSA", "RS256", "ES256"
	Kid string `json:"kid,omitempty"`

	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// OKP / EC
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is a JSON Web Key Set (RFC 7517).
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// NewRSAJWK builds a JWK for an RSA public key.
func NewRSAJWK(kid, use, alg string, pub *rsa.PublicKey) JWK {
	return JWK{
		Kty: "RSA",
		Use: use,
		Alg: alg,
		Kid: kid,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

// NewEd25519JWK builds a JWK for an Ed25519 public key.
// Ed25519 keys use the "OKP" (Octet Key Pair) key type.
func NewEd25519JWK(kid, use, alg string, pub ed25519.PublicKey) JWK {
	return JWK{
		Kty: "OKP",
		Use: use,
		Alg: alg,
		Kid: kid,
		Crv: "Ed25519",
		X:   base64.RawURLEncoding.EncodeToString(pub),
	}
}

// FetchJWKS downloads a key set. The caller bounds the request through ctx
// and the client's own timeout.
func FetchJWKS(ctx context.Context, client *http.Client, url string) (JWKS, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return JWKS{}, fmt.Errorf("jwtx: build jwks request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return JWKS{}, fmt.Errorf("jwtx: fetch jwks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return JWKS{}, fmt.Errorf("jwtx: fetch jwks: unexpected status %d", resp.StatusCode)
	}

	var set JWKS
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJWKSBytes)).Decode(&set); err != nil {
		return JWKS{}, fmt.Errorf("jwtx: decode jwks: %w", err)
	}
	return set, nil
}
