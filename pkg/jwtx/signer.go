package jwtx

import (
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Signer mints compact JWTs and exposes the matching verification key.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)
	PublicJWK() JWK
}

// EdDSASigner signs bearer tokens with a single Ed25519 key.
type EdDSASigner struct {
	kid  string
	priv ed25519.PrivateKey
}

// NewSignerEdDSA reads a PKCS#8 "PRIVATE KEY" PEM block holding an Ed25519
// key, as written by cryptox.LoadOrCreateEd25519Key.
func NewSignerEdDSA(kid string, pemKey []byte) (*EdDSASigner, error) {
	priv, err := parseEd25519PEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("jwtx: signing key %q: %w", kid, err)
	}
	return &EdDSASigner{kid: kid, priv: priv}, nil
}

func parseEd25519PEM(data []byte) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode(data)
	switch {
	case block == nil:
		return nil, errors.New("no PEM block")
	case block.Type != "PRIVATE KEY":
		return nil, fmt.Errorf("want PKCS#8 PRIVATE KEY, got %s", block.Type)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("want Ed25519, got %T", key)
	}
	return priv, nil
}

func (s *EdDSASigner) Alg() string { return jwt.SigningMethodEdDSA.Alg() }

func (s *EdDSASigner) KID() string { return s.kid }

func (s *EdDSASigner) Sign(claims Claims) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = s.kid
	return tok.SignedString(s.priv)
}

func (s *EdDSASigner) PublicJWK() JWK {
	return NewEd25519JWK(s.kid, "sig", s.Alg(), s.priv.Public().(ed25519.PublicKey))
}
