package jwtx

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"sync"
)

// ErrUnknownKey is returned by Get when no key has the requested kid.
var ErrUnknownKey = errors.New("jwtx: unknown key id")

// KeySet is a concurrency-safe kid to public key index. authcore keeps one
// for its own bearer signer and one per trusted identity provider.
type KeySet struct {
	mu   sync.RWMutex
	set  JWKS
	byID map[string]any
}

func NewKeySet() *KeySet {
	return &KeySet{byID: map[string]any{}}
}

// AddSigner publishes the public half of s.
func (k *KeySet) AddSigner(s Signer) error {
	jwk := s.PublicJWK()
	pub, err := publicKey(jwk)
	if err != nil {
		return fmt.Errorf("jwtx: signer %q: %w", jwk.Kid, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.byID[jwk.Kid] = pub
	k.set.Keys = append(k.set.Keys, jwk)
	return nil
}

// Replace swaps the whole set for jwks. The old keys stay in place when
// any entry of jwks is unusable.
func (k *KeySet) Replace(jwks JWKS) error {
	byID := make(map[string]any, len(jwks.Keys))
	for _, jwk := range jwks.Keys {
		pub, err := publicKey(jwk)
		if err != nil {
			return fmt.Errorf("jwtx: key %q: %w", jwk.Kid, err)
		}
		byID[jwk.Kid] = pub
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.byID = byID
	k.set = jwks
	return nil
}

func (k *KeySet) Get(kid string) (any, error) {
	k.mu.RLock()
	pub, ok := k.byID[kid]
	k.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownKey
	}
	return pub, nil
}

// JWKS returns the published keys in wire form.
func (k *KeySet) JWKS() JWKS {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return JWKS{Keys: append([]JWK(nil), k.set.Keys...)}
}

func (k *KeySet) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.byID)
}

// publicKey decodes RSA, P-256 and Ed25519 JWKs. Identity providers sign with
// any of these; authcore itself only uses Ed25519.
func publicKey(j JWK) (any, error) {
	switch {
	case j.Kty == "OKP" && j.Crv == "Ed25519":
		x, err := b64(j.X)
		if err != nil {
			return nil, err
		}
		if len(x) != ed25519.PublicKeySize {
			return nil, errors.New("bad Ed25519 key length")
		}
		return ed25519.PublicKey(x), nil

	case j.Kty == "EC" && j.Crv == "P-256":
		x, err := b64(j.X)
		if err != nil {
			return nil, err
		}
		y, err := b64(j.Y)
		if err != nil {
			return nil, err
		}
		pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: new(big.Int).SetBytes(x), Y: new(big.Int).SetBytes(y)}
		if !pub.Curve.IsOnCurve(pub.X, pub.Y) {
			return nil, errors.New("EC point not on P-256")
		}
		return pub, nil

	case j.Kty == "RSA":
		n, err := b64(j.N)
		if err != nil {
			return nil, err
		}
		e, err := b64(j.E)
		if err != nil {
			return nil, err
		}
		exp := new(big.Int).SetBytes(e)
		if !exp.IsInt64() || exp.Int64() < 3 || exp.Int64() > 1<<31-1 {
			return nil, errors.New("bad RSA exponent")
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(exp.Int64())}, nil
	}
	return nil, fmt.Errorf("unsupported key type %s/%s", j.Kty, j.Crv)
}

func b64(s string) ([]byte, error) {
	if s == "" {
		return nil, errors.New("missing key parameter")
	}
	return base64.RawURLEncoding.DecodeString(s)
}
