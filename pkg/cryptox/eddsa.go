package cryptox

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// GenerateEd25519Key generates a new Ed25519 private key and returns it as a
// PKCS8 PEM block.
func GenerateEd25519Key() ([]byte, error) {
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to generate Ed25519 key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("cryptox: failed to marshal PKCS8 key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// LoadOrCreateEd25519Key returns the PEM key stored at path. A missing file is
// created with a fresh key so bearer tokens survive restarts. An empty path
// yields an ephemeral key.
func LoadOrCreateEd25519Key(path string) (pemKey []byte, created bool, err error) {
	if path == "" {
		pemKey, err = GenerateEd25519Key()
		return pemKey, true, err
	}

	path = filepath.Clean(path)
	pemKey, err = os.ReadFile(path)
	if err == nil {
		return pemKey, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, fmt.Errorf("cryptox: read signing key: %w", err)
	}

	if pemKey, err = GenerateEd25519Key(); err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, false, fmt.Errorf("cryptox: create key dir: %w", err)
	}
	if err := os.WriteFile(path, pemKey, 0o600); err != nil {
		return nil, false, fmt.Errorf("cryptox: write signing key: %w", err)
	}
	return pemKey, true, nil
}
