package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// ErrSealOpen is returned when sealed data cannot be authenticated with the
// supplied token (wrong token, truncated or tampered ciphertext).
var ErrSealOpen = errors.New("cryptox: cannot open sealed data")

// sealKey derives the AES-256 key for a token. Only the token holder can
// reproduce it, so the database row alone never reveals the payload.
func sealKey(token string) []byte {
	sum := sha256.Sum256([]byte("authcore/seal/v1|" + token))
	return sum[:]
}

func tokenGCM(token string) (cipher.AEAD, error) {
	block, err := aes.NewCipher(sealKey(token))
	if err != nil {
		return nil, fmt.Errorf("cryptox: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptox: create GCM: %w", err)
	}
	return gcm, nil
}

// SealWithToken encrypts plaintext with AES-256-GCM under a key derived from
// token. Output layout: [12-byte nonce][ciphertext][16-byte tag].
func SealWithToken(token string, plaintext []byte) ([]byte, error) {
	gcm, err := tokenGCM(token)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cryptox: generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenWithToken reverses SealWithToken.
func OpenWithToken(token string, sealed []byte) ([]byte, error) {
	gcm, err := tokenGCM(token)
	if err != nil {
		return nil, err
	}

	n := gcm.NonceSize()
	if len(sealed) < n+gcm.Overhead() {
		return nil, ErrSealOpen
	}
	plaintext, err := gcm.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, ErrSealOpen
	}
	return plaintext, nil
}
