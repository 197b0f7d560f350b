package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (OWASP minimums for 19 MiB).
const (
	argonMemory      = 19 * 1024
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16
)

var (
	ErrPasswordMismatch = errors.New("cryptox: password does not match")
	ErrHashFormat       = errors.New("cryptox: invalid password hash format")
)

var (
	pepperMu sync.RWMutex
	pepper   string
)

// SetPepper installs the secret appended to every password before hashing.
func SetPepper(p string) {
	pepperMu.Lock()
	defer pepperMu.Unlock()
	pepper = p
}

func currentPepper() string {
	pepperMu.RLock()
	defer pepperMu.RUnlock()
	return pepper
}

// LoadOrCreatePepper reads the pepper stored at path, creating a fresh random
// one (mode 0600) when the file does not exist yet, and installs it.
func LoadOrCreatePepper(path string) error {
	path = filepath.Clean(path)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		SetPepper(strings.TrimSpace(string(data)))
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("cryptox: read pepper: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("cryptox: create pepper dir: %w", err)
	}
	p, err := GenerateToken(argonKeyLength)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(p), 0o600); err != nil {
		return fmt.Errorf("cryptox: write pepper: %w", err)
	}
	SetPepper(p)
	return nil
}

// HashPassword generates a PHC-format Argon2id hash string including salt and parameters.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(password+currentPepper()), salt,
		argonIterations, argonMemory, argonParallelism, argonKeyLength)

	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory, argonIterations, argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// VerifyPassword compares a plaintext password against a PHC-style Argon2id hash.
func VerifyPassword(password, encoded string) error {
	// ["", "argon2id", "v=19", "m=X,t=Y,p=Z", "salt", "hash"]
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != "v=19" {
		return ErrHashFormat
	}

	var mem, iters uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &par); err != nil {
		return fmt.Errorf("%w: %v", ErrHashFormat, err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("%w: salt: %v", ErrHashFormat, err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return fmt.Errorf("%w: hash: %v", ErrHashFormat, err)
	}

	got := argon2.IDKey([]byte(password+currentPepper()), salt, iters, mem, par,
		uint32(len(want))) // #nosec G115 - hash length is 32
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrPasswordMismatch
	}
	return nil
}
