package app

import (
	"crypto/rand"
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// signingKeyID is the kid of the single bearer signing key.
const signingKeyID = "authcore-ed25519"

// AuthKeys is the secret material the services need.
type AuthKeys struct {
	KeySet     *jwtx.KeySet
	Signer     jwtx.Signer
	Verifier   *jwtx.Verifier
	CSRFSecret []byte
}

// InitAuthKeys installs the password pepper and loads (or creates) the bearer
// signing key and CSRF secret.
//
// With an empty AUTH_SIGNING_KEY_FILE or AUTH_CSRF_SECRET a random value is
// used for the lifetime of the process: bearer tokens and CSRF tokens then
// stop verifying after a restart and are not shared between instances.
func InitAuthKeys(cfg Config, logger *slog.Logger) (*AuthKeys, error) {
	if err := cryptox.LoadOrCreatePepper(cfg.PepperFile); err != nil {
		return nil, fmt.Errorf("failed to load pepper: %w", err)
	}

	pemKey, created, err := cryptox.LoadOrCreateEd25519Key(cfg.SigningKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load signing key: %w", err)
	}
	switch {
	case cfg.SigningKeyFile == "":
		logger.Warn("using an ephemeral signing key, bearer tokens will not survive a restart")
	case created:
		logger.Info("generated new signing key", "path", cfg.SigningKeyFile)
	}

	signer, err := jwtx.NewSignerEdDSA(signingKeyID, pemKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	keys := jwtx.NewKeySet()
	if err := keys.AddSigner(signer); err != nil {
		return nil, err
	}

	var secret []byte
	if cfg.CSRFSecret != "" {
		if secret, err = cfg.csrfSecret(); err != nil {
			return nil, err
		}
	} else {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fmt.Errorf("failed to generate CSRF secret: %w", err)
		}
		logger.Warn("using an ephemeral CSRF secret, set AUTH_CSRF_SECRET when running more than one instance")
	}

	return &AuthKeys{
		KeySet: keys,
		Signer: signer,
		Verifier: jwtx.NewVerifier(keys, jwtx.VerifyOptions{
			Issuer:   cfg.Issuer,
			Audience: AudienceList(cfg.Audience),
		}),
		CSRFSecret: secret,
	}, nil
}
