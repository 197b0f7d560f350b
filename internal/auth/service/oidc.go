package service

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultOIDCTimeout = 5 * time.Second

	// jwksRefetchInterval limits how often an unknown kid may trigger a
	// JWKS download.
	jwksRefetchInterval = time.Minute
)

// ExternalIdentity is the verified subject of a third-party ID token.
type ExternalIdentity struct {
	Issuer        string
	Subject       string
	Email         string
	EmailVerified bool
}

// OIDCVerifier checks ID tokens issued by one external provider against its
// published JWKS. Every network call is bounded by Timeout.
type OIDCVerifier struct {
	Issuer   string
	Audience []string
	JWKSURL  string
	Client   *http.Client
	Timeout  time.Duration
	Now      func() time.Time

	mu        sync.Mutex
	keys      *jwtx.KeySet
	fetchedAt time.Time
}

// VerifyIDToken validates raw and returns the identity it asserts. Every
// failure, including timeouts, is reported as ErrExternalIdentity; the cause
// is only logged.
func (v *OIDCVerifier) VerifyIDToken(ctx context.Context, raw string) (ExternalIdentity, error) {
	log := slogx.FromContext(ctx)

	timeout := v.Timeout
	if timeout <= 0 {
		timeout = DefaultOIDCTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	claims, err := v.verify(ctx, raw, false)
	if errors.Is(err, jwtx.ErrUnknownKID) {
		claims, err = v.verify(ctx, raw, true)
	}
	if err != nil {
		log.Warn("external id token rejected", "issuer", v.Issuer, "error", err)
		return ExternalIdentity{}, ErrExternalIdentity
	}
	if claims.Subject == "" {
		log.Warn("external id token has no subject", "issuer", v.Issuer)
		return ExternalIdentity{}, ErrExternalIdentity
	}

	return ExternalIdentity{
		Issuer:        claims.Issuer,
		Subject:       claims.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}, nil
}

func (v *OIDCVerifier) verify(ctx context.Context, raw string, refresh bool) (*jwtx.Claims, error) {
	keys, err := v.keySet(ctx, refresh)
	if err != nil {
		return nil, err
	}
	now := v.Now
	if now == nil {
		now = time.Now
	}
	return jwtx.NewVerifier(keys, jwtx.VerifyOptions{
		Issuer:   v.Issuer,
		Audience: v.Audience,
		Leeway:   30 * time.Second,
		Algorithms: []string{
			jwt.SigningMethodRS256.Alg(),
			jwt.SigningMethodES256.Alg(),
			jwt.SigningMethodEdDSA.Alg(),
		},
		Now: now,
	}).Verify(raw)
}

// keySet returns the cached provider keys, downloading them on first use or
// when refresh is set and the last download is old enough.
func (v *OIDCVerifier) keySet(ctx context.Context, refresh bool) (*jwtx.KeySet, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.keys != nil && (!refresh || time.Since(v.fetchedAt) < jwksRefetchInterval) {
		return v.keys, nil
	}

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}
	jwks, err := jwtx.FetchJWKS(ctx, client, v.JWKSURL)
	if err != nil {
		if v.keys != nil {
			return v.keys, err
		}
		return nil, err
	}

	keys := jwtx.NewKeySet()
	if err := keys.Replace(jwks); err != nil {
		return nil, err
	}
	v.keys = keys
	v.fetchedAt = time.Now()
	return keys, nil
}
