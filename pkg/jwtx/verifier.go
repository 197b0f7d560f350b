package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrAudience    = errors.New("jwtx: audience mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
)

// VerifyOptions captures common expectations used by verifiers.
type VerifyOptions struct {
	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Audience values the token must contain (claims.aud). Empty means "don't care".
	Audience []string

	// Leeway allows small clock skew when validating exp/nbf.
	Leeway time.Duration

	// Algorithms accepted in the "alg" header. Defaults to EdDSA.
	Algorithms []string

	// Now overrides the clock, mostly for tests.
	Now func() time.Time
}

// Verifier validates JWTs against a KeySet. The key for each token is picked
// by its "kid" header; tokens without one are rejected.
type Verifier struct {
	keys *KeySet
	opts VerifyOptions
}

// NewVerifier creates a verifier over keys.
func NewVerifier(keys *KeySet, opts VerifyOptions) *Verifier {
	if len(opts.Algorithms) == 0 {
		opts.Algorithms = []string{jwt.SigningMethodEdDSA.Alg()}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Verifier{keys: keys, opts: opts}
}

// Verify validates the JWT string and returns its parsed Claims.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods(v.opts.Algorithms),
		jwt.WithLeeway(v.opts.Leeway),
		jwt.WithTimeFunc(v.opts.Now),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("%w: missing kid", ErrUnknownKID)
		}
		pub, err := v.keys.Get(kid)
		if err != nil {
			return nil, fmt.Errorf("%w %q", ErrUnknownKID, kid)
		}
		return pub, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrMalformed
	}
	if err := claims.ValidateIssuer(v.opts.Issuer); err != nil {
		return nil, err
	}
	if err := claims.ValidateAudience(v.opts.Audience); err != nil {
		return nil, err
	}
	return claims, nil
}

// classify maps parser errors onto the package sentinels so callers can tell
// an expired token from a forged one.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKID):
		return err
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrInvalidSig, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
