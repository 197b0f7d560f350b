package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// Authentication method references carried in the "amr" claim.
const (
	AMRPassword = "pwd"
	AMROTP      = "otp"
	AMROIDC     = "oidc"
	AMRRefresh  = "rt"
)

type IssuedBearer struct {
	Token     string
	ExpiresAt time.Time
}

// BearerClaims are the verified claims of a bearer token, with Role and
// TokenVersion taken from the live user row.
type BearerClaims struct {
	UserID        string
	SessionID     string
	DeviceTokenID string
	Role          string
	TokenVersion  int64
	AMR           []string
	ExpiresAt     time.Time
}

// Binding ties a bearer to the session and device token it was minted with.
// Both are optional.
type Binding struct {
	SessionID     string
	DeviceTokenID string
}

// BearerService mints and verifies short-lived EdDSA JWTs. Signatures alone
// are not trusted: every Verify compares the "tv" claim with the user's
// current token version.
type BearerService struct {
	Signer   jwtx.Signer
	Verifier *jwtx.Verifier
	Store    store.Store
	Issuer   string
	Audience []string
	TTL      time.Duration
	Now      func() time.Time
}

// Issue signs a bearer token for u. A bearer bound to a device token stops
// verifying once that device token is revoked or expires.
func (s *BearerService) Issue(u domain.User, b Binding, amr []string) (IssuedBearer, error) {
	ttl := s.TTL
	if ttl <= 0 {
		ttl = jwtx.DefaultBearerTTL
	}
	now := clock(s.Now)

	claims := jwtx.NewBearerClaims(u.ID, b.SessionID, u.Role, u.TokenVersion, amr, ttl, s.Issuer, s.Audience, now)
	claims.DID = b.DeviceTokenID
	tok, err := s.Signer.Sign(claims)
	if err != nil {
		return IssuedBearer{}, fmt.Errorf("sign bearer: %w", err)
	}
	return IssuedBearer{Token: tok, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify checks the signature, issuer, audience and expiry, then the live
// token version.
func (s *BearerService) Verify(ctx context.Context, raw string) (BearerClaims, error) {
	c, err := s.Verifier.Verify(raw)
	if err != nil {
		if errors.Is(err, jwtx.ErrExpired) {
			return BearerClaims{}, ErrBearerExpired
		}
		return BearerClaims{}, fmt.Errorf("%w: %v", ErrBearerInvalid, err)
	}
	if c.Subject == "" {
		return BearerClaims{}, ErrBearerInvalid
	}

	u, err := s.Store.Users().GetUserByID(ctx, c.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return BearerClaims{}, ErrBearerInvalid
		}
		return BearerClaims{}, fmt.Errorf("lookup bearer subject: %w", err)
	}
	if c.TokenVersion != u.TokenVersion {
		return BearerClaims{}, ErrTokenVersionMismatch
	}
	if c.DID != "" {
		if err := s.checkDevice(ctx, c.DID, u.ID); err != nil {
			return BearerClaims{}, err
		}
	}

	out := BearerClaims{
		UserID:        u.ID,
		SessionID:     c.SID,
		DeviceTokenID: c.DID,
		Role:          u.Role,
		TokenVersion:  u.TokenVersion,
		AMR:           c.AMR,
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out, nil
}

func (s *BearerService) checkDevice(ctx context.Context, deviceTokenID, userID string) error {
	d, err := s.Store.DeviceTokens().GetDeviceTokenByID(ctx, deviceTokenID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrDeviceTokenRevoked
	case err != nil:
		return fmt.Errorf("lookup bearer device: %w", err)
	case d.UserID != userID:
		return ErrBearerInvalid
	case d.RevokedAt != nil:
		return ErrDeviceTokenRevoked
	case !clock(s.Now).Before(d.ExpiresAt):
		return ErrDeviceTokenExpired
	}
	return nil
}
