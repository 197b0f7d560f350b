package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// MaxSessionTTL matches the session cookie's Max-Age.
const MaxSessionTTL = 7 * 24 * time.Hour

type NewSession struct {
	UserID        string
	SubjectType   string
	Scopes        []string
	TTL           time.Duration
	CreatedByIP   string
	DeviceTokenID string
}

// IssuedSession carries the plaintext token. It is returned exactly once and
// cannot be recovered from the store afterwards.
type IssuedSession struct {
	ID            string
	Token         string
	ExpiresAt     time.Time
	DeviceTokenID string
}

type SessionClaims struct {
	SessionID     string
	UserID        string
	Role          string
	TokenVersion  int64
	Scopes        []string
	DeviceTokenID string
	ExpiresAt     time.Time
}

type SessionService struct {
	Store      store.Store
	DefaultTTL time.Duration
	Now        func() time.Time
}

// CreateSession mints a session token and stores only its fingerprint.
func (s *SessionService) CreateSession(ctx context.Context, ns NewSession) (IssuedSession, error) {
	return s.createIn(ctx, s.Store, ns, clock(s.Now))
}

// createIn writes the session through st, which may be a transaction.
func (s *SessionService) createIn(ctx context.Context, st store.Store, ns NewSession, now time.Time) (IssuedSession, error) {
	ttl := ns.TTL
	if ttl <= 0 {
		ttl = s.DefaultTTL
	}
	if ttl <= 0 || ttl > MaxSessionTTL {
		ttl = MaxSessionTTL
	}
	if ns.SubjectType == "" {
		ns.SubjectType = domain.SubjectUser
	}
	if len(ns.Scopes) == 0 {
		ns.Scopes = []string{domain.ScopeAll}
	}

	token, err := cryptox.GenerateOpaqueToken(cryptox.PrefixSession)
	if err != nil {
		return IssuedSession{}, err
	}

	sess := domain.Session{
		ID:            idx.New().String(),
		TokenHash:     cryptox.FingerprintToken(token),
		UserID:        ns.UserID,
		SubjectType:   ns.SubjectType,
		Scopes:        ns.Scopes,
		DeviceTokenID: ns.DeviceTokenID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
		CreatedByIP:   ns.CreatedByIP,
	}
	if err := st.Sessions().CreateSession(ctx, sess); err != nil {
		return IssuedSession{}, fmt.Errorf("create session: %w", err)
	}

	return IssuedSession{ID: sess.ID, Token: token, ExpiresAt: sess.ExpiresAt, DeviceTokenID: ns.DeviceTokenID}, nil
}

// ValidateSession resolves a session token with a fresh read on every call.
func (s *SessionService) ValidateSession(ctx context.Context, token string) (SessionClaims, error) {
	if !cryptox.HasPrefix(token, cryptox.PrefixSession) {
		return SessionClaims{}, ErrMalformedToken
	}
	now := clock(s.Now)

	row, err := s.Store.Sessions().GetSessionByTokenHash(ctx, cryptox.FingerprintToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return SessionClaims{}, ErrSessionNotFound
		}
		return SessionClaims{}, fmt.Errorf("lookup session: %w", err)
	}

	switch {
	case row.RevokedAt != nil:
		return SessionClaims{}, ErrSessionRevoked
	case !now.Before(row.ExpiresAt):
		return SessionClaims{}, ErrSessionExpired
	}

	if err := s.Store.Sessions().TouchSession(ctx, row.ID, now); err != nil {
		slogx.FromContext(ctx).Warn("failed to record session use", "session_id", row.ID, "error", err)
	}

	return SessionClaims{
		SessionID:     row.ID,
		UserID:        row.UserID,
		Role:          row.Role,
		TokenVersion:  row.TokenVersion,
		Scopes:        row.Scopes,
		DeviceTokenID: row.DeviceTokenID,
		ExpiresAt:     row.ExpiresAt,
	}, nil
}

// RevokeSession is idempotent; revoking an already revoked session keeps the
// original reason.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID string, reason domain.RevokeReason) error {
	if _, err := s.Store.Sessions().RevokeSession(ctx, sessionID, reason, clock(s.Now)); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	slogx.FromContext(ctx).Info("session revoked", "session_id", sessionID, "reason", reason)
	return nil
}

// RevokeAllUserSessions revokes every usable session of userID and returns
// how many were revoked.
func (s *SessionService) RevokeAllUserSessions(ctx context.Context, userID string, reason domain.RevokeReason) (int64, error) {
	n, err := s.Store.Sessions().RevokeUserSessions(ctx, userID, reason, clock(s.Now))
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	slogx.FromContext(ctx).Info("user sessions revoked", "user_id", userID, "reason", reason, "count", n)
	return n, nil
}
