package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

type IssuedServiceToken struct {
	ID     string
	Token  string
	Name   string
	Scopes []string
}

type ServiceTokenClaims struct {
	TokenID      string
	UserID       string
	Role         string
	TokenVersion int64
	Scopes       []string
}

type ServiceTokenService struct {
	Store store.Store
	Now   func() time.Time
}

// Issue creates an mcp_ token for userID. Scopes are deduplicated; an empty
// list is refused so a token never silently grants everything.
func (s *ServiceTokenService) Issue(ctx context.Context, userID, name string, scopes []string) (IssuedServiceToken, error) {
	scopes = normalizeScopes(scopes)
	if len(scopes) == 0 {
		return IssuedServiceToken{}, ErrNoScopes
	}
	now := clock(s.Now)

	token, err := cryptox.GenerateOpaqueToken(cryptox.PrefixService)
	if err != nil {
		return IssuedServiceToken{}, err
	}
	t := domain.ServiceToken{
		ID:        idx.New().String(),
		TokenHash: cryptox.FingerprintToken(token),
		UserID:    userID,
		Name:      name,
		Scopes:    scopes,
		CreatedAt: now,
	}
	if err := s.Store.ServiceTokens().CreateServiceToken(ctx, t); err != nil {
		return IssuedServiceToken{}, fmt.Errorf("create service token: %w", err)
	}

	slogx.FromContext(ctx).Info("service token issued", "token_id", t.ID, "user_id", userID, "scopes", scopes)
	return IssuedServiceToken{ID: t.ID, Token: token, Name: name, Scopes: scopes}, nil
}

// Validate resolves an mcp_ token to its owner and granted scopes.
func (s *ServiceTokenService) Validate(ctx context.Context, token string) (ServiceTokenClaims, error) {
	if !cryptox.HasPrefix(token, cryptox.PrefixService) {
		return ServiceTokenClaims{}, ErrMalformedToken
	}

	t, err := s.Store.ServiceTokens().GetServiceTokenByHash(ctx, cryptox.FingerprintToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ServiceTokenClaims{}, ErrServiceTokenNotFound
		}
		return ServiceTokenClaims{}, fmt.Errorf("lookup service token: %w", err)
	}
	if t.RevokedAt != nil {
		return ServiceTokenClaims{}, ErrServiceTokenRevoked
	}

	u, err := s.Store.Users().GetUserByID(ctx, t.UserID)
	if err != nil {
		return ServiceTokenClaims{}, fmt.Errorf("lookup service token owner: %w", err)
	}

	if err := s.Store.ServiceTokens().TouchServiceToken(ctx, t.ID, clock(s.Now)); err != nil {
		slogx.FromContext(ctx).Warn("failed to record service token use", "token_id", t.ID, "error", err)
	}

	return ServiceTokenClaims{
		TokenID:      t.ID,
		UserID:       t.UserID,
		Role:         u.Role,
		TokenVersion: u.TokenVersion,
		Scopes:       t.Scopes,
	}, nil
}

// Revoke revokes one of the user's service tokens. ErrNotFound when the
// token does not exist or belongs to someone else.
func (s *ServiceTokenService) Revoke(ctx context.Context, id, userID string) error {
	changed, err := s.Store.ServiceTokens().RevokeServiceToken(ctx, id, userID, clock(s.Now))
	if err != nil {
		return fmt.Errorf("revoke service token: %w", err)
	}
	if !changed {
		tokens, err := s.Store.ServiceTokens().ListUserServiceTokens(ctx, userID)
		if err != nil {
			return fmt.Errorf("list service tokens: %w", err)
		}
		if !slices.ContainsFunc(tokens, func(t domain.ServiceToken) bool { return t.ID == id }) {
			return ErrNotFound
		}
		return nil
	}

	slogx.FromContext(ctx).Info("service token revoked", "token_id", id, "user_id", userID)
	return nil
}

func (s *ServiceTokenService) List(ctx context.Context, userID string) ([]domain.ServiceToken, error) {
	return s.Store.ServiceTokens().ListUserServiceTokens(ctx, userID)
}

// RequireScopes reports the first required scope not covered by granted.
// "*" in granted covers everything.
func RequireScopes(granted []string, required ...string) (missing string, ok bool) {
	if slices.Contains(granted, domain.ScopeAll) {
		return "", true
	}
	for _, r := range required {
		if !slices.Contains(granted, r) {
			return r, false
		}
	}
	return "", true
}

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, sc := range scopes {
		sc = strings.TrimSpace(sc)
		if sc == "" || slices.Contains(out, sc) {
			continue
		}
		out = append(out, sc)
	}
	return out
}
