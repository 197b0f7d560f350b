package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// ExchangeService hands a freshly minted credential set to a client that
// cannot receive cookies, through a short-lived one-time code.
type ExchangeService struct {
	Store      store.Store
	DefaultTTL time.Duration
	Now        func() time.Time
}

// Issue stores p sealed under a new code and returns the code. ttl is clamped
// to (0, MaxExchangeTTL]; zero means DefaultTTL.
func (s *ExchangeService) Issue(ctx context.Context, p domain.ExchangePayload, ttl time.Duration) (string, time.Time, error) {
	return s.issueIn(ctx, s.Store, p, ttl, clock(s.Now))
}

func (s *ExchangeService) issueIn(ctx context.Context, st store.Store, p domain.ExchangePayload, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = s.DefaultTTL
	}
	if ttl <= 0 || ttl > domain.MaxExchangeTTL {
		ttl = domain.MaxExchangeTTL
	}

	code, err := cryptox.GenerateOpaqueToken("")
	if err != nil {
		return "", time.Time{}, err
	}
	plain, err := json.Marshal(p)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("encode exchange payload: %w", err)
	}
	sealed, err := cryptox.SealWithToken(code, plain)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("seal exchange payload: %w", err)
	}

	c := domain.ExchangeCode{
		CodeHash:      cryptox.FingerprintToken(code),
		SealedPayload: sealed,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
	}
	if err := st.ExchangeCodes().CreateExchangeCode(ctx, c); err != nil {
		return "", time.Time{}, fmt.Errorf("create exchange code: %w", err)
	}

	slogx.FromContext(ctx).Info("exchange code issued", "user_id", p.UserID, "expires_at", c.ExpiresAt)
	return code, c.ExpiresAt, nil
}

// Consume redeems code once. Unknown, expired, already used and tampered
// codes all yield ErrInvalidExchangeCode.
func (s *ExchangeService) Consume(ctx context.Context, code string) (domain.ExchangePayload, error) {
	if code == "" {
		return domain.ExchangePayload{}, ErrInvalidExchangeCode
	}

	sealed, err := s.Store.ExchangeCodes().ConsumeExchangeCode(ctx, cryptox.FingerprintToken(code), clock(s.Now))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ExchangePayload{}, ErrInvalidExchangeCode
		}
		return domain.ExchangePayload{}, fmt.Errorf("consume exchange code: %w", err)
	}

	plain, err := cryptox.OpenWithToken(code, sealed)
	if err != nil {
		slogx.FromContext(ctx).Error("exchange payload failed to open", "error", err)
		return domain.ExchangePayload{}, ErrInvalidExchangeCode
	}
	var p domain.ExchangePayload
	if err := json.Unmarshal(plain, &p); err != nil {
		slogx.FromContext(ctx).Error("exchange payload failed to decode", "error", err)
		return domain.ExchangePayload{}, ErrInvalidExchangeCode
	}
	return p, nil
}
