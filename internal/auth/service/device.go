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

const (
	DefaultDeviceTokenTTL  = 90 * 24 * time.Hour
	DefaultRefreshTokenTTL = 30 * 24 * time.Hour
)

// DeviceRequest asks for a device token. ProvidedToken is the token the
// client already holds, if any. TokenVersion is the user's live version.
type DeviceRequest struct {
	ProvidedToken string
	UserID        string
	DeviceID      string
	Platform      string
	DeviceName    string
	TokenVersion  int64
}

type IssuedDevice struct {
	ID        string
	Token     string
	ExpiresAt time.Time
	Reused    bool // the provided token was still valid and is returned as-is
}

type DeviceClaims struct {
	DeviceTokenID string
	UserID        string
	DeviceID      string
	Platform      string
	Role          string
	TokenVersion  int64
	ExpiresAt     time.Time
}

// RevokeResult reports what a device revoke cascaded into.
type RevokeResult struct {
	DeviceTokenID        string
	RefreshTokensDeleted int64
	SessionsRevoked      int64
}

type IssuedRefresh struct {
	Token     string
	ExpiresAt time.Time
}

// RefreshResult is a rotated refresh token plus a fresh bearer.
type RefreshResult struct {
	UserID       string
	Bearer       IssuedBearer
	RefreshToken IssuedRefresh
}

type DeviceService struct {
	Store      store.Store
	TokenTTL   time.Duration
	RefreshTTL time.Duration
	Bearer     *BearerService
	Now        func() time.Time
}

// IssueOrValidate returns the provided token when it still belongs to this
// user and device and was issued under the current token version. Otherwise
// every older token for the device is revoked with reason new_login and a new
// one is minted.
func (s *DeviceService) IssueOrValidate(ctx context.Context, req DeviceRequest) (IssuedDevice, error) {
	var out IssuedDevice
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		out, err = s.issueOrValidateIn(ctx, tx, req, clock(s.Now))
		return err
	})
	return out, err
}

func (s *DeviceService) issueOrValidateIn(ctx context.Context, st store.Store, req DeviceRequest, now time.Time) (IssuedDevice, error) {
	if req.UserID == "" || req.DeviceID == "" {
		return IssuedDevice{}, errors.New("device request: user id and device id are required")
	}

	if cryptox.HasPrefix(req.ProvidedToken, cryptox.PrefixDevice) {
		d, err := st.DeviceTokens().GetDeviceTokenByHash(ctx, cryptox.FingerprintToken(req.ProvidedToken))
		switch {
		case err == nil:
			if d.Usable(now) && d.UserID == req.UserID && d.DeviceID == req.DeviceID &&
				d.TokenVersionSnapshot == req.TokenVersion {
				if err := st.DeviceTokens().TouchDeviceToken(ctx, d.ID, now); err != nil {
					return IssuedDevice{}, fmt.Errorf("touch device token: %w", err)
				}
				return IssuedDevice{ID: d.ID, Token: req.ProvidedToken, ExpiresAt: d.ExpiresAt, Reused: true}, nil
			}
		case !errors.Is(err, store.ErrNotFound):
			return IssuedDevice{}, fmt.Errorf("lookup device token: %w", err)
		}
	}

	older, err := st.DeviceTokens().ListActiveForDevice(ctx, req.UserID, req.DeviceID)
	if err != nil {
		return IssuedDevice{}, fmt.Errorf("list device tokens: %w", err)
	}
	for _, d := range older {
		if _, err := revokeDeviceCascade(ctx, st, d.ID, req.UserID, domain.RevokeNewLogin, now); err != nil {
			return IssuedDevice{}, err
		}
	}

	ttl := s.TokenTTL
	if ttl <= 0 {
		ttl = DefaultDeviceTokenTTL
	}
	token, err := cryptox.GenerateOpaqueToken(cryptox.PrefixDevice)
	if err != nil {
		return IssuedDevice{}, err
	}
	d := domain.DeviceToken{
		ID:                   idx.New().String(),
		TokenHash:            cryptox.FingerprintToken(token),
		UserID:               req.UserID,
		DeviceID:             req.DeviceID,
		Platform:             req.Platform,
		DeviceName:           req.DeviceName,
		TokenVersionSnapshot: req.TokenVersion,
		CreatedAt:            now,
		ExpiresAt:            now.Add(ttl),
	}
	if err := st.DeviceTokens().CreateDeviceToken(ctx, d); err != nil {
		return IssuedDevice{}, fmt.Errorf("create device token: %w", err)
	}

	slogx.FromContext(ctx).Info("device token issued",
		"device_token_id", d.ID, "user_id", d.UserID, "platform", d.Platform, "replaced", len(older))
	return IssuedDevice{ID: d.ID, Token: token, ExpiresAt: d.ExpiresAt}, nil
}

// ValidateDeviceToken resolves a device token. A token whose version snapshot
// no longer matches the user's live version is rejected.
func (s *DeviceService) ValidateDeviceToken(ctx context.Context, token string) (DeviceClaims, error) {
	if !cryptox.HasPrefix(token, cryptox.PrefixDevice) {
		return DeviceClaims{}, ErrMalformedToken
	}
	now := clock(s.Now)

	d, err := s.Store.DeviceTokens().GetDeviceTokenByHash(ctx, cryptox.FingerprintToken(token))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return DeviceClaims{}, ErrDeviceTokenNotFound
		}
		return DeviceClaims{}, fmt.Errorf("lookup device token: %w", err)
	}
	switch {
	case d.RevokedAt != nil:
		return DeviceClaims{}, ErrDeviceTokenRevoked
	case !now.Before(d.ExpiresAt):
		return DeviceClaims{}, ErrDeviceTokenExpired
	}

	u, err := s.Store.Users().GetUserByID(ctx, d.UserID)
	if err != nil {
		return DeviceClaims{}, fmt.Errorf("lookup device owner: %w", err)
	}
	if u.TokenVersion != d.TokenVersionSnapshot {
		return DeviceClaims{}, ErrTokenVersionMismatch
	}

	if err := s.Store.DeviceTokens().TouchDeviceToken(ctx, d.ID, now); err != nil {
		slogx.FromContext(ctx).Warn("failed to record device token use", "device_token_id", d.ID, "error", err)
	}

	return DeviceClaims{
		DeviceTokenID: d.ID,
		UserID:        d.UserID,
		DeviceID:      d.DeviceID,
		Platform:      d.Platform,
		Role:          u.Role,
		TokenVersion:  u.TokenVersion,
		ExpiresAt:     d.ExpiresAt,
	}, nil
}

// RevokeDeviceToken revokes one of the user's device tokens, deletes its
// refresh tokens and revokes the sessions bound to it, all or nothing.
// Revoking an already revoked token repeats the cascade and succeeds.
func (s *DeviceService) RevokeDeviceToken(ctx context.Context, id, userID string, reason domain.RevokeReason) (RevokeResult, error) {
	var res RevokeResult
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		res, err = revokeDeviceCascade(ctx, tx, id, userID, reason, clock(s.Now))
		return err
	})
	if err != nil {
		return RevokeResult{}, err
	}

	slogx.FromContext(ctx).Info("device token revoked",
		"device_token_id", id, "user_id", userID, "reason", reason,
		"refresh_tokens_deleted", res.RefreshTokensDeleted, "sessions_revoked", res.SessionsRevoked)
	return res, nil
}

// revokeDeviceCascade must run inside a transaction.
func revokeDeviceCascade(ctx context.Context, st store.Store, id, userID string, reason domain.RevokeReason, now time.Time) (RevokeResult, error) {
	changed, err := st.DeviceTokens().RevokeDeviceToken(ctx, id, userID, reason, now)
	if err != nil {
		return RevokeResult{}, fmt.Errorf("revoke device token: %w", err)
	}
	if !changed {
		d, err := st.DeviceTokens().GetDeviceTokenByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) || (err == nil && d.UserID != userID) {
			return RevokeResult{}, ErrNotFound
		}
		if err != nil {
			return RevokeResult{}, fmt.Errorf("lookup device token: %w", err)
		}
	}

	res := RevokeResult{DeviceTokenID: id}
	if res.RefreshTokensDeleted, err = st.RefreshTokens().DeleteDeviceRefreshTokens(ctx, id); err != nil {
		return RevokeResult{}, fmt.Errorf("delete device refresh tokens: %w", err)
	}
	if res.SessionsRevoked, err = st.Sessions().RevokeDeviceSessions(ctx, id, reason, now); err != nil {
		return RevokeResult{}, fmt.Errorf("revoke device sessions: %w", err)
	}
	return res, nil
}

// IsPresentedToken reports whether token, as sent in the device header, is
// the device token with the given id. Revoked and expired rows still match.
func (s *DeviceService) IsPresentedToken(ctx context.Context, token, id string) (bool, error) {
	if !cryptox.HasPrefix(token, cryptox.PrefixDevice) {
		return false, nil
	}
	d, err := s.Store.DeviceTokens().GetDeviceTokenByHash(ctx, cryptox.FingerprintToken(token))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("lookup device token: %w", err)
	}
	return d.ID == id, nil
}

// ListDevices returns the user's usable device tokens, newest first.
func (s *DeviceService) ListDevices(ctx context.Context, userID string) ([]domain.DeviceToken, error) {
	return s.Store.DeviceTokens().ListActiveDeviceTokens(ctx, userID, clock(s.Now))
}

// CleanupExpired deletes device and refresh tokens that expired before the
// sweep started. It returns the total number of rows removed.
func (s *DeviceService) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := clock(s.Now)

	rt, err := s.Store.RefreshTokens().DeleteExpiredRefreshTokens(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}
	dt, err := s.Store.DeviceTokens().DeleteExpiredDeviceTokens(ctx, cutoff)
	if err != nil {
		return rt, fmt.Errorf("delete expired device tokens: %w", err)
	}
	return rt + dt, nil
}

// IssueRefreshToken mints a refresh token scoped to one device token.
func (s *DeviceService) IssueRefreshToken(ctx context.Context, deviceTokenID, userID string) (IssuedRefresh, error) {
	return s.issueRefreshIn(ctx, s.Store, deviceTokenID, userID, clock(s.Now))
}

func (s *DeviceService) issueRefreshIn(ctx context.Context, st store.Store, deviceTokenID, userID string, now time.Time) (IssuedRefresh, error) {
	ttl := s.RefreshTTL
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	token, err := cryptox.GenerateOpaqueToken(cryptox.PrefixRefresh)
	if err != nil {
		return IssuedRefresh{}, err
	}
	rt := domain.RefreshToken{
		ID:            idx.New().String(),
		TokenHash:     cryptox.FingerprintToken(token),
		DeviceTokenID: deviceTokenID,
		UserID:        userID,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
	}
	if err := st.RefreshTokens().CreateRefreshToken(ctx, rt); err != nil {
		return IssuedRefresh{}, fmt.Errorf("create refresh token: %w", err)
	}
	return IssuedRefresh{Token: token, ExpiresAt: rt.ExpiresAt}, nil
}

// RedeemRefreshToken consumes refresh, which must belong to deviceToken, and
// returns a rotated refresh token with a new bearer. A refresh token can be
// redeemed at most once.
func (s *DeviceService) RedeemRefreshToken(ctx context.Context, refresh, deviceToken string) (RefreshResult, error) {
	if !cryptox.HasPrefix(refresh, cryptox.PrefixRefresh) || !cryptox.HasPrefix(deviceToken, cryptox.PrefixDevice) {
		return RefreshResult{}, ErrInvalidRefresh
	}
	if s.Bearer == nil {
		return RefreshResult{}, errors.New("refresh: bearer service not configured")
	}
	now := clock(s.Now)

	var out RefreshResult
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		rt, err := tx.RefreshTokens().ConsumeRefreshToken(ctx, cryptox.FingerprintToken(refresh))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidRefresh
			}
			return fmt.Errorf("consume refresh token: %w", err)
		}
		if !now.Before(rt.ExpiresAt) {
			return ErrInvalidRefresh
		}

		d, err := tx.DeviceTokens().GetDeviceTokenByHash(ctx, cryptox.FingerprintToken(deviceToken))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInvalidRefresh
			}
			return fmt.Errorf("lookup device token: %w", err)
		}
		if d.ID != rt.DeviceTokenID || !d.Usable(now) {
			return ErrInvalidRefresh
		}

		u, err := tx.Users().GetUserByID(ctx, d.UserID)
		if err != nil {
			return fmt.Errorf("lookup user: %w", err)
		}
		if u.TokenVersion != d.TokenVersionSnapshot {
			return ErrTokenVersionMismatch
		}

		next, err := s.issueRefreshIn(ctx, tx, d.ID, u.ID, now)
		if err != nil {
			return err
		}
		bearer, err := s.Bearer.Issue(u, Binding{DeviceTokenID: d.ID}, []string{AMRRefresh})
		if err != nil {
			return err
		}
		out = RefreshResult{UserID: u.ID, Bearer: bearer, RefreshToken: next}
		return nil
	})
	if err != nil {
		return RefreshResult{}, err
	}

	slogx.FromContext(ctx).Info("refresh token rotated", "user_id", out.UserID)
	return out, nil
}
