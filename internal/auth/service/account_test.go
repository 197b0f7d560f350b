package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func TestRegister(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first := h.register(t, "alice")
	require.Equal(t, domain.RoleAdmin, first.User.Role)
	require.NotEmpty(t, first.CSRFToken)
	require.NotEmpty(t, first.Bearer.Token)

	second := h.register(t, "bob")
	require.Equal(t, domain.RoleUser, second.User.Role)

	_, err := h.Accounts.Register(ctx, service.RegisterRequest{Username: "alice", Password: testPassword})
	require.ErrorIs(t, err, service.ErrUsernameTaken)
}

func TestLogin_BadCredentials(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "alice")

	_, err := h.Accounts.Login(ctx, service.LoginRequest{Username: "alice", Password: "wrong"})
	require.ErrorIs(t, err, service.ErrInvalidCredentials)

	_, err = h.Accounts.Login(ctx, service.LoginRequest{Username: "nobody", Password: testPassword})
	require.ErrorIs(t, err, service.ErrInvalidCredentials)
}

func TestLogin_RevokesEarlierSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	reg := h.register(t, "alice")

	extra, err := h.Sessions.CreateSession(ctx, service.NewSession{UserID: reg.User.ID})
	require.NoError(t, err)

	login, err := h.Accounts.Login(ctx, service.LoginRequest{Username: "alice", Password: testPassword})
	require.NoError(t, err)

	for _, old := range []service.IssuedSession{reg.Session, extra} {
		_, err := h.Sessions.ValidateSession(ctx, old.Token)
		require.ErrorIs(t, err, service.ErrSessionRevoked)

		row, err := h.Store.Sessions().GetSessionByID(ctx, old.ID)
		require.NoError(t, err)
		require.Equal(t, domain.RevokeNewLogin, row.RevokedReason)
	}

	claims, err := h.Sessions.ValidateSession(ctx, login.Session.Token)
	require.NoError(t, err)
	require.Equal(t, login.Session.ID, claims.SessionID)
	require.True(t, h.CSRF.Verify(login.CSRFToken, login.Session.ID))
}

func TestChangePassword_InvalidatesOldBearers(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	reg := h.register(t, "alice")

	_, err := h.Bearer.Verify(ctx, reg.Bearer.Token)
	require.NoError(t, err)

	changed, err := h.Accounts.ChangePassword(ctx, service.ChangePasswordRequest{
		UserID:          reg.User.ID,
		CurrentPassword: testPassword,
		NewPassword:     "a brand new passphrase",
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), changed.User.TokenVersion)

	_, err = h.Bearer.Verify(ctx, reg.Bearer.Token)
	require.ErrorIs(t, err, service.ErrTokenVersionMismatch)

	_, err = h.Sessions.ValidateSession(ctx, reg.Session.Token)
	require.ErrorIs(t, err, service.ErrSessionRevoked)

	claims, err := h.Bearer.Verify(ctx, changed.Bearer.Token)
	require.NoError(t, err)
	require.Equal(t, int64(1), claims.TokenVersion)

	_, err = h.Sessions.ValidateSession(ctx, changed.Session.Token)
	require.NoError(t, err)

	_, err = h.Accounts.Login(ctx, service.LoginRequest{Username: "alice", Password: testPassword})
	require.ErrorIs(t, err, service.ErrInvalidCredentials)
	_, err = h.Accounts.Login(ctx, service.LoginRequest{Username: "alice", Password: "a brand new passphrase"})
	require.NoError(t, err)
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t, "alice")

	_, err := h.Accounts.ChangePassword(context.Background(), service.ChangePasswordRequest{
		UserID:          reg.User.ID,
		CurrentPassword: "guess",
		NewPassword:     "whatever it is",
	})
	require.ErrorIs(t, err, service.ErrInvalidCredentials)

	_, err = h.Bearer.Verify(context.Background(), reg.Bearer.Token)
	require.NoError(t, err)
}

func TestLogoutEverywhere(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.register(t, "alice")
	native := h.nativeLogin(t, "alice", "phone-1")

	tv, err := h.Accounts.LogoutEverywhere(ctx, native.User.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), tv)

	_, err = h.Sessions.ValidateSession(ctx, native.Session.Token)
	require.ErrorIs(t, err, service.ErrSessionRevoked)

	_, err = h.Devices.ValidateDeviceToken(ctx, native.Device.Token)
	require.ErrorIs(t, err, service.ErrTokenVersionMismatch)

	_, err = h.Bearer.Verify(ctx, native.Bearer.Token)
	require.ErrorIs(t, err, service.ErrTokenVersionMismatch)

	n, err := h.Store.RefreshTokens().CountDeviceRefreshTokens(ctx, native.Device.ID)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestForceLogout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	admin := h.register(t, "alice")
	bob := h.register(t, "bob")

	_, err := h.Accounts.ForceLogout(ctx, admin.User.ID, bob.User.ID)
	require.NoError(t, err)

	_, err = h.Sessions.ValidateSession(ctx, bob.Session.Token)
	require.ErrorIs(t, err, service.ErrSessionRevoked)
	row, err := h.Store.Sessions().GetSessionByID(ctx, bob.Session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RevokeAdminAction, row.RevokedReason)

	_, err = h.Sessions.ValidateSession(ctx, admin.Session.Token)
	require.NoError(t, err)

	_, err = h.Accounts.ForceLogout(ctx, admin.User.ID, "missing")
	require.ErrorIs(t, err, service.ErrNotFound)
}

func TestLogin_TOTP(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	reg := h.register(t, "alice")

	enroll, err := h.Accounts.EnrollTOTP(ctx, reg.User.ID)
	require.NoError(t, err)
	require.NotEmpty(t, enroll.Secret)
	require.Contains(t, enroll.URL, "otpauth://totp/")

	err = h.Accounts.ConfirmTOTP(ctx, service.ConfirmTOTPRequest{UserID: reg.User.ID, Secret: enroll.Secret, Code: "abcdef"})
	require.ErrorIs(t, err, service.ErrInvalidTOTPCode)

	code, err := totp.GenerateCode(enroll.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, h.Accounts.ConfirmTOTP(ctx, service.ConfirmTOTPRequest{UserID: reg.User.ID, Secret: enroll.Secret, Code: code}))

	_, err = h.Accounts.Login(ctx, service.LoginRequest{Username: "alice", Password: testPassword})
	require.ErrorIs(t, err, service.ErrMFARequired)

	_, err = h.Accounts.Login(ctx, service.LoginRequest{Username: "alice", Password: testPassword, TOTPCode: "abcdef"})
	require.ErrorIs(t, err, service.ErrInvalidTOTPCode)

	code, err = totp.GenerateCode(enroll.Secret, time.Now())
	require.NoError(t, err)
	res, err := h.Accounts.Login(ctx, service.LoginRequest{Username: "alice", Password: testPassword, TOTPCode: code})
	require.NoError(t, err)

	claims, err := h.Bearer.Verify(ctx, res.Bearer.Token)
	require.NoError(t, err)
	require.Equal(t, []string{service.AMRPassword, service.AMROTP}, claims.AMR)
}

func TestConfirmTOTP_ReplacingNeedsCurrentFactor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	reg := h.register(t, "alice")

	first, err := h.Accounts.EnrollTOTP(ctx, reg.User.ID)
	require.NoError(t, err)
	code, err := totp.GenerateCode(first.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, h.Accounts.ConfirmTOTP(ctx, service.ConfirmTOTPRequest{UserID: reg.User.ID, Secret: first.Secret, Code: code}))

	second, err := h.Accounts.EnrollTOTP(ctx, reg.User.ID)
	require.NoError(t, err)
	newCode, err := totp.GenerateCode(second.Secret, time.Now())
	require.NoError(t, err)

	t.Run("without current code", func(t *testing.T) {
		err := h.Accounts.ConfirmTOTP(ctx, service.ConfirmTOTPRequest{UserID: reg.User.ID, Secret: second.Secret, Code: newCode})
		require.ErrorIs(t, err, service.ErrMFARequired)
	})

	t.Run("code from the new secret as current", func(t *testing.T) {
		err := h.Accounts.ConfirmTOTP(ctx, service.ConfirmTOTPRequest{
			UserID: reg.User.ID, Secret: second.Secret, Code: newCode, CurrentCode: newCode,
		})
		require.ErrorIs(t, err, service.ErrInvalidTOTPCode)
	})

	u, err := h.Store.Users().GetUserByID(ctx, reg.User.ID)
	require.NoError(t, err)
	require.Equal(t, first.Secret, u.MFASecret, "secret unchanged after rejected attempts")

	current, err := totp.GenerateCode(first.Secret, time.Now())
	require.NoError(t, err)
	require.NoError(t, h.Accounts.ConfirmTOTP(ctx, service.ConfirmTOTPRequest{
		UserID: reg.User.ID, Secret: second.Secret, Code: newCode, CurrentCode: current,
	}))

	u, err = h.Store.Users().GetUserByID(ctx, reg.User.ID)
	require.NoError(t, err)
	require.Equal(t, second.Secret, u.MFASecret)
}
