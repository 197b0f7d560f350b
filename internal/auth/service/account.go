package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// dummyPasswordHash is verified against when the username is unknown so a
// miss costs the same as a wrong password.
func dummyPasswordHash() string {
	dummyHashOnce.Do(func() {
		dummyHash, _ = cryptox.HashPassword("authcore-dummy-password")
	})
	return dummyHash
}

type RegisterRequest struct {
	Username string
	Email    string
	Password string
	IP       string
}

type LoginRequest struct {
	Username string
	Password string
	TOTPCode string
	IP       string
}

// LoginResult is everything a browser client needs after signing in.
type LoginResult struct {
	User      domain.User
	Session   IssuedSession
	CSRFToken string
	Bearer    IssuedBearer
}

type NativeLoginRequest struct {
	LoginRequest
	DeviceToken string // previously issued device token, if any
	DeviceID    string
	Platform    string
	DeviceName  string
}

type NativeLoginResult struct {
	LoginResult
	Device  IssuedDevice
	Refresh IssuedRefresh
}

type ChangePasswordRequest struct {
	UserID          string
	CurrentPassword string
	NewPassword     string
	IP              string
}

type DesktopSignInRequest struct {
	IDToken    string
	DeviceID   string
	Platform   string
	DeviceName string
	IP         string
}

type TOTPEnrollment struct {
	Secret string
	URL    string
}

// AccountService composes the credential services into the login, logout
// and password flows. Each flow that mints a session first revokes every
// earlier session of the user in the same transaction.
type AccountService struct {
	Store      store.Store
	Sessions   *SessionService
	Devices    *DeviceService
	Bearer     *BearerService
	Exchange   *ExchangeService
	CSRF       *CSRFGuard
	OIDC       *OIDCVerifier
	TOTPIssuer string
	Now        func() time.Time
}

// Register creates an account and signs it in. The very first account
// becomes an admin.
func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (LoginResult, error) {
	hash, err := cryptox.HashPassword(req.Password)
	if err != nil {
		return LoginResult{}, fmt.Errorf("hash password: %w", err)
	}
	now := clock(s.Now)

	u := domain.User{
		ID:           idx.New().String(),
		Username:     strings.TrimSpace(req.Username),
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		PasswordHash: hash,
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var sess IssuedSession
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		n, err := tx.Users().CountUsers(ctx)
		if err != nil {
			return fmt.Errorf("count users: %w", err)
		}
		if n == 0 {
			u.Role = domain.RoleAdmin
		}
		if err := tx.Users().CreateUser(ctx, u); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return ErrUsernameTaken
			}
			return fmt.Errorf("create user: %w", err)
		}
		sess, err = s.Sessions.createIn(ctx, tx, NewSession{UserID: u.ID, CreatedByIP: req.IP}, now)
		return err
	})
	if err != nil {
		return LoginResult{}, err
	}

	slogx.FromContext(ctx).Info("user registered", "user_id", u.ID, "role", u.Role)
	return s.finishLogin(u, sess, []string{AMRPassword})
}

// Login checks the password (and TOTP code when enrolled), revokes every
// earlier session of the user and issues a new one.
func (s *AccountService) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	u, amr, err := s.checkPassword(ctx, req)
	if err != nil {
		return LoginResult{}, err
	}
	now := clock(s.Now)

	var sess IssuedSession
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Sessions().RevokeUserSessions(ctx, u.ID, domain.RevokeNewLogin, now); err != nil {
			return fmt.Errorf("revoke prior sessions: %w", err)
		}
		var err error
		sess, err = s.Sessions.createIn(ctx, tx, NewSession{UserID: u.ID, CreatedByIP: req.IP}, now)
		return err
	})
	if err != nil {
		return LoginResult{}, err
	}

	slogx.FromContext(ctx).Info("user logged in", "user_id", u.ID, "session_id", sess.ID)
	return s.finishLogin(u, sess, amr)
}

// NativeLogin is Login for an installed client: it also issues or reuses a
// device token, binds the new session to it and issues a refresh token.
func (s *AccountService) NativeLogin(ctx context.Context, req NativeLoginRequest) (NativeLoginResult, error) {
	u, amr, err := s.checkPassword(ctx, req.LoginRequest)
	if err != nil {
		return NativeLoginResult{}, err
	}

	return s.nativeSignIn(ctx, u, req.DeviceToken, req.DeviceID, req.Platform, req.DeviceName, req.IP, amr, nil)
}

// nativeSignIn runs the device flow in one transaction. extra, when set, runs
// last inside the same transaction.
func (s *AccountService) nativeSignIn(
	ctx context.Context,
	u domain.User,
	deviceToken, deviceID, platform, deviceName, ip string,
	amr []string,
	extra func(tx store.Tx, res NativeLoginResult) error,
) (NativeLoginResult, error) {
	now := clock(s.Now)

	var out NativeLoginResult
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Sessions().RevokeUserSessions(ctx, u.ID, domain.RevokeNewLogin, now); err != nil {
			return fmt.Errorf("revoke prior sessions: %w", err)
		}

		dev, err := s.Devices.issueOrValidateIn(ctx, tx, DeviceRequest{
			ProvidedToken: deviceToken,
			UserID:        u.ID,
			DeviceID:      deviceID,
			Platform:      platform,
			DeviceName:    deviceName,
			TokenVersion:  u.TokenVersion,
		}, now)
		if err != nil {
			return err
		}

		sess, err := s.Sessions.createIn(ctx, tx, NewSession{UserID: u.ID, CreatedByIP: ip, DeviceTokenID: dev.ID}, now)
		if err != nil {
			return err
		}
		refresh, err := s.Devices.issueRefreshIn(ctx, tx, dev.ID, u.ID, now)
		if err != nil {
			return err
		}
		res, err := s.finishLogin(u, sess, amr)
		if err != nil {
			return err
		}

		out = NativeLoginResult{LoginResult: res, Device: dev, Refresh: refresh}
		if extra != nil {
			return extra(tx, out)
		}
		return nil
	})
	if err != nil {
		return NativeLoginResult{}, err
	}

	slogx.FromContext(ctx).Info("native login",
		"user_id", u.ID, "session_id", out.Session.ID, "device_token_id", out.Device.ID, "device_reused", out.Device.Reused)
	return out, nil
}

// DesktopSignIn verifies an external ID token, signs the matching user in on
// a native device and parks the credentials behind a one-time exchange code.
// Unknown verified emails are provisioned as password-less accounts.
func (s *AccountService) DesktopSignIn(ctx context.Context, req DesktopSignInRequest) (string, time.Time, error) {
	if s.OIDC == nil {
		return "", time.Time{}, ErrExternalIdentity
	}
	ext, err := s.OIDC.VerifyIDToken(ctx, req.IDToken)
	if err != nil {
		return "", time.Time{}, err
	}
	if ext.Email == "" || !ext.EmailVerified {
		slogx.FromContext(ctx).Warn("external identity without verified email", "issuer", ext.Issuer)
		return "", time.Time{}, ErrExternalIdentity
	}

	u, err := s.userForExternal(ctx, ext)
	if err != nil {
		return "", time.Time{}, err
	}

	var (
		code      string
		expiresAt time.Time
	)
	_, err = s.nativeSignIn(ctx, u, "", req.DeviceID, req.Platform, req.DeviceName, req.IP, []string{AMROIDC},
		func(tx store.Tx, res NativeLoginResult) error {
			var err error
			code, expiresAt, err = s.Exchange.issueIn(ctx, tx, domain.ExchangePayload{
				SessionToken: res.Session.Token,
				DeviceToken:  res.Device.Token,
				CSRFToken:    res.CSRFToken,
				RefreshToken: res.Refresh.Token,
				UserID:       u.ID,
				ExpiresAt:    res.Session.ExpiresAt.Unix(),
			}, 0, clock(s.Now))
			return err
		})
	if err != nil {
		return "", time.Time{}, err
	}
	return code, expiresAt, nil
}

func (s *AccountService) userForExternal(ctx context.Context, ext ExternalIdentity) (domain.User, error) {
	email := strings.ToLower(ext.Email)
	u, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.User{}, fmt.Errorf("lookup user by email: %w", err)
	}

	now := clock(s.Now)
	u = domain.User{
		ID:        idx.New().String(),
		Username:  email,
		Email:     email,
		Role:      domain.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.Users().CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.User{}, ErrUsernameTaken
		}
		return domain.User{}, fmt.Errorf("provision external user: %w", err)
	}
	slogx.FromContext(ctx).Info("external user provisioned", "user_id", u.ID, "issuer", ext.Issuer)
	return u, nil
}

// Logout revokes one session.
func (s *AccountService) Logout(ctx context.Context, sessionID string) error {
	return s.Sessions.RevokeSession(ctx, sessionID, domain.RevokeUserAction)
}

// LogoutEverywhere bumps the user's token version, which kills every bearer
// and device token, and revokes all sessions and refresh tokens.
func (s *AccountService) LogoutEverywhere(ctx context.Context, userID string) (int64, error) {
	var tv int64
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		tv, err = invalidateUser(ctx, tx, userID, domain.RevokeUserAction, clock(s.Now))
		return err
	})
	if err != nil {
		return 0, err
	}
	slogx.FromContext(ctx).Info("logged out everywhere", "user_id", userID, "token_version", tv)
	return tv, nil
}

// ForceLogout is LogoutEverywhere performed by an administrator.
func (s *AccountService) ForceLogout(ctx context.Context, adminID, userID string) (int64, error) {
	var tv int64
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		tv, err = invalidateUser(ctx, tx, userID, domain.RevokeAdminAction, clock(s.Now))
		return err
	})
	if err != nil {
		return 0, err
	}
	slogx.FromContext(ctx).Warn("user force logged out", "admin_id", adminID, "user_id", userID, "token_version", tv)
	return tv, nil
}

// ChangePassword replaces the password, invalidates every credential of the
// user and returns a fresh session for the caller.
func (s *AccountService) ChangePassword(ctx context.Context, req ChangePasswordRequest) (LoginResult, error) {
	u, err := s.Store.Users().GetUserByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, ErrNotFound
		}
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}
	if u.PasswordHash == "" || cryptox.VerifyPassword(req.CurrentPassword, u.PasswordHash) != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	hash, err := cryptox.HashPassword(req.NewPassword)
	if err != nil {
		return LoginResult{}, fmt.Errorf("hash password: %w", err)
	}
	now := clock(s.Now)

	var sess IssuedSession
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().UpdatePasswordHash(ctx, u.ID, hash, now); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		tv, err := invalidateUser(ctx, tx, u.ID, domain.RevokeUserAction, now)
		if err != nil {
			return err
		}
		u.TokenVersion = tv
		u.PasswordHash = hash

		sess, err = s.Sessions.createIn(ctx, tx, NewSession{UserID: u.ID, CreatedByIP: req.IP}, now)
		return err
	})
	if err != nil {
		return LoginResult{}, err
	}

	slogx.FromContext(ctx).Info("password changed", "user_id", u.ID, "token_version", u.TokenVersion)
	return s.finishLogin(u, sess, []string{AMRPassword})
}

// invalidateUser must run inside a transaction.
func invalidateUser(ctx context.Context, st store.Store, userID string, reason domain.RevokeReason, now time.Time) (int64, error) {
	tv, err := st.Users().BumpTokenVersion(ctx, userID, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("bump token version: %w", err)
	}
	if _, err := st.Sessions().RevokeUserSessions(ctx, userID, reason, now); err != nil {
		return 0, fmt.Errorf("revoke sessions: %w", err)
	}
	if _, err := st.RefreshTokens().DeleteUserRefreshTokens(ctx, userID); err != nil {
		return 0, fmt.Errorf("delete refresh tokens: %w", err)
	}
	return tv, nil
}

// EnrollTOTP generates a secret for the user. Nothing is stored until
// ConfirmTOTP proves the authenticator app has it.
func (s *AccountService) EnrollTOTP(ctx context.Context, userID string) (TOTPEnrollment, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return TOTPEnrollment{}, ErrNotFound
		}
		return TOTPEnrollment{}, fmt.Errorf("lookup user: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.TOTPIssuer,
		AccountName: u.Username,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return TOTPEnrollment{}, fmt.Errorf("generate TOTP key: %w", err)
	}
	return TOTPEnrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// ConfirmTOTPRequest carries a freshly enrolled secret and a code generated
// from it. CurrentCode must come from the secret already on the account, if
// there is one.
type ConfirmTOTPRequest struct {
	UserID      string
	Secret      string
	Code        string
	CurrentCode string
}

// ConfirmTOTP stores the secret once the code proves possession of it.
// Replacing an enrolled secret also needs a valid code for the old one.
func (s *AccountService) ConfirmTOTP(ctx context.Context, req ConfirmTOTPRequest) error {
	u, err := s.Store.Users().GetUserByID(ctx, req.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("lookup user: %w", err)
	}
	if u.MFAEnabled() {
		if req.CurrentCode == "" {
			return ErrMFARequired
		}
		if !totp.Validate(req.CurrentCode, u.MFASecret) {
			return ErrInvalidTOTPCode
		}
	}
	if !totp.Validate(req.Code, req.Secret) {
		return ErrInvalidTOTPCode
	}

	if err := s.Store.Users().UpdateMFASecret(ctx, u.ID, req.Secret, clock(s.Now)); err != nil {
		return fmt.Errorf("store TOTP secret: %w", err)
	}
	slogx.FromContext(ctx).Info("TOTP enabled", "user_id", u.ID, "replaced", u.MFAEnabled())
	return nil
}

// Me returns the live user row.
func (s *AccountService) Me(ctx context.Context, userID string) (domain.User, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrNotFound
	}
	return u, err
}

func (s *AccountService) checkPassword(ctx context.Context, req LoginRequest) (domain.User, []string, error) {
	u, err := s.Store.Users().GetUserByUsername(ctx, strings.TrimSpace(req.Username))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return domain.User{}, nil, fmt.Errorf("lookup user: %w", err)
		}
		_ = cryptox.VerifyPassword(req.Password, dummyPasswordHash())
		return domain.User{}, nil, ErrInvalidCredentials
	}
	if u.PasswordHash == "" {
		_ = cryptox.VerifyPassword(req.Password, dummyPasswordHash())
		return domain.User{}, nil, ErrInvalidCredentials
	}
	if err := cryptox.VerifyPassword(req.Password, u.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			slogx.FromContext(ctx).Error("stored password hash unreadable", "user_id", u.ID, "error", err)
		}
		return domain.User{}, nil, ErrInvalidCredentials
	}

	amr := []string{AMRPassword}
	if u.MFAEnabled() {
		if req.TOTPCode == "" {
			return domain.User{}, nil, ErrMFARequired
		}
		if !totp.Validate(req.TOTPCode, u.MFASecret) {
			return domain.User{}, nil, ErrInvalidTOTPCode
		}
		amr = append(amr, AMROTP)
	}
	return u, amr, nil
}

func (s *AccountService) finishLogin(u domain.User, sess IssuedSession, amr []string) (LoginResult, error) {
	res := LoginResult{User: u, Session: sess}
	if s.CSRF != nil {
		res.CSRFToken = s.CSRF.Generate(sess.ID)
	}
	if s.Bearer != nil {
		b, err := s.Bearer.Issue(u, Binding{SessionID: sess.ID, DeviceTokenID: sess.DeviceTokenID}, amr)
		if err != nil {
			return LoginResult{}, err
		}
		res.Bearer = b
	}
	return res, nil
}
