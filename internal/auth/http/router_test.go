package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/authcore/internal/auth/app"
	"github.com/aussiebroadwan/authcore/internal/auth/authn"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

const (
	testPassword = "correct horse battery"

	idpIssuer   = "https://idp.example.com"
	idpAudience = "authcore-desktop"
)

type testEnv struct {
	app    *app.Application
	server *httptest.Server
	client *authsdk.Client
}

// newTestEnv runs a fresh application over an in-memory database. Every
// request comes from 127.0.0.1, so rate limit buckets are per test.
func newTestEnv(t *testing.T, opts ...func(*app.Config)) *testEnv {
	t.Helper()

	cfg := app.DefaultConfig()
	cfg.DatabaseFile = ":memory:"
	cfg.PepperFile = filepath.Join(t.TempDir(), "pepper")
	cfg.SigningKeyFile = ""
	cfg.CookieSecure = false
	cfg.Env = "test"
	cfg.LogOutput = io.Discard
	for _, opt := range opts {
		opt(&cfg)
	}

	application, err := app.New(cfg)
	require.NoError(t, err)

	// A resource guarded by a scope, the way a consuming service mounts one.
	avatars := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := authn.FromContext(r.Context())
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"user_id": id.UserID})
	})
	router := application.Router()
	router.Mux.Handle("POST /v1/avatars",
		httpx.Chain(avatars, router.Authn.Require(authn.AnyScheme, "avatars:write")))

	srv := httptest.NewServer(application.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = application.Close()
	})

	return &testEnv{app: application, server: srv, client: authsdk.NewClient(srv.URL)}
}

func (e *testEnv) register(t *testing.T, username string) *authsdk.Session {
	t.Helper()
	s, err := e.client.Register(t.Context(), authsdk.RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
	})
	require.NoError(t, err)
	require.NotEmpty(t, s.Credentials().SessionToken)
	require.NotEmpty(t, s.Credentials().CSRFToken)
	return s
}

// postAvatar calls the scope-guarded route with a raw Authorization value.
func (e *testEnv) postAvatar(t *testing.T, authorization string) (*http.Response, authsdk.ErrorResponse) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, e.server.URL+"/v1/avatars", nil)
	require.NoError(t, err)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body authsdk.ErrorResponse
	if resp.StatusCode != http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func requireAPIError(t *testing.T, err error, status int, code string) *authsdk.APIError {
	t.Helper()
	require.Error(t, err)
	var apiErr *authsdk.APIError
	require.True(t, errors.As(err, &apiErr), "expected *authsdk.APIError, got %T: %v", err, err)
	require.Equal(t, status, apiErr.StatusCode, apiErr.Error())
	if code != "" {
		require.Equal(t, code, apiErr.Code)
	}
	return apiErr
}

type fakeIDP struct {
	signer *jwtx.EdDSASigner
	server *httptest.Server
}

func newFakeIDP(t *testing.T) *fakeIDP {
	t.Helper()
	pemKey, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)
	signer, err := jwtx.NewSignerEdDSA("idp-1", pemKey)
	require.NoError(t, err)

	idp := &fakeIDP{signer: signer}
	idp.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwtx.JWKS{Keys: []jwtx.JWK{signer.PublicJWK()}})
	}))
	t.Cleanup(idp.server.Close)
	return idp
}

func (f *fakeIDP) configure(cfg *app.Config) {
	cfg.OIDCIssuer = idpIssuer
	cfg.OIDCAudience = idpAudience
	cfg.OIDCJWKSURL = f.server.URL
	cfg.DesktopRedirectURI = "authcore-desktop://signed-in"
}

func (f *fakeIDP) idToken(t *testing.T, email string) string {
	t.Helper()
	now := time.Now()
	tok, err := f.signer.Sign(jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    idpIssuer,
			Subject:   "ext-" + email,
			Audience:  jwt.ClaimStrings{idpAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(5 * time.Minute)),
		},
		Email:         email,
		EmailVerified: true,
	})
	require.NoError(t, err)
	return tok
}

func TestSessionWritesRequireCSRF(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	alice := env.register(t, "alice")
	creds := alice.Credentials()

	t.Run("with header", func(t *testing.T) {
		tok, err := alice.CreateServiceToken(ctx, "ci", []string{"avatars:write"})
		require.NoError(t, err)
		require.NotEmpty(t, tok.Token)
	})

	t.Run("missing header", func(t *testing.T) {
		bare := env.client.NewSession(authsdk.Credentials{SessionToken: creds.SessionToken})
		_, err := bare.CreateServiceToken(ctx, "ci", []string{"avatars:write"})
		requireAPIError(t, err, http.StatusForbidden, authsdk.ErrorCodeMissingCSRF)
	})

	t.Run("wrong token", func(t *testing.T) {
		forged := env.client.NewSession(authsdk.Credentials{
			SessionToken: creds.SessionToken,
			CSRFToken:    "forged",
		})
		_, err := forged.CreateServiceToken(ctx, "ci", []string{"avatars:write"})
		requireAPIError(t, err, http.StatusForbidden, authsdk.ErrorCodeCSRFMismatch)
	})

	t.Run("reads need no header", func(t *testing.T) {
		bare := env.client.NewSession(authsdk.Credentials{SessionToken: creds.SessionToken})
		me, err := bare.Me(ctx)
		require.NoError(t, err)
		require.Equal(t, "session", me.Scheme)
		require.Equal(t, "alice", me.Username)
	})

	t.Run("fresh token from csrf endpoint", func(t *testing.T) {
		token, err := alice.RefreshCSRF(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, token)

		s := env.client.NewSession(authsdk.Credentials{SessionToken: creds.SessionToken, CSRFToken: token})
		_, err = s.CreateServiceToken(ctx, "ci-2", []string{"avatars:write"})
		require.NoError(t, err)
	})

	t.Run("bearer writes skip csrf", func(t *testing.T) {
		bearer := env.client.NewSession(authsdk.Credentials{AccessToken: creds.AccessToken})
		_, err := bearer.CreateServiceToken(ctx, "bot", []string{"avatars:write"})
		require.NoError(t, err)
	})
}

func TestRevokeOwnDeviceEndsSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	env.register(t, "alice")

	native, login, err := env.client.NativeLogin(ctx, authsdk.NativeLoginRequest{
		LoginRequest: authsdk.LoginRequest{Username: "alice", Password: testPassword},
		DeviceID:     "iphone-1",
		Platform:     "ios",
		DeviceName:   "Alice's iPhone",
	})
	require.NoError(t, err)
	require.NotEmpty(t, login.DeviceToken)
	require.NotEmpty(t, login.RefreshToken)
	require.False(t, login.DeviceReused)

	devices, err := native.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices.Devices, 1)
	require.True(t, devices.Devices[0].Current)
	require.Equal(t, login.DeviceTokenID, devices.Devices[0].ID)

	res, err := native.RevokeDevice(ctx, login.DeviceTokenID)
	require.NoError(t, err)
	require.True(t, res.Revoked)
	require.True(t, res.RequiresLogout)
	require.EqualValues(t, 1, res.RefreshTokensDeleted)
	require.EqualValues(t, 1, res.SessionsRevoked)

	_, err = native.Me(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeCredentialRevoked)

	deviceOnly := env.client.NewSession(authsdk.Credentials{DeviceToken: login.DeviceToken})
	_, err = deviceOnly.Me(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeCredentialRevoked)

	_, err = env.client.Refresh(ctx, login.RefreshToken, login.DeviceToken)
	requireAPIError(t, err, http.StatusUnauthorized, "")
}

func TestNativeBearerRevokesOwnDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	env.register(t, "alice")

	_, login, err := env.client.NativeLogin(ctx, authsdk.NativeLoginRequest{
		LoginRequest: authsdk.LoginRequest{Username: "alice", Password: testPassword},
		DeviceID:     "iphone-1",
		Platform:     "ios",
	})
	require.NoError(t, err)

	refreshed, err := env.client.Refresh(ctx, login.RefreshToken, login.DeviceToken)
	require.NoError(t, err)

	app := env.client.NewSession(authsdk.Credentials{
		AccessToken: login.AccessToken,
		DeviceToken: login.DeviceToken,
	})
	me, err := app.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "bearer", me.Scheme)

	res, err := app.RevokeDevice(ctx, login.DeviceTokenID)
	require.NoError(t, err)
	require.True(t, res.RequiresLogout)

	// Bearers minted for the device die with it, with or without the header.
	_, err = app.Me(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeCredentialRevoked)

	bearerOnly := env.client.NewSession(authsdk.Credentials{AccessToken: refreshed.AccessToken})
	_, err = bearerOnly.Me(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeCredentialRevoked)
}

func TestNativeBearerWithoutHeaderIsCurrentDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	env.register(t, "alice")

	_, login, err := env.client.NativeLogin(ctx, authsdk.NativeLoginRequest{
		LoginRequest: authsdk.LoginRequest{Username: "alice", Password: testPassword},
		DeviceID:     "pixel-1",
		Platform:     "android",
	})
	require.NoError(t, err)

	bearerOnly := env.client.NewSession(authsdk.Credentials{AccessToken: login.AccessToken})
	devices, err := bearerOnly.ListDevices(ctx)
	require.NoError(t, err)
	require.Len(t, devices.Devices, 1)
	require.True(t, devices.Devices[0].Current)

	res, err := bearerOnly.RevokeDevice(ctx, login.DeviceTokenID)
	require.NoError(t, err)
	require.True(t, res.RequiresLogout)
}

func TestRevokeOtherDeviceKeepsCaller(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	alice := env.register(t, "alice")

	_, login, err := env.client.NativeLogin(ctx, authsdk.NativeLoginRequest{
		LoginRequest: authsdk.LoginRequest{Username: "alice", Password: testPassword},
		DeviceID:     "pixel-1",
		Platform:     "android",
	})
	require.NoError(t, err)

	res, err := alice.RevokeDevice(ctx, login.DeviceTokenID)
	require.NoError(t, err)
	require.False(t, res.RequiresLogout)

	_, err = alice.RevokeDevice(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	requireAPIError(t, err, http.StatusNotFound, authsdk.ErrorCodeNotFound)

	_, err = alice.RevokeDevice(ctx, "not-a-ulid")
	requireAPIError(t, err, http.StatusNotFound, authsdk.ErrorCodeNotFound)

	err = alice.RevokeServiceToken(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	requireAPIError(t, err, http.StatusNotFound, authsdk.ErrorCodeNotFound)
}

func TestServiceTokenScopes(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	alice := env.register(t, "alice")

	readOnly, err := alice.CreateServiceToken(ctx, "reader", []string{"profile:read"})
	require.NoError(t, err)
	writer, err := alice.CreateServiceToken(ctx, "writer", []string{"avatars:write"})
	require.NoError(t, err)

	resp, body := env.postAvatar(t, "Bearer "+readOnly.Token)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, authsdk.ErrorCodeInsufficientScope, body.Error)
	require.Equal(t, "avatars:write", body.RequiredScope)

	resp, _ = env.postAvatar(t, "Bearer "+writer.Token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.postAvatar(t, "Bearer "+alice.Credentials().AccessToken)
	require.Equal(t, http.StatusOK, resp.StatusCode, "bearer tokens carry every scope")

	resp, body = env.postAvatar(t, "Bearer mcp_")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, authsdk.ErrorCodeMalformedCredential, body.Error)

	list, err := alice.ListServiceTokens(ctx)
	require.NoError(t, err)
	require.Len(t, list.Tokens, 2)
	for _, tok := range list.Tokens {
		require.Empty(t, tok.Token, "secrets are only returned at creation")
	}

	require.NoError(t, alice.RevokeServiceToken(ctx, writer.ID))
	resp, body = env.postAvatar(t, "Bearer "+writer.Token)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, authsdk.ErrorCodeCredentialRevoked, body.Error)

	_, err = alice.CreateServiceToken(ctx, "empty", nil)
	requireAPIError(t, err, http.StatusBadRequest, authsdk.ErrorCodeValidation)
}

func TestServiceTokensCannotManageAccount(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	alice := env.register(t, "alice")

	tok, err := alice.CreateServiceToken(ctx, "ci", []string{"*"})
	require.NoError(t, err)

	svc := env.client.NewSession(authsdk.Credentials{ServiceToken: tok.Token})
	me, err := svc.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "service", me.Scheme)

	_, err = svc.CreateServiceToken(ctx, "escalate", []string{"*"})
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeUnauthenticated)
}

func TestExchangeCodeIsSingleUse(t *testing.T) {
	idp := newFakeIDP(t)
	env := newTestEnv(t, idp.configure)
	ctx := t.Context()

	signIn, err := env.client.DesktopSignIn(ctx, authsdk.DesktopSignInRequest{
		IDToken:    idp.idToken(t, "carol@example.com"),
		DeviceID:   "mbp-1",
		Platform:   "macos",
		DeviceName: "Carol's MacBook",
	})
	require.NoError(t, err)
	require.NotEmpty(t, signIn.Code)
	require.Positive(t, signIn.ExpiresIn)

	redirect, err := url.Parse(signIn.RedirectURI)
	require.NoError(t, err)
	require.Equal(t, signIn.Code, redirect.Query().Get("code"))

	type result struct {
		session *authsdk.Session
		resp    *authsdk.ExchangeResponse
		err     error
	}
	results := make([]result, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, resp, err := env.client.Exchange(context.Background(), signIn.Code)
			results[i] = result{s, resp, err}
		}()
	}
	wg.Wait()

	var winner *result
	var losses int
	for i := range results {
		if results[i].err == nil {
			winner = &results[i]
			continue
		}
		losses++
		apiErr := requireAPIError(t, results[i].err, http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant)
		require.Equal(t, "invalid or expired code", apiErr.Description)
	}
	require.NotNil(t, winner, "exactly one exchange must succeed")
	require.Equal(t, 1, losses)

	require.NotEmpty(t, winner.resp.SessionToken)
	require.NotEmpty(t, winner.resp.DeviceToken)
	require.NotEmpty(t, winner.resp.CSRFToken)
	require.NotEmpty(t, winner.resp.RefreshToken)

	me, err := winner.session.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "carol@example.com", me.Email)
	require.Equal(t, winner.resp.UserID, me.UserID)

	_, _, err = env.client.Exchange(ctx, signIn.Code)
	requireAPIError(t, err, http.StatusBadRequest, authsdk.ErrorCodeInvalidGrant)
}

func TestDesktopSignInDisabledWithoutIDP(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.client.DesktopSignIn(t.Context(), authsdk.DesktopSignInRequest{
		IDToken:  "not-a-jwt",
		DeviceID: "mbp-1",
		Platform: "macos",
	})
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeUnauthenticated)
}

func TestLoginRateLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	env.register(t, "bob")

	for i := range 5 {
		_, err := env.client.Login(ctx, authsdk.LoginRequest{Username: "bob", Password: "wrong password"})
		requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)
		t.Logf("attempt %d rejected", i+1)
	}

	_, err := env.client.Login(ctx, authsdk.LoginRequest{Username: "bob", Password: testPassword})
	apiErr := requireAPIError(t, err, http.StatusTooManyRequests, authsdk.ErrorCodeRateLimited)
	require.Positive(t, apiErr.RetryAfter)
	require.LessOrEqual(t, apiErr.RetryAfter, 15*time.Minute)
}

func TestSuccessfulLoginResetsLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	env.register(t, "bob")

	for range 4 {
		_, err := env.client.Login(ctx, authsdk.LoginRequest{Username: "bob", Password: "wrong password"})
		requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)
	}
	_, err := env.client.Login(ctx, authsdk.LoginRequest{Username: "bob", Password: testPassword})
	require.NoError(t, err)

	for range 4 {
		_, err := env.client.Login(ctx, authsdk.LoginRequest{Username: "bob", Password: "wrong password"})
		requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)
	}
}

func TestLoginRevokesEarlierSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	first := env.register(t, "alice")

	second, err := env.client.Login(ctx, authsdk.LoginRequest{Username: "alice", Password: testPassword})
	require.NoError(t, err)

	stale := env.client.NewSession(authsdk.Credentials{SessionToken: first.Credentials().SessionToken})
	_, err = stale.Me(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeCredentialRevoked)

	_, err = second.Me(ctx)
	require.NoError(t, err)
}

func TestRefreshRotation(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	env.register(t, "alice")

	_, login, err := env.client.NativeLogin(ctx, authsdk.NativeLoginRequest{
		LoginRequest: authsdk.LoginRequest{Username: "alice", Password: testPassword},
		DeviceID:     "ipad-1",
		Platform:     "ios",
	})
	require.NoError(t, err)

	rotated, err := env.client.Refresh(ctx, login.RefreshToken, login.DeviceToken)
	require.NoError(t, err)
	require.Equal(t, "Bearer", rotated.TokenType)
	require.NotEqual(t, login.RefreshToken, rotated.RefreshToken)

	bearer := env.client.NewSession(authsdk.Credentials{AccessToken: rotated.AccessToken})
	me, err := bearer.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "bearer", me.Scheme)

	_, err = env.client.Refresh(ctx, login.RefreshToken, login.DeviceToken)
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidGrant)

	_, err = env.client.Refresh(ctx, rotated.RefreshToken, "")
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeUnauthenticated)

	// Signing in again on the same device reuses its token.
	_, again, err := env.client.NativeLogin(ctx, authsdk.NativeLoginRequest{
		LoginRequest: authsdk.LoginRequest{Username: "alice", Password: testPassword},
		DeviceID:     "ipad-1",
		Platform:     "ios",
		DeviceToken:  login.DeviceToken,
	})
	require.NoError(t, err)
	require.True(t, again.DeviceReused)
	require.Equal(t, login.DeviceTokenID, again.DeviceTokenID)
}

func TestLogoutAllInvalidatesBearer(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	alice := env.register(t, "alice")
	creds := alice.Credentials()

	bearer := env.client.NewSession(authsdk.Credentials{AccessToken: creds.AccessToken})
	_, err := bearer.Me(ctx)
	require.NoError(t, err)

	out, err := alice.LogoutAll(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, out.TokenVersion)

	_, err = bearer.Me(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeTokenVersionMismatch)

	cookie := env.client.NewSession(authsdk.Credentials{SessionToken: creds.SessionToken})
	_, err = cookie.Me(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, "")
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	alice := env.register(t, "alice")
	token := alice.Credentials().SessionToken

	require.NoError(t, alice.Logout(ctx))
	require.Empty(t, alice.Credentials().SessionToken)

	stale := env.client.NewSession(authsdk.Credentials{SessionToken: token})
	_, err := stale.Me(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeCredentialRevoked)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	alice := env.register(t, "alice")
	old := alice.Credentials()

	res, err := alice.ChangePassword(ctx, testPassword, "a much better passphrase")
	require.NoError(t, err)
	require.NotEmpty(t, res.CSRFToken)
	require.NotEqual(t, old.SessionToken, alice.Credentials().SessionToken)

	me, err := alice.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, res.User.TokenVersion, me.TokenVersion)

	stale := env.client.NewSession(authsdk.Credentials{AccessToken: old.AccessToken})
	_, err = stale.Me(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeTokenVersionMismatch)

	_, err = env.client.Login(ctx, authsdk.LoginRequest{Username: "alice", Password: testPassword})
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)
}

func TestPasswordChangeLimitIsSeparateFromLogin(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	alice := env.register(t, "alice")

	for range 5 {
		_, err := alice.ChangePassword(ctx, "not my password", "a much better passphrase")
		requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)
	}
	_, err := alice.ChangePassword(ctx, testPassword, "a much better passphrase")
	requireAPIError(t, err, http.StatusTooManyRequests, authsdk.ErrorCodeRateLimited)

	_, err = env.client.Login(ctx, authsdk.LoginRequest{Username: "alice", Password: testPassword})
	require.NoError(t, err, "failed password changes do not count against sign-in")
}

func TestValidation(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.client.Register(t.Context(), authsdk.RegisterRequest{Username: "al", Password: "short"})
	apiErr := requireAPIError(t, err, http.StatusBadRequest, authsdk.ErrorCodeValidation)
	require.Equal(t, "min", apiErr.Details["username"])
	require.Equal(t, "min", apiErr.Details["password"])

	env.register(t, "alice")
	_, err = env.client.Register(t.Context(), authsdk.RegisterRequest{
		Username: "alice",
		Password: testPassword,
	})
	requireAPIError(t, err, http.StatusConflict, authsdk.ErrorCodeConflict)
}

func TestForceLogoutRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := t.Context()
	admin := env.register(t, "root")
	bob := env.register(t, "bob")
	require.Equal(t, "admin", admin.User().Role)
	require.Equal(t, "user", bob.User().Role)

	_, err := bob.ForceLogout(ctx, admin.User().UserID)
	requireAPIError(t, err, http.StatusForbidden, authsdk.ErrorCodeForbidden)

	out, err := admin.ForceLogout(ctx, bob.User().UserID)
	require.NoError(t, err)
	require.Equal(t, bob.User().UserID, out.UserID)
	require.EqualValues(t, 1, out.TokenVersion)

	_, err = bob.Me(ctx)
	requireAPIError(t, err, http.StatusUnauthorized, "")

	_, err = admin.ForceLogout(ctx, "01HZZZZZZZZZZZZZZZZZZZZZZZ")
	requireAPIError(t, err, http.StatusNotFound, authsdk.ErrorCodeNotFound)
}

func TestUnauthenticated(t *testing.T) {
	env := newTestEnv(t)

	anon := env.client.NewSession(authsdk.Credentials{})
	_, err := anon.Me(t.Context())
	requireAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeUnauthenticated)
}

func TestProbes(t *testing.T) {
	env := newTestEnv(t)

	live, err := env.client.GetLiveness(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)

	ready, err := env.client.GetReadiness(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Status)
	require.NotNil(t, ready.Checks)
	require.Equal(t, "ok", ready.Checks.Database)
}
