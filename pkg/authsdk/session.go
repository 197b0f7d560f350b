package authsdk

import (
	"context"
	"net/http"
	"net/url"
	"sync"
)

// Credentials are the tokens a Session presents. Any subset may be set.
type Credentials struct {
	SessionToken string
	CSRFToken    string
	AccessToken  string
	DeviceToken  string
	ServiceToken string
}

// Session performs operations on behalf of a signed-in user. It sends every
// credential it holds and lets the server choose.
type Session struct {
	client *Client

	mu           sync.RWMutex
	sessionToken string
	csrfToken    string
	accessToken  string
	deviceToken  string
	serviceToken string
	user         UserResponse
}

// NewSession creates a Session from credentials obtained elsewhere.
func (c *Client) NewSession(creds Credentials) *Session {
	return &Session{
		client:       c,
		sessionToken: creds.SessionToken,
		csrfToken:    creds.CSRFToken,
		accessToken:  creds.AccessToken,
		deviceToken:  creds.DeviceToken,
		serviceToken: creds.ServiceToken,
	}
}

// Credentials returns a copy of the tokens currently held.
func (s *Session) Credentials() Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Credentials{
		SessionToken: s.sessionToken,
		CSRFToken:    s.csrfToken,
		AccessToken:  s.accessToken,
		DeviceToken:  s.deviceToken,
		ServiceToken: s.serviceToken,
	}
}

// User is the account returned at sign-in. Only UserID is known after an
// exchange.
func (s *Session) User() UserResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Me returns the caller as the server sees it.
func (s *Session) Me(ctx context.Context) (*MeResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/auth/me", nil)
	if err != nil {
		return nil, err
	}

	var out MeResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefreshCSRF fetches a new CSRF token for the current session and stores it.
func (s *Session) RefreshCSRF(ctx context.Context) (string, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/auth/csrf", nil)
	if err != nil {
		return "", err
	}

	var out CSRFResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.csrfToken = out.CSRFToken
	s.mu.Unlock()
	return out.CSRFToken, nil
}

// Logout revokes the current session.
func (s *Session) Logout(ctx context.Context) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/auth/logout", nil)
	if err != nil {
		return err
	}
	if err := checkStatusNoContent(resp); err != nil {
		return err
	}

	s.mu.Lock()
	s.sessionToken = ""
	s.csrfToken = ""
	s.mu.Unlock()
	return nil
}

// LogoutAll invalidates every credential the user holds, this one included.
func (s *Session) LogoutAll(ctx context.Context) (*LogoutAllResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/auth/logout-all", nil)
	if err != nil {
		return nil, err
	}

	var out LogoutAllResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ChangePassword changes the password. Every other credential is invalidated
// and the Session switches to the fresh session the server returns.
func (s *Session) ChangePassword(ctx context.Context, current, next string) (*LoginResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/auth/password", ChangePasswordRequest{
		CurrentPassword: current,
		NewPassword:     next,
	})
	if err != nil {
		return nil, err
	}
	token := sessionCookie(resp, s.client.CookieName)

	var out LoginResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessionToken = token
	s.csrfToken = out.CSRFToken
	s.accessToken = out.AccessToken
	s.deviceToken = ""
	s.user = out.User
	s.mu.Unlock()
	return &out, nil
}

// ListDevices lists the user's active devices.
func (s *Session) ListDevices(ctx context.Context) (*DeviceListResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/devices", nil)
	if err != nil {
		return nil, err
	}

	var out DeviceListResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// RevokeDevice revokes a device token and everything issued from it. When
// RequiresLogout is set the caller revoked its own device.
func (s *Session) RevokeDevice(ctx context.Context, id string) (*RevokeDeviceResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/v1/devices/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var out RevokeDeviceResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateServiceToken mints an "mcp_" token. The secret is only returned here.
func (s *Session) CreateServiceToken(ctx context.Context, name string, scopes []string) (*ServiceTokenResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/service-tokens", ServiceTokenRequest{
		Name:   name,
		Scopes: scopes,
	})
	if err != nil {
		return nil, err
	}

	var out ServiceTokenResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Session) ListServiceTokens(ctx context.Context) (*ServiceTokenListResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodGet, "/v1/service-tokens", nil)
	if err != nil {
		return nil, err
	}

	var out ServiceTokenListResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Session) RevokeServiceToken(ctx context.Context, id string) error {
	resp, err := s.doAuthRequest(ctx, http.MethodDelete, "/v1/service-tokens/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// EnrollTOTP starts TOTP enrollment. Nothing is stored until ConfirmTOTP.
func (s *Session) EnrollTOTP(ctx context.Context) (*TOTPEnrollResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/auth/mfa/totp", nil)
	if err != nil {
		return nil, err
	}

	var out TOTPEnrollResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ConfirmTOTP stores the enrolled secret. Set CurrentCode when the account
// already has TOTP.
func (s *Session) ConfirmTOTP(ctx context.Context, req TOTPConfirmRequest) error {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/auth/mfa/totp/confirm", req)
	if err != nil {
		return err
	}
	return checkStatusNoContent(resp)
}

// ForceLogout invalidates every credential of another user. Admin only.
func (s *Session) ForceLogout(ctx context.Context, userID string) (*ForceLogoutResponse, error) {
	resp, err := s.doAuthRequest(ctx, http.MethodPost, "/v1/admin/users/"+url.PathEscape(userID)+"/logout", nil)
	if err != nil {
		return nil, err
	}

	var out ForceLogoutResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
