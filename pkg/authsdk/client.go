package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the authcore service. It performs unauthenticated
// operations and creates Sessions.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// CookieName is the session cookie the server sets. Default: DefaultSessionCookie
	CookieName string
}

// NewClient creates a new auth service client.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		CookieName: DefaultSessionCookie,
	}
}

// GetLiveness checks if the service is alive.
func (c *Client) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/livez")
}

// GetReadiness checks if the service is ready.
func (c *Client) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	return c.health(ctx, "/readyz")
}

func (c *Client) health(ctx context.Context, path string) (*HealthResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, err
	}

	var health HealthResponse
	if err := decodeJSON(resp, &health, http.StatusOK); err != nil {
		return nil, err
	}
	return &health, nil
}

// Register creates an account and returns a signed-in Session.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	return c.browserLogin(ctx, "/v1/auth/register", req, http.StatusCreated)
}

// Login signs in with a password (and a TOTP code when enrolled).
func (c *Client) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	return c.browserLogin(ctx, "/v1/auth/login", req, http.StatusOK)
}

func (c *Client) browserLogin(ctx context.Context, path string, req any, status int) (*Session, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, path, req, nil)
	if err != nil {
		return nil, err
	}
	token := sessionCookie(resp, c.CookieName)

	var out LoginResponse
	if err := decodeJSON(resp, &out, status); err != nil {
		return nil, err
	}

	s := c.NewSession(Credentials{
		SessionToken: token,
		CSRFToken:    out.CSRFToken,
		AccessToken:  out.AccessToken,
	})
	s.user = out.User
	return s, nil
}

// NativeLogin signs in an installed client. The returned response carries
// the device and refresh tokens the client must store.
func (c *Client) NativeLogin(ctx context.Context, req NativeLoginRequest) (*Session, *NativeLoginResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/native", req, nil)
	if err != nil {
		return nil, nil, err
	}

	var out NativeLoginResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, nil, err
	}

	s := c.NewSession(Credentials{
		SessionToken: out.SessionToken,
		CSRFToken:    out.CSRFToken,
		AccessToken:  out.AccessToken,
		DeviceToken:  out.DeviceToken,
	})
	s.user = out.User
	return s, &out, nil
}

// Exchange redeems a one-time code. A code can be redeemed exactly once.
func (c *Client) Exchange(ctx context.Context, code string) (*Session, *ExchangeResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/exchange", ExchangeRequest{Code: code}, nil)
	if err != nil {
		return nil, nil, err
	}

	var out ExchangeResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, nil, err
	}

	s := c.NewSession(Credentials{
		SessionToken: out.SessionToken,
		CSRFToken:    out.CSRFToken,
		DeviceToken:  out.DeviceToken,
	})
	s.user.UserID = out.UserID
	return s, &out, nil
}

// Refresh rotates a refresh token. The old token is spent on success.
func (c *Client) Refresh(ctx context.Context, refreshToken, deviceToken string) (*RefreshResponse, error) {
	headers := map[string]string{HeaderDeviceToken: deviceToken}
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, headers)
	if err != nil {
		return nil, err
	}

	var out RefreshResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// DesktopSignIn trades an external ID token for a one-time exchange code.
func (c *Client) DesktopSignIn(ctx context.Context, req DesktopSignInRequest) (*DesktopSignInResponse, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/auth/oidc/desktop", req, nil)
	if err != nil {
		return nil, err
	}

	var out DesktopSignInResponse
	if err := decodeJSON(resp, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}
