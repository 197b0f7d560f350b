package authsdk

import "time"

// Header and cookie names shared by the server and this client.
const (
	HeaderCSRF           = "X-CSRF-Token"
	HeaderDeviceToken    = "X-Device-Token"
	DefaultSessionCookie = "authcore_session"
)

// ============================================================================
// Error Types
// ============================================================================

// ErrorResponse is the body of every error the service returns.
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`

	// RequiredScope names the missing scope on insufficient_scope errors.
	RequiredScope string `json:"required_scope,omitempty"`
}

// ValidationErrorResponse is returned when a request body fails validation.
type ValidationErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// ============================================================================
// Health Types
// ============================================================================

type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

type HealthChecks struct {
	Database string `json:"database"`
	Signer   string `json:"signer"`
}

// ============================================================================
// Login Types
// ============================================================================

type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Email    string `json:"email,omitempty" validate:"omitempty,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=256"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=256"`
	TOTPCode string `json:"totp_code,omitempty" validate:"omitempty,len=6,numeric"`
}

// NativeLoginRequest is a LoginRequest from an installed client. DeviceToken
// is the token the client already holds, if any.
type NativeLoginRequest struct {
	LoginRequest
	DeviceID    string `json:"device_id" validate:"required,max=128"`
	Platform    string `json:"platform" validate:"required,oneof=ios android macos windows linux web"`
	DeviceName  string `json:"device_name,omitempty" validate:"max=128"`
	DeviceToken string `json:"device_token,omitempty" validate:"omitempty,max=256"`
}

type UserResponse struct {
	UserID       string `json:"user_id"`
	Username     string `json:"username"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role"`
	TokenVersion int64  `json:"token_version"`
	MFAEnabled   bool   `json:"mfa_enabled"`
}

// LoginResponse accompanies the session cookie. The session token itself is
// only in the cookie.
type LoginResponse struct {
	User             UserResponse `json:"user"`
	CSRFToken        string       `json:"csrf_token"`
	AccessToken      string       `json:"access_token"`
	TokenType        string       `json:"token_type"`
	ExpiresIn        int          `json:"expires_in"`
	SessionExpiresAt int64        `json:"session_expires_at"`
}

// NativeLoginResponse also carries the credentials a native client stores.
type NativeLoginResponse struct {
	LoginResponse
	SessionToken  string `json:"session_token"`
	DeviceToken   string `json:"device_token"`
	DeviceTokenID string `json:"device_token_id"`
	DeviceReused  bool   `json:"device_reused"`
	RefreshToken  string `json:"refresh_token"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=256"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=256,nefield=CurrentPassword"`
}

type LogoutAllResponse struct {
	TokenVersion int64 `json:"token_version"`
}

type CSRFResponse struct {
	CSRFToken string `json:"csrf_token"`
}

// MeResponse describes the caller and how it authenticated.
type MeResponse struct {
	UserResponse
	Scheme        string   `json:"scheme"`
	SessionID     string   `json:"session_id,omitempty"`
	DeviceTokenID string   `json:"device_token_id,omitempty"`
	Scopes        []string `json:"scopes,omitempty"`
}

// ============================================================================
// Exchange, Refresh and Desktop Types
// ============================================================================

type ExchangeRequest struct {
	Code string `json:"code" validate:"required,max=128"`
}

// ExchangeResponse is the credential set parked behind an exchange code.
type ExchangeResponse struct {
	SessionToken     string `json:"session_token"`
	DeviceToken      string `json:"device_token"`
	CSRFToken        string `json:"csrf_token"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	UserID           string `json:"user_id"`
	SessionExpiresAt int64  `json:"session_expires_at"`
}

// RefreshRequest is sent with the device token in the X-Device-Token header.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,max=256"`
}

type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
}

type DesktopSignInRequest struct {
	IDToken    string `json:"id_token" validate:"required,max=8192"`
	DeviceID   string `json:"device_id" validate:"required,max=128"`
	Platform   string `json:"platform" validate:"required,oneof=macos windows linux"`
	DeviceName string `json:"device_name,omitempty" validate:"max=128"`
}

// DesktopSignInResponse carries the one-time code. RedirectURI, when the
// server is configured with one, is the deep link with the code attached.
type DesktopSignInResponse struct {
	Code        string `json:"code"`
	ExpiresIn   int    `json:"expires_in"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

// ============================================================================
// Device Types
// ============================================================================

type DeviceResponse struct {
	ID         string     `json:"id"`
	DeviceID   string     `json:"device_id"`
	Platform   string     `json:"platform"`
	DeviceName string     `json:"device_name,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Current    bool       `json:"current"`
}

type DeviceListResponse struct {
	Devices []DeviceResponse `json:"devices"`
}

// RevokeDeviceResponse tells the client to drop its local credentials when
// it revoked the device it is running on.
type RevokeDeviceResponse struct {
	Revoked              bool  `json:"revoked"`
	RequiresLogout       bool  `json:"requires_logout"`
	RefreshTokensDeleted int64 `json:"refresh_tokens_deleted"`
	SessionsRevoked      int64 `json:"sessions_revoked"`
}

// ============================================================================
// Service Token Types
// ============================================================================

type ServiceTokenRequest struct {
	Name   string   `json:"name" validate:"required,max=64"`
	Scopes []string `json:"scopes" validate:"required,min=1,max=32,dive,required,max=64"`
}

// ServiceTokenResponse only carries Token right after creation.
type ServiceTokenResponse struct {
	ID         string     `json:"id"`
	Token      string     `json:"token,omitempty"`
	Name       string     `json:"name"`
	Scopes     []string   `json:"scopes"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Revoked    bool       `json:"revoked"`
}

type ServiceTokenListResponse struct {
	Tokens []ServiceTokenResponse `json:"tokens"`
}

// ============================================================================
// MFA and Admin Types
// ============================================================================

type TOTPEnrollResponse struct {
	Secret string `json:"secret"`
	URL    string `json:"url"`
}

type TOTPConfirmRequest struct {
	Secret      string `json:"secret" validate:"required,max=128"`
	Code        string `json:"code" validate:"required,len=6,numeric"`
	CurrentCode string `json:"current_code,omitempty" validate:"omitempty,len=6,numeric"`
}

type ForceLogoutResponse struct {
	UserID       string `json:"user_id"`
	TokenVersion int64  `json:"token_version"`
}
