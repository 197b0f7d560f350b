package service

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrMFARequired        = errors.New("mfa_required")
	ErrInvalidTOTPCode    = errors.New("invalid TOTP code")
	ErrUsernameTaken      = errors.New("username or email already registered")

	// ErrMalformedToken is a prefix or shape violation, rejected before any
	// store access.
	ErrMalformedToken = errors.New("malformed token")

	ErrSessionNotFound = errors.New("session not found")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrSessionExpired  = errors.New("session expired")

	ErrDeviceTokenNotFound = errors.New("device token not found")
	ErrDeviceTokenRevoked  = errors.New("device token revoked")
	ErrDeviceTokenExpired  = errors.New("device token expired")

	ErrServiceTokenNotFound = errors.New("service token not found")
	ErrServiceTokenRevoked  = errors.New("service token revoked")
	ErrNoScopes             = errors.New("at least one scope is required")

	ErrBearerInvalid = errors.New("bearer token invalid")
	ErrBearerExpired = errors.New("bearer token expired")

	// ErrTokenVersionMismatch means a credential was issued before the user's
	// last password change, logout-everywhere or forced logout.
	ErrTokenVersionMismatch = errors.New("token version mismatch")

	ErrInvalidRefresh      = errors.New("invalid_refresh_token")
	ErrInvalidExchangeCode = errors.New("invalid or expired code")

	// ErrExternalIdentity covers every failure verifying a third-party ID
	// token. The cause is logged, never returned to the caller.
	ErrExternalIdentity = errors.New("external identity verification failed")

	ErrNotFound = errors.New("not found")

	// ErrLimiterUnavailable is returned by a fail-closed rate limit policy
	// when the limiter backend cannot be reached.
	ErrLimiterUnavailable = errors.New("rate limiter unavailable")
)

// RateLimitedError is returned when a policy denies an attempt.
type RateLimitedError struct {
	Policy     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by %s policy, retry after %s", e.Policy, e.RetryAfter)
}

// RetryAfterSeconds rounds up and never reports less than one second.
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int((e.RetryAfter + time.Second - 1) / time.Second)
	return max(secs, 1)
}

// clock returns now() in UTC, falling back to time.Now.
func clock(now func() time.Time) time.Time {
	if now == nil {
		return time.Now().UTC()
	}
	return now().UTC()
}
