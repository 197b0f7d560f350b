package authn

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
)

// AuthError is an authentication or authorization failure with the HTTP
// status it maps to.
type AuthError struct {
	Status        int
	Code          string
	Message       string
	RetryAfter    time.Duration
	RequiredScope string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// WriteError writes e as a JSON error body. 429 responses get Retry-After.
func (e *AuthError) WriteError(w http.ResponseWriter) {
	if e.Status == http.StatusTooManyRequests || e.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(e.RetryAfter)))
	}
	if e.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="`+e.Code+`"`)
	}
	httpx.WriteJSON(w, e.Status, authsdk.ErrorResponse{
		Error:            e.Code,
		ErrorDescription: e.Message,
		RequiredScope:    e.RequiredScope,
	})
}

func retryAfterSeconds(d time.Duration) int {
	return max(int((d+time.Second-1)/time.Second), 1)
}

var (
	ErrUnauthenticated = &AuthError{
		Status:  http.StatusUnauthorized,
		Code:    authsdk.ErrorCodeUnauthenticated,
		Message: "authentication required",
	}
	ErrCredentialExpired = &AuthError{
		Status:  http.StatusUnauthorized,
		Code:    authsdk.ErrorCodeCredentialExpired,
		Message: "credential has expired",
	}
	ErrCredentialRevoked = &AuthError{
		Status:  http.StatusUnauthorized,
		Code:    authsdk.ErrorCodeCredentialRevoked,
		Message: "credential has been revoked",
	}
	ErrTokenVersionMismatch = &AuthError{
		Status:  http.StatusUnauthorized,
		Code:    authsdk.ErrorCodeTokenVersionMismatch,
		Message: "credential was invalidated, sign in again",
	}
	ErrMalformedCredential = &AuthError{
		Status:  http.StatusUnauthorized,
		Code:    authsdk.ErrorCodeMalformedCredential,
		Message: "credential is malformed",
	}
	ErrMissingCSRF = &AuthError{
		Status:  http.StatusForbidden,
		Code:    authsdk.ErrorCodeMissingCSRF,
		Message: "missing " + authsdk.HeaderCSRF + " header",
	}
	ErrCSRFMismatch = &AuthError{
		Status:  http.StatusForbidden,
		Code:    authsdk.ErrorCodeCSRFMismatch,
		Message: "CSRF token does not match this session",
	}
	ErrForbidden = &AuthError{
		Status:  http.StatusForbidden,
		Code:    authsdk.ErrorCodeForbidden,
		Message: "not allowed",
	}
	ErrLimiterUnavailable = &AuthError{
		Status:  http.StatusServiceUnavailable,
		Code:    authsdk.ErrorCodeTemporarilyUnavailable,
		Message: "temporarily unavailable, try again later",
	}
	ErrServerError = &AuthError{
		Status:  http.StatusInternalServerError,
		Code:    authsdk.ErrorCodeServerError,
		Message: "internal server error",
	}
)

// RateLimited is a 429 telling the caller when to retry.
func RateLimited(retryAfter time.Duration) *AuthError {
	return &AuthError{
		Status:     http.StatusTooManyRequests,
		Code:       authsdk.ErrorCodeRateLimited,
		Message:    "too many attempts, try again later",
		RetryAfter: retryAfter,
	}
}

// InsufficientScope is a 403 naming the scope the credential lacks.
func InsufficientScope(scope string) *AuthError {
	return &AuthError{
		Status:        http.StatusForbidden,
		Code:          authsdk.ErrorCodeInsufficientScope,
		Message:       "credential lacks scope " + scope,
		RequiredScope: scope,
	}
}

// IsAuthError reports whether err is, or wraps, an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// FromError maps a service-layer error onto the AuthError a client sees.
// Anything unrecognised is a server error.
func FromError(err error) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}

	var rl *service.RateLimitedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &rl):
		return RateLimited(rl.RetryAfter)
	case errors.Is(err, service.ErrLimiterUnavailable):
		return ErrLimiterUnavailable
	case errors.Is(err, service.ErrMalformedToken):
		return ErrMalformedCredential
	case errors.Is(err, service.ErrTokenVersionMismatch):
		return ErrTokenVersionMismatch
	case errors.Is(err, service.ErrSessionRevoked),
		errors.Is(err, service.ErrDeviceTokenRevoked),
		errors.Is(err, service.ErrServiceTokenRevoked):
		return ErrCredentialRevoked
	case errors.Is(err, service.ErrSessionExpired),
		errors.Is(err, service.ErrDeviceTokenExpired),
		errors.Is(err, service.ErrBearerExpired):
		return ErrCredentialExpired
	case errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, service.ErrDeviceTokenNotFound),
		errors.Is(err, service.ErrServiceTokenNotFound),
		errors.Is(err, service.ErrBearerInvalid),
		errors.Is(err, service.ErrExternalIdentity):
		return ErrUnauthenticated
	}
	return ErrServerError
}
