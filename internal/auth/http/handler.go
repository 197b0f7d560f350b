package http

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/aussiebroadwan/authcore/internal/auth/authn"
	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// Errors specific to the account endpoints. Authentication failures use the
// authn values.
var (
	errInvalidCredentials = &authn.AuthError{
		Status:  http.StatusUnauthorized,
		Code:    authsdk.ErrorCodeInvalidCredentials,
		Message: "invalid username or password",
	}
	errMFARequired = &authn.AuthError{
		Status:  http.StatusUnauthorized,
		Code:    authsdk.ErrorCodeMFARequired,
		Message: "a TOTP code is required",
	}
	errInvalidCode = &authn.AuthError{
		Status:  http.StatusUnauthorized,
		Code:    authsdk.ErrorCodeInvalidCode,
		Message: "invalid TOTP code",
	}
	errUsernameTaken = &authn.AuthError{
		Status:  http.StatusConflict,
		Code:    authsdk.ErrorCodeConflict,
		Message: "username or email already registered",
	}
	errNotFound = &authn.AuthError{
		Status:  http.StatusNotFound,
		Code:    authsdk.ErrorCodeNotFound,
		Message: "not found",
	}
	errInvalidRefresh = &authn.AuthError{
		Status:  http.StatusUnauthorized,
		Code:    authsdk.ErrorCodeInvalidGrant,
		Message: "refresh token is invalid or expired",
	}
	errInvalidExchangeCode = &authn.AuthError{
		Status:  http.StatusBadRequest,
		Code:    authsdk.ErrorCodeInvalidGrant,
		Message: "invalid or expired code",
	}
	errNoScopes = &authn.AuthError{
		Status:  http.StatusBadRequest,
		Code:    authsdk.ErrorCodeInvalidRequest,
		Message: "at least one scope is required",
	}
	errInvalidRequest = &authn.AuthError{
		Status:  http.StatusBadRequest,
		Code:    authsdk.ErrorCodeInvalidRequest,
		Message: "the request is malformed",
	}
)

// writeError maps err to its HTTP form. Server errors are logged here so
// handlers do not have to.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ae *authn.AuthError
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		ae = errInvalidCredentials
	case errors.Is(err, service.ErrMFARequired):
		ae = errMFARequired
	case errors.Is(err, service.ErrInvalidTOTPCode):
		ae = errInvalidCode
	case errors.Is(err, service.ErrUsernameTaken):
		ae = errUsernameTaken
	case errors.Is(err, service.ErrNotFound):
		ae = errNotFound
	case errors.Is(err, service.ErrInvalidRefresh):
		ae = errInvalidRefresh
	case errors.Is(err, service.ErrInvalidExchangeCode):
		ae = errInvalidExchangeCode
	case errors.Is(err, service.ErrNoScopes):
		ae = errNoScopes
	default:
		ae = authn.FromError(err)
	}

	if ae.Status >= http.StatusInternalServerError {
		slogx.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	ae.WriteError(w)
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// base carries what every handler needs to read requests and throttle them.
type base struct {
	Limiter    *service.RateLimiter
	Validate   *validator.Validate
	TrustProxy bool
}

// decode reads and validates a JSON body. It writes the error response and
// returns false on failure.
func (b *base) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httpx.DecodeJSON(w, r, dst); err != nil {
		slogx.FromContext(r.Context()).Warn("invalid request body", "error", err)
		e := *errInvalidRequest
		e.Message = err.Error()
		e.WriteError(w)
		return false
	}

	err := b.Validate.Struct(dst)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, r, err)
		return false
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fe.Field()] = fe.Tag()
	}
	httpx.WriteJSON(w, http.StatusBadRequest, authsdk.ValidationErrorResponse{
		Code:    authsdk.ErrorCodeValidation,
		Message: "request validation failed",
		Details: details,
	})
	return false
}

func (b *base) clientIP(r *http.Request) string {
	return httpx.ClientIP(r, b.TrustProxy)
}

// guard counts one attempt against p for the caller's address. It writes the
// 429 or 503 response and returns false when the request must stop.
func (b *base) guard(w http.ResponseWriter, r *http.Request, p service.Policy) bool {
	if err := b.Limiter.Guard(r.Context(), b.clientIP(r), p); err != nil {
		writeError(w, r, err)
		return false
	}
	return true
}

// identity returns the caller stored by authn.Require.
func identity(w http.ResponseWriter, r *http.Request) (authn.Identity, bool) {
	id, ok := authn.FromContext(r.Context())
	if !ok {
		authn.ErrUnauthenticated.WriteError(w)
	}
	return id, ok
}

// pathID returns the {id} path parameter. Anything that is not a ULID cannot
// name a row, so it is answered with 404 before any store access.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	v := r.PathValue("id")
	if !idx.Valid(v) {
		errNotFound.WriteError(w)
		return "", false
	}
	return v, true
}

// CookieConfig controls the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
}

func (c CookieConfig) name() string {
	if c.Name == "" {
		return authsdk.DefaultSessionCookie
	}
	return c.Name
}

func (c CookieConfig) set(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    token,
		Path:     "/",
		MaxAge:   int(service.MaxSessionTTL / time.Second),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c CookieConfig) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func userResponse(u domain.User) authsdk.UserResponse {
	return authsdk.UserResponse{
		UserID:       u.ID,
		Username:     u.Username,
		Email:        u.Email,
		Role:         u.Role,
		TokenVersion: u.TokenVersion,
		MFAEnabled:   u.MFAEnabled(),
	}
}

func loginResponse(res service.LoginResult) authsdk.LoginResponse {
	return authsdk.LoginResponse{
		User:             userResponse(res.User),
		CSRFToken:        res.CSRFToken,
		AccessToken:      res.Bearer.Token,
		TokenType:        "Bearer",
		ExpiresIn:        expiresIn(res.Bearer.ExpiresAt),
		SessionExpiresAt: res.Session.ExpiresAt.Unix(),
	}
}

func expiresIn(t time.Time) int {
	return max(int(time.Until(t).Seconds()), 0)
}
