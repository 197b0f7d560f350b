package authn

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// Authenticator validates whichever credential a request carries.
type Authenticator struct {
	Sessions      *service.SessionService
	Bearer        *service.BearerService
	Devices       *service.DeviceService
	ServiceTokens *service.ServiceTokenService
	CSRF          *service.CSRFGuard

	// CookieName defaults to authsdk.DefaultSessionCookie.
	CookieName string
}

func (a *Authenticator) cookieName() string {
	if a.CookieName == "" {
		return authsdk.DefaultSessionCookie
	}
	return a.CookieName
}

// credentials are the raw values found on a request, one per scheme.
type credentials map[Scheme]string

func (a *Authenticator) extract(r *http.Request) credentials {
	creds := credentials{}

	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, value, ok := strings.Cut(auth, " ")
		value = strings.TrimSpace(value)
		if ok && strings.EqualFold(scheme, "Bearer") && value != "" {
			if strings.HasPrefix(value, cryptox.PrefixService) {
				creds[SchemeService] = value
			} else {
				creds[SchemeBearer] = value
			}
		}
	}
	if ck, err := r.Cookie(a.cookieName()); err == nil && ck.Value != "" {
		creds[SchemeSession] = ck.Value
	}
	if dt := strings.TrimSpace(r.Header.Get(authsdk.HeaderDeviceToken)); dt != "" {
		creds[SchemeDevice] = dt
	}
	return creds
}

// Authenticate walks Precedence and validates the first allowed scheme whose
// credential is present. That scheme's outcome is final: an invalid
// credential never falls through to the next one. Returned errors are always
// *AuthError.
func (a *Authenticator) Authenticate(r *http.Request, p Policy) (Identity, error) {
	creds := a.extract(r)

	for _, scheme := range Precedence {
		if !p.Allow.Has(scheme) {
			continue
		}
		raw, ok := creds[scheme]
		if !ok {
			continue
		}

		id, err := a.validate(r, scheme, raw, p)
		if err != nil {
			ae := FromError(err)
			log := slogx.FromContext(r.Context())
			if ae.Status >= http.StatusInternalServerError {
				log.Error("authentication failed", "scheme", scheme, "error", err)
			} else {
				log.Info("authentication rejected", "scheme", scheme, "code", ae.Code)
			}
			return Identity{}, ae
		}
		return id, nil
	}
	return Identity{}, ErrUnauthenticated
}

func (a *Authenticator) validate(r *http.Request, scheme Scheme, raw string, p Policy) (Identity, error) {
	ctx := r.Context()

	switch scheme {
	case SchemeService:
		c, err := a.ServiceTokens.Validate(ctx, raw)
		if err != nil {
			return Identity{}, err
		}
		return Identity{
			UserID:         c.UserID,
			Role:           c.Role,
			TokenVersion:   c.TokenVersion,
			Scheme:         SchemeService,
			Scopes:         c.Scopes,
			ServiceTokenID: c.TokenID,
		}, nil

	case SchemeSession:
		c, err := a.Sessions.ValidateSession(ctx, raw)
		if err != nil {
			return Identity{}, err
		}
		if p.RequireCSRF && !safeMethod(r.Method) {
			if err := a.checkCSRF(r, c.SessionID); err != nil {
				return Identity{}, err
			}
		}
		return Identity{
			UserID:        c.UserID,
			Role:          c.Role,
			TokenVersion:  c.TokenVersion,
			SessionID:     c.SessionID,
			DeviceTokenID: c.DeviceTokenID,
			Scheme:        SchemeSession,
			Scopes:        c.Scopes,
		}, nil

	case SchemeBearer:
		c, err := a.Bearer.Verify(ctx, raw)
		if err != nil {
			return Identity{}, err
		}
		return Identity{
			UserID:        c.UserID,
			Role:          c.Role,
			TokenVersion:  c.TokenVersion,
			SessionID:     c.SessionID,
			DeviceTokenID: c.DeviceTokenID,
			Scheme:        SchemeBearer,
			Scopes:        []string{domain.ScopeAll},
		}, nil

	case SchemeDevice:
		c, err := a.Devices.ValidateDeviceToken(ctx, raw)
		if err != nil {
			return Identity{}, err
		}
		return Identity{
			UserID:        c.UserID,
			Role:          c.Role,
			TokenVersion:  c.TokenVersion,
			DeviceTokenID: c.DeviceTokenID,
			Scheme:        SchemeDevice,
			Scopes:        []string{domain.ScopeAll},
		}, nil
	}
	return Identity{}, ErrUnauthenticated
}

func (a *Authenticator) checkCSRF(r *http.Request, sessionID string) error {
	token := r.Header.Get(authsdk.HeaderCSRF)
	if token == "" {
		return ErrMissingCSRF
	}
	if !a.CSRF.Verify(token, sessionID) {
		return ErrCSRFMismatch
	}
	return nil
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

// Require authenticates every request against p, checks scopes, and stores
// the Identity in the request context for the next handler.
func (a *Authenticator) Require(p Policy, scopes ...string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := a.Authenticate(r, p)
			if err != nil {
				FromError(err).WriteError(w)
				return
			}

			if missing, lacking := id.MissingScope(scopes...); lacking {
				slogx.FromContext(r.Context()).Info("insufficient scope",
					"user_id", id.UserID, "scheme", id.Scheme, "required_scope", missing)
				InsufficientScope(missing).WriteError(w)
				return
			}

			ctx := WithIdentity(r.Context(), id)
			ctx = slogx.With(ctx, "user_id", id.UserID, "auth_scheme", string(id.Scheme))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin rejects callers without the admin role. Use after Require.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			ErrUnauthenticated.WriteError(w)
			return
		}
		if !id.IsAdmin() {
			ErrForbidden.WriteError(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}
