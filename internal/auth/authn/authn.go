// Package authn resolves the caller of an HTTP request from one of several
// credential schemes and enforces per-route policy on top of the result.
package authn

import (
	"context"
	"strings"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
)

// Scheme names a way a request can carry a credential.
type Scheme string

const (
	// SchemeService is "Authorization: Bearer mcp_...".
	SchemeService Scheme = "service"
	// SchemeSession is the session cookie.
	SchemeSession Scheme = "session"
	// SchemeBearer is any other "Authorization: Bearer" value, an EdDSA JWT.
	SchemeBearer Scheme = "bearer"
	// SchemeDevice is the X-Device-Token header.
	SchemeDevice Scheme = "device"
)

// Precedence is the fixed order schemes are tried in. It does not depend on
// the policy; a policy only removes schemes from it.
var Precedence = []Scheme{SchemeService, SchemeSession, SchemeBearer, SchemeDevice}

// SchemeSet is a set of allowed schemes.
type SchemeSet map[Scheme]struct{}

func NewSchemeSet(schemes ...Scheme) SchemeSet {
	s := make(SchemeSet, len(schemes))
	for _, sc := range schemes {
		s[sc] = struct{}{}
	}
	return s
}

func (s SchemeSet) Has(sc Scheme) bool {
	_, ok := s[sc]
	return ok
}

// Policy declares which schemes a route accepts and whether cookie sessions
// must also present a CSRF token on state-changing methods.
type Policy struct {
	Allow       SchemeSet
	RequireCSRF bool
}

// Allow returns a policy accepting schemes, without CSRF.
func Allow(schemes ...Scheme) Policy {
	return Policy{Allow: NewSchemeSet(schemes...)}
}

// WithCSRF returns a copy of p that requires CSRF for session credentials.
func (p Policy) WithCSRF() Policy {
	p.RequireCSRF = true
	return p
}

var (
	// AnyScheme accepts every credential type.
	AnyScheme = Allow(SchemeService, SchemeSession, SchemeBearer, SchemeDevice)
	// SessionOnly is for browser endpoints.
	SessionOnly = Allow(SchemeSession)
	// UserScheme is every scheme that acts with the full rights of the user.
	UserScheme = Allow(SchemeSession, SchemeBearer, SchemeDevice)
)

// Identity is the authenticated caller.
type Identity struct {
	UserID        string
	Role          string
	TokenVersion  int64
	SessionID     string
	DeviceTokenID string
	Scheme        Scheme

	// Scopes limit what the credential may do. "*" is unrestricted.
	Scopes []string

	// ServiceTokenID is set for the service scheme.
	ServiceTokenID string
}

// MissingScope returns the first required scope the identity lacks.
func (id Identity) MissingScope(required ...string) (string, bool) {
	missing, ok := service.RequireScopes(id.Scopes, required...)
	return missing, !ok
}

// IsAdmin reports whether the caller holds the admin role.
func (id Identity) IsAdmin() bool {
	return strings.EqualFold(id.Role, domain.RoleAdmin)
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity stored by Require.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
