package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/authn"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/httpx"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/aussiebroadwan/authcore/pkg/slogx"

	_ "github.com/aussiebroadwan/authcore/api/authcore" // Swagger docs
	httpSwagger "github.com/swaggo/http-swagger"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	keys         *jwtx.KeySet
	buildVersion string
	startTime    time.Time
	logger       *slog.Logger
	store        store.Store

	Accounts      *service.AccountService
	Devices       *service.DeviceService
	ServiceTokens *service.ServiceTokenService
	Exchange      *service.ExchangeService
	Limiter       *service.RateLimiter
	CSRF          *service.CSRFGuard
	Authn         *authn.Authenticator

	Cookie             CookieConfig
	TrustProxy         bool
	DesktopRedirectURI string
}

func NewRouter(
	keys *jwtx.KeySet,
	buildVersion string,
	st store.Store,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		keys:         keys,
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

// ApplyRoutes registers every route. Services and Authn must be set first.
func (r *Router) ApplyRoutes() {
	b := base{Limiter: r.Limiter, Validate: newValidator(), TrustProxy: r.TrustProxy}

	r.registerAuth(b)
	r.registerSession(b)
	r.registerDevices(b)
	r.registerServiceTokens(b)
	r.registerAdmin()
	r.registerSystem()

	r.Mux.Handle("/swagger/", httpSwagger.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global middleware chain.
//
//	@title			authcore API
//	@version		0.1.0
//	@description	Request authentication and session lifecycle: browser sessions with CSRF protection,
//	@description	native device tokens with rotating refresh tokens, scoped service tokens and one-time
//	@description	exchange codes for desktop sign-in.
//
//	@contact.name				AussieBroadWAN Team
//	@contact.url				https://github.com/aussiebroadwan/authcore
//
//	@license.name				MIT
//	@license.url				https://opensource.org/licenses/MIT
//
//	@host						localhost:8080
//	@BasePath					/
//
//	@schemes					http https
//
//	@securityDefinitions.apikey	SessionCookie
//	@in							header
//	@name						Cookie
//	@description				Session cookie set by login, register, exchange or password change.
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				EdDSA access token or "mcp_" service token. Format: "Bearer {token}".
//
//	@securityDefinitions.apikey	DeviceToken
//	@in							header
//	@name						X-Device-Token
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

// Route policies. Session credentials must carry CSRF on every mutating route.
var (
	userWrite    = authn.UserScheme.WithCSRF()
	accountWrite = authn.Allow(authn.SchemeSession, authn.SchemeBearer).WithCSRF()
	sessionWrite = authn.SessionOnly.WithCSRF()
)

func (r *Router) registerAuth(b base) {
	login := &LoginHandler{base: b, Accounts: r.Accounts, Cookie: r.Cookie}
	exchange := &ExchangeHandler{
		base:               b,
		Accounts:           r.Accounts,
		Exchange:           r.Exchange,
		Devices:            r.Devices,
		Cookie:             r.Cookie,
		DesktopRedirectURI: r.DesktopRedirectURI,
	}

	// Credential-issuing endpoints are throttled inside the handlers by the
	// database-backed limiter, keyed by client address.
	r.Mux.HandleFunc("POST /v1/auth/register", login.HandleRegister)
	r.Mux.HandleFunc("POST /v1/auth/login", login.HandleLogin)
	r.Mux.HandleFunc("POST /v1/auth/native", login.HandleNativeLogin)
	r.Mux.HandleFunc("POST /v1/auth/refresh", exchange.HandleRefresh)
	r.Mux.HandleFunc("POST /v1/auth/exchange", exchange.HandleExchange)
	r.Mux.HandleFunc("POST /v1/auth/oidc/desktop", exchange.HandleDesktopSignIn)
}

func (r *Router) registerSession(b base) {
	h := &SessionHandler{base: b, Accounts: r.Accounts, CSRF: r.CSRF, Cookie: r.Cookie}

	r.Mux.Handle("GET /v1/auth/me",
		httpx.Chain(http.HandlerFunc(h.HandleMe), r.Authn.Require(authn.AnyScheme)))
	r.Mux.Handle("GET /v1/auth/csrf",
		httpx.Chain(http.HandlerFunc(h.HandleCSRF), r.Authn.Require(authn.SessionOnly)))
	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout), r.Authn.Require(sessionWrite)))
	r.Mux.Handle("POST /v1/auth/logout-all",
		httpx.Chain(http.HandlerFunc(h.HandleLogoutAll), r.Authn.Require(accountWrite)))
	r.Mux.Handle("POST /v1/auth/password",
		httpx.Chain(http.HandlerFunc(h.HandleChangePassword), r.Authn.Require(accountWrite)))
	r.Mux.Handle("POST /v1/auth/mfa/totp",
		httpx.Chain(http.HandlerFunc(h.HandleEnrollTOTP), r.Authn.Require(accountWrite)))
	r.Mux.Handle("POST /v1/auth/mfa/totp/confirm",
		httpx.Chain(http.HandlerFunc(h.HandleConfirmTOTP), r.Authn.Require(accountWrite)))
}

func (r *Router) registerDevices(b base) {
	h := &DevicesHandler{base: b, Devices: r.Devices}

	r.Mux.Handle("GET /v1/devices",
		httpx.Chain(http.HandlerFunc(h.HandleList), r.Authn.Require(authn.UserScheme)))
	r.Mux.Handle("DELETE /v1/devices/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleRevoke), r.Authn.Require(userWrite)))
}

func (r *Router) registerServiceTokens(b base) {
	h := &ServiceTokensHandler{base: b, Tokens: r.ServiceTokens}

	r.Mux.Handle("POST /v1/service-tokens",
		httpx.Chain(http.HandlerFunc(h.HandleCreate), r.Authn.Require(accountWrite)))
	r.Mux.Handle("GET /v1/service-tokens",
		httpx.Chain(http.HandlerFunc(h.HandleList), r.Authn.Require(accountWrite)))
	r.Mux.Handle("DELETE /v1/service-tokens/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleRevoke), r.Authn.Require(accountWrite)))
}

func (r *Router) registerAdmin() {
	h := &AdminHandler{Accounts: r.Accounts}

	r.Mux.Handle("POST /v1/admin/users/{id}/logout",
		httpx.Chain(http.HandlerFunc(h.HandleForceLogout),
			r.Authn.Require(accountWrite),
			authn.RequireAdmin,
		),
	)
}

func (r *Router) registerSystem() {
	// Probes are polled often and carry no credentials; the in-memory limiter
	// is enough.
	health := httpx.RateLimitMiddleware(httpx.HealthLimit, httpx.IPKeyExtractor(r.TrustProxy))

	h := &HealthHandler{Started: r.startTime, Version: r.buildVersion, Store: r.store, Keys: r.keys}

	r.Mux.Handle("GET /livez", httpx.Chain(http.HandlerFunc(h.HandleLive), health))
	r.Mux.Handle("GET /readyz", httpx.Chain(http.HandlerFunc(h.HandleReady), health))
}
