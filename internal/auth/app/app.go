package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/authn"
	httpapi "github.com/aussiebroadwan/authcore/internal/auth/http"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the auth service application with all its dependencies
type Application struct {
	cfg    Config
	logger *slog.Logger

	// Core dependencies
	db   store.Store
	keys *AuthKeys

	// Services
	sessions      *service.SessionService
	bearer        *service.BearerService
	devices       *service.DeviceService
	serviceTokens *service.ServiceTokenService
	exchange      *service.ExchangeService
	limiter       *service.RateLimiter
	csrf          *service.CSRFGuard
	accounts      *service.AccountService
	housekeeping  *service.HousekeepingService
	authenticator *authn.Authenticator

	// HTTP server
	server *http.Server
	router *httpapi.Router
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authcore",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Output:  cfg.LogOutput,
		}),
	}

	keys, err := InitAuthKeys(cfg, app.logger)
	if err != nil {
		return nil, err
	}
	app.keys = keys

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	app.initServices()
	app.initHTTP()

	return app, nil
}

// Handler is the fully wired HTTP handler.
func (app *Application) Handler() http.Handler { return app.router }

// Router exposes the router so callers can mount extra routes behind the
// same authenticator.
func (app *Application) Router() *httpapi.Router { return app.router }

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.housekeeping.Start()

	app.logger.Info("authcore starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down authcore...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeeping.Stop()

	return app.Close()
}

// Close releases the database. Use Shutdown for a running server.
func (app *Application) Close() error {
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}
	app.logger.Info("authcore stopped")
	return nil
}

// initDatabase initializes the database and applies migrations
func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(sqlite.DSN(app.cfg.DatabaseFile))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	version, dirty, err := db.SchemaVersion()
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		_ = db.Close()
		return fmt.Errorf("database schema %d is dirty; a previous migration did not finish", version)
	}

	app.logger.Info("database migrations applied", "schema_version", version)
	return nil
}

// initServices initializes all business logic services
func (app *Application) initServices() {
	app.bearer = &service.BearerService{
		Signer:   app.keys.Signer,
		Verifier: app.keys.Verifier,
		Store:    app.db,
		Issuer:   app.cfg.Issuer,
		Audience: AudienceList(app.cfg.Audience),
		TTL:      app.cfg.BearerTTL,
	}
	app.sessions = &service.SessionService{Store: app.db, DefaultTTL: app.cfg.SessionTTL}
	app.devices = &service.DeviceService{
		Store:      app.db,
		TokenTTL:   app.cfg.DeviceTokenTTL,
		RefreshTTL: app.cfg.RefreshTTL,
		Bearer:     app.bearer,
	}
	app.serviceTokens = &service.ServiceTokenService{Store: app.db}
	app.exchange = &service.ExchangeService{Store: app.db, DefaultTTL: app.cfg.ExchangeCodeTTL}
	app.limiter = &service.RateLimiter{Store: app.db}
	app.csrf = &service.CSRFGuard{Secret: app.keys.CSRFSecret, MaxAge: service.MaxSessionTTL}

	var oidc *service.OIDCVerifier
	if app.cfg.OIDCIssuer != "" {
		oidc = &service.OIDCVerifier{
			Issuer:   app.cfg.OIDCIssuer,
			Audience: AudienceList(app.cfg.OIDCAudience),
			JWKSURL:  app.cfg.OIDCJWKSURL,
			Client:   &http.Client{Timeout: app.cfg.OIDCTimeout},
			Timeout:  app.cfg.OIDCTimeout,
		}
		app.logger.Info("desktop sign-in enabled", "oidc_issuer", app.cfg.OIDCIssuer)
	}

	app.accounts = &service.AccountService{
		Store:      app.db,
		Sessions:   app.sessions,
		Devices:    app.devices,
		Bearer:     app.bearer,
		Exchange:   app.exchange,
		CSRF:       app.csrf,
		OIDC:       oidc,
		TOTPIssuer: app.cfg.Issuer,
	}

	app.authenticator = &authn.Authenticator{
		Sessions:      app.sessions,
		Bearer:        app.bearer,
		Devices:       app.devices,
		ServiceTokens: app.serviceTokens,
		CSRF:          app.csrf,
		CookieName:    app.cfg.CookieName,
	}

	app.housekeeping = service.NewHousekeepingService(
		app.db,
		app.devices,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

// initHTTP initializes the HTTP router and server
func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keys.KeySet,
		BuildVersion,
		app.db,
		app.logger,
	)

	router.Accounts = app.accounts
	router.Devices = app.devices
	router.ServiceTokens = app.serviceTokens
	router.Exchange = app.exchange
	router.Limiter = app.limiter
	router.CSRF = app.csrf
	router.Authn = app.authenticator
	router.Cookie = httpapi.CookieConfig{Name: app.cfg.CookieName, Secure: app.cfg.CookieSecure}
	router.TrustProxy = app.cfg.TrustProxy
	router.DesktopRedirectURI = app.cfg.DesktopRedirectURI
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
