package app

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is loaded from an optional .env file and the environment.
type Config struct {
	Issuer   string `mapstructure:"AUTH_ISSUER"`   // iss of bearer tokens (default: authcore)
	Audience string `mapstructure:"AUTH_AUDIENCE"` // comma-separated aud of bearer tokens (default: authcore)
	Port     int    `mapstructure:"PORT"`          // HTTP server port (default: 8080)

	DatabaseFile   string `mapstructure:"AUTH_DATABASE_FILE"`    // SQLite file, ":memory:" for tests (default: auth.db)
	PepperFile     string `mapstructure:"AUTH_PEPPER_FILE"`      // created on first start (default: pepper)
	SigningKeyFile string `mapstructure:"AUTH_SIGNING_KEY_FILE"` // Ed25519 PEM, created on first start; empty is ephemeral
	CSRFSecret     string `mapstructure:"AUTH_CSRF_SECRET"`      // base64, at least 32 bytes; empty is ephemeral

	SessionTTL      time.Duration `mapstructure:"AUTH_SESSION_TTL"`       // default: 168h, capped at 168h
	BearerTTL       time.Duration `mapstructure:"AUTH_BEARER_TTL"`        // default: 15m
	DeviceTokenTTL  time.Duration `mapstructure:"AUTH_DEVICE_TOKEN_TTL"`  // default: 2160h
	RefreshTTL      time.Duration `mapstructure:"AUTH_REFRESH_TTL"`       // default: 720h
	ExchangeCodeTTL time.Duration `mapstructure:"AUTH_EXCHANGE_CODE_TTL"` // default: 60s, capped at 5m

	CookieName   string `mapstructure:"AUTH_COOKIE_NAME"`   // default: authcore_session
	CookieSecure bool   `mapstructure:"AUTH_COOKIE_SECURE"` // default: true; disable for plain-HTTP development
	TrustProxy   bool   `mapstructure:"AUTH_TRUST_PROXY"`   // honour X-Forwarded-For for rate limit keys

	OIDCIssuer         string        `mapstructure:"AUTH_OIDC_ISSUER"`   // desktop sign-in is off when empty
	OIDCAudience       string        `mapstructure:"AUTH_OIDC_AUDIENCE"` // comma-separated
	OIDCJWKSURL        string        `mapstructure:"AUTH_OIDC_JWKS_URL"`
	OIDCTimeout        time.Duration `mapstructure:"AUTH_OIDC_TIMEOUT"` // default: 5s
	DesktopRedirectURI string        `mapstructure:"AUTH_DESKTOP_REDIRECT_URI"`

	Env                  string        `mapstructure:"ENV"`                   // dev, staging, prod (default: dev)
	LogLevel             string        `mapstructure:"LOG_LEVEL"`             // debug, info, warn, error (default: info)
	LogFormat            string        `mapstructure:"LOG_FORMAT"`            // json, text (default: json)
	ShutdownGracePeriod  time.Duration `mapstructure:"SHUTDOWN_GRACE_PERIOD"` // default: 10s
	HousekeepingInterval time.Duration `mapstructure:"HOUSEKEEPING_INTERVAL"` // default: 1h

	// LogOutput overrides stdout, e.g. io.Discard in tests.
	LogOutput io.Writer `mapstructure:"-"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("AUTH_ISSUER", "authcore")
	v.SetDefault("AUTH_AUDIENCE", "authcore")
	v.SetDefault("PORT", 8080)
	v.SetDefault("AUTH_DATABASE_FILE", "auth.db")
	v.SetDefault("AUTH_PEPPER_FILE", "pepper")
	v.SetDefault("AUTH_SIGNING_KEY_FILE", "signing_key.pem")
	v.SetDefault("AUTH_CSRF_SECRET", "")
	v.SetDefault("AUTH_SESSION_TTL", "168h")
	v.SetDefault("AUTH_BEARER_TTL", "15m")
	v.SetDefault("AUTH_DEVICE_TOKEN_TTL", "2160h")
	v.SetDefault("AUTH_REFRESH_TTL", "720h")
	v.SetDefault("AUTH_EXCHANGE_CODE_TTL", "60s")
	v.SetDefault("AUTH_COOKIE_NAME", "authcore_session")
	v.SetDefault("AUTH_COOKIE_SECURE", true)
	v.SetDefault("AUTH_TRUST_PROXY", false)
	v.SetDefault("AUTH_OIDC_ISSUER", "")
	v.SetDefault("AUTH_OIDC_AUDIENCE", "")
	v.SetDefault("AUTH_OIDC_JWKS_URL", "")
	v.SetDefault("AUTH_OIDC_TIMEOUT", "5s")
	v.SetDefault("AUTH_DESKTOP_REDIRECT_URI", "")
	v.SetDefault("ENV", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SHUTDOWN_GRACE_PERIOD", "10s")
	v.SetDefault("HOUSEKEEPING_INTERVAL", "1h")
}

// LoadConfig reads .env (if present), then the environment. Env vars override
// .env; a missing .env is ignored.
func LoadConfig() (Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultConfig is the configuration with every default applied and no
// environment read.
func DefaultConfig() Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return cfg
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT %d out of range", c.Port)
	}
	if c.DatabaseFile == "" {
		return errors.New("config: AUTH_DATABASE_FILE must be set")
	}
	if c.PepperFile == "" {
		return errors.New("config: AUTH_PEPPER_FILE must be set")
	}
	if c.BearerTTL <= 0 || c.SessionTTL <= 0 {
		return errors.New("config: AUTH_BEARER_TTL and AUTH_SESSION_TTL must be positive")
	}
	if c.OIDCIssuer != "" && (c.OIDCJWKSURL == "" || c.OIDCAudience == "") {
		return errors.New("config: AUTH_OIDC_JWKS_URL and AUTH_OIDC_AUDIENCE are required with AUTH_OIDC_ISSUER")
	}
	if c.CSRFSecret != "" {
		if _, err := c.csrfSecret(); err != nil {
			return err
		}
	}
	if !c.CookieSecure && c.Env == "prod" {
		return errors.New("config: AUTH_COOKIE_SECURE must not be false when ENV=prod")
	}
	return nil
}

func (c Config) csrfSecret() ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(c.CSRFSecret)
	if err != nil {
		return nil, fmt.Errorf("config: AUTH_CSRF_SECRET is not base64: %w", err)
	}
	if len(secret) < 32 {
		return nil, errors.New("config: AUTH_CSRF_SECRET must decode to at least 32 bytes")
	}
	return secret, nil
}

// AudienceList splits a comma-separated audience setting.
func AudienceList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
