package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/authcore/pkg/cryptox"
	"github.com/aussiebroadwan/authcore/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://auth.example.com"
	testAudience = "authcore"
	testPassword = "correct horse battery"
)

// harness wires every service over one in-memory store and a shared,
// adjustable clock.
type harness struct {
	Store    *sqlite.Store
	Sessions *service.SessionService
	Devices  *service.DeviceService
	Bearer   *service.BearerService
	Exchange *service.ExchangeService
	Tokens   *service.ServiceTokenService
	Limiter  *service.RateLimiter
	CSRF     *service.CSRFGuard
	Accounts *service.AccountService

	mu  sync.Mutex
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := sqlite.NewStore(sqlite.DSN(":memory:"))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	h := &harness{Store: st, now: time.Now().UTC().Truncate(time.Millisecond)}

	pemKey, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)
	signer, err := jwtx.NewSignerEdDSA("test-key", pemKey)
	require.NoError(t, err)
	keys := jwtx.NewKeySet()
	require.NoError(t, keys.AddSigner(signer))

	h.Bearer = &service.BearerService{
		Signer: signer,
		Verifier: jwtx.NewVerifier(keys, jwtx.VerifyOptions{
			Issuer:   testIssuer,
			Audience: []string{testAudience},
			Now:      h.Now,
		}),
		Store:    st,
		Issuer:   testIssuer,
		Audience: []string{testAudience},
		TTL:      15 * time.Minute,
		Now:      h.Now,
	}
	h.Sessions = &service.SessionService{Store: st, DefaultTTL: 24 * time.Hour, Now: h.Now}
	h.Devices = &service.DeviceService{Store: st, Bearer: h.Bearer, Now: h.Now}
	h.Exchange = &service.ExchangeService{Store: st, DefaultTTL: time.Minute, Now: h.Now}
	h.Tokens = &service.ServiceTokenService{Store: st, Now: h.Now}
	h.Limiter = &service.RateLimiter{Store: st, Now: h.Now}
	h.CSRF = &service.CSRFGuard{Secret: []byte("0123456789abcdef0123456789abcdef"), MaxAge: 24 * time.Hour, Now: h.Now}
	h.Accounts = &service.AccountService{
		Store:      st,
		Sessions:   h.Sessions,
		Devices:    h.Devices,
		Bearer:     h.Bearer,
		Exchange:   h.Exchange,
		CSRF:       h.CSRF,
		TOTPIssuer: "authcore-test",
		Now:        h.Now,
	}
	return h
}

func (h *harness) Now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) Advance(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(d)
}

func (h *harness) register(t *testing.T, username string) service.LoginResult {
	t.Helper()
	res, err := h.Accounts.Register(context.Background(), service.RegisterRequest{
		Username: username,
		Password: testPassword,
		IP:       "192.0.2.1",
	})
	require.NoError(t, err)
	return res
}

func (h *harness) nativeLogin(t *testing.T, username, deviceID string) service.NativeLoginResult {
	t.Helper()
	res, err := h.Accounts.NativeLogin(context.Background(), service.NativeLoginRequest{
		LoginRequest: service.LoginRequest{Username: username, Password: testPassword, IP: "192.0.2.1"},
		DeviceID:     deviceID,
		Platform:     "ios",
		DeviceName:   "phone",
	})
	require.NoError(t, err)
	return res
}
