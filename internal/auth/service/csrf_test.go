package service_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/stretchr/testify/require"
)

func TestCSRF_BoundToSession(t *testing.T) {
	h := newHarness(t)

	tokA := h.CSRF.Generate("session-a")
	require.True(t, h.CSRF.Verify(tokA, "session-a"))
	require.False(t, h.CSRF.Verify(tokA, "session-b"))
	require.False(t, h.CSRF.Verify(h.CSRF.Generate("session-b"), "session-a"))
}

func TestCSRF_Freshness(t *testing.T) {
	h := newHarness(t)
	tok := h.CSRF.Generate("s1")

	h.Advance(23 * time.Hour)
	require.True(t, h.CSRF.Verify(tok, "s1"))

	h.Advance(2 * time.Hour)
	require.False(t, h.CSRF.Verify(tok, "s1"))

	future := &service.CSRFGuard{Secret: h.CSRF.Secret, MaxAge: time.Hour, Now: func() time.Time {
		return h.Now().Add(time.Hour)
	}}
	require.False(t, h.CSRF.Verify(future.Generate("s1"), "s1"))
}

func TestCSRF_RejectsGarbage(t *testing.T) {
	h := newHarness(t)
	tok := h.CSRF.Generate("s1")
	ts, sig, _ := strings.Cut(tok, ".")

	for _, bad := range []string{
		"",
		"no-dot",
		"." + sig,
		ts + ".",
		"abc." + sig,
		ts + "." + sig[:len(sig)-1],
	} {
		require.False(t, h.CSRF.Verify(bad, "s1"), "token %q", bad)
	}

	other := &service.CSRFGuard{Secret: []byte("another secret"), Now: h.Now}
	require.False(t, other.Verify(tok, "s1"))

	noSecret := &service.CSRFGuard{Now: h.Now}
	require.False(t, noSecret.Verify(noSecret.Generate("s1"), "s1"))
}
