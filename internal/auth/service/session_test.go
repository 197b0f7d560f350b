package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/stretchr/testify/require"
)

func TestCreateAndValidateSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.register(t, "alice")

	sess, err := h.Sessions.CreateSession(ctx, service.NewSession{
		UserID:      alice.User.ID,
		Scopes:      []string{"queue:read"},
		TTL:         time.Hour,
		CreatedByIP: "198.51.100.7",
	})
	require.NoError(t, err)
	require.Contains(t, sess.Token, "ps_sess_")
	require.Equal(t, h.Now().Add(time.Hour), sess.ExpiresAt)

	claims, err := h.Sessions.ValidateSession(ctx, sess.Token)
	require.NoError(t, err)
	require.Equal(t, sess.ID, claims.SessionID)
	require.Equal(t, alice.User.ID, claims.UserID)
	require.Equal(t, domain.RoleAdmin, claims.Role)
	require.Equal(t, []string{"queue:read"}, claims.Scopes)

	stored, err := h.Store.Sessions().GetSessionByID(ctx, sess.ID)
	require.NoError(t, err)
	require.NotEqual(t, sess.Token, stored.TokenHash)
	require.NotNil(t, stored.LastUsedAt)
}

func TestCreateSession_ClampsTTL(t *testing.T) {
	h := newHarness(t)
	alice := h.register(t, "alice")

	sess, err := h.Sessions.CreateSession(context.Background(), service.NewSession{
		UserID: alice.User.ID,
		TTL:    30 * 24 * time.Hour,
	})
	require.NoError(t, err)
	require.Equal(t, h.Now().Add(service.MaxSessionTTL), sess.ExpiresAt)
}

func TestValidateSession_RevocationIsImmediate(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.register(t, "alice")
	token := alice.Session.Token

	_, err := h.Sessions.ValidateSession(ctx, token)
	require.NoError(t, err)

	require.NoError(t, h.Sessions.RevokeSession(ctx, alice.Session.ID, domain.RevokeUserAction))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Sessions.ValidateSession(ctx, token)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.ErrorIs(t, err, service.ErrSessionRevoked)
	}
}

func TestValidateSession_Failures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.register(t, "alice")

	t.Run("malformed", func(t *testing.T) {
		_, err := h.Sessions.ValidateSession(ctx, "not-a-session")
		require.ErrorIs(t, err, service.ErrMalformedToken)
		_, err = h.Sessions.ValidateSession(ctx, "ps_sess_")
		require.ErrorIs(t, err, service.ErrMalformedToken)
	})

	t.Run("forged prefix", func(t *testing.T) {
		_, err := h.Sessions.ValidateSession(ctx, "ps_sess_forged")
		require.ErrorIs(t, err, service.ErrSessionNotFound)
	})

	t.Run("expired", func(t *testing.T) {
		h.Advance(25 * time.Hour)
		_, err := h.Sessions.ValidateSession(ctx, alice.Session.Token)
		require.ErrorIs(t, err, service.ErrSessionExpired)
	})
}

func TestRevokeSession_KeepsFirstReason(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.register(t, "alice")

	require.NoError(t, h.Sessions.RevokeSession(ctx, alice.Session.ID, domain.RevokeUserAction))
	h.Advance(time.Minute)
	require.NoError(t, h.Sessions.RevokeSession(ctx, alice.Session.ID, domain.RevokeAdminAction))

	got, err := h.Store.Sessions().GetSessionByID(ctx, alice.Session.ID)
	require.NoError(t, err)
	require.Equal(t, domain.RevokeUserAction, got.RevokedReason)
	require.Equal(t, h.Now().Add(-time.Minute), *got.RevokedAt)
}

func TestRevokeAllUserSessions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")

	for range 3 {
		_, err := h.Sessions.CreateSession(ctx, service.NewSession{UserID: alice.User.ID})
		require.NoError(t, err)
	}

	n, err := h.Sessions.RevokeAllUserSessions(ctx, alice.User.ID, domain.RevokeUserAction)
	require.NoError(t, err)
	require.Equal(t, int64(4), n)

	_, err = h.Sessions.ValidateSession(ctx, bob.Session.Token)
	require.NoError(t, err)
}
