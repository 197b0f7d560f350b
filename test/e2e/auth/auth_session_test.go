package auth_test

import (
	"net/http"
	"testing"

	"github.com/aussiebroadwan/authcore/pkg/authsdk"
	"github.com/stretchr/testify/require"
)

// TestBrowserSessionLifecycle walks a browser client through sign-in,
// CSRF-protected writes and sign-out.
func TestBrowserSessionLifecycle(t *testing.T) {
	client := setupAuthContainer(t, nil)
	ctx := t.Context()

	alice := registerUser(t, client, "alice")
	creds := alice.Credentials()

	me, err := alice.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "session", me.Scheme)
	require.Equal(t, "admin", me.Role, "the first account is an admin")

	_, err = alice.CreateServiceToken(ctx, "ci", []string{"profile:read"})
	require.NoError(t, err, "write with CSRF header should succeed")

	bare := client.NewSession(authsdk.Credentials{SessionToken: creds.SessionToken})
	_, err = bare.CreateServiceToken(ctx, "ci", []string{"profile:read"})
	assertAPIError(t, err, http.StatusForbidden, authsdk.ErrorCodeMissingCSRF)

	require.NoError(t, alice.Logout(ctx))

	_, err = bare.Me(ctx)
	assertAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeCredentialRevoked)
}

// TestLogoutEverywhere verifies that bumping the token version rejects
// bearer tokens that were issued earlier.
func TestLogoutEverywhere(t *testing.T) {
	client := setupAuthContainer(t, nil)
	ctx := t.Context()

	alice := registerUser(t, client, "alice")
	bearer := client.NewSession(authsdk.Credentials{AccessToken: alice.Credentials().AccessToken})

	_, err := bearer.Me(ctx)
	require.NoError(t, err)

	out, err := alice.LogoutAll(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, out.TokenVersion)

	_, err = bearer.Me(ctx)
	assertAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeTokenVersionMismatch)
}

// TestServiceTokenScopes verifies a service token authenticates as its
// owner and cannot reach account management.
func TestServiceTokenScopes(t *testing.T) {
	client := setupAuthContainer(t, nil)
	ctx := t.Context()

	alice := registerUser(t, client, "alice")
	tok, err := alice.CreateServiceToken(ctx, "mcp", []string{"profile:read"})
	require.NoError(t, err)
	require.Contains(t, tok.Token, "mcp_")

	svc := client.NewSession(authsdk.Credentials{ServiceToken: tok.Token})
	me, err := svc.Me(ctx)
	require.NoError(t, err)
	require.Equal(t, "service", me.Scheme)
	require.Equal(t, []string{"profile:read"}, me.Scopes)

	_, err = svc.ListServiceTokens(ctx)
	assertAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeUnauthenticated)

	require.NoError(t, alice.RevokeServiceToken(ctx, tok.ID))
	_, err = svc.Me(ctx)
	assertAPIError(t, err, http.StatusUnauthorized, authsdk.ErrorCodeCredentialRevoked)
}
