package service_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aussiebroadwan/authcore/internal/auth/service"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

func TestServiceTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	alice := h.register(t, "alice")
	bob := h.register(t, "bob")

	issued, err := h.Tokens.Issue(ctx, alice.User.ID, "ci", []string{"queue:read", " queue:read ", "avatars:write"})
	require.NoError(t, err)
	require.Contains(t, issued.Token, "mcp_")
	require.Equal(t, []string{"queue:read", "avatars:write"}, issued.Scopes)

	claims, err := h.Tokens.Validate(ctx, issued.Token)
	require.NoError(t, err)
	require.Equal(t, issued.ID, claims.TokenID)
	require.Equal(t, alice.User.ID, claims.UserID)
	require.Equal(t, issued.Scopes, claims.Scopes)

	list, err := h.Tokens.List(ctx, alice.User.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].LastUsedAt)

	require.ErrorIs(t, h.Tokens.Revoke(ctx, issued.ID, bob.User.ID), service.ErrNotFound)
	require.NoError(t, h.Tokens.Revoke(ctx, issued.ID, alice.User.ID))
	require.NoError(t, h.Tokens.Revoke(ctx, issued.ID, alice.User.ID))

	_, err = h.Tokens.Validate(ctx, issued.Token)
	require.ErrorIs(t, err, service.ErrServiceTokenRevoked)

	_, err = h.Tokens.Validate(ctx, "mcp_forged")
	require.ErrorIs(t, err, service.ErrServiceTokenNotFound)

	_, err = h.Tokens.Issue(ctx, alice.User.ID, "empty", []string{" "})
	require.ErrorIs(t, err, service.ErrNoScopes)
}

func TestServiceTokenValidate_PrefixCheckedBeforeStore(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	tokens := &service.ServiceTokenService{Store: sqlite.NewStoreFromDB(db)}
	for _, tok := range []string{"", "mcp_", "ps_sess_abc", "Bearer mcp_abc"} {
		_, err := tokens.Validate(context.Background(), tok)
		require.ErrorIs(t, err, service.ErrMalformedToken, "token %q", tok)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequireScopes(t *testing.T) {
	tests := []struct {
		name     string
		granted  []string
		required []string
		missing  string
		ok       bool
	}{
		{"wildcard", []string{"*"}, []string{"avatars:write"}, "", true},
		{"exact", []string{"queue:read", "avatars:write"}, []string{"avatars:write"}, "", true},
		{"missing", []string{"queue:read"}, []string{"queue:read", "avatars:write"}, "avatars:write", false},
		{"nothing required", nil, nil, "", true},
		{"nothing granted", nil, []string{"queue:read"}, "queue:read", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			missing, ok := service.RequireScopes(tt.granted, tt.required...)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.missing, missing)
		})
	}
}
