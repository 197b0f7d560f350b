package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/authcore/pkg/idx"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.NewStore(sqlite.DSN(":memory:"))
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedUser(t *testing.T, st store.Store, username string) domain.User {
	t.Helper()
	now := time.Now().UTC()
	u := domain.User{
		ID:           idx.New().String(),
		Username:     username,
		PasswordHash: "x",
		Role:         domain.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, st.Users().CreateUser(context.Background(), u))
	return u
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.ApplyMigrations())
	require.NoError(t, st.Ping(context.Background()))

	version, dirty, err := st.SchemaVersion()
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(1), version)
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "alice")

	got, err := st.Users().GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)
	require.Equal(t, int64(0), got.TokenVersion)
	require.Empty(t, got.Email)

	dup := u
	dup.ID = idx.New().String()
	require.ErrorIs(t, st.Users().CreateUser(ctx, dup), store.ErrAlreadyExists)

	_, err = st.Users().GetUserByID(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	v, err := st.Users().BumpTokenVersion(ctx, u.ID, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(1), v)
	v, err = st.Users().BumpTokenVersion(ctx, u.ID, time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(2), v)

	live, err := st.Users().GetTokenVersion(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), live)

	_, err = st.Users().BumpTokenVersion(ctx, "missing", time.Now())
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessions_RevokeIsMonotonic(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "bob")
	now := time.Now().UTC()

	s := domain.Session{
		ID:          idx.New().String(),
		TokenHash:   "hash-1",
		UserID:      u.ID,
		SubjectType: domain.SubjectUser,
		Scopes:      []string{"*"},
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}
	require.NoError(t, st.Sessions().CreateSession(ctx, s))

	got, err := st.Sessions().GetSessionByTokenHash(ctx, "hash-1")
	require.NoError(t, err)
	require.True(t, got.Usable(now))
	require.Equal(t, domain.RoleUser, got.Role)
	require.Equal(t, []string{"*"}, got.Scopes)

	changed, err := st.Sessions().RevokeSession(ctx, s.ID, domain.RevokeUserAction, now)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = st.Sessions().RevokeSession(ctx, s.ID, domain.RevokeAdminAction, now.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, changed, "already revoked sessions are left alone")

	got, err = st.Sessions().GetSessionByTokenHash(ctx, "hash-1")
	require.NoError(t, err)
	require.False(t, got.Usable(now))
	require.Equal(t, domain.RevokeUserAction, got.RevokedReason)
}

func TestRateLimits_ConcurrentHitsAreNotLost(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	const n = 40
	var wg sync.WaitGroup
	counts := make(chan int, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, err := st.RateLimits().Hit(ctx, "login:alice", 15*time.Minute, now)
			require.NoError(t, err)
			counts <- b.Count
		}()
	}
	wg.Wait()
	close(counts)

	seen := make(map[int]bool, n)
	for c := range counts {
		require.False(t, seen[c], "count %d observed twice", c)
		seen[c] = true
	}
	require.Len(t, seen, n)
	require.True(t, seen[n])
}

func TestRateLimits_WindowRestartsAndReset(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	start := time.Now().UTC()

	for i := 1; i <= 3; i++ {
		b, err := st.RateLimits().Hit(ctx, "k", time.Minute, start.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.Equal(t, i, b.Count)
		require.WithinDuration(t, start.Add(time.Second), b.WindowStart, time.Millisecond)
	}

	b, err := st.RateLimits().Hit(ctx, "k", time.Minute, start.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, b.Count, "a stale window restarts at one")

	require.NoError(t, st.RateLimits().Reset(ctx, "k"))
	b, err = st.RateLimits().Hit(ctx, "k", time.Minute, start.Add(2*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, b.Count)
}

func TestExchangeCodes_ConcurrentConsumeOnce(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, st.ExchangeCodes().CreateExchangeCode(ctx, domain.ExchangeCode{
		CodeHash:      "code-hash",
		SealedPayload: []byte("sealed"),
		ExpiresAt:     now.Add(time.Minute),
		CreatedAt:     now,
	}))

	const n = 20
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, err := st.ExchangeCodes().ConsumeExchangeCode(ctx, "code-hash", now)
			if err == nil {
				require.Equal(t, []byte("sealed"), payload)
				winners.Add(1)
				return
			}
			require.ErrorIs(t, err, store.ErrNotFound)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), winners.Load())
}

func TestExchangeCodes_ExpiredNotRetrievable(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Now().UTC()

	require.NoError(t, st.ExchangeCodes().CreateExchangeCode(ctx, domain.ExchangeCode{
		CodeHash:      "old",
		SealedPayload: []byte("sealed"),
		ExpiresAt:     now.Add(-time.Second),
		CreatedAt:     now.Add(-time.Minute),
	}))

	_, err := st.ExchangeCodes().ConsumeExchangeCode(ctx, "old", now)
	require.ErrorIs(t, err, store.ErrNotFound)

	n, err := st.ExchangeCodes().DeleteExpiredExchangeCodes(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
}

func TestRefreshTokens_CascadeOnDeviceDelete(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "carol")
	now := time.Now().UTC()

	dev := domain.DeviceToken{
		ID:        idx.New().String(),
		TokenHash: "dev-hash",
		UserID:    u.ID,
		DeviceID:  "iphone-1",
		Platform:  "ios",
		CreatedAt: now,
		ExpiresAt: now.Add(-time.Second),
	}
	require.NoError(t, st.DeviceTokens().CreateDeviceToken(ctx, dev))
	for i := range 3 {
		require.NoError(t, st.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
			ID:            idx.New().String(),
			TokenHash:     "rt-" + string(rune('a'+i)),
			DeviceTokenID: dev.ID,
			UserID:        u.ID,
			ExpiresAt:     now.Add(time.Hour),
			CreatedAt:     now,
		}))
	}

	rt, err := st.RefreshTokens().ConsumeRefreshToken(ctx, "rt-a")
	require.NoError(t, err)
	require.Equal(t, dev.ID, rt.DeviceTokenID)
	_, err = st.RefreshTokens().ConsumeRefreshToken(ctx, "rt-a")
	require.ErrorIs(t, err, store.ErrNotFound)

	// Expired device swept: foreign key cascade removes its refresh tokens.
	n, err := st.DeviceTokens().DeleteExpiredDeviceTokens(ctx, now)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	left, err := st.RefreshTokens().CountDeviceRefreshTokens(ctx, dev.ID)
	require.NoError(t, err)
	require.Zero(t, left)
}

func TestServiceTokens(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "dave")
	now := time.Now().UTC()

	tok := domain.ServiceToken{
		ID:        idx.New().String(),
		TokenHash: "svc-hash",
		UserID:    u.ID,
		Name:      "ci",
		Scopes:    []string{"queue:read", "avatars:write"},
		CreatedAt: now,
	}
	require.NoError(t, st.ServiceTokens().CreateServiceToken(ctx, tok))

	got, err := st.ServiceTokens().GetServiceTokenByHash(ctx, "svc-hash")
	require.NoError(t, err)
	require.Equal(t, tok.Scopes, got.Scopes)
	require.Nil(t, got.RevokedAt)

	ok, err := st.ServiceTokens().RevokeServiceToken(ctx, tok.ID, "someone-else", now)
	require.NoError(t, err)
	require.False(t, ok, "only the owner can revoke")

	ok, err = st.ServiceTokens().RevokeServiceToken(ctx, tok.ID, u.ID, now)
	require.NoError(t, err)
	require.True(t, ok)

	list, err := st.ServiceTokens().ListUserServiceTokens(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	st := sqlite.NewStoreFromDB(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE sessions SET revoked_at").
		WithArgs(sqlmock.AnyArg(), "user_action", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectRollback()

	err = st.WithTx(context.Background(), func(tx store.Tx) error {
		n, err := tx.Sessions().RevokeUserSessions(context.Background(), "user-1", domain.RevokeUserAction, time.Now())
		require.NoError(t, err)
		require.Equal(t, int64(2), n)
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_NestedRefused(t *testing.T) {
	st := newTestStore(t)
	err := st.WithTx(context.Background(), func(tx store.Tx) error {
		return tx.WithTx(context.Background(), func(store.Tx) error { return nil })
	})
	require.Error(t, err)
}
