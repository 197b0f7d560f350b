package sqlite

import (
	"context"
	"database/sql"

	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

type txStore struct {
	tx *sql.Tx
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx}
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

func (t *txStore) Close() error { return nil } // caller commits or rolls back; the DB stays open

// Ping is a no-op for transactions; the connection is already held.
func (t *txStore) Ping(ctx context.Context) error {
	return nil
}

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	// Nested tx not supported
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

func (t *txStore) Users() store.Users                 { return &usersRepo{db: t.tx} }
func (t *txStore) Sessions() store.Sessions           { return &sessionsRepo{db: t.tx} }
func (t *txStore) DeviceTokens() store.DeviceTokens   { return &deviceTokensRepo{db: t.tx} }
func (t *txStore) RefreshTokens() store.RefreshTokens { return &refreshTokensRepo{db: t.tx} }
func (t *txStore) ServiceTokens() store.ServiceTokens { return &serviceTokensRepo{db: t.tx} }
func (t *txStore) ExchangeCodes() store.ExchangeCodes { return &exchangeCodesRepo{db: t.tx} }
func (t *txStore) RateLimits() store.RateLimits       { return &rateLimitsRepo{db: t.tx} }

func (t *txStore) ApplyMigrations() error { return nil } // migrations run before any tx
