package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers implement this.
// It exposes sub-repositories to keep concerns tidy and testable; a Tx hands
// out the same repositories bound to the transaction, and nested transactions
// are refused.
//
// No repository caches anything. Every read goes to the database so a revoke
// is visible to the very next validation.
type Store interface {
	Users() Users
	Sessions() Sessions
	DeviceTokens() DeviceTokens
	RefreshTokens() RefreshTokens
	ServiceTokens() ServiceTokens
	ExchangeCodes() ExchangeCodes
	RateLimits() RateLimits

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. Inside fn only
	// the tx store may be used.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// CreateUser inserts a new user (id is provided by app via ULID).
	// Duplicate username or email yields ErrAlreadyExists.
	CreateUser(ctx context.Context, u domain.User) error

	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// CountUsers is used to promote the very first account to admin.
	CountUsers(ctx context.Context) (int64, error)

	// GetTokenVersion reads the live token version.
	GetTokenVersion(ctx context.Context, userID string) (int64, error)

	// BumpTokenVersion atomically increments token_version and returns the
	// new value.
	BumpTokenVersion(ctx context.Context, userID string, now time.Time) (int64, error)

	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error
	UpdateMFASecret(ctx context.Context, userID, secret string, now time.Time) error
}

type Sessions interface {
	CreateSession(ctx context.Context, s domain.Session) error

	// GetSessionByTokenHash returns the session joined with its owner's live
	// role and token version, regardless of revocation or expiry.
	GetSessionByTokenHash(ctx context.Context, hash string) (domain.SessionWithUser, error)

	GetSessionByID(ctx context.Context, id string) (domain.Session, error)

	TouchSession(ctx context.Context, id string, now time.Time) error

	// RevokeSession flips revoked_at if still unset. Reports whether a row
	// changed.
	RevokeSession(ctx context.Context, id string, reason domain.RevokeReason, now time.Time) (bool, error)

	// RevokeUserSessions revokes every unrevoked session of a user.
	RevokeUserSessions(ctx context.Context, userID string, reason domain.RevokeReason, now time.Time) (int64, error)

	// RevokeDeviceSessions revokes every unrevoked session bound to a device token.
	RevokeDeviceSessions(ctx context.Context, deviceTokenID string, reason domain.RevokeReason, now time.Time) (int64, error)

	// DeleteExpiredSessions removes sessions whose expires_at is before cutoff.
	DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

type DeviceTokens interface {
	CreateDeviceToken(ctx context.Context, d domain.DeviceToken) error
	GetDeviceTokenByHash(ctx context.Context, hash string) (domain.DeviceToken, error)
	GetDeviceTokenByID(ctx context.Context, id string) (domain.DeviceToken, error)

	// ListActiveDeviceTokens returns the user's unrevoked, unexpired tokens,
	// newest first.
	ListActiveDeviceTokens(ctx context.Context, userID string, now time.Time) ([]domain.DeviceToken, error)

	// ListActiveForDevice returns the unrevoked tokens for one user/device pair.
	ListActiveForDevice(ctx context.Context, userID, deviceID string) ([]domain.DeviceToken, error)

	TouchDeviceToken(ctx context.Context, id string, now time.Time) error

	// RevokeDeviceToken flips revoked_at for the user's token if still unset.
	RevokeDeviceToken(ctx context.Context, id, userID string, reason domain.RevokeReason, now time.Time) (bool, error)

	DeleteExpiredDeviceTokens(ctx context.Context, cutoff time.Time) (int64, error)
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// ConsumeRefreshToken atomically deletes the token with this hash and
	// returns it. Exactly one concurrent caller sees the row.
	ConsumeRefreshToken(ctx context.Context, hash string) (domain.RefreshToken, error)

	DeleteDeviceRefreshTokens(ctx context.Context, deviceTokenID string) (int64, error)
	DeleteUserRefreshTokens(ctx context.Context, userID string) (int64, error)
	CountDeviceRefreshTokens(ctx context.Context, deviceTokenID string) (int64, error)
	DeleteExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error)
}

type ServiceTokens interface {
	CreateServiceToken(ctx context.Context, t domain.ServiceToken) error
	GetServiceTokenByHash(ctx context.Context, hash string) (domain.ServiceToken, error)
	ListUserServiceTokens(ctx context.Context, userID string) ([]domain.ServiceToken, error)
	TouchServiceToken(ctx context.Context, id string, now time.Time) error
	RevokeServiceToken(ctx context.Context, id, userID string, now time.Time) (bool, error)
}

type ExchangeCodes interface {
	CreateExchangeCode(ctx context.Context, c domain.ExchangeCode) error

	// ConsumeExchangeCode deletes an unexpired code and returns its sealed
	// payload in one statement. ErrNotFound when missing, expired or already
	// consumed.
	ConsumeExchangeCode(ctx context.Context, hash string, now time.Time) ([]byte, error)

	DeleteExpiredExchangeCodes(ctx context.Context, cutoff time.Time) (int64, error)
}

type RateLimits interface {
	// Hit counts one attempt against key in a fixed window and returns the
	// bucket after the increment. A window that started at or before
	// now-window is restarted at now.
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (domain.RateLimitBucket, error)

	Reset(ctx context.Context, key string) error

	// DeleteStaleRateLimits drops buckets whose window started before cutoff.
	DeleteStaleRateLimits(ctx context.Context, cutoff time.Time) (int64, error)
}
