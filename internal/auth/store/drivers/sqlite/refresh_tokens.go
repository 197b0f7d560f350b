package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

type refreshTokensRepo struct {
	db dbtx
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, token_hash, device_token_id, user_id, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.TokenHash, t.DeviceTokenID, t.UserID, toMS(t.ExpiresAt), toMS(t.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *refreshTokensRepo) ConsumeRefreshToken(ctx context.Context, hash string) (domain.RefreshToken, error) {
	var (
		t                  domain.RefreshToken
		expires, createdAt int64
	)
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM refresh_tokens WHERE token_hash = ?
		RETURNING id, token_hash, device_token_id, user_id, expires_at, created_at`,
		hash,
	).Scan(&t.ID, &t.TokenHash, &t.DeviceTokenID, &t.UserID, &expires, &createdAt)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.ExpiresAt = fromMS(expires)
	t.CreatedAt = fromMS(createdAt)
	return t, nil
}

func (r *refreshTokensRepo) DeleteDeviceRefreshTokens(ctx context.Context, deviceTokenID string) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE device_token_id = ?`, deviceTokenID))
}

func (r *refreshTokensRepo) DeleteUserRefreshTokens(ctx context.Context, userID string) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = ?`, userID))
}

func (r *refreshTokensRepo) CountDeviceRefreshTokens(ctx context.Context, deviceTokenID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM refresh_tokens WHERE device_token_id = ?`, deviceTokenID).Scan(&n)
	return n, err
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < ?`, toMS(cutoff)))
}
