package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

type deviceTokensRepo struct {
	db dbtx
}

const deviceTokenColumns = `id, token_hash, user_id, device_id, platform, device_name, token_version_snapshot,
	created_at, expires_at, last_used_at, revoked_at, revoked_reason`

func scanDeviceToken(row interface{ Scan(...any) error }) (domain.DeviceToken, error) {
	var (
		d                   domain.DeviceToken
		createdAt, expires  int64
		lastUsed, revokedAt sql.NullInt64
		reason              sql.NullString
	)
	err := row.Scan(&d.ID, &d.TokenHash, &d.UserID, &d.DeviceID, &d.Platform, &d.DeviceName,
		&d.TokenVersionSnapshot, &createdAt, &expires, &lastUsed, &revokedAt, &reason)
	if err != nil {
		return domain.DeviceToken{}, mapNotFound(err)
	}
	d.CreatedAt = fromMS(createdAt)
	d.ExpiresAt = fromMS(expires)
	d.LastUsedAt = fromNullMS(lastUsed)
	d.RevokedAt = fromNullMS(revokedAt)
	d.RevokedReason = domain.RevokeReason(mapNullString(reason))
	return d, nil
}

func (r *deviceTokensRepo) CreateDeviceToken(ctx context.Context, d domain.DeviceToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_tokens (id, token_hash, user_id, device_id, platform, device_name,
			token_version_snapshot, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.TokenHash, d.UserID, d.DeviceID, d.Platform, d.DeviceName,
		d.TokenVersionSnapshot, toMS(d.CreatedAt), toMS(d.ExpiresAt),
	)
	return mapConstraint(err)
}

func (r *deviceTokensRepo) GetDeviceTokenByHash(ctx context.Context, hash string) (domain.DeviceToken, error) {
	return scanDeviceToken(r.db.QueryRowContext(ctx,
		`SELECT `+deviceTokenColumns+` FROM device_tokens WHERE token_hash = ?`, hash))
}

func (r *deviceTokensRepo) GetDeviceTokenByID(ctx context.Context, id string) (domain.DeviceToken, error) {
	return scanDeviceToken(r.db.QueryRowContext(ctx,
		`SELECT `+deviceTokenColumns+` FROM device_tokens WHERE id = ?`, id))
}

func (r *deviceTokensRepo) list(ctx context.Context, query string, args ...any) ([]domain.DeviceToken, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.DeviceToken
	for rows.Next() {
		d, err := scanDeviceToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *deviceTokensRepo) ListActiveDeviceTokens(ctx context.Context, userID string, now time.Time) ([]domain.DeviceToken, error) {
	return r.list(ctx, `
		SELECT `+deviceTokenColumns+` FROM device_tokens
		WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC, id DESC`,
		userID, toMS(now))
}

func (r *deviceTokensRepo) ListActiveForDevice(ctx context.Context, userID, deviceID string) ([]domain.DeviceToken, error) {
	return r.list(ctx, `
		SELECT `+deviceTokenColumns+` FROM device_tokens
		WHERE user_id = ? AND device_id = ? AND revoked_at IS NULL`,
		userID, deviceID)
}

func (r *deviceTokensRepo) TouchDeviceToken(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE device_tokens SET last_used_at = ? WHERE id = ? AND revoked_at IS NULL`,
		toMS(now), id)
	return err
}

func (r *deviceTokensRepo) RevokeDeviceToken(ctx context.Context, id, userID string, reason domain.RevokeReason, now time.Time) (bool, error) {
	n, err := rowsAffected(r.db.ExecContext(ctx, `
		UPDATE device_tokens SET revoked_at = ?, revoked_reason = ?
		WHERE id = ? AND user_id = ? AND revoked_at IS NULL`,
		toMS(now), string(reason), id, userID))
	return n > 0, err
}

func (r *deviceTokensRepo) DeleteExpiredDeviceTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx,
		`DELETE FROM device_tokens WHERE expires_at < ?`, toMS(cutoff)))
}
