package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

type sessionsRepo struct {
	db dbtx
}

const sessionColumns = `s.id, s.token_hash, s.user_id, s.subject_type, s.scopes, s.device_token_id,
	s.created_at, s.expires_at, s.created_by_ip, s.last_used_at, s.revoked_at, s.revoked_reason`

type sessionRow struct {
	s                   domain.Session
	scopes              string
	deviceID, reason    sql.NullString
	createdAt, expires  int64
	lastUsed, revokedAt sql.NullInt64
}

func (r *sessionRow) targets() []any {
	return []any{&r.s.ID, &r.s.TokenHash, &r.s.UserID, &r.s.SubjectType, &r.scopes, &r.deviceID,
		&r.createdAt, &r.expires, &r.s.CreatedByIP, &r.lastUsed, &r.revokedAt, &r.reason}
}

func (r *sessionRow) session() domain.Session {
	s := r.s
	s.Scopes = splitScopes(r.scopes)
	s.DeviceTokenID = mapNullString(r.deviceID)
	s.CreatedAt = fromMS(r.createdAt)
	s.ExpiresAt = fromMS(r.expires)
	s.LastUsedAt = fromNullMS(r.lastUsed)
	s.RevokedAt = fromNullMS(r.revokedAt)
	s.RevokedReason = domain.RevokeReason(mapNullString(r.reason))
	return s
}

func (r *sessionsRepo) CreateSession(ctx context.Context, s domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, token_hash, user_id, subject_type, scopes, device_token_id,
			created_at, expires_at, created_by_ip)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TokenHash, s.UserID, s.SubjectType, joinScopes(s.Scopes), mapStringNull(s.DeviceTokenID),
		toMS(s.CreatedAt), toMS(s.ExpiresAt), s.CreatedByIP,
	)
	return mapConstraint(err)
}

func (r *sessionsRepo) GetSessionByTokenHash(ctx context.Context, hash string) (domain.SessionWithUser, error) {
	var (
		row sessionRow
		out domain.SessionWithUser
	)
	dest := append(row.targets(), &out.Role, &out.TokenVersion)
	err := r.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`, u.role, u.token_version
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = ?`, hash,
	).Scan(dest...)
	if err != nil {
		return domain.SessionWithUser{}, mapNotFound(err)
	}
	out.Session = row.session()
	return out, nil
}

func (r *sessionsRepo) GetSessionByID(ctx context.Context, id string) (domain.Session, error) {
	var row sessionRow
	err := r.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id,
	).Scan(row.targets()...)
	if err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	return row.session(), nil
}

func (r *sessionsRepo) TouchSession(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET last_used_at = ? WHERE id = ? AND revoked_at IS NULL`,
		toMS(now), id)
	return err
}

func (r *sessionsRepo) RevokeSession(ctx context.Context, id string, reason domain.RevokeReason, now time.Time) (bool, error) {
	n, err := rowsAffected(r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = ?, revoked_reason = ?
		WHERE id = ? AND revoked_at IS NULL`,
		toMS(now), string(reason), id))
	return n > 0, err
}

func (r *sessionsRepo) RevokeUserSessions(ctx context.Context, userID string, reason domain.RevokeReason, now time.Time) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = ?, revoked_reason = ?
		WHERE user_id = ? AND revoked_at IS NULL`,
		toMS(now), string(reason), userID))
}

func (r *sessionsRepo) RevokeDeviceSessions(ctx context.Context, deviceTokenID string, reason domain.RevokeReason, now time.Time) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = ?, revoked_reason = ?
		WHERE device_token_id = ? AND revoked_at IS NULL`,
		toMS(now), string(reason), deviceTokenID))
}

func (r *sessionsRepo) DeleteExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at < ?`, toMS(cutoff)))
}
