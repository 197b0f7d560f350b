package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

type serviceTokensRepo struct {
	db dbtx
}

const serviceTokenColumns = `id, token_hash, user_id, name, scopes, created_at, last_used_at, revoked_at`

func scanServiceToken(row interface{ Scan(...any) error }) (domain.ServiceToken, error) {
	var (
		t                   domain.ServiceToken
		scopes              string
		createdAt           int64
		lastUsed, revokedAt sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.TokenHash, &t.UserID, &t.Name, &scopes, &createdAt, &lastUsed, &revokedAt)
	if err != nil {
		return domain.ServiceToken{}, mapNotFound(err)
	}
	t.Scopes = splitScopes(scopes)
	t.CreatedAt = fromMS(createdAt)
	t.LastUsedAt = fromNullMS(lastUsed)
	t.RevokedAt = fromNullMS(revokedAt)
	return t, nil
}

func (r *serviceTokensRepo) CreateServiceToken(ctx context.Context, t domain.ServiceToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO service_tokens (id, token_hash, user_id, name, scopes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.TokenHash, t.UserID, t.Name, joinScopes(t.Scopes), toMS(t.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *serviceTokensRepo) GetServiceTokenByHash(ctx context.Context, hash string) (domain.ServiceToken, error) {
	return scanServiceToken(r.db.QueryRowContext(ctx,
		`SELECT `+serviceTokenColumns+` FROM service_tokens WHERE token_hash = ?`, hash))
}

func (r *serviceTokensRepo) ListUserServiceTokens(ctx context.Context, userID string) ([]domain.ServiceToken, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+serviceTokenColumns+` FROM service_tokens
		WHERE user_id = ? AND revoked_at IS NULL
		ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.ServiceToken
	for rows.Next() {
		t, err := scanServiceToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *serviceTokensRepo) TouchServiceToken(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE service_tokens SET last_used_at = ? WHERE id = ?`, toMS(now), id)
	return err
}

func (r *serviceTokensRepo) RevokeServiceToken(ctx context.Context, id, userID string, now time.Time) (bool, error) {
	n, err := rowsAffected(r.db.ExecContext(ctx, `
		UPDATE service_tokens SET revoked_at = ?
		WHERE id = ? AND user_id = ? AND revoked_at IS NULL`,
		toMS(now), id, userID))
	return n > 0, err
}
