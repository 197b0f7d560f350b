package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
	"github.com/aussiebroadwan/authcore/internal/auth/store"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `id, username, email, password_hash, role, token_version, mfa_secret, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var (
		u                    domain.User
		email, mfa           sql.NullString
		createdAt, updatedAt int64
	)
	err := row.Scan(&u.ID, &u.Username, &email, &u.PasswordHash, &u.Role,
		&u.TokenVersion, &mfa, &createdAt, &updatedAt)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.Email = mapNullString(email)
	u.MFASecret = mapNullString(mfa)
	u.CreatedAt = fromMS(createdAt)
	u.UpdatedAt = fromMS(updatedAt)
	return u, nil
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, mapStringNull(u.Email), u.PasswordHash, u.Role,
		u.TokenVersion, mapStringNull(u.MFASecret), toMS(u.CreatedAt), toMS(u.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func (r *usersRepo) GetUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email))
}

func (r *usersRepo) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (r *usersRepo) GetTokenVersion(ctx context.Context, userID string) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx,
		`SELECT token_version FROM users WHERE id = ?`, userID).Scan(&v)
	return v, mapNotFound(err)
}

func (r *usersRepo) BumpTokenVersion(ctx context.Context, userID string, now time.Time) (int64, error) {
	var v int64
	err := r.db.QueryRowContext(ctx, `
		UPDATE users
		SET token_version = token_version + 1, updated_at = ?
		WHERE id = ?
		RETURNING token_version`,
		toMS(now), userID,
	).Scan(&v)
	return v, mapNotFound(err)
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	n, err := rowsAffected(r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		hash, toMS(now), userID))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *usersRepo) UpdateMFASecret(ctx context.Context, userID, secret string, now time.Time) error {
	n, err := rowsAffected(r.db.ExecContext(ctx,
		`UPDATE users SET mfa_secret = ?, updated_at = ? WHERE id = ?`,
		mapStringNull(secret), toMS(now), userID))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
