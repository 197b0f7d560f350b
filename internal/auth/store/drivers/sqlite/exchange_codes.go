package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

type exchangeCodesRepo struct {
	db dbtx
}

func (r *exchangeCodesRepo) CreateExchangeCode(ctx context.Context, c domain.ExchangeCode) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exchange_codes (code_hash, sealed_payload, expires_at, created_at)
		VALUES (?, ?, ?, ?)`,
		c.CodeHash, c.SealedPayload, toMS(c.ExpiresAt), toMS(c.CreatedAt),
	)
	return mapConstraint(err)
}

// ConsumeExchangeCode is a single conditional DELETE ... RETURNING, so two
// concurrent callers can never both receive the payload.
func (r *exchangeCodesRepo) ConsumeExchangeCode(ctx context.Context, hash string, now time.Time) ([]byte, error) {
	var sealed []byte
	err := r.db.QueryRowContext(ctx, `
		DELETE FROM exchange_codes
		WHERE code_hash = ? AND expires_at > ?
		RETURNING sealed_payload`,
		hash, toMS(now),
	).Scan(&sealed)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return sealed, nil
}

func (r *exchangeCodesRepo) DeleteExpiredExchangeCodes(ctx context.Context, cutoff time.Time) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx,
		`DELETE FROM exchange_codes WHERE expires_at <= ?`, toMS(cutoff)))
}
