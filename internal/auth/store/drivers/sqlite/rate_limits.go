package sqlite

import (
	"context"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/domain"
)

type rateLimitsRepo struct {
	db dbtx
}

// Hit is one UPSERT ... RETURNING statement. The window reset and the
// increment happen inside SQLite, so concurrent callers sharing a key never
// lose an update.
func (r *rateLimitsRepo) Hit(ctx context.Context, key string, window time.Duration, now time.Time) (domain.RateLimitBucket, error) {
	nowMS := toMS(now)
	staleBefore := toMS(now.Add(-window))

	var (
		b           domain.RateLimitBucket
		windowStart int64
	)
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO rate_limits (bucket_key, count, window_start)
		VALUES (?, 1, ?)
		ON CONFLICT (bucket_key) DO UPDATE SET
			count = CASE WHEN rate_limits.window_start <= ? THEN 1 ELSE rate_limits.count + 1 END,
			window_start = CASE WHEN rate_limits.window_start <= ? THEN excluded.window_start ELSE rate_limits.window_start END
		RETURNING bucket_key, count, window_start`,
		key, nowMS, staleBefore, staleBefore,
	).Scan(&b.Key, &b.Count, &windowStart)
	if err != nil {
		return domain.RateLimitBucket{}, err
	}
	b.WindowStart = fromMS(windowStart)
	return b, nil
}

func (r *rateLimitsRepo) Reset(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE bucket_key = ?`, key)
	return err
}

func (r *rateLimitsRepo) DeleteStaleRateLimits(ctx context.Context, cutoff time.Time) (int64, error) {
	return rowsAffected(r.db.ExecContext(ctx,
		`DELETE FROM rate_limits WHERE window_start < ?`, toMS(cutoff)))
}
