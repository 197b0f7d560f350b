package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/authcore/internal/auth/store"
	"github.com/aussiebroadwan/authcore/pkg/slogx"
)

// FailureMode decides what a policy does when the limiter backend errors.
type FailureMode int

const (
	// FailClosed denies the request with ErrLimiterUnavailable.
	FailClosed FailureMode = iota
	// FailOpen logs the error and lets the request through.
	FailOpen
)

func (m FailureMode) String() string {
	if m == FailOpen {
		return "fail_open"
	}
	return "fail_closed"
}

// Policy is a fixed window: at most Limit attempts per Window per key.
type Policy struct {
	Name        string
	Limit       int
	Window      time.Duration
	FailureMode FailureMode
}

// Credential-issuing endpoints fail closed; cosmetic throttles fail open.
var (
	LoginPolicy      = Policy{Name: "login", Limit: 5, Window: 15 * time.Minute, FailureMode: FailClosed}
	RegisterPolicy   = Policy{Name: "register", Limit: 5, Window: time.Hour, FailureMode: FailClosed}
	ExchangePolicy   = Policy{Name: "exchange", Limit: 10, Window: time.Minute, FailureMode: FailClosed}
	RefreshPolicy    = Policy{Name: "refresh", Limit: 30, Window: time.Minute, FailureMode: FailClosed}
	CSRFPolicy       = Policy{Name: "csrf", Limit: 60, Window: time.Minute, FailureMode: FailOpen}
	DeviceListPolicy = Policy{Name: "device_list", Limit: 60, Window: time.Minute, FailureMode: FailOpen}

	// Re-authentication by a signed-in user gets its own buckets so these
	// attempts never lock out sign-in.
	PasswordChangePolicy = Policy{Name: "password_change", Limit: 5, Window: 15 * time.Minute, FailureMode: FailClosed}
	TOTPConfirmPolicy    = Policy{Name: "totp_confirm", Limit: 5, Window: 15 * time.Minute, FailureMode: FailClosed}
)

// LongestWindow bounds how long a bucket can matter; housekeeping drops
// buckets older than this.
const LongestWindow = time.Hour

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter counts attempts in the shared database so every instance of
// the service sees the same buckets.
type RateLimiter struct {
	Store store.Store
	Now   func() time.Time
}

func bucketKey(p Policy, key string) string { return p.Name + ":" + key }

// Check counts one attempt for key under p and reports whether it is allowed.
func (l *RateLimiter) Check(ctx context.Context, key string, p Policy) (Decision, error) {
	now := clock(l.Now)

	b, err := l.Store.RateLimits().Hit(ctx, bucketKey(p, key), p.Window, now)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", p.Name, err)
	}

	d := Decision{
		Allowed:   b.Count <= p.Limit,
		Remaining: max(p.Limit-b.Count, 0),
	}
	if !d.Allowed {
		d.RetryAfter = max(b.WindowStart.Add(p.Window).Sub(now), time.Second)
	}
	return d, nil
}

// Reset clears the bucket for key, e.g. after a successful login.
func (l *RateLimiter) Reset(ctx context.Context, key string, p Policy) error {
	return l.Store.RateLimits().Reset(ctx, bucketKey(p, key))
}

// Guard runs Check and applies the policy's failure mode. It returns nil when
// the attempt may proceed, a *RateLimitedError when denied, or
// ErrLimiterUnavailable when a fail-closed backend is down.
func (l *RateLimiter) Guard(ctx context.Context, key string, p Policy) error {
	log := slogx.FromContext(ctx)

	d, err := l.Check(ctx, key, p)
	if err != nil {
		if p.FailureMode == FailOpen {
			log.Warn("rate limiter unavailable, allowing request",
				"policy", p.Name, "failure_mode", p.FailureMode.String(), "error", err)
			return nil
		}
		log.Error("rate limiter unavailable, denying request",
			"policy", p.Name, "failure_mode", p.FailureMode.String(), "error", err)
		return fmt.Errorf("%w: %v", ErrLimiterUnavailable, err)
	}

	if !d.Allowed {
		log.Warn("rate limit exceeded", "policy", p.Name, "retry_after", d.RetryAfter)
		return &RateLimitedError{Policy: p.Name, RetryAfter: d.RetryAfter}
	}
	return nil
}

// ResetQuietly clears a bucket, logging failures. A missed reset only costs
// the user a stricter window.
func (l *RateLimiter) ResetQuietly(ctx context.Context, key string, p Policy) {
	if err := l.Reset(ctx, key, p); err != nil {
		slogx.FromContext(ctx).Warn("rate limit reset failed", "policy", p.Name, "error", err)
	}
}
