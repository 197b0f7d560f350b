package httpx

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/slogx"
	"golang.org/x/time/rate"
)

// RateLimitConfig is a token bucket per key, held in process memory.
//
// Buckets are per process and forgotten on restart, so this only guards
// cheap public endpoints (health checks). Credential-issuing endpoints use the
// database-backed limiter in the auth service.
type RateLimitConfig struct {
	Rate  rate.Limit // sustained requests per second
	Burst int

	// IdleTTL drops buckets untouched for this long. Zero keeps them for
	// five minutes.
	IdleTTL time.Duration
}

// HealthLimit for /livez and /readyz: 600 per minute with bursts of 60.
var HealthLimit = RateLimitConfig{
	Rate:  rate.Every(100 * time.Millisecond),
	Burst: 60,
}

// KeyExtractor returns the bucket key for a request. An empty key bypasses
// the limiter.
type KeyExtractor func(*http.Request) string

// IPKeyExtractor groups requests by client address.
func IPKeyExtractor(trustProxy bool) KeyExtractor {
	return func(r *http.Request) string { return ClientIP(r, trustProxy) }
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// keyedLimiter owns one bucket per key and sweeps idle ones on the way.
type keyedLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func newKeyedLimiter(cfg RateLimitConfig, now func() time.Time) *keyedLimiter {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 5 * time.Minute
	}
	return &keyedLimiter{cfg: cfg, now: now, buckets: make(map[string]*bucket), lastSweep: now()}
}

// take spends one token for key. When none is left it reports how long
// until the next one.
func (k *keyedLimiter) take(key string) (bool, time.Duration) {
	now := k.now()

	k.mu.Lock()
	defer k.mu.Unlock()

	if now.Sub(k.lastSweep) >= k.cfg.IdleTTL {
		for idle, b := range k.buckets {
			if now.Sub(b.lastSeen) >= k.cfg.IdleTTL {
				delete(k.buckets, idle)
			}
		}
		k.lastSweep = now
	}

	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(k.cfg.Rate, k.cfg.Burst)}
		k.buckets[key] = b
	}
	b.lastSeen = now

	if b.lim.AllowN(now, 1) {
		return true, 0
	}
	r := b.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, delay
}

func (k *keyedLimiter) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

// RateLimitMiddleware throttles each key to config. It answers 429 with
// Retry-After when a bucket is empty and fails open when no key is found.
func RateLimitMiddleware(config RateLimitConfig, keyExtractor KeyExtractor) Middleware {
	kl := newKeyedLimiter(config, time.Now)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyExtractor(r)
			if key == "" {
				slogx.FromContext(r.Context()).Warn("rate limit: no key, allowing request", "path", r.URL.Path)
				next.ServeHTTP(w, r)
				return
			}

			ok, delay := kl.take(key)
			if !ok {
				retryAfter := max(int((delay+time.Second-1)/time.Second), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				slogx.FromContext(r.Context()).Warn("rate limit exceeded",
					"key", key, "path", r.URL.Path, "retry_after", retryAfter)

				WriteJSON(w, http.StatusTooManyRequests, map[string]string{
					"error":             "rate_limited",
					"error_description": "too many requests, try again later",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
