package domain

import "time"

// RateLimitBucket is a fixed window counter for one key.
type RateLimitBucket struct {
	Key         string
	Count       int
	WindowStart time.Time
}
