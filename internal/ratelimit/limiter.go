package ratelimit

import "context"

// RateLimiter admits at most a fixed number of calls per key and second.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
