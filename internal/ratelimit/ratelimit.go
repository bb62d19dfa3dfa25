// Package ratelimit counts attempts per key in fixed windows. The login flow
// uses it to throttle password guessing per email and client address.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter admits up to limit calls per key within window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
	// Reset forgets the key, e.g. after a successful login.
	Reset(ctx context.Context, key string) error
}

// Unlimited admits everything.
type Unlimited struct{}

func (Unlimited) Allow(_ context.Context, _ string, limit int, _ time.Duration) (Decision, error) {
	return Decision{Allowed: true, Limit: limit, Remaining: limit}, nil
}

func (Unlimited) Reset(context.Context, string) error { return nil }
