package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// Gate is the single outbound budget shared by batch submission and status
// polling. Wait blocks until a call may proceed. It fails with ctx's error
// when ctx ends while waiting, or with a backend error when a shared bucket
// cannot be reached. Callers treat a backend error as transient.
type Gate interface {
	Wait(ctx context.Context) error
}

// Limiter is an in-process token bucket. Every destination draws from the
// same bucket since the provider limits per account, not per audience.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter granting ratePerSec tokens per second with the given
// burst. A burst below one is raised to one so Wait can ever succeed.
func New(ratePerSec float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Wait is called immediately before every provider request.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Unlimited never blocks. Used by tests and by callers that rate limit upstream.
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }

var (
	_ Gate = (*Limiter)(nil)
	_ Gate = Unlimited{}
)
