package openapitools

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// RateLimited wraps inv so that each call first waits for a token from
// limiter. The wait honours ctx. A nil limiter returns inv unchanged.
func RateLimited(inv Invoker, limiter *rate.Limiter) Invoker {
	if limiter == nil {
		return inv
	}
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		if err := limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
		return inv(ctx, args)
	}
}

// NewLimiter returns a limiter for perSecond calls with the given burst, or
// nil when perSecond is not positive.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// TimeLimited bounds every call of inv by d. A non-positive d returns inv unchanged.
func TimeLimited(inv Invoker, d time.Duration) Invoker {
	if d <= 0 {
		return inv
	}
	return func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return inv(ctx, args)
	}
}
