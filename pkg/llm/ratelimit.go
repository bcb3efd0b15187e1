package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimited throttles calls to the wrapped client with a token bucket.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

// NewRateLimited wraps next. A non-positive rps disables throttling.
func NewRateLimited(next Client, rps float64, burst int) Client {
	if rps <= 0 {
		return next
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Complete waits for a token, then delegates.
func (r *RateLimited) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit wait: %w", r.next.Provider(), err)
	}
	return r.next.Complete(ctx, req)
}

// Provider returns the wrapped provider name.
func (r *RateLimited) Provider() string {
	return r.next.Provider()
}
