package clients

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter paces outgoing requests.
type RateLimiter interface {
	// Allow checks if a request is allowed
	Allow() bool

	// Wait blocks until a request is allowed
	Wait(ctx context.Context) error
}

// NewRateLimiter creates a token bucket with the specified rate (requests
// per second) and burst size. A non-positive rate disables limiting.
func NewRateLimiter(rps float64, burst int) RateLimiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}
