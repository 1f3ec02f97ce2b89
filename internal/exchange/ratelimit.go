package exchange

import (
	"context"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles venue traffic with two token buckets: one for
// general requests (market data, queries) and a tighter one for order
// mutations (place, modify, cancel).
type RateLimiter struct {
	requests *rate.Limiter
	orders   *rate.Limiter
}

// NewRateLimiter builds a limiter allowing requestLimit calls per
// requestWindow and orderLimit order mutations per orderWindow. Bursts up to
// the full window allowance are permitted.
func NewRateLimiter(requestLimit int, requestWindow time.Duration, orderLimit int, orderWindow time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: rate.NewLimiter(rate.Limit(float64(requestLimit)/requestWindow.Seconds()), requestLimit),
		orders:   rate.NewLimiter(rate.Limit(float64(orderLimit)/orderWindow.Seconds()), orderLimit),
	}
}

// ForVenue returns the limiter preset for a known venue, or a conservative
// default for anything unrecognized.
func ForVenue(name string) *RateLimiter {
	switch strings.ToLower(name) {
	case "binance":
		// 1200 request weight per minute, 100 orders per 10 seconds.
		return NewRateLimiter(1200, time.Minute, 100, 10*time.Second)
	case "lighter":
		return NewRateLimiter(100, time.Second, 100, time.Second)
	case "paradex":
		return NewRateLimiter(50, time.Second, 50, time.Second)
	default:
		return NewRateLimiter(10, time.Second, 5, time.Second)
	}
}

// WaitRequest blocks until a general request token is available.
func (r *RateLimiter) WaitRequest(ctx context.Context) error {
	return r.requests.Wait(ctx)
}

// WaitOrder blocks until both an order token and a request token are
// available, so order traffic also counts against the request budget.
func (r *RateLimiter) WaitOrder(ctx context.Context) error {
	if err := r.orders.Wait(ctx); err != nil {
		return err
	}
	return r.requests.Wait(ctx)
}

// AllowRequest reports whether a request token is available right now,
// consuming it if so.
func (r *RateLimiter) AllowRequest() bool {
	return r.requests.Allow()
}
