package action

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedNotifier throttles an inner Notifier with a token bucket, so a
// burst of reminders in one slot does not flood the desktop.
type RateLimitedNotifier struct {
	inner   Notifier
	limiter *rate.Limiter
}

// NewRateLimitedNotifier allows perSec notifications per second with a
// burst of perSec. perSec <= 0 defaults to 3.
func NewRateLimitedNotifier(inner Notifier, perSec int) *RateLimitedNotifier {
	if perSec <= 0 {
		perSec = 3
	}
	return &RateLimitedNotifier{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSec), perSec),
	}
}

func (r *RateLimitedNotifier) Notify(ctx context.Context, n Notification) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.inner.Notify(ctx, n)
}
