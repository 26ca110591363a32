package mqttc

import (
	"context"

	"golang.org/x/time/rate"
)

// publishLimiter paces outbound publishes when a rate limit is configured.
// It sits in front of flow-control admission so a paced publish still
// respects the broker's receive maximum.
type publishLimiter struct {
	limiter *rate.Limiter
}

// newPublishLimiter creates a limiter allowing ratePerSec publishes with
// the given burst. A nil limiter (rate <= 0) never blocks.
func newPublishLimiter(ratePerSec float64, burst int) *publishLimiter {
	if ratePerSec <= 0 {
		return &publishLimiter{}
	}
	if burst < 1 {
		burst = 1
	}
	return &publishLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// wait blocks until the limiter admits one publish or the context is done.
func (l *publishLimiter) wait(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return nil
	}
	return l.limiter.Wait(ctx)
}
