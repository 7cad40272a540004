package limiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter spaces outgoing requests at least interval apart.
// A nil *Limiter never blocks.
type Limiter struct {
	bucket *rate.Limiter
	clock  Timer
}

// New creates a limiter with the given minimum interval between requests.
// It returns nil when interval is not positive.
func New(interval time.Duration, clock Timer) *Limiter {
	if interval <= 0 {
		return nil
	}

	if clock == nil {
		clock = Clock{}
	}

	return &Limiter{
		bucket: rate.NewLimiter(rate.Every(interval), 1),
		clock:  clock,
	}
}

// Interval converts a delay and a requests-per-second budget into a single interval.
// A positive rps overrides delay.
func Interval(delay time.Duration, rps float64) time.Duration {
	if rps > 0 {
		interval := time.Duration(float64(time.Second) / rps)
		if interval <= 0 {
			return time.Nanosecond
		}

		return interval
	}

	if delay < 0 {
		return 0
	}

	return delay
}

// Wait blocks until the next request slot or ctx cancellation.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}

	now := l.clock.Now()
	reservation := l.bucket.ReserveN(now, 1)

	wait := reservation.DelayFrom(now)
	if wait <= 0 {
		return nil
	}

	if err := l.clock.Sleep(ctx, wait); err != nil {
		reservation.CancelAt(l.clock.Now())

		return err
	}

	return nil
}
