package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const maxShift = 62

// exponential returns base * 2^attempt, saturating instead of overflowing.
func exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}
	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(int64(base) * multiplier)
}

// fullJitter picks a random duration in [0, delay).
func fullJitter(delay time.Duration) time.Duration {
	if delay <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(delay)))
}

// backoffFor returns the sleep before retry number attempt (0-based), capped at max.
func backoffFor(base, max time.Duration, attempt int) time.Duration {
	delay := exponential(base, attempt)
	if max > 0 && delay > max {
		delay = max
	}
	return fullJitter(delay)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
