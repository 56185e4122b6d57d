package ratelimit

import (
	"context"
	"fmt"
	"time"
)

type FixedWindowLimiter struct {
	counter Counter
	limit   int
	window  time.Duration
	now     func() time.Time
}

func NewFixedWindow(counter Counter, limit int, window time.Duration) *FixedWindowLimiter {
	if window < time.Second {
		window = time.Second
	}
	return &FixedWindowLimiter{
		counter: counter,
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow counts the call against key's current window. Remaining is derived
// from the same INCR so it can never disagree with the decision.
func (f *FixedWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	seconds := int64(f.window / time.Second)
	currentWindow := f.now().Unix() / seconds
	redisKey := fmt.Sprintf("ratelimit:fixed:%s:%d", key, currentWindow)

	d := Decision{
		Limit:   f.limit,
		ResetAt: time.Unix((currentWindow+1)*seconds, 0),
	}

	count, err := f.counter.Incr(ctx, redisKey)
	if err != nil {
		return d, err
	}

	if count == 1 {
		if err := f.counter.Expire(ctx, redisKey, f.window); err != nil {
			return d, err
		}
	}

	d.Allowed = count <= int64(f.limit)
	if remaining := int64(f.limit) - count; remaining > 0 {
		d.Remaining = int(remaining)
	}

	return d, nil
}

func (f *FixedWindowLimiter) Limit() int {
	return f.limit
}

func (f *FixedWindowLimiter) Window() time.Duration {
	return f.window
}
