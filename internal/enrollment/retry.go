package enrollment

import (
	"context"
	"time"

	"conservatory/pkg/domain"
)

// RetryPolicy bounds the retries of idempotent reads and of the
// dependent-side write. The authority write is never retried.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts  int           `yaml:"attempts" validate:"min=1,max=10"`
	BaseDelay time.Duration `yaml:"base_delay" validate:"min=0"`
	MaxDelay  time.Duration `yaml:"max_delay" validate:"gtefield=BaseDelay"`
}

// DefaultRetryPolicy returns three attempts backing off from 100ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.Attempts < 1 {
		p.Attempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Delay returns the backoff before retry number n (1-based): BaseDelay
// doubled per retry and capped at MaxDelay.
func (p RetryPolicy) Delay(n int) time.Duration {
	p = p.normalized()
	d := p.BaseDelay
	for i := 1; i < n && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Sleeper waits between attempts. It reports false when ctx ended first.
type Sleeper func(ctx context.Context, d time.Duration) bool

func timerSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// RetryRead retries an idempotent read while it fails with a NetworkError.
// A nil sleep waits on a timer.
func RetryRead[T any](ctx context.Context, p RetryPolicy, sleep Sleeper, fn func(context.Context) (T, error)) (T, error) {
	p = p.normalized()
	if sleep == nil {
		sleep = timerSleep
	}
	var (
		out T
		err error
	)
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		out, err = fn(ctx)
		if err == nil || !domain.IsNetwork(err) || attempt == p.Attempts {
			return out, err
		}
		if !sleep(ctx, p.Delay(attempt)) {
			return out, ctx.Err()
		}
	}
	return out, err
}
