// Package clock supplies the reference time used by validation, scheduling
// and retry backoff. Components receive a Clock instead of calling time.Now.
package clock

import (
	"context"
	"time"
)

type Clock interface {
	// Current wall time
	Now() (now time.Time)
}

type Sleeper interface {
	// Blocks for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration) (err error)
}

// System uses the process clock. Sleep relies on timers, which are driven by
// the monotonic clock and ignore wall clock jumps.
type System struct{}

var (
	_ Clock   = System{}
	_ Sleeper = System{}
)

func (System) Now() (now time.Time) { return time.Now() }

func (System) Sleep(ctx context.Context, d time.Duration) (err error) {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
