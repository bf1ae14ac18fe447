package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a manually driven clock. Sleep returns immediately, advances the
// clock and records the requested duration.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

var (
	_ Clock   = (*Fake)(nil)
	_ Sleeper = (*Fake)(nil)
)

func NewFake(now time.Time) (f *Fake) {
	return &Fake{now: now}
}

func (f *Fake) Now() (now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) (err error) {
	err = ctx.Err()
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return nil
}

// Sleeps returns a copy of every duration passed to Sleep
func (f *Fake) Sleeps() (sleeps []time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}
