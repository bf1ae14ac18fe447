// Package retry runs a gateway call under bounded exponential backoff.
// Every attempt is made by the caller's closure, which must reuse the same
// idempotency key so that retransmissions collapse into one charge.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anarchy.ttfm/donations/clock"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/utils"
)

const (
	DefaultBase           = time.Second
	DefaultFactor         = 2
	DefaultMaxAttempts    = 4
	DefaultMaxDelay       = time.Minute
	DefaultAttemptTimeout = 30 * time.Second
)

// ErrInterrupted is returned when the caller's context ends during a backoff.
// The attempts already made may have reached the gateway, so the outcome of
// the call is unknown rather than failed.
var ErrInterrupted = errors.New("interrupted while backing off")

type Policy struct {
	// Delay before the first retry
	Base time.Duration `yaml:"base"`
	// Multiplier applied after every retry
	Factor float64 `yaml:"factor"`
	// Attempts including the first one
	MaxAttempts int `yaml:"max-attempts"`
	// Ceiling of a single delay
	MaxDelay time.Duration `yaml:"max-delay"`
	// Each attempt runs under this timeout. Expiry counts as transient.
	AttemptTimeout time.Duration `yaml:"attempt-timeout"`
}

func DefaultPolicy() (p Policy) {
	return Policy{
		Base:           DefaultBase,
		Factor:         DefaultFactor,
		MaxAttempts:    DefaultMaxAttempts,
		MaxDelay:       DefaultMaxDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Delay returns the wait after the given failed attempt, counting from 1
func (p Policy) Delay(attempt int) (delay time.Duration) {
	delay = p.Base
	for range attempt - 1 {
		delay = time.Duration(float64(delay) * p.Factor)
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

type Config struct {
	Policy  Policy
	Sleeper clock.Sleeper
}

// Coordinator wraps gateway calls with classification and backoff
type Coordinator struct {
	policy  Policy
	sleeper clock.Sleeper
}

func New(config Config) (c *Coordinator) {
	policy := config.Policy
	policy.Base = utils.Default(policy.Base, DefaultBase)
	policy.Factor = utils.Default(policy.Factor, DefaultFactor)
	policy.MaxAttempts = utils.Clamp(utils.Default(policy.MaxAttempts, DefaultMaxAttempts), 1, 10)
	policy.AttemptTimeout = utils.Default(policy.AttemptTimeout, DefaultAttemptTimeout)

	c = &Coordinator{policy: policy, sleeper: config.Sleeper}
	if c.sleeper == nil {
		c.sleeper = clock.System{}
	}
	return c
}

func (c *Coordinator) Policy() (p Policy) { return c.policy }

// Attempt describes one finished call
type Attempt struct {
	// Counting from 1
	Number   int
	Err      error
	Duration time.Duration
	// Wait before the next attempt. Zero when no retry follows
	Delay time.Duration
}

// Do runs call until it succeeds, fails permanently or the attempt budget is
// spent. observe, if set, sees every attempt before the coordinator sleeps.
// Failures are returned as *gateways.Error; a spent budget is flagged with
// AttemptsExhausted. Attempts ignore the cancellation of ctx once started
// and only the backoff between them is interruptible, which yields
// ErrInterrupted wrapping the last gateway error.
func Do[T any](ctx context.Context, c *Coordinator, call func(ctx context.Context) (T, error), observe func(a Attempt)) (result T, err error) {
	var last *gateways.Error
	for number := 1; number <= c.policy.MaxAttempts; number++ {
		detached, release := utils.Detach(ctx)
		attemptCtx, cancel := context.WithTimeout(detached, c.policy.AttemptTimeout)
		started := time.Now()
		result, err = call(attemptCtx)
		cancel()
		release()

		attempt := Attempt{Number: number, Err: err, Duration: time.Since(started)}
		if err == nil {
			notify(observe, attempt)
			return result, nil
		}

		last = gateways.Normalize(err)
		if !last.Retryable {
			notify(observe, attempt)
			return result, last
		}

		if number < c.policy.MaxAttempts {
			attempt.Delay = c.policy.Delay(number)
		}
		notify(observe, attempt)
		if attempt.Delay == 0 {
			break
		}

		err = c.sleeper.Sleep(ctx, attempt.Delay)
		if err != nil {
			interrupted := *last
			interrupted.Attempts = number
			return result, fmt.Errorf("%w after attempt %d (%w): %w", ErrInterrupted, number, err, &interrupted)
		}
	}

	exhausted := *last
	exhausted.Retryable = true
	exhausted.AttemptsExhausted = true
	exhausted.Attempts = c.policy.MaxAttempts
	return result, &exhausted
}

func notify(observe func(a Attempt), a Attempt) {
	if observe != nil {
		observe(a)
	}
}
