package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"anarchy.ttfm/donations/clock"
	"anarchy.ttfm/donations/gateways"
	"anarchy.ttfm/donations/retry"
	"github.com/stretchr/testify/assert"
)

func Test_Delay(t *testing.T) {
	assertions := assert.New(t)

	policy := retry.Policy{Base: time.Second, Factor: 2, MaxDelay: 5 * time.Second}
	assertions.Equal(time.Second, policy.Delay(1))
	assertions.Equal(2*time.Second, policy.Delay(2))
	assertions.Equal(4*time.Second, policy.Delay(3))
	assertions.Equal(5*time.Second, policy.Delay(4))
	assertions.Equal(5*time.Second, policy.Delay(40))
}

func Test_Exhausted(t *testing.T) {
	assertions := assert.New(t)

	fake := clock.NewFake(time.Unix(0, 0))
	coordinator := retry.New(retry.Config{
		Policy:  retry.Policy{Base: time.Second, Factor: 2, MaxAttempts: 4},
		Sleeper: fake,
	})

	var attempts []retry.Attempt
	calls := 0
	_, err := retry.Do(context.Background(), coordinator, func(ctx context.Context) (string, error) {
		calls++
		return "", gateways.Retryable(gateways.CodeNetworkTimeout, "timeout")
	}, func(a retry.Attempt) {
		attempts = append(attempts, a)
	})

	assertions.Equal(4, calls)
	assertions.Len(attempts, 4)
	assertions.Equal([]time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, fake.Sleeps())
	assertions.Equal(time.Duration(0), attempts[3].Delay)

	gerr, ok := gateways.AsError(err)
	if assertions.True(ok) {
		assertions.True(gerr.Retryable)
		assertions.True(gerr.AttemptsExhausted)
		assertions.Equal(4, gerr.Attempts)
	}
}

func Test_Interrupted(t *testing.T) {
	assertions := assert.New(t)

	coordinator := retry.New(retry.Config{Sleeper: clock.NewFake(time.Unix(0, 0))})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	_, err := retry.Do(ctx, coordinator, func(attemptCtx context.Context) (string, error) {
		calls++
		cancel()
		assertions.Nil(attemptCtx.Err(), "a started attempt outlives its caller")
		return "", gateways.Retryable(gateways.CodeNetworkTimeout, "response lost")
	}, nil)

	assertions.Equal(1, calls)
	assertions.ErrorIs(err, retry.ErrInterrupted)
	assertions.ErrorIs(err, context.Canceled)
	gerr, ok := gateways.AsError(err)
	if assertions.True(ok) {
		assertions.True(gerr.Retryable)
		assertions.False(gerr.AttemptsExhausted)
		assertions.Equal(1, gerr.Attempts)
	}
}

func Test_PermanentShortCircuits(t *testing.T) {
	assertions := assert.New(t)

	fake := clock.NewFake(time.Unix(0, 0))
	coordinator := retry.New(retry.Config{Sleeper: fake})

	calls := 0
	_, err := retry.Do(context.Background(), coordinator, func(ctx context.Context) (int, error) {
		calls++
		return 0, gateways.Permanent(gateways.CodeDeclined, "declined")
	}, nil)

	assertions.Equal(1, calls)
	assertions.Empty(fake.Sleeps())
	gerr, ok := gateways.AsError(err)
	assertions.True(ok)
	assertions.False(gerr.Retryable)
	assertions.False(gerr.AttemptsExhausted)
}

func Test_RecoversAfterTransient(t *testing.T) {
	assertions := assert.New(t)

	fake := clock.NewFake(time.Unix(0, 0))
	coordinator := retry.New(retry.Config{Sleeper: fake})

	calls := 0
	result, err := retry.Do(context.Background(), coordinator, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", gateways.Retryable(gateways.CodeUnavailable, "502")
		}
		return "tx-1", nil
	}, nil)

	assertions.Nil(err)
	assertions.Equal("tx-1", result)
	assertions.Equal([]time.Duration{time.Second, 2 * time.Second}, fake.Sleeps())
}

func Test_AttemptTimeout(t *testing.T) {
	assertions := assert.New(t)

	coordinator := retry.New(retry.Config{
		Policy:  retry.Policy{MaxAttempts: 2, AttemptTimeout: 10 * time.Millisecond},
		Sleeper: clock.NewFake(time.Unix(0, 0)),
	})

	calls := 0
	_, err := retry.Do(context.Background(), coordinator, func(ctx context.Context) (struct{}, error) {
		calls++
		<-ctx.Done()
		return struct{}{}, ctx.Err()
	}, nil)

	assertions.Equal(2, calls, "timeouts are transient")
	assertions.True(gateways.IsRetryable(err))
	gerr, _ := gateways.AsError(err)
	assertions.True(gerr.AttemptsExhausted)
}

func Test_UnclassifiedErrorsArePermanent(t *testing.T) {
	assertions := assert.New(t)

	coordinator := retry.New(retry.Config{Sleeper: clock.NewFake(time.Unix(0, 0))})
	calls := 0
	_, err := retry.Do(context.Background(), coordinator, func(ctx context.Context) (int, error) {
		calls++
		return 0, errors.New("malformed response")
	}, nil)

	assertions.Equal(1, calls)
	assertions.False(gateways.IsRetryable(err))
}
