package retry

import (
	"context"
	"testing"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"
)

func fastPolicy(retries int) Policy {
	return Policy{
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		Jitter:         0.5,
	}
}

func TestPolicyBackoffIsBounded(t *testing.T) {
	p := Policy{MaxRetries: 5, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}

	require.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, p.Backoff())
	require.Equal(t, 6, p.Attempts())
}

func TestPolicyDoRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context, attempt int) error {
		require.Equal(t, calls, attempt)
		calls++
		if calls < 3 {
			return errors.New("temporary")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestPolicyDoStopsAfterBudget(t *testing.T) {
	calls := 0
	err := fastPolicy(2).Do(context.Background(), func(context.Context, int) error {
		calls++
		return errors.New("still failing")
	})

	require.Error(t, err)
	require.Contains(t, err.Error(), "still failing")
	require.Equal(t, 3, calls)
}

func TestPolicyDoPermanentFailsFast(t *testing.T) {
	sentinel := errors.New("bad request")
	calls := 0
	err := fastPolicy(5).Do(context.Background(), func(context.Context, int) error {
		calls++
		return Permanent(sentinel)
	})

	require.Equal(t, 1, calls)
	require.True(t, IsPermanent(err))
	require.ErrorIs(t, err, sentinel)
}

func TestPolicyDoAttemptTimeoutIsTransient(t *testing.T) {
	p := fastPolicy(1)
	p.CallTimeout = 5 * time.Millisecond

	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		if attempt == 0 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestPolicyDoParentCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := fastPolicy(5).Do(ctx, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("boom")
	})

	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestPermanentNil(t *testing.T) {
	require.NoError(t, Permanent(nil))
	require.False(t, IsPermanent(nil))
}
