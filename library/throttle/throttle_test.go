package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyedThrottleAllowPerKey(t *testing.T) {
	th, err := New(Config{EachKeyNPerSec: 1, EachKeyBurst: 1})
	require.NoError(t, err)

	require.True(t, th.Allow("key-a"))
	require.False(t, th.Allow("key-a"))
	require.True(t, th.Allow("key-b"))
}

func TestKeyedThrottleTotal(t *testing.T) {
	th, err := New(Config{TotalNPerSec: 1, TotalBurst: 2})
	require.NoError(t, err)

	require.True(t, th.Allow("a"))
	require.True(t, th.Allow("b"))
	require.False(t, th.Allow("c"))
}

func TestKeyedThrottleWaitHonoursContext(t *testing.T) {
	th, err := New(Config{EachKeyNPerSec: 0.1, EachKeyBurst: 1})
	require.NoError(t, err)
	require.NoError(t, th.Wait(context.Background(), "k"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Error(t, th.Wait(ctx, "k"))
}

func TestKeyedThrottleDisabled(t *testing.T) {
	th, err := New(Config{})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.True(t, th.Allow("any"))
	}

	var nilThrottle *KeyedThrottle
	require.True(t, nilThrottle.Allow("x"))
	require.NoError(t, nilThrottle.Wait(context.Background(), "x"))
}

func TestNewRejectsNegativeRate(t *testing.T) {
	_, err := New(Config{TotalNPerSec: -1})
	require.Error(t, err)
}
