package main

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := newRateLimiter(10*time.Second, 30, clock)

	for i := 0; i < 30; i++ {
		require.True(t, rl.Allow("1.2.3.4"), "event %d should be admitted", i+1)
		clock.Advance(100 * time.Millisecond)
	}

	require.False(t, rl.Allow("1.2.3.4"), "31st event within the window must be rejected")

	// Another source has its own budget.
	require.True(t, rl.Allow("5.6.7.8"))
}

func TestRateLimiterResetsAfterWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := newRateLimiter(10*time.Second, 30, clock)

	for i := 0; i < 31; i++ {
		rl.Allow("1.2.3.4")
	}
	require.False(t, rl.Allow("1.2.3.4"))

	clock.Advance(10*time.Second + time.Millisecond)

	require.True(t, rl.Allow("1.2.3.4"), "admission resets once the window has fully elapsed")
}

func TestRateLimiterSlidingEdge(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := newRateLimiter(10*time.Second, 2, clock)

	require.True(t, rl.Allow("a"))
	clock.Advance(6 * time.Second)
	require.True(t, rl.Allow("a"))
	clock.Advance(3 * time.Second)
	require.False(t, rl.Allow("a"), "both events still inside the window")

	// First event ages out; one slot frees up.
	clock.Advance(2 * time.Second)
	require.False(t, rl.Allow("a"), "rejected attempts count against the window too")
	clock.Advance(10 * time.Second)
	require.True(t, rl.Allow("a"))
}

func TestRateLimiterReapsIdleSources(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rl := newRateLimiter(10*time.Second, 30, clock)

	rl.Allow("a")
	rl.Allow("b")
	clock.Advance(5 * time.Second)
	rl.Allow("b")

	clock.Advance(6 * time.Second)
	rl.reap()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	require.NotContains(t, rl.events, "a", "idle source should be evicted")
	require.Contains(t, rl.events, "b", "active source should be kept")
}
