package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAwardPointsIncorrect(t *testing.T) {
	end := time.Now()

	require.Zero(t, awardPoints(20*time.Second, end, end.Add(-10*time.Second), false))
}

func TestAwardPointsSpeedBonus(t *testing.T) {
	limit := 20 * time.Second
	end := time.Date(2026, 1, 1, 12, 0, 20, 0, time.UTC)

	// Answered with 15s remaining: floor(500 + 500*15/20).
	require.Equal(t, 875, awardPoints(limit, end, end.Add(-15*time.Second), true))

	// Answered exactly at the deadline.
	require.Equal(t, 500, awardPoints(limit, end, end, true))

	// Instant answer takes the whole bonus.
	require.Equal(t, 1000, awardPoints(limit, end, end.Add(-limit), true))
}

func TestAwardPointsRange(t *testing.T) {
	limit := 90 * time.Second
	end := time.Date(2026, 1, 1, 12, 1, 30, 0, time.UTC)

	for remaining := time.Duration(0); remaining <= limit; remaining += 333 * time.Millisecond {
		points := awardPoints(limit, end, end.Add(-remaining), true)
		require.GreaterOrEqual(t, points, 500)
		require.LessOrEqual(t, points, 1000)
	}
}

func TestAwardPointsMonotonic(t *testing.T) {
	limit := 20 * time.Second
	end := time.Date(2026, 1, 1, 12, 0, 20, 0, time.UTC)

	prev := 1001
	for latency := 1 * time.Second; latency < limit; latency += time.Second {
		points := awardPoints(limit, end, end.Add(latency-limit), true)
		require.Less(t, points, prev, "points must drop as latency grows")
		prev = points
	}
}

func TestAwardPointsLateAnswerClampsToBase(t *testing.T) {
	limit := 20 * time.Second
	end := time.Date(2026, 1, 1, 12, 0, 20, 0, time.UTC)

	// A timestamp past the deadline never earns a negative bonus.
	require.Equal(t, 500, awardPoints(limit, end, end.Add(3*time.Second), true))
}
