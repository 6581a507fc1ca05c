package main

import (
	"time"
)

const (
	basePoints  = 500
	bonusPoints = 500
)

// awardPoints computes the score for a single answer. Incorrect or missing
// answers are worth nothing. Correct answers earn a flat base plus a speed
// bonus proportional to the time left on the round clock, so the range for
// any correct answer is [500, 1000]. An answer landing exactly on the
// deadline earns the base alone.
func awardPoints(timeLimit time.Duration, roundEnd, answeredAt time.Time, correct bool) int {
	if !correct {
		return 0
	}

	remaining := roundEnd.Sub(answeredAt)
	if remaining < 0 {
		remaining = 0
	}

	// Integer division floors the bonus.
	return basePoints + int(int64(bonusPoints)*remaining.Milliseconds()/timeLimit.Milliseconds())
}
