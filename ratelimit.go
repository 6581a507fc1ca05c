package main

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// RateLimiter applies a per-source sliding window to inbound events.
// Every call records its timestamp, so a source that keeps hammering past
// the ceiling stays rejected until its window drains.
type RateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	clock  clockwork.Clock
	events map[string][]time.Time
}

func newRateLimiter(window time.Duration, limit int, clock clockwork.Clock) *RateLimiter {
	return &RateLimiter{
		window: window,
		limit:  limit,
		clock:  clock,
		events: make(map[string][]time.Time),
	}
}

// Allow reports whether an event from source may be handled right now.
// The caller must not run the event's handler when Allow returns false.
func (rl *RateLimiter) Allow(source string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	cutoff := now.Add(-rl.window)

	recent := rl.events[source][:0]
	for _, ts := range rl.events[source] {
		if ts.After(cutoff) {
			recent = append(recent, ts)
		}
	}
	recent = append(recent, now)
	rl.events[source] = recent

	return len(recent) <= rl.limit
}

// reap drops sources whose most recent event has aged out of the window,
// so idle clients don't accumulate state for the life of the process.
func (rl *RateLimiter) reap() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.clock.Now().Add(-rl.window)
	for source, events := range rl.events {
		if len(events) == 0 || !events[len(events)-1].After(cutoff) {
			delete(rl.events, source)
		}
	}
}

// reapLoop periodically evicts idle sources until stop is closed.
func (rl *RateLimiter) reapLoop(stop <-chan struct{}) {
	ticker := rl.clock.NewTicker(rl.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			rl.reap()
		case <-stop:
			return
		}
	}
}
