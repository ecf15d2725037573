package util

import (
	"sync"
	"time"
)

// backoffFactor is the delay multiplier between attempts.
const backoffFactor = 2

// Backoff computes exponential retry delays, capped at a maximum.
// Safe for concurrent use.
type Backoff struct {
	mu       sync.Mutex
	current  time.Duration
	initial  time.Duration
	maxDelay time.Duration
}

// NewBackoff returns a Backoff starting at initial and doubling up to maxDelay.
func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	return &Backoff{
		current:  initial,
		initial:  initial,
		maxDelay: maxDelay,
	}
}

// Next returns the delay to wait now and advances the schedule.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.current
	b.current = min(b.current*backoffFactor, b.maxDelay)
	return d
}

// Current returns the upcoming delay without advancing the schedule.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Reset returns the schedule to the initial delay after a success.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.initial
}
