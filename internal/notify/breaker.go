package notify

import (
	"fmt"
	"sync"
	"time"
)

// breaker stops hammering a failing notification endpoint. After maxFailures
// consecutive failures it opens; once resetTimeout has passed it lets a
// single probe delivery through and closes again on success.
type breaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	failures     int
	lastFailure  time.Time
	state        breakerState
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func newBreaker(maxFailures int, resetTimeout time.Duration) *breaker {
	return &breaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        breakerClosed,
	}
}

// execute runs fn under breaker protection.
func (b *breaker) execute(fn func() error) error {
	b.mu.Lock()
	if b.state == breakerOpen && time.Since(b.lastFailure) > b.resetTimeout {
		b.state = breakerHalfOpen
	}
	if b.state == breakerOpen {
		b.mu.Unlock()
		return fmt.Errorf("notification circuit is open")
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		b.lastFailure = time.Now()
		if b.state == breakerHalfOpen || b.failures >= b.maxFailures {
			b.state = breakerOpen
		}
		return err
	}
	b.failures = 0
	b.state = breakerClosed
	return nil
}

func (b *breaker) isOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == breakerOpen
}
