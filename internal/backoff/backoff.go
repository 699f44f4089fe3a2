// Package backoff computes reconnect delays for the credit stream.
//
// The delay for a retry is min(Base * 2^attempt, Max) with no jitter, and the
// scheduler refuses to produce a delay once MaxAttempts retries have been
// scheduled. It keeps no state between calls.
package backoff

import (
	"errors"
	"time"

	cbackoff "github.com/cenkalti/backoff/v5"
)

// ErrExhausted is returned once the retry budget is spent.
var ErrExhausted = errors.New("max reconnection attempts reached")

// Defaults used by the credit stream.
const (
	DefaultBase        = 1 * time.Second
	DefaultMax         = 30 * time.Second
	DefaultMaxAttempts = 10
)

// Scheduler maps a retry attempt number to a delay.
type Scheduler struct {
	Base        time.Duration // Delay before the first retry (attempt 0)
	Max         time.Duration // Upper bound for any delay
	MaxAttempts int           // Attempts at or beyond this value are exhausted
}

// Default returns the 1s/30s/10 scheduler.
func Default() Scheduler {
	return Scheduler{
		Base:        DefaultBase,
		Max:         DefaultMax,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// Delay returns the wait before retry number attempt (0-based).
func (s Scheduler) Delay(attempt int) (time.Duration, error) {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= s.MaxAttempts {
		return 0, ErrExhausted
	}

	b := s.exponential()
	delay := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
		if delay >= s.Max {
			return s.Max, nil
		}
	}
	return min(delay, s.Max), nil
}

// exponential builds a fresh, jitter-free series so Delay stays a pure
// function of its input.
func (s Scheduler) exponential() *cbackoff.ExponentialBackOff {
	b := cbackoff.NewExponentialBackOff()
	b.InitialInterval = s.Base
	b.MaxInterval = s.Max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}
