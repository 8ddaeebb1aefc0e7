// Package clock abstracts time so engine components never read the wall
// clock directly. Waits and retry backoff become deterministic in tests by
// injecting a fake.
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// System returns the real wall clock, in UTC.
func System() Clock {
	return systemClock{}
}

// Fake is a settable clock for tests. Safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock frozen at the given instant.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

// Set moves the clock to an absolute instant.
func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = now
}

// Advance moves the clock forward by d and returns the new instant.
func (f *Fake) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.now = f.now.Add(d)

	return f.now
}
