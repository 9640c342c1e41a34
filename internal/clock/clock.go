package clock

import (
	"sync"
	"time"
)

// System is the production wall-clock source.
type System struct{}

// NewSystem returns the system clock.
func NewSystem() *System {
	return &System{}
}

// Now returns the current time.
func (*System) Now() time.Time {
	return time.Now()
}

// Fake is a manually advanced clock for deterministic timing tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a fake clock frozen at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake clock's current time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
