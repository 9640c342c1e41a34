package interfaces

import "time"

// Clock is the wall-clock source injected into components that make timing
// decisions. Production code uses the system clock; tests substitute a fake
// so deadline behavior is deterministic.
type Clock interface {
	Now() time.Time
}
