package tunnel

import "time"

// MaxThrottle is the longest wait between connection attempts, in seconds.
// The next step after it starts over at zero.
const MaxThrottle = 30

// Throttle is the reconnect backoff counter. It is never reset by a
// successful connection.
type Throttle struct {
	n int
}

// NewThrottle returns a counter whose first step is zero.
func NewThrottle() *Throttle {
	return &Throttle{n: -1}
}

// Next advances the counter and returns the wait in seconds:
// 0, 1, ..., 30, 0, 1, ...
func (t *Throttle) Next() int {
	t.n++
	if t.n > MaxThrottle {
		t.n = 0
	}
	return t.n
}

// NextDelay is Next as a duration.
func (t *Throttle) NextDelay() time.Duration {
	return time.Duration(t.Next()) * time.Second
}
