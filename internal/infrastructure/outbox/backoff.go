package outbox

import "time"

// Backoff is an exponential retry schedule capped at Max
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff starts at 30 seconds and stops growing at one hour
var DefaultBackoff = Backoff{Base: 30 * time.Second, Max: time.Hour}

// Delay returns the wait before the next attempt after attempts failures
func (b Backoff) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := b.Base
	for i := 1; i < attempts; i++ {
		d *= 2
		if b.Max > 0 && d >= b.Max {
			return b.Max
		}
	}
	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
