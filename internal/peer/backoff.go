package peer

import "time"

// Backoff doubles a polling interval on failure up to a ceiling.
type Backoff struct {
	base    time.Duration
	ceiling time.Duration
	current time.Duration
}

func NewBackoff(base, ceiling time.Duration) *Backoff {
	if ceiling < base {
		ceiling = base
	}
	return &Backoff{base: base, ceiling: ceiling, current: base}
}

// Interval is the wait before the next poll.
func (b *Backoff) Interval() time.Duration {
	return b.current
}

// Failure doubles the interval and returns it.
func (b *Backoff) Failure() time.Duration {
	b.current *= 2
	if b.current > b.ceiling {
		b.current = b.ceiling
	}
	return b.current
}

// Success resets the interval.
func (b *Backoff) Success() time.Duration {
	b.current = b.base
	return b.current
}

// reconnectDelay grows linearly with the attempts already made.
func reconnectDelay(base time.Duration, attempts int) time.Duration {
	return base * time.Duration(attempts+1)
}
