package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"
)

// Default reconnect delay bounds.
const (
	DefaultBackoffMin = 1 * time.Second
	DefaultBackoffMax = 10 * time.Second
)

// Backoff is a doubling delay between reconnect attempts. Each Next call
// returns the current delay and doubles the following one up to the
// ceiling; Reset returns to the floor.
type Backoff struct {
	mu sync.Mutex
	b  backoff.Backoff
}

// NewBackoff creates a backoff between min and max without jitter.
func NewBackoff(min, max time.Duration) *Backoff {
	if min <= 0 {
		min = DefaultBackoffMin
	}
	if max < min {
		max = min
	}
	return &Backoff{b: backoff.Backoff{Min: min, Max: max, Factor: 2}}
}

// WithJitter randomizes each delay between the floor and its nominal value.
func (b *Backoff) WithJitter(on bool) *Backoff {
	b.mu.Lock()
	b.b.Jitter = on
	b.mu.Unlock()
	return b
}

// Next returns the delay to wait now and advances the attempt counter.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Duration()
}

// Current returns the delay the next call to Next will return.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.b.Jitter {
		// jitter makes the value random; report the nominal one
		nominal := b.b
		nominal.Jitter = false
		return nominal.ForAttempt(b.b.Attempt())
	}
	return b.b.ForAttempt(b.b.Attempt())
}

// Attempt returns the number of Next calls since the last Reset.
func (b *Backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.b.Attempt())
}

// Reset returns the delay to the floor.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.b.Reset()
}

// SetBounds changes the floor and ceiling; the attempt count is kept.
func (b *Backoff) SetBounds(min, max time.Duration) {
	if min <= 0 {
		return
	}
	if max < min {
		max = min
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.b.Min = min
	b.b.Max = max
}

// Bounds returns the configured floor and ceiling.
func (b *Backoff) Bounds() (min, max time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Min, b.b.Max
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
