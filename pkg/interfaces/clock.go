package interfaces

import (
	"context"
	"time"
)

// SystemClock is the wall-clock Clock used outside of tests.
type SystemClock struct{}

// Now implements Clock
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep implements Clock. It returns the context error if the sleep is
// cancelled before d elapses.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
