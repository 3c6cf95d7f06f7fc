package fanmon

import (
	"context"
	"time"
)

// Wait pauses for d or until ctx is done. Drivers use it for conversion
// times of a few milliseconds; longer waits belong in a state machine.
func Wait(ctx context.Context, d time.Duration) error {
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
