package capture

import (
	"context"
	"time"
)

// Scheduler paces the detection loop. Next is only called after the
// previous tick has fully completed, and blocks until the next tick is due.
type Scheduler interface {
	Next(ctx context.Context) error
}

// PacedScheduler releases ticks at most once per interval, like a display
// refresh callback. Time spent inside a tick counts toward the interval, and
// a tick that overruns is followed immediately by the next one.
type PacedScheduler struct {
	interval time.Duration
	last     time.Time
}

// NewPacedScheduler creates a scheduler with the given cadence
func NewPacedScheduler(interval time.Duration) *PacedScheduler {
	return &PacedScheduler{interval: interval}
}

// Next waits for the remainder of the interval since the previous tick
func (s *PacedScheduler) Next(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !s.last.IsZero() && s.interval > 0 {
		if wait := s.interval - time.Since(s.last); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	s.last = time.Now()
	return nil
}

// ImmediateScheduler runs ticks back to back
type ImmediateScheduler struct{}

// Next returns immediately unless ctx is done
func (ImmediateScheduler) Next(ctx context.Context) error {
	return ctx.Err()
}
