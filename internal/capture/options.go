package capture

import (
	"log/slog"
	"time"

	"github.com/dudu/facecap/internal/camera"
	"github.com/dudu/facecap/internal/stability"
)

// DefaultTickInterval paces the loop at roughly the display refresh of a kiosk
const DefaultTickInterval = time.Second / 30

// DefaultJPEGQuality is the quality used by the default encoder
const DefaultJPEGQuality = 90

// Option configures a Session
type Option func(*Session)

// WithStabilityFrames sets the number of consecutive accepted frames required
// before capture. Non-positive values keep stability.DefaultFrames.
func WithStabilityFrames(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.frames = n
		}
	}
}

// WithMaxInferenceFailures escalates to an error after n consecutive failed
// detections. Zero retries until the session is cancelled.
func WithMaxInferenceFailures(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.maxFailures = n
		}
	}
}

// WithConstraints sets the camera constraints passed to the source
func WithConstraints(c camera.Constraints) Option {
	return func(s *Session) {
		s.constraints = c
	}
}

// WithEncoder sets the snapshot encoder
func WithEncoder(e Encoder) Option {
	return func(s *Session) {
		if e != nil {
			s.encoder = e
		}
	}
}

// WithScheduler sets the tick scheduler
func WithScheduler(sched Scheduler) Option {
	return func(s *Session) {
		if sched != nil {
			s.scheduler = sched
		}
	}
}

// WithLogger sets the session logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTransitionListener registers fn for every state change. Listeners run
// on the session goroutine and must not block or call Close.
func WithTransitionListener(fn func(Transition)) Option {
	return func(s *Session) {
		if fn != nil {
			s.onTransition = append(s.onTransition, fn)
		}
	}
}

// WithTickListener registers fn for every completed tick. The report's frame
// is only valid during the call.
func WithTickListener(fn func(TickReport)) Option {
	return func(s *Session) {
		if fn != nil {
			s.onTick = append(s.onTick, fn)
		}
	}
}

func defaultOptions(s *Session) {
	s.frames = stability.DefaultFrames
	s.constraints = camera.DefaultConstraints()
	s.encoder = JPEGEncoder{Quality: DefaultJPEGQuality}
	s.scheduler = NewPacedScheduler(DefaultTickInterval)
	s.logger = slog.New(slog.DiscardHandler)
}
