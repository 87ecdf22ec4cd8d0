// Package capture runs one enrollment capture: it opens the camera, loads
// the face detector, scans frames until a single well placed face has been
// stable for enough frames, and hands the encoded snapshot to a callback.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dudu/facecap/internal/camera"
	"github.com/dudu/facecap/internal/detector"
	"github.com/dudu/facecap/internal/geometry"
	"github.com/dudu/facecap/internal/stability"
)

// TickReport describes one completed tick of the detection loop
type TickReport struct {
	SessionID string
	Seq       uint64
	Frame     camera.Frame
	HasFrame  bool
	Faces     []detector.FaceBox
	Outcome   stability.Outcome
	Verdict   geometry.Verdict
	Count     int
	Threshold int
	State     State
	Detection time.Duration
	Err       error
}

// Hint returns the user guidance for this tick
func (r TickReport) Hint() string {
	switch r.Outcome {
	case stability.OutcomeNoFace:
		return "look at the camera"
	case stability.OutcomeMultipleFaces:
		return "only one person please"
	case stability.OutcomeRejected:
		return r.Verdict.Hint()
	default:
		return "hold still"
	}
}

// Session is one capture attempt. It is single use.
type Session struct {
	id        string
	source    camera.Source
	provider  detector.Provider
	onCapture func(ImageBuffer)

	frames       int
	maxFailures  int
	constraints  camera.Constraints
	encoder      Encoder
	scheduler    Scheduler
	logger       *slog.Logger
	onTransition []func(Transition)
	onTick       []func(TickReport)

	state    atomic.Int32
	started  atomic.Bool
	released chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
	err    error
}

// New creates a session that captures from src using detectors from p.
// onCapture is invoked at most once, after the camera has been released.
func New(src camera.Source, p detector.Provider, onCapture func(ImageBuffer), opts ...Option) *Session {
	s := &Session{
		id:        uuid.NewString(),
		source:    src,
		provider:  p,
		onCapture: onCapture,
		released:  make(chan struct{}),
	}
	defaultOptions(s)
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("session", s.id)
	return s
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// State returns the current state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Err returns the terminal error, nil unless the session ended in StateError
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Run executes the session on the calling goroutine and returns when it
// reaches a terminal state. It returns nil after a capture and an *Error
// otherwise. The camera is released before Run returns on every path.
func (s *Session) Run(ctx context.Context) (err error) {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	if s.closed {
		cancel()
	}
	s.mu.Unlock()

	res := &resources{logger: s.logger}
	defer close(s.released)
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		res.release()
		if s.State().Terminal() {
			panic(p)
		}
		s.logger.Error("capture loop panicked",
			"panic", p,
			"stack", string(debug.Stack()))
		err = s.fail(ctx, res, &Error{Reason: ReasonInternal, Err: fmt.Errorf("panic: %v", p)})
	}()
	defer res.release()

	return s.run(ctx, res)
}

// Close cancels the session and waits until the camera has been released.
// Closing a session that never ran marks it cancelled. Close must not be
// called from a listener.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.started.Load() {
		<-s.released
	}
	return nil
}

func (s *Session) run(ctx context.Context, res *resources) error {
	if err := ctx.Err(); err != nil {
		return s.fail(ctx, res, err)
	}

	s.transition(StateAskingCamera, ReasonNone)
	lease, err := camera.Acquire(ctx, s.source, s.constraints)
	if err != nil {
		return s.fail(ctx, res, fmt.Errorf("failed to open camera: %w", err))
	}
	res.lease = lease

	s.transition(StateLoadingBackend, ReasonNone)
	backend, err := detector.NegotiateBackend(ctx, s.provider, s.logger)
	if err != nil {
		return s.fail(ctx, res, fmt.Errorf("failed to initialize backend: %w", err))
	}

	s.transition(StateLoadingModel, ReasonNone)
	det, err := detector.Materialize(ctx, s.provider, backend, s.logger)
	if err != nil {
		return s.fail(ctx, res, fmt.Errorf("failed to load model: %w", err))
	}
	res.detector = det

	s.transition(StateNoFace, ReasonNone)
	return s.loop(ctx, res)
}

// loop runs ticks until the voter is ready or something fails. Each tick
// completes before the scheduler is asked for the next one.
func (s *Session) loop(ctx context.Context, res *resources) error {
	voter := stability.NewVoter(s.frames)
	failures := 0
	var seq uint64

	for {
		if err := s.scheduler.Next(ctx); err != nil {
			return s.fail(ctx, res, err)
		}
		seq++

		report := TickReport{
			SessionID: s.id,
			Seq:       seq,
			Threshold: voter.Threshold(),
		}

		var result stability.Result
		frame, ok := res.lease.CurrentFrame()
		report.Frame, report.HasFrame = frame, ok && !frame.Empty()

		if !report.HasFrame {
			result = voter.Miss()
		} else {
			start := time.Now()
			faces, err := res.detector.Detect(ctx, frame)
			report.Detection = time.Since(start)

			switch {
			case err != nil && ctx.Err() != nil:
				return s.fail(ctx, res, err)
			case err != nil:
				if !errors.Is(err, detector.ErrInferenceFailed) {
					err = fmt.Errorf("%w: %w", detector.ErrInferenceFailed, err)
				}
				failures++
				report.Err = err
				s.logger.Warn("detection failed, treating as no face",
					"tick", seq,
					"consecutive", failures,
					"error", err)
				if s.maxFailures > 0 && failures >= s.maxFailures {
					return s.fail(ctx, res, fmt.Errorf("%d consecutive detections failed: %w", failures, err))
				}
				result = voter.Miss()
			default:
				failures = 0
				report.Faces = faces
				result = voter.Vote(faces, frame.Width, frame.Height)
			}
		}

		report.Outcome = result.Outcome
		report.Verdict = result.Verdict
		report.Count = result.Count

		if result.Count > 0 {
			s.transition(StateHold, ReasonNone)
		} else {
			s.transition(StateNoFace, ReasonNone)
		}
		report.State = s.State()
		s.notifyTick(report)

		if result.Ready {
			return s.capture(ctx, res, frame)
		}
	}
}

// capture takes the final snapshot, releases the camera and fires the callback
func (s *Session) capture(ctx context.Context, res *resources, tickFrame camera.Frame) error {
	if err := ctx.Err(); err != nil {
		return s.fail(ctx, res, err)
	}

	snapshot, ok := res.lease.CurrentFrame()
	if !ok || snapshot.Empty() {
		snapshot = tickFrame
	}

	buf, err := s.encoder.Encode(snapshot)
	if err == nil && buf.Empty() {
		err = errors.New("encoder produced no data")
	}
	if err != nil {
		if !errors.Is(err, ErrEncodingFailed) {
			err = fmt.Errorf("%w: %w", ErrEncodingFailed, err)
		}
		return s.fail(ctx, res, err)
	}

	res.release()
	s.transition(StateDone, ReasonNone)
	s.logger.Info("face captured",
		"width", buf.Width,
		"height", buf.Height,
		"bytes", len(buf.Data))

	if s.onCapture != nil {
		s.onCapture(buf)
	}
	return nil
}

// fail releases everything, records the terminal error and moves to StateError
func (s *Session) fail(ctx context.Context, res *resources, err error) error {
	res.release()

	var ce *Error
	if !errors.As(err, &ce) {
		reason := ReasonOf(err)
		if ctx.Err() != nil {
			reason = ReasonCancelled
		}
		if reason == ReasonCancelled && !errors.Is(err, ErrCancelled) {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		ce = &Error{Reason: reason, Err: err}
	}

	s.mu.Lock()
	s.err = ce
	s.mu.Unlock()

	if ce.Reason == ReasonCancelled {
		s.logger.Info("capture cancelled", "state", s.State().String())
	} else {
		s.logger.Error("capture failed",
			"state", s.State().String(),
			"reason", string(ce.Reason),
			"error", ce.Err)
	}

	s.transition(StateError, ce.Reason)
	return ce
}

// transition moves to the given state and notifies listeners. Staying in
// the same state is a no-op.
func (s *Session) transition(to State, reason Reason) {
	from := s.State()
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		panic(fmt.Sprintf("invalid capture transition %s -> %s", from, to))
	}
	s.state.Store(int32(to))

	s.logger.Debug("state transition",
		"from", from.String(),
		"to", to.String(),
		"reason", string(reason))

	t := Transition{
		SessionID: s.id,
		From:      from,
		To:        to,
		Reason:    reason,
		At:        time.Now(),
	}
	for _, fn := range s.onTransition {
		fn(t)
	}
}

func (s *Session) notifyTick(r TickReport) {
	for _, fn := range s.onTick {
		fn(r)
	}
}

// resources holds what the session has acquired. release is idempotent and
// closes the camera before the detector.
type resources struct {
	logger   *slog.Logger
	lease    *camera.Lease
	detector detector.Detector
}

func (r *resources) release() {
	if r.lease != nil && !r.lease.Released() {
		if err := r.lease.Release(); err != nil {
			r.logger.Warn("failed to release camera", "error", err)
		}
	}
	if r.detector != nil {
		if err := r.detector.Close(); err != nil {
			r.logger.Warn("failed to close detector", "error", err)
		}
		r.detector = nil
	}
}
