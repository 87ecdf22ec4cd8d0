package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dudu/facecap/internal/camera"
	"github.com/dudu/facecap/internal/detector"
	"github.com/dudu/facecap/internal/stability"
)

const (
	frameWidth  = 640
	frameHeight = 480
)

var (
	centeredFace = detector.FaceBox{XMin: 240, YMin: 140, XMax: 400, YMax: 340, Score: 0.92}
	edgeFace     = detector.FaceBox{XMin: 0, YMin: 140, XMax: 80, YMax: 340, Score: 0.88}
	one          = []detector.FaceBox{centeredFace}
	two          = []detector.FaceBox{centeredFace, edgeFace}
)

type fakeHandle struct {
	closes      atomic.Int32
	unavailable atomic.Bool
	seq         atomic.Uint64
}

func (h *fakeHandle) CurrentFrame() (camera.Frame, bool) {
	if h.unavailable.Load() {
		return camera.Frame{}, false
	}
	return camera.Frame{
		Image:     image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight)),
		Width:     frameWidth,
		Height:    frameHeight,
		Timestamp: time.Now(),
		Seq:       h.seq.Add(1),
	}, true
}

func (h *fakeHandle) Close() error {
	h.closes.Add(1)
	return nil
}

type fakeSource struct {
	err    error
	opens  atomic.Int32
	handle *fakeHandle
}

func newFakeSource() *fakeSource {
	return &fakeSource{handle: &fakeHandle{}}
}

func (s *fakeSource) Open(ctx context.Context, c camera.Constraints) (camera.Handle, error) {
	s.opens.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.handle, nil
}

type fakeDetector struct {
	script     func(call int) ([]detector.FaceBox, error)
	calls      atomic.Int32
	inFlight   atomic.Int32
	overlapped atomic.Bool
	closes     atomic.Int32
}

func (d *fakeDetector) Detect(ctx context.Context, f camera.Frame) ([]detector.FaceBox, error) {
	if d.inFlight.Add(1) > 1 {
		d.overlapped.Store(true)
	}
	defer d.inFlight.Add(-1)

	time.Sleep(100 * time.Microsecond)
	return d.script(int(d.calls.Add(1)))
}

func (d *fakeDetector) Close() error {
	d.closes.Add(1)
	return nil
}

type fakeBackend struct {
	accelerated bool
	det         *fakeDetector
	loadErr     error
}

func (b *fakeBackend) Name() string {
	if b.accelerated {
		return "fake-accel"
	}
	return "fake-cpu"
}

func (b *fakeBackend) Accelerated() bool { return b.accelerated }

func (b *fakeBackend) LoadModel(ctx context.Context) (detector.Detector, error) {
	if b.loadErr != nil {
		return nil, b.loadErr
	}
	return b.det, nil
}

func (b *fakeBackend) Release() error { return nil }

type fakeProvider struct {
	det      *fakeDetector
	accelErr error
	softErr  error
	loadErr  error
}

func (p *fakeProvider) InitBackend(ctx context.Context, accelerated bool) (detector.Backend, error) {
	if accelerated && p.accelErr != nil {
		return nil, p.accelErr
	}
	if !accelerated && p.softErr != nil {
		return nil, p.softErr
	}
	return &fakeBackend{accelerated: accelerated, det: p.det, loadErr: p.loadErr}, nil
}

// sequence returns each step once, then repeats the last one
func sequence(steps ...[]detector.FaceBox) func(int) ([]detector.FaceBox, error) {
	return func(call int) ([]detector.FaceBox, error) {
		if call > len(steps) {
			return steps[len(steps)-1], nil
		}
		return steps[call-1], nil
	}
}

func repeat(faces []detector.FaceBox, n int) [][]detector.FaceBox {
	out := make([][]detector.FaceBox, n)
	for i := range out {
		out[i] = faces
	}
	return out
}

type recorder struct {
	mu          sync.Mutex
	transitions []Transition
	captures    []ImageBuffer
}

func (r *recorder) onTransition(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) onCapture(b ImageBuffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.captures = append(r.captures, b)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.transitions))
	for _, t := range r.transitions {
		out = append(out, t.To)
	}
	return out
}

func newTestSession(src camera.Source, p detector.Provider, rec *recorder, opts ...Option) *Session {
	base := []Option{
		WithScheduler(ImmediateScheduler{}),
		WithTransitionListener(rec.onTransition),
	}
	return New(src, p, rec.onCapture, append(base, opts...)...)
}

func equalStates(a, b []State) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPermissionDenied(t *testing.T) {
	src := newFakeSource()
	src.err = fmt.Errorf("prompt dismissed: %w", camera.ErrPermissionDenied)
	rec := &recorder{}
	s := newTestSession(src, &fakeProvider{det: &fakeDetector{}}, rec)

	err := s.Run(context.Background())

	var ce *Error
	if !errors.As(err, &ce) || ce.Reason != ReasonPermissionDenied {
		t.Fatalf("expected permission_denied, got %v", err)
	}
	if !errors.Is(err, camera.ErrPermissionDenied) {
		t.Errorf("expected error to wrap ErrPermissionDenied")
	}
	if got, want := rec.states(), []State{StateAskingCamera, StateError}; !equalStates(got, want) {
		t.Errorf("expected transitions %v, got %v", want, got)
	}
	if len(rec.captures) != 0 {
		t.Errorf("callback invoked %d times", len(rec.captures))
	}
	if n := src.handle.closes.Load(); n != 0 {
		t.Errorf("expected no close, got %d", n)
	}
	if s.State() != StateError || s.Err() == nil {
		t.Errorf("expected error state, got %v / %v", s.State(), s.Err())
	}
}

func TestNormalCapture(t *testing.T) {
	src := newFakeSource()
	det := &fakeDetector{script: sequence(one)}
	rec := &recorder{}
	s := newTestSession(src, &fakeProvider{det: det}, rec)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []State{StateAskingCamera, StateLoadingBackend, StateLoadingModel, StateNoFace, StateHold, StateDone}
	if got := rec.states(); !equalStates(got, want) {
		t.Errorf("expected transitions %v, got %v", want, got)
	}
	if len(rec.captures) != 1 {
		t.Fatalf("expected 1 capture, got %d", len(rec.captures))
	}
	buf := rec.captures[0]
	if buf.Empty() || buf.MIMEType != MIMETypeJPEG {
		t.Errorf("unexpected buffer: %d bytes, %q", len(buf.Data), buf.MIMEType)
	}
	if buf.Width != frameWidth || buf.Height != frameHeight {
		t.Errorf("expected %dx%d, got %dx%d", frameWidth, frameHeight, buf.Width, buf.Height)
	}
	if n := det.calls.Load(); n != stability.DefaultFrames {
		t.Errorf("expected %d detections, got %d", stability.DefaultFrames, n)
	}
	if n := src.handle.closes.Load(); n != 1 {
		t.Errorf("expected camera closed once, got %d", n)
	}
	if n := det.closes.Load(); n != 1 {
		t.Errorf("expected detector closed once, got %d", n)
	}
	if s.State() != StateDone || s.Err() != nil {
		t.Errorf("expected done without error, got %v / %v", s.State(), s.Err())
	}
}

func TestGapResetsStability(t *testing.T) {
	steps := append(repeat(one, 5), []detector.FaceBox{})
	steps = append(steps, repeat(one, 6)...)

	src := newFakeSource()
	det := &fakeDetector{script: sequence(steps...)}
	rec := &recorder{}
	s := newTestSession(src, &fakeProvider{det: det}, rec)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n := det.calls.Load(); n != 12 {
		t.Errorf("expected capture after 12 ticks, got %d", n)
	}
	if len(rec.captures) != 1 {
		t.Errorf("expected 1 capture, got %d", len(rec.captures))
	}
}

func TestMultipleFacesNeverCapture(t *testing.T) {
	const crowded = 30
	steps := append(repeat(two, crowded), one)

	src := newFakeSource()
	det := &fakeDetector{script: sequence(steps...)}
	rec := &recorder{}

	var bad atomic.Int32
	s := newTestSession(src, &fakeProvider{det: det}, rec,
		WithTickListener(func(r TickReport) {
			if r.Seq <= crowded && (r.Count != 0 || r.State != StateNoFace || r.Outcome != stability.OutcomeMultipleFaces) {
				bad.Add(1)
			}
		}))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n := bad.Load(); n != 0 {
		t.Errorf("%d crowded ticks advanced the counter", n)
	}
	if n := det.calls.Load(); n != crowded+stability.DefaultFrames {
		t.Errorf("expected %d detections, got %d", crowded+stability.DefaultFrames, n)
	}
}

func TestNoOverlappingInference(t *testing.T) {
	src := newFakeSource()
	det := &fakeDetector{script: sequence(append(repeat(two, 20), one)...)}
	s := newTestSession(src, &fakeProvider{det: det}, &recorder{},
		WithScheduler(NewPacedScheduler(50*time.Microsecond)))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if det.overlapped.Load() {
		t.Error("two detections were in flight at the same time")
	}
}

func TestStabilityFramesOption(t *testing.T) {
	src := newFakeSource()
	det := &fakeDetector{script: sequence(one)}
	rec := &recorder{}
	s := newTestSession(src, &fakeProvider{det: det}, rec, WithStabilityFrames(1))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n := det.calls.Load(); n != 1 {
		t.Errorf("expected 1 detection, got %d", n)
	}
	want := []State{StateAskingCamera, StateLoadingBackend, StateLoadingModel, StateNoFace, StateHold, StateDone}
	if got := rec.states(); !equalStates(got, want) {
		t.Errorf("expected transitions %v, got %v", want, got)
	}
}

func TestCameraReleasedBeforeCallback(t *testing.T) {
	src := newFakeSource()
	det := &fakeDetector{script: sequence(one)}

	var closesAtCallback int32 = -1
	s := New(src, &fakeProvider{det: det}, func(ImageBuffer) {
		closesAtCallback = src.handle.closes.Load()
	}, WithScheduler(ImmediateScheduler{}))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if closesAtCallback != 1 {
		t.Errorf("expected camera closed before callback, got %d closes", closesAtCallback)
	}
}

func TestFailuresReleaseCamera(t *testing.T) {
	tests := []struct {
		name     string
		provider *fakeProvider
		opts     []Option
		reason   Reason
		target   error
	}{
		{
			name: "backend unavailable",
			provider: &fakeProvider{
				accelErr: errors.New("no gpu"),
				softErr:  errors.New("no cpu provider"),
			},
			reason: ReasonBackendUnavailable,
			target: detector.ErrBackendUnavailable,
		},
		{
			name:     "model load failed",
			provider: &fakeProvider{loadErr: errors.New("corrupt model")},
			reason:   ReasonModelLoadFailed,
			target:   detector.ErrModelLoadFailed,
		},
		{
			name: "inference failed",
			provider: &fakeProvider{det: &fakeDetector{script: func(int) ([]detector.FaceBox, error) {
				return nil, errors.New("session run failed")
			}}},
			opts:   []Option{WithMaxInferenceFailures(3)},
			reason: ReasonInferenceFailed,
			target: detector.ErrInferenceFailed,
		},
		{
			name:     "encoding failed",
			provider: &fakeProvider{det: &fakeDetector{script: sequence(one)}},
			opts: []Option{WithEncoder(encoderFunc(func(camera.Frame) (ImageBuffer, error) {
				return ImageBuffer{}, errors.New("disk full")
			}))},
			reason: ReasonEncodingFailed,
			target: ErrEncodingFailed,
		},
		{
			name:     "empty encoding",
			provider: &fakeProvider{det: &fakeDetector{script: sequence(one)}},
			opts: []Option{WithEncoder(encoderFunc(func(camera.Frame) (ImageBuffer, error) {
				return ImageBuffer{}, nil
			}))},
			reason: ReasonEncodingFailed,
			target: ErrEncodingFailed,
		},
		{
			name: "panic in detector",
			provider: &fakeProvider{det: &fakeDetector{script: func(int) ([]detector.FaceBox, error) {
				panic("tensor shape mismatch")
			}}},
			reason: ReasonInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newFakeSource()
			rec := &recorder{}
			s := newTestSession(src, tt.provider, rec, tt.opts...)

			err := s.Run(context.Background())

			var ce *Error
			if !errors.As(err, &ce) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if ce.Reason != tt.reason {
				t.Errorf("expected reason %s, got %s", tt.reason, ce.Reason)
			}
			if tt.target != nil && !errors.Is(err, tt.target) {
				t.Errorf("expected error to wrap %v, got %v", tt.target, err)
			}
			if n := src.handle.closes.Load(); n != 1 {
				t.Errorf("expected camera closed once, got %d", n)
			}
			if len(rec.captures) != 0 {
				t.Errorf("callback invoked %d times", len(rec.captures))
			}
			if s.State() != StateError {
				t.Errorf("expected error state, got %v", s.State())
			}
		})
	}
}

type encoderFunc func(camera.Frame) (ImageBuffer, error)

func (f encoderFunc) Encode(frame camera.Frame) (ImageBuffer, error) {
	return f(frame)
}

func TestInferenceFailuresAreTransient(t *testing.T) {
	det := &fakeDetector{}
	det.script = func(call int) ([]detector.FaceBox, error) {
		if call == 4 {
			return nil, errors.New("session run failed")
		}
		return one, nil
	}
	src := newFakeSource()
	rec := &recorder{}
	s := newTestSession(src, &fakeProvider{det: det}, rec)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	// 3 accepted, 1 failure resets, then 6 accepted
	if n := det.calls.Load(); n != 10 {
		t.Errorf("expected 10 detections, got %d", n)
	}
	if len(rec.captures) != 1 {
		t.Errorf("expected 1 capture, got %d", len(rec.captures))
	}
}

func TestMissingFramesResetStability(t *testing.T) {
	src := newFakeSource()
	src.handle.unavailable.Store(true)
	det := &fakeDetector{script: sequence(one)}

	var missed atomic.Int32
	s := newTestSession(src, &fakeProvider{det: det}, &recorder{},
		WithTickListener(func(r TickReport) {
			if !r.HasFrame {
				if missed.Add(1) == 3 {
					src.handle.unavailable.Store(false)
				}
			}
		}))

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if n := missed.Load(); n != 3 {
		t.Errorf("expected 3 ticks without a frame, got %d", n)
	}
	if n := det.calls.Load(); n != stability.DefaultFrames {
		t.Errorf("expected %d detections, got %d", stability.DefaultFrames, n)
	}
}

func TestCancelDuringScan(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := newFakeSource()
	det := &fakeDetector{script: sequence(two)}
	rec := &recorder{}
	s := newTestSession(src, &fakeProvider{det: det}, rec,
		WithTickListener(func(r TickReport) {
			if r.Seq == 10 {
				cancel()
			}
		}))

	err := s.Run(ctx)

	var ce *Error
	if !errors.As(err, &ce) || ce.Reason != ReasonCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("expected error to wrap ErrCancelled")
	}
	if n := src.handle.closes.Load(); n != 1 {
		t.Errorf("expected camera closed once, got %d", n)
	}
	if n := det.closes.Load(); n != 1 {
		t.Errorf("expected detector closed once, got %d", n)
	}
	if len(rec.captures) != 0 {
		t.Errorf("callback invoked %d times", len(rec.captures))
	}
}

func TestCloseWaitsForRelease(t *testing.T) {
	src := newFakeSource()
	det := &fakeDetector{script: sequence(two)}
	s := newTestSession(src, &fakeProvider{det: det}, &recorder{},
		WithScheduler(NewPacedScheduler(time.Millisecond)))

	done := make(chan error, 1)
	go func() {
		done <- s.Run(context.Background())
	}()

	deadline := time.Now().Add(5 * time.Second)
	for !s.State().Scanning() {
		if time.Now().After(deadline) {
			t.Fatal("session never started scanning")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if n := src.handle.closes.Load(); n != 1 {
		t.Errorf("expected camera closed when Close returns, got %d", n)
	}

	select {
	case err := <-done:
		if ReasonOf(err) != ReasonCancelled {
			t.Errorf("expected cancelled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}

	// idempotent
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if n := src.handle.closes.Load(); n != 1 {
		t.Errorf("expected camera closed once, got %d", n)
	}
}

func TestCloseBeforeRun(t *testing.T) {
	src := newFakeSource()
	rec := &recorder{}
	s := newTestSession(src, &fakeProvider{det: &fakeDetector{script: sequence(one)}}, rec)

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	err := s.Run(context.Background())
	if ReasonOf(err) != ReasonCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if n := src.opens.Load(); n != 0 {
		t.Errorf("expected camera never opened, got %d opens", n)
	}
	if got, want := rec.states(), []State{StateError}; !equalStates(got, want) {
		t.Errorf("expected transitions %v, got %v", want, got)
	}
}

func TestRunTwice(t *testing.T) {
	src := newFakeSource()
	rec := &recorder{}
	s := newTestSession(src, &fakeProvider{det: &fakeDetector{script: sequence(one)}}, rec)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
	if len(rec.captures) != 1 {
		t.Errorf("expected 1 capture, got %d", len(rec.captures))
	}
	if n := src.opens.Load(); n != 1 {
		t.Errorf("expected 1 open, got %d", n)
	}
}

func TestSessionIDOnTransitions(t *testing.T) {
	rec := &recorder{}
	s := newTestSession(newFakeSource(), &fakeProvider{det: &fakeDetector{script: sequence(one)}}, rec)

	if s.ID() == "" {
		t.Fatal("expected a session id")
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	for _, tr := range rec.transitions {
		if tr.SessionID != s.ID() {
			t.Errorf("transition %v -> %v carries id %q", tr.From, tr.To, tr.SessionID)
		}
		if !CanTransition(tr.From, tr.To) {
			t.Errorf("invalid transition %v -> %v", tr.From, tr.To)
		}
	}
}
