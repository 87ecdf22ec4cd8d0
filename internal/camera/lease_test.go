package camera

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"
)

type fakeHandle struct {
	mu     sync.Mutex
	closes int
	frame  Frame
	ready  bool
}

func (h *fakeHandle) CurrentFrame() (Frame, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frame, h.ready
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	return nil
}

type fakeSource struct {
	handle *fakeHandle
	err    error
	opens  int
}

func (s *fakeSource) Open(ctx context.Context, c Constraints) (Handle, error) {
	s.opens++
	if s.err != nil {
		return nil, s.err
	}
	return s.handle, nil
}

func TestAcquireReleaseOnce(t *testing.T) {
	h := &fakeHandle{}
	src := &fakeSource{handle: h}

	lease, err := Acquire(context.Background(), src, DefaultConstraints())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease.Release()
		}()
	}
	wg.Wait()
	lease.Release()

	if h.closes != 1 {
		t.Errorf("expected handle closed once, got %d", h.closes)
	}
	if !lease.Released() {
		t.Error("expected lease to report released")
	}
}

func TestAcquireErrorOpensNothing(t *testing.T) {
	src := &fakeSource{err: ErrPermissionDenied}

	lease, err := Acquire(context.Background(), src, DefaultConstraints())
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if lease != nil {
		t.Error("expected no lease on failure")
	}
}

func TestAcquireCancelledContext(t *testing.T) {
	src := &fakeSource{handle: &fakeHandle{}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Acquire(ctx, src, DefaultConstraints()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if src.opens != 0 {
		t.Errorf("expected source not to be opened, got %d opens", src.opens)
	}
}

func TestLeaseCurrentFrame(t *testing.T) {
	h := &fakeHandle{}
	lease, err := Acquire(context.Background(), &fakeSource{handle: h}, DefaultConstraints())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	if _, ok := lease.CurrentFrame(); ok {
		t.Fatal("expected no frame before device is ready")
	}

	h.mu.Lock()
	h.frame = Frame{Image: image.NewRGBA(image.Rect(0, 0, 4, 4)), Width: 4, Height: 4, Timestamp: time.Now()}
	h.ready = true
	h.mu.Unlock()

	f, ok := lease.CurrentFrame()
	if !ok || f.Empty() {
		t.Fatal("expected a frame once ready")
	}

	lease.Release()
	if _, ok := lease.CurrentFrame(); ok {
		t.Error("expected no frame after release")
	}
}
