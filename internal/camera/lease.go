package camera

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Lease scopes an open Handle to its owner. Release closes the handle
// exactly once, so owners can defer it and also call it on early paths.
type Lease struct {
	handle Handle
	once   sync.Once
	closes atomic.Int32
	err    error
}

// Acquire opens the source and wraps the handle in a Lease
func Acquire(ctx context.Context, src Source, c Constraints) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, err := src.Open(ctx, c)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("%w: source returned no handle", ErrDeviceUnavailable)
	}
	return &Lease{handle: h}, nil
}

// CurrentFrame returns the latest frame of the leased handle.
// A released lease never returns a frame.
func (l *Lease) CurrentFrame() (Frame, bool) {
	if l.Released() {
		return Frame{}, false
	}
	return l.handle.CurrentFrame()
}

// Release closes the underlying handle once and returns the close error
func (l *Lease) Release() error {
	l.once.Do(func() {
		l.closes.Add(1)
		l.err = l.handle.Close()
	})
	return l.err
}

// Released reports whether Release has run
func (l *Lease) Released() bool {
	return l.closes.Load() > 0
}
