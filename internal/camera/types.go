package camera

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	// ErrPermissionDenied is returned when the platform refuses camera access
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrDeviceUnavailable is returned when no usable device could be opened
	ErrDeviceUnavailable = errors.New("camera device unavailable")
)

// Facing is the preferred orientation of the camera relative to the user
type Facing string

const (
	FacingUser        Facing = "user"
	FacingEnvironment Facing = "environment"
)

// Constraints are the preferred capture settings. They are ideal values,
// sources apply them on a best-effort basis.
type Constraints struct {
	Device int
	Width  int
	Height int
	FPS    int
	Facing Facing
}

// DefaultConstraints returns portrait-friendly 720p settings for a kiosk camera
func DefaultConstraints() Constraints {
	return Constraints{
		Device: 0,
		Width:  1280,
		Height: 720,
		FPS:    30,
		Facing: FacingUser,
	}
}

// Frame is one sampled image from the live video source.
// A frame is only valid for the tick that fetched it.
type Frame struct {
	Image     image.Image
	Width     int
	Height    int
	Timestamp time.Time
	Seq       uint64
}

// Empty reports whether the frame carries no pixel data
func (f Frame) Empty() bool {
	return f.Image == nil || f.Width <= 0 || f.Height <= 0
}

// Source grants exclusive access to a camera device
type Source interface {
	Open(ctx context.Context, c Constraints) (Handle, error)
}

// Handle is an open camera. While a handle is open the device indicator is lit.
type Handle interface {
	// CurrentFrame returns the latest frame without blocking. It reports
	// false until the device has produced its first frame.
	CurrentFrame() (Frame, bool)
	// Close releases the device. It is idempotent.
	Close() error
}
