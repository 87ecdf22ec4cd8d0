package capture

import (
	"context"
	"errors"
	"fmt"

	"github.com/dudu/facecap/internal/camera"
	"github.com/dudu/facecap/internal/detector"
)

var (
	// ErrEncodingFailed is returned when the final snapshot cannot be encoded
	ErrEncodingFailed = errors.New("encoding failed")
	// ErrCancelled is returned when the session was torn down before capture
	ErrCancelled = errors.New("capture cancelled")
	// ErrAlreadyStarted is returned by a second call to Run
	ErrAlreadyStarted = errors.New("capture session already started")
	// ErrNoSnapshot is returned when the camera has no frame for the final snapshot
	ErrNoSnapshot = errors.New("no frame available for snapshot")
)

// Reason is the code surfaced with a terminal error
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonPermissionDenied   Reason = "permission_denied"
	ReasonDeviceUnavailable  Reason = "device_unavailable"
	ReasonBackendUnavailable Reason = "backend_unavailable"
	ReasonModelLoadFailed    Reason = "model_load_failed"
	ReasonInferenceFailed    Reason = "inference_failed"
	ReasonEncodingFailed     Reason = "encoding_failed"
	ReasonCancelled          Reason = "cancelled"
	ReasonInternal           Reason = "internal"
)

// Error is the terminal failure of a session
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("capture failed: %s", e.Reason)
	}
	return fmt.Sprintf("capture failed (%s): %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ReasonOf classifies err into a reason code
func ReasonOf(err error) Reason {
	var ce *Error
	switch {
	case err == nil:
		return ReasonNone
	case errors.As(err, &ce):
		return ce.Reason
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrCancelled):
		return ReasonCancelled
	case errors.Is(err, camera.ErrPermissionDenied):
		return ReasonPermissionDenied
	case errors.Is(err, camera.ErrDeviceUnavailable):
		return ReasonDeviceUnavailable
	case errors.Is(err, detector.ErrBackendUnavailable):
		return ReasonBackendUnavailable
	case errors.Is(err, detector.ErrModelLoadFailed):
		return ReasonModelLoadFailed
	case errors.Is(err, detector.ErrInferenceFailed):
		return ReasonInferenceFailed
	case errors.Is(err, ErrEncodingFailed):
		return ReasonEncodingFailed
	default:
		return ReasonInternal
	}
}
