package detector

import (
	"context"
	"errors"

	"github.com/dudu/facecap/internal/camera"
)

var (
	// ErrBackendUnavailable is returned when no compute backend could be initialized
	ErrBackendUnavailable = errors.New("compute backend unavailable")
	// ErrModelLoadFailed is returned when the model could not be materialized
	ErrModelLoadFailed = errors.New("model load failed")
	// ErrInferenceFailed is returned by a failed Detect call
	ErrInferenceFailed = errors.New("inference failed")
)

// Point represents a 2D point
type Point struct {
	X, Y float32
}

// FaceBox is the axis-aligned bounding box of a detected face in frame pixels
type FaceBox struct {
	XMin, YMin float32 // top-left
	XMax, YMax float32 // bottom-right
	Score      float32
}

// Width returns box width
func (b FaceBox) Width() float32 {
	return b.XMax - b.XMin
}

// Height returns box height
func (b FaceBox) Height() float32 {
	return b.YMax - b.YMin
}

// Center returns box center point
func (b FaceBox) Center() Point {
	return Point{
		X: b.XMin + b.Width()/2,
		Y: b.YMin + b.Height()/2,
	}
}

// Area returns box area
func (b FaceBox) Area() float32 {
	return b.Width() * b.Height()
}

// Detector finds faces in a frame. Detect must return before the caller
// asks for the next frame; implementations never run two inferences at once.
type Detector interface {
	Detect(ctx context.Context, frame camera.Frame) ([]FaceBox, error)
	Close() error
}

// Backend is a negotiated compute backend that can materialize the model
type Backend interface {
	Name() string
	Accelerated() bool
	LoadModel(ctx context.Context) (Detector, error)
	Release() error
}

// Provider initializes compute backends. accelerated selects the hardware
// backend; false selects the software fallback.
type Provider interface {
	InitBackend(ctx context.Context, accelerated bool) (Backend, error)
}
