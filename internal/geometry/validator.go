// Package geometry decides whether a detected face is framed well enough
// for an enrollment photo.
package geometry

import "github.com/dudu/facecap/internal/detector"

// Acceptance window as fractions of the frame. Bounds are inclusive.
const (
	CenterXMin = 0.25
	CenterXMax = 0.75
	CenterYMin = 0.20
	CenterYMax = 0.70

	// MinHeightRatio is the smallest face height relative to frame height.
	// It stands in for "close enough to the camera".
	MinHeightRatio = 0.20
)

// Verdict breaks an acceptance decision into its two conditions
type Verdict struct {
	Centered    bool
	LargeEnough bool
}

// Accepted reports whether both conditions hold
func (v Verdict) Accepted() bool {
	return v.Centered && v.LargeEnough
}

// Hint returns a short instruction for the user, empty when accepted
func (v Verdict) Hint() string {
	switch {
	case !v.Centered:
		return "center your face"
	case !v.LargeEnough:
		return "move closer"
	default:
		return ""
	}
}

// Evaluate checks box against a width x height frame
func Evaluate(box detector.FaceBox, width, height int) Verdict {
	if width <= 0 || height <= 0 {
		return Verdict{}
	}

	w, h := float64(width), float64(height)
	xMin, yMin := float64(box.XMin), float64(box.YMin)
	bw := float64(box.XMax) - xMin
	bh := float64(box.YMax) - yMin
	if bw <= 0 || bh <= 0 {
		return Verdict{}
	}

	cx := xMin + bw/2
	cy := yMin + bh/2

	return Verdict{
		Centered: cx >= CenterXMin*w && cx <= CenterXMax*w &&
			cy >= CenterYMin*h && cy <= CenterYMax*h,
		LargeEnough: bh >= MinHeightRatio*h,
	}
}

// Accepts reports whether box is centered and large enough
func Accepts(box detector.FaceBox, width, height int) bool {
	return Evaluate(box, width, height).Accepted()
}
