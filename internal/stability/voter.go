// Package stability debounces per-frame face decisions into a single
// "ready to capture" signal by counting consecutive accepted frames.
package stability

import (
	"github.com/dudu/facecap/internal/detector"
	"github.com/dudu/facecap/internal/geometry"
)

// DefaultFrames is the number of consecutive accepted frames required before
// capture. At typical scheduler cadence this is roughly one second.
const DefaultFrames = 6

// Outcome classifies a single tick
type Outcome int

const (
	OutcomeNoFace Outcome = iota
	OutcomeMultipleFaces
	OutcomeRejected
	OutcomeAccepted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoFace:
		return "no_face"
	case OutcomeMultipleFaces:
		return "multiple_faces"
	case OutcomeRejected:
		return "rejected"
	case OutcomeAccepted:
		return "accepted"
	default:
		return "unknown"
	}
}

// Result is the voter state after one tick
type Result struct {
	Outcome Outcome
	Verdict geometry.Verdict
	Count   int
	Ready   bool
}

// Voter counts consecutive ticks with exactly one accepted face
type Voter struct {
	threshold int
	count     int
}

// NewVoter creates a voter that becomes ready after threshold accepted
// ticks. Non-positive values use DefaultFrames.
func NewVoter(threshold int) *Voter {
	if threshold <= 0 {
		threshold = DefaultFrames
	}
	return &Voter{threshold: threshold}
}

// Vote advances or resets the counter for the faces detected in one frame
func (v *Voter) Vote(faces []detector.FaceBox, width, height int) Result {
	var r Result

	switch len(faces) {
	case 0:
		r.Outcome = OutcomeNoFace
	case 1:
		r.Verdict = geometry.Evaluate(faces[0], width, height)
		if r.Verdict.Accepted() {
			r.Outcome = OutcomeAccepted
		} else {
			r.Outcome = OutcomeRejected
		}
	default:
		// Enrollment is single identity only
		r.Outcome = OutcomeMultipleFaces
	}

	if r.Outcome == OutcomeAccepted {
		v.count++
	} else {
		v.count = 0
	}

	r.Count = v.count
	r.Ready = v.count >= v.threshold
	return r
}

// Miss resets the counter for a tick that produced no usable detection
func (v *Voter) Miss() Result {
	v.count = 0
	return Result{Outcome: OutcomeNoFace}
}

// Reset clears the counter
func (v *Voter) Reset() {
	v.count = 0
}

// Count returns the current number of consecutive accepted ticks
func (v *Voter) Count() int {
	return v.count
}

// Threshold returns the number of ticks required for capture
func (v *Voter) Threshold() int {
	return v.threshold
}
