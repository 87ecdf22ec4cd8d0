package capture

import "time"

// State is the lifecycle position of a capture session
type State int32

const (
	StateInit State = iota
	StateAskingCamera
	StateLoadingBackend
	StateLoadingModel
	StateNoFace
	StateHold
	StateDone
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAskingCamera:
		return "asking_camera"
	case StateLoadingBackend:
		return "loading_backend"
	case StateLoadingModel:
		return "loading_model"
	case StateNoFace:
		return "no_face"
	case StateHold:
		return "hold"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen
func (s State) Terminal() bool {
	return s == StateDone || s == StateError
}

// Scanning reports whether the detection loop runs in this state
func (s State) Scanning() bool {
	return s == StateNoFace || s == StateHold
}

// transitions lists the valid exits of every state
var transitions = map[State][]State{
	StateInit:           {StateAskingCamera, StateError},
	StateAskingCamera:   {StateLoadingBackend, StateError},
	StateLoadingBackend: {StateLoadingModel, StateError},
	StateLoadingModel:   {StateNoFace, StateError},
	StateNoFace:         {StateHold, StateNoFace, StateError},
	StateHold:           {StateDone, StateHold, StateNoFace, StateError},
}

// CanTransition reports whether from -> to is a valid edge
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition describes one state change
type Transition struct {
	SessionID string
	From      State
	To        State
	Reason    Reason
	At        time.Time
}
