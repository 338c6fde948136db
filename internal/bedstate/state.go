// Package bedstate turns occupancy observations into bed-in and bed-out
// transitions and dispatches each transition exactly once.
package bedstate

import "time"

// State is the believed bed occupancy.
type State int

const (
	Unknown State = iota
	OutOfBed
	InBed
)

func (s State) String() string {
	switch s {
	case OutOfBed:
		return "out_of_bed"
	case InBed:
		return "in_bed"
	default:
		return "unknown"
	}
}

// StateFor maps an in_bed flag to a State.
func StateFor(inBed bool) State {
	if inBed {
		return InBed
	}
	return OutOfBed
}

// Observation is one normalized occupancy sample from either source.
type Observation struct {
	ObservedAt time.Time
	InBed      bool
	// Source is informational: "push" or "poll".
	Source string
}

// Result is the outcome of feeding one Observation to the Detector.
type Result int

const (
	// Initialized means the first observation set the state from Unknown.
	Initialized Result = iota
	// Unchanged means the observation matched the current state.
	Unchanged
	// Transitioned means the state flipped and a dispatch was issued.
	Transitioned
)

func (r Result) String() string {
	switch r {
	case Initialized:
		return "initialized"
	case Unchanged:
		return "unchanged"
	case Transitioned:
		return "transitioned"
	default:
		return "unknown"
	}
}

// Event describes a transition handed to a Dispatcher.
type Event struct {
	ID         string
	State      State
	Previous   State
	ObservedAt time.Time
	Source     string
}
