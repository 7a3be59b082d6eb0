package server

import "sync/atomic"

// State is the server lifecycle state.
type State int32

const (
	StateOff State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "off"
	}
}

// lifecycle holds the state with compare-and-swap transitions, so invalid
// transitions (double start, stop while off) are refused atomically.
type lifecycle struct {
	v atomic.Int32
}

func (l *lifecycle) load() State { return State(l.v.Load()) }

func (l *lifecycle) transition(from, to State) bool {
	return l.v.CompareAndSwap(int32(from), int32(to))
}

func (l *lifecycle) set(s State) { l.v.Store(int32(s)) }
