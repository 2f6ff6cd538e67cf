package models

import "fmt"

// PlayerState is the finite set of legal player lifecycle states (§3, §4.4).
type PlayerState int

const (
	// StateIdle is the initial state, and the state reached by reset().
	StateIdle PlayerState = iota
	// StateLoading is entered while an adapter is being resolved and attached.
	StateLoading
	// StateReady is entered once loading succeeds and playback has not started.
	StateReady
	// StatePlaying indicates active playback.
	StatePlaying
	// StatePaused indicates playback is paused.
	StatePaused
	// StateBuffering is a re-entrant stall state reachable from Playing/Paused.
	StateBuffering
	// StateEnded indicates playback reached the end of the media.
	StateEnded
	// StateError is the recoverable sink error state.
	StateError
)

// String implements fmt.Stringer.
func (s PlayerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateBuffering:
		return "buffering"
	case StateEnded:
		return "ended"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsPlayable reports whether play() may be accepted directly from this state
// (§4.4): Ready, Paused, or Ended.
func (s PlayerState) IsPlayable() bool {
	return s == StateReady || s == StatePaused || s == StateEnded
}

// IsPlaying reports whether the state is exactly Playing.
func (s PlayerState) IsPlaying() bool {
	return s == StatePlaying
}

// TransitionAction names the action that caused or is requesting a
// transition, carried on the emitted statechange event (§4.4).
type TransitionAction string

const (
	ActionLoad          TransitionAction = "load"
	ActionLoaded        TransitionAction = "loaded"
	ActionPlay          TransitionAction = "play"
	ActionPause         TransitionAction = "pause"
	ActionStall         TransitionAction = "stall"
	ActionResume        TransitionAction = "resume"
	ActionEnd           TransitionAction = "end"
	ActionError         TransitionAction = "error"
	ActionRetry         TransitionAction = "retry"
	ActionReset         TransitionAction = "reset"
)

// transitionTable encodes every legal (from, to) edge in §4.4, excluding the
// universal reset() edge (any state -> Idle) which is handled separately by
// CanTransitionTo/forceTransition.
var transitionTable = map[PlayerState]map[PlayerState]bool{
	StateIdle:      {StateLoading: true},
	StateLoading:   {StateReady: true, StateError: true},
	StateReady:     {StatePlaying: true, StateError: true},
	StatePlaying:   {StatePaused: true, StateBuffering: true, StateEnded: true, StateError: true},
	StatePaused:    {StatePlaying: true, StateBuffering: true, StateError: true},
	StateBuffering: {StatePlaying: true, StatePaused: true, StateError: true},
	StateEnded:     {StatePlaying: true, StateLoading: true},
	StateError:     {StateLoading: true},
}

// CanTransitionTo reports whether moving from `from` to `to` appears in the
// transition table (§4.4). Same-state transitions are always legal (no-op).
// Reset (-> Idle) is always legal from any state and is not gated by this
// table; callers that want that behavior should check for StateIdle
// explicitly or call forceTransition.
func CanTransitionTo(from, to PlayerState) bool {
	if from == to {
		return true
	}
	edges, ok := transitionTable[from]
	if !ok {
		return false
	}
	return edges[to]
}
