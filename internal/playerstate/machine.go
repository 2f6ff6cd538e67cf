// Package playerstate wraps models.PlayerState with the stateful transition
// guard, event emission, and play()/isPlayable() predicates required by the
// player state machine (C4, §4.4). The legality table itself lives in
// models.CanTransitionTo; this package owns the mutable current state and
// the event side effect.
package playerstate

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/avplayer/playcore/internal/eventbus"
	"github.com/avplayer/playcore/internal/models"
)

// EventStateChange is the event name emitted on every actual change of
// state (an illegal transition panics first), carrying a Transition
// payload (§4.4).
const EventStateChange = "statechange"

// Transition is the payload emitted on EventStateChange.
type Transition struct {
	From   models.PlayerState
	To     models.PlayerState
	Action models.TransitionAction
}

// Machine is the mutable, mutex-guarded player state (C4). The zero value
// is not usable; construct with New.
type Machine struct {
	mu     sync.Mutex
	state  models.PlayerState
	bus    *eventbus.Bus
	logger *slog.Logger
}

// New constructs a Machine in StateIdle.
func New(bus *eventbus.Bus, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{
		state:  models.StateIdle,
		bus:    bus,
		logger: logger.With("component", "playerstate"),
	}
}

// State returns the current state.
func (m *Machine) State() models.PlayerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CanTransitionTo reports whether `to` is a legal next state from the
// current one (§4.4).
func (m *Machine) CanTransitionTo(to models.PlayerState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return models.CanTransitionTo(m.state, to)
}

// TransitionTo moves to `to` under action, validating against the
// transition table. Same-state transitions are a legal no-op and emit
// nothing (§4.4 treats no-op as legal; only a genuine state change is
// emitted, to avoid flooding listeners with redundant events). An illegal
// transition is a programmer error: it panics rather than silently
// ignoring a bug in a caller that should have checked CanTransitionTo
// first, or gone through ForceTransition for recovery paths.
func (m *Machine) TransitionTo(to models.PlayerState, action models.TransitionAction) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	if !models.CanTransitionTo(from, to) {
		m.mu.Unlock()
		panic(fmt.Sprintf("playerstate: illegal transition %s -> %s (action=%s)", from, to, action))
	}
	m.state = to
	m.mu.Unlock()

	m.logger.Debug("state transition", "from", from.String(), "to", to.String(), "action", string(action))
	if m.bus != nil {
		m.bus.Emit(EventStateChange, Transition{From: from, To: to, Action: action})
	}
}

// ForceTransition bypasses table validation. Reserved for error recovery
// paths (§4.4) where the target state is known-good regardless of the
// table, e.g. the error controller driving playback back to Loading after
// a ReinitSource action.
func (m *Machine) ForceTransition(to models.PlayerState, action models.TransitionAction) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.mu.Unlock()

	m.logger.Debug("forced state transition", "from", from.String(), "to", to.String(), "action", string(action))
	if m.bus != nil {
		m.bus.Emit(EventStateChange, Transition{From: from, To: to, Action: action})
	}
}

// Reset forces the machine back to Idle. Always legal, from any state
// (§4.4).
func (m *Machine) Reset() {
	m.ForceTransition(models.StateIdle, models.ActionReset)
}

// IsPlayable reports whether play() may be accepted directly (§4.4).
func (m *Machine) IsPlayable() bool {
	return m.State().IsPlayable()
}

// IsPlaying reports whether the state is exactly Playing.
func (m *Machine) IsPlaying() bool {
	return m.State().IsPlaying()
}

// Play attempts to enter Playing. It is only accepted if the current state
// isPlayable() or isPlaying() (§4.4); isPlaying() is a no-op return, not an
// error, since the caller asked for a state it is already in.
func (m *Machine) Play() error {
	s := m.State()
	if s.IsPlaying() {
		return nil
	}
	if !s.IsPlayable() {
		return fmt.Errorf("%w: play() rejected from state %s", models.ErrNotPlayable, s)
	}
	m.TransitionTo(models.StatePlaying, models.ActionPlay)
	return nil
}
