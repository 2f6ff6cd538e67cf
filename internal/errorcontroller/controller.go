// Package errorcontroller drives the per-(category, code) retry state
// machine and recovery-action selection for classified playback errors
// (C8, §4.8), composing internal/retrypolicy's pure delay arithmetic with
// a per-key RetryState map, the way a circuit breaker composes a per-key
// state with threshold-gated transitions.
package errorcontroller

import (
	"log/slog"
	"sync"
	"time"

	"github.com/avplayer/playcore/internal/eventbus"
	"github.com/avplayer/playcore/internal/models"
	"github.com/avplayer/playcore/internal/retrypolicy"
)

const (
	EventError     = "error"
	EventFatal     = "fatal"
	EventRecovery  = "recovery"
	EventRecovered = "recovered"
)

// RecoveryAction is the action the controller recommends for a classified
// error (§4.8).
type RecoveryAction string

const (
	ActionNone           RecoveryAction = "None"
	ActionRetry          RecoveryAction = "Retry"
	ActionSkipSegment    RecoveryAction = "SkipSegment"
	ActionQualityFallback RecoveryAction = "QualityFallback"
	ActionReinitSource   RecoveryAction = "ReinitSource"
)

// Decision is the outcome of Handle (§4.8): what to do, and how long to
// wait before doing it.
type Decision struct {
	Action RecoveryAction
	Delay  time.Duration
}

// RecoveryPayload is the EventRecovery payload.
type RecoveryPayload struct {
	Error       *models.PlayerError
	Attempt     int
	MaxAttempts int
}

// Controller is the mutable per-key retry-state tracker (C8). The zero
// value is not usable; construct with New.
type Controller struct {
	mu       sync.Mutex
	bus      *eventbus.Bus
	logger   *slog.Logger
	states   map[string]*models.RetryState
	policies map[models.ErrorCategory]retrypolicy.Policy
}

// New constructs an empty Controller using the §4.2 default policy table.
func New(bus *eventbus.Bus, logger *slog.Logger) *Controller {
	return NewWithPolicies(bus, logger, retrypolicy.Defaults)
}

// NewWithPolicies constructs an empty Controller over a caller-supplied
// policy table, e.g. config.Config.RetryPolicies() after applying any
// per-category overrides (§4.2).
func NewWithPolicies(bus *eventbus.Bus, logger *slog.Logger, policies map[models.ErrorCategory]retrypolicy.Policy) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		bus:      bus,
		logger:   logger.With("component", "errorcontroller"),
		states:   make(map[string]*models.RetryState),
		policies: policies,
	}
}

// Handle runs the §4.8 decision procedure for a freshly classified error.
func (c *Controller) Handle(err *models.PlayerError, now time.Time) Decision {
	c.bus.Emit(EventError, err)

	if err.Severity == models.SeverityFatal {
		c.bus.Emit(EventFatal, err)
		return Decision{Action: ActionNone}
	}

	c.mu.Lock()
	state, ok := c.states[err.Key()]
	if !ok {
		state = c.policies[err.Category].NewState()
		c.states[err.Key()] = state
	}

	if !retrypolicy.CanRetry(state) {
		c.mu.Unlock()
		c.bus.Emit(EventFatal, err)
		return Decision{Action: ActionNone}
	}

	retrypolicy.Record(state, err, now)
	delay := retrypolicy.Delay(state.Attempt-1, state)
	attempt := state.Attempt
	maxAttempts := state.MaxAttempts
	action := selectAction(err.Category, attempt)
	c.mu.Unlock()

	c.bus.Emit(EventRecovery, RecoveryPayload{Error: err, Attempt: attempt, MaxAttempts: maxAttempts})
	return Decision{Action: action, Delay: delay}
}

// selectAction implements the §4.8 category -> action table. attempt is
// the 1-based attempt number just recorded, used to distinguish
// SegmentCorruption's first-attempt Retry from its subsequent
// SkipSegment.
func selectAction(category models.ErrorCategory, attempt int) RecoveryAction {
	switch category {
	case models.CategoryNetworkTransient:
		return ActionRetry
	case models.CategorySegmentCorruption:
		if attempt <= 1 {
			return ActionRetry
		}
		return ActionSkipSegment
	case models.CategoryDecodeFailure:
		return ActionQualityFallback
	case models.CategoryMediaSourceFailure:
		return ActionReinitSource
	case models.CategoryKeySystem:
		return ActionReinitSource
	case models.CategoryUnknown:
		return ActionRetry
	default:
		return ActionNone
	}
}

// MarkRecovered resets the retry state for err's (category, code) and
// publishes recovered (§4.8).
func (c *Controller) MarkRecovered(err *models.PlayerError) {
	c.mu.Lock()
	if state, ok := c.states[err.Key()]; ok {
		retrypolicy.Reset(state)
	}
	c.mu.Unlock()
	c.bus.Emit(EventRecovered, err)
}

// ClearRetryStates discards every tracked RetryState. Called on source
// change (§4.8), since retry history from the previous source no longer
// applies.
func (c *Controller) ClearRetryStates() {
	c.mu.Lock()
	c.states = make(map[string]*models.RetryState)
	c.mu.Unlock()
}
