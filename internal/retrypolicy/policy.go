// Package retrypolicy implements the pure retry-delay arithmetic and
// per-category default policies used by the error controller (C8) (§4.2).
// Every function here is a pure function of its arguments: the package
// holds no state of its own, and the models.RetryState it operates on is
// owned and persisted by the caller.
package retrypolicy

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/avplayer/playcore/internal/models"
)

// Policy is an immutable retry configuration for one error category (§4.2).
type Policy struct {
	MaxAttempts int
	BaseDelayMs int64
	MaxDelayMs  int64
	Exponential bool
	Jitter      float64 // in [0, 1]
}

// Defaults holds the §4.2 default policy table, keyed by category.
var Defaults = map[models.ErrorCategory]Policy{
	models.CategoryNetworkTransient:    {MaxAttempts: 5, BaseDelayMs: 1000, MaxDelayMs: 16000, Exponential: true, Jitter: 0.2},
	models.CategorySegmentCorruption:   {MaxAttempts: 2, BaseDelayMs: 0, MaxDelayMs: 0, Exponential: false, Jitter: 0},
	models.CategoryDecodeFailure:       {MaxAttempts: 1, BaseDelayMs: 0, MaxDelayMs: 0, Exponential: false, Jitter: 0},
	models.CategoryMediaSourceFailure:  {MaxAttempts: 2, BaseDelayMs: 1000, MaxDelayMs: 2000, Exponential: false, Jitter: 0.2},
	models.CategoryFatalIncompatibility: {MaxAttempts: 0, BaseDelayMs: 0, MaxDelayMs: 0, Exponential: false, Jitter: 0},
	models.CategoryKeySystem:           {MaxAttempts: 1, BaseDelayMs: 1000, MaxDelayMs: 1000, Exponential: false, Jitter: 0.2},
	models.CategoryUnknown:             {MaxAttempts: 2, BaseDelayMs: 1000, MaxDelayMs: 4000, Exponential: true, Jitter: 0.2},
}

// NewState builds a RetryState seeded from policy, ready for use with
// Record/Reset/CanRetry (§4.2).
func (p Policy) NewState() *models.RetryState {
	return &models.RetryState{
		MaxAttempts:  p.MaxAttempts,
		BaseDelayMs:  p.BaseDelayMs,
		MaxDelayMs:   p.MaxDelayMs,
		Exponential:  p.Exponential,
		JitterFactor: p.Jitter,
	}
}

// Delay computes the backoff delay for the given attempt number under
// state's parameters (§4.2):
//
//	delay(attempt, policy) = clamp(base * (exponential ? 2^attempt : 1), 0, maxDelay) * (1 + rand*jitter)
//
// attempt is the 0-based attempt ordinal about to be made.
func Delay(attempt int, state *models.RetryState) time.Duration {
	base := float64(state.BaseDelayMs)
	if state.Exponential {
		base *= math.Pow(2, float64(attempt))
	}
	if state.MaxDelayMs > 0 {
		base = math.Min(base, float64(state.MaxDelayMs))
	}
	base = math.Max(base, 0)

	jittered := base * (1 + rand.Float64()*state.JitterFactor)
	return time.Duration(jittered) * time.Millisecond
}

// CanRetry reports whether another attempt is permitted (§4.2).
func CanRetry(state *models.RetryState) bool {
	return state.CanRetry()
}

// Record increments attempt, stores cause, and stamps lastAttemptTime (§4.2).
func Record(state *models.RetryState, cause error, now time.Time) {
	state.Record(cause, now)
}

// Reset clears attempt/lastError/lastAttemptTime (§4.2).
func Reset(state *models.RetryState) {
	state.Reset()
}
