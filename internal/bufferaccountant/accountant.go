// Package bufferaccountant derives buffer health from video-sink
// (currentTime, ranges) samples, publishes a throttled bufferupdate
// snapshot, raises bufferlow/buffersufficient on crossing the configured
// thresholds, and advises on evictable ranges (C5, §4.5). It never mutates
// the append surface itself; eviction is advisory only.
package bufferaccountant

import (
	"log/slog"
	"sync"
	"time"

	"github.com/avplayer/playcore/internal/eventbus"
	"github.com/avplayer/playcore/internal/models"
)

const (
	EventBufferUpdate     = "bufferupdate"
	EventBufferLow        = "bufferlow"
	EventBufferSufficient = "buffersufficient"
	EventBufferEvicted    = "bufferevicted"

	// throttleInterval is the bufferupdate coalescing window (§4.5).
	throttleInterval = 250 * time.Millisecond
)

// Config is the buffer-length policy in seconds, already resolved from
// platform defaults and any explicit override (§4.5).
type Config struct {
	MaxBufferLength    float64
	TargetBufferLength float64
	MinBufferLength    float64
	BackBufferLength   float64
}

// BufferLowPayload is the EventBufferLow payload.
type BufferLowPayload struct {
	ForwardBuffer float64
}

// EvictionRange is the EventBufferEvicted payload: one advisory range
// recommended for removal from the append surface (§4.5).
type EvictionRange struct {
	Start float64
	End   float64
}

// Accountant is the mutable buffer-health tracker (C5). The zero value is
// not usable; construct with New.
type Accountant struct {
	mu     sync.Mutex
	bus    *eventbus.Bus
	logger *slog.Logger
	cfg    Config
	hidden bool
	wasLow bool
	// pendingRecovery is set when bufferlow fires and cleared only when
	// buffersufficient fires, so a gradual recovery that crosses min
	// before reaching target still reports buffersufficient once it gets
	// there, instead of losing the "was low" fact partway through the
	// min->target band.
	pendingRecovery bool

	pending      *models.BufferInfo
	timer        *time.Timer
	lastEmitTime time.Time
}

// New constructs an Accountant over cfg, which should already reflect the
// host's platformClass defaults (§4.5 table) and any explicit overrides.
func New(bus *eventbus.Bus, logger *slog.Logger, cfg Config) *Accountant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accountant{
		bus:    bus,
		logger: logger.With("component", "bufferaccountant"),
		cfg:    cfg,
	}
}

// SetHidden toggles the visibility-reduction clamp (§4.5): while hidden,
// effective max/target clamp to min(max, 10) / min(target, 8).
func (a *Accountant) SetHidden(hidden bool) {
	a.mu.Lock()
	a.hidden = hidden
	a.mu.Unlock()
}

// Reset clears edge-triggered and throttle state for a new source session
// (§4.9 step 7), without disturbing the hidden/visibility flag, which is a
// host-level setting independent of any particular source.
func (a *Accountant) Reset() {
	a.mu.Lock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	a.pending = nil
	a.wasLow = false
	a.pendingRecovery = false
	a.lastEmitTime = time.Time{}
	a.mu.Unlock()
}

// effectiveLimits returns the max/target/min/back currently in force,
// applying the visibility clamp. Caller must hold a.mu.
func (a *Accountant) effectiveLimits() (max, target, min, back float64) {
	max, target = a.cfg.MaxBufferLength, a.cfg.TargetBufferLength
	if a.hidden {
		max = minFloat(max, 10)
		target = minFloat(target, 8)
	}
	return max, target, a.cfg.MinBufferLength, a.cfg.BackBufferLength
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// OnTimeUpdate ingests a (currentTime, ranges) sample from the video sink
// (§4.5). It normalizes ranges, derives BufferInfo, schedules the
// throttled bufferupdate emission, raises bufferlow/buffersufficient on
// threshold crossing, and emits advisory bufferevicted ranges.
func (a *Accountant) OnTimeUpdate(currentTime float64, ranges []models.BufferedRange) {
	normalized := models.NormalizeRanges(ranges)

	a.mu.Lock()
	max, target, min, back := a.effectiveLimits()
	info := models.DeriveBufferInfo(currentTime, normalized, target, max)
	a.scheduleUpdateLocked(info)

	wasLow := a.wasLow
	isLow := info.ForwardBuffer < min
	a.wasLow = isLow

	becameLow := isLow && !wasLow
	if becameLow {
		a.pendingRecovery = true
	}
	becameSufficient := a.pendingRecovery && info.ForwardBuffer >= target
	if becameSufficient {
		a.pendingRecovery = false
	}
	a.mu.Unlock()

	if becameLow {
		a.bus.Emit(EventBufferLow, BufferLowPayload{ForwardBuffer: info.ForwardBuffer})
	} else if becameSufficient {
		a.bus.Emit(EventBufferSufficient, nil)
	}

	for _, r := range a.computeEviction(currentTime, normalized, max, back) {
		a.bus.Emit(EventBufferEvicted, r)
	}
}

// scheduleUpdateLocked coalesces info into the single pending slot and
// arms a trailing-edge timer if one is not already running, so that
// bufferupdate fires at most once per throttleInterval but always
// delivers the latest value once the window elapses (§4.5, §9 Design
// Notes: "coalesce, not merely drop"). Caller must hold a.mu.
func (a *Accountant) scheduleUpdateLocked(info models.BufferInfo) {
	a.pending = &info
	if a.timer != nil {
		return
	}
	elapsed := time.Since(a.lastEmitTime)
	wait := throttleInterval - elapsed
	if wait < 0 {
		wait = 0
	}
	a.timer = time.AfterFunc(wait, a.flush)
}

func (a *Accountant) flush() {
	a.mu.Lock()
	info := a.pending
	a.pending = nil
	a.timer = nil
	a.lastEmitTime = time.Now()
	a.mu.Unlock()

	if info != nil {
		a.bus.Emit(EventBufferUpdate, *info)
	}
}

// computeEviction implements the §4.5 eviction algorithm: ranges entirely
// before safeBack are evicted whole, a range straddling safeBack yields
// [start, safeBack], ranges extending past ahead yield [ahead, end], and
// ranges fully contained in [safeBack, ahead] are left alone.
func (a *Accountant) computeEviction(currentTime float64, ranges []models.BufferedRange, max, back float64) []EvictionRange {
	safeBack := currentTime - back
	ahead := currentTime + max

	var out []EvictionRange
	for _, r := range ranges {
		if r.End <= safeBack {
			out = append(out, EvictionRange{Start: r.Start, End: r.End})
			continue
		}
		if r.Start < safeBack && r.End > safeBack {
			out = append(out, EvictionRange{Start: r.Start, End: safeBack})
		}
		if r.End > ahead {
			start := r.Start
			if start < ahead {
				start = ahead
			}
			out = append(out, EvictionRange{Start: start, End: r.End})
		}
	}
	return out
}
