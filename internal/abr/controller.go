// Package abr implements the adaptive bitrate controller (C7, §4.7): dual
// EWMA bandwidth estimation, hysteresis-gated quality selection, and
// forced drops on excessive dropped-frame rate.
package abr

import (
	"log/slog"
	"sync"
	"time"

	"github.com/avplayer/playcore/internal/eventbus"
	"github.com/avplayer/playcore/internal/models"
)

// EventQualityChange is emitted whenever the selected level changes,
// whether chosen by the algorithm or a manual override (§4.7).
const EventQualityChange = "qualitychange"

// QualityChangePayload is the EventQualityChange payload.
type QualityChangePayload struct {
	Level int
	Auto  bool
}

const (
	fastAlpha = 0.5
	slowAlpha = 0.1

	warmupSegments = 3

	upgradeBitrateRatio  = 1.3
	upgradeCooldown      = 10 * time.Second
	downgradeCooldown    = 5 * time.Second

	forcedDropThresholdPerSec = 10.0
	forcedDropLevels          = 2
)

// StartLevel selects the initial quality index policy (§4.7).
type StartLevel string

const (
	StartLowest  StartLevel = "lowest"
	StartHighest StartLevel = "highest"
	StartAuto    StartLevel = "auto"
)

// Config is the ABR policy, resolved from platform defaults and any
// explicit override (§4.5 table reused for upgrade/downgrade thresholds,
// §4.7 defaults).
type Config struct {
	StartLevel             StartLevel
	StartIndex             int // used when StartLevel is an explicit numeric index (not lowest/highest/auto)
	BandwidthSafetyFactor  float64
	UpgradeBufferThreshold float64 // seconds
	DowngradeBufferThresh  float64 // seconds
	MobileStabilityBias    bool
}

// Controller is the mutable ABR state machine (C7). The zero value is not
// usable; construct with New.
type Controller struct {
	mu     sync.Mutex
	bus    *eventbus.Bus
	logger *slog.Logger
	cfg    Config

	levels []models.QualityLevel
	mode   models.ABRMode
	current int

	history []models.BandwidthSample
	fast    float64
	slow    float64
	haveEWMA bool

	segmentsLoaded    int
	forwardBuffer     float64
	lastUpgradeTime   time.Time
	lastDowngradeTime time.Time

	lastDroppedFrames   int64
	lastDroppedFramesAt time.Time
}

// New constructs a Controller over levels (sorted ascending by bitrate by
// the caller via models.SortLevels) and resolves the configured start
// level (§4.7).
func New(bus *eventbus.Bus, logger *slog.Logger, levels []models.QualityLevel, cfg Config) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		bus:    bus,
		logger: logger.With("component", "abr"),
		cfg:    cfg,
		levels: levels,
		mode:   models.ModeAuto,
	}
	c.current = c.resolveStartLevel()
	return c
}

func (c *Controller) resolveStartLevel() int {
	if len(c.levels) == 0 {
		return 0
	}
	switch c.cfg.StartLevel {
	case StartHighest:
		return len(c.levels) - 1
	case StartAuto:
		return len(c.levels) / 4
	case StartLowest, "":
		return 0
	default:
		if c.cfg.StartIndex >= 0 && c.cfg.StartIndex < len(c.levels) {
			return c.cfg.StartIndex
		}
		return 0
	}
}

// CurrentLevel returns the active level index.
func (c *Controller) CurrentLevel() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Snapshot returns the current ABR state for host consumption (§3).
func (c *Controller) Snapshot() models.ABRState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return models.ABRState{
		Mode:               c.mode,
		CurrentLevel:       c.current,
		Levels:             c.levels,
		EstimatedBandwidth: int64(c.estimatedBandwidthLocked()),
	}
}

func (c *Controller) estimatedBandwidthLocked() float64 {
	if !c.haveEWMA {
		return 0
	}
	if c.fast < c.slow {
		return c.fast
	}
	return c.slow
}

// OnBufferUpdate feeds the latest forward-buffer measurement, normally
// pushed in by the session coordinator (C9) after every bufferupdate
// (§4.7). It re-runs selection immediately so the step-3 panic drop
// (forwardBuffer below the downgrade threshold forces level 0) reacts
// without waiting for the next segment download, which may not come if
// bandwidth is the problem in the first place.
func (c *Controller) OnBufferUpdate(forwardBuffer float64, now time.Time) {
	c.mu.Lock()
	c.forwardBuffer = forwardBuffer
	c.mu.Unlock()
	c.runSelection(now)
}

// OnSegmentTiming ingests a completed segment download sample (§3, §4.7).
// Timings with DurationMs <= 0 are discarded by the caller before this is
// reached (see models.SegmentTiming.Bandwidth); OnSegmentTiming assumes a
// valid sample and runs the selection algorithm afterward.
func (c *Controller) OnSegmentTiming(timing models.SegmentTiming, now time.Time) {
	bw := timing.Bandwidth()

	c.mu.Lock()
	sample := models.BandwidthSample{Bandwidth: bw, Timestamp: now.UnixMilli()}
	c.history = append(c.history, sample)
	if len(c.history) > models.MaxBandwidthHistory {
		c.history = c.history[len(c.history)-models.MaxBandwidthHistory:]
	}

	if !c.haveEWMA {
		c.fast = float64(bw)
		c.slow = float64(bw)
		c.haveEWMA = true
	} else {
		c.fast = fastAlpha*float64(bw) + (1-fastAlpha)*c.fast
		c.slow = slowAlpha*float64(bw) + (1-slowAlpha)*c.slow
	}
	c.segmentsLoaded++
	c.mu.Unlock()

	c.runSelection(now)
}

// RecordDroppedFrames reports a cumulative dropped-frame counter sample.
// The controller derives its own per-second rate from the delta against
// the previous sample and its timestamp, rather than trusting a
// host-supplied rate, since counter cadence varies by host (§9 Design
// Notes). A forced drop bypasses the downgrade cooldown (§4.7).
func (c *Controller) RecordDroppedFrames(cumulative int64, now time.Time) {
	c.mu.Lock()
	if c.lastDroppedFramesAt.IsZero() {
		c.lastDroppedFrames = cumulative
		c.lastDroppedFramesAt = now
		c.mu.Unlock()
		return
	}

	elapsed := now.Sub(c.lastDroppedFramesAt).Seconds()
	delta := cumulative - c.lastDroppedFrames
	c.lastDroppedFrames = cumulative
	c.lastDroppedFramesAt = now

	if elapsed <= 0 || delta < 0 {
		c.mu.Unlock()
		return
	}
	rate := float64(delta) / elapsed
	if rate <= forcedDropThresholdPerSec {
		c.mu.Unlock()
		return
	}

	target := c.current - forcedDropLevels
	if target < 0 {
		target = 0
	}
	if target == c.current {
		c.mu.Unlock()
		return
	}
	c.current = target
	c.lastDowngradeTime = now
	c.mu.Unlock()

	c.logger.Warn("forced quality drop on dropped-frame rate", "rate_per_sec", rate, "level", target)
	c.bus.Emit(EventQualityChange, QualityChangePayload{Level: target, Auto: true})
}

// SetManual pins the level to index, validating range, and emits
// qualitychange{auto:false} (§4.7).
func (c *Controller) SetManual(index int) error {
	c.mu.Lock()
	if index < 0 || index >= len(c.levels) {
		c.mu.Unlock()
		return models.ErrInvalidQualityIndex
	}
	c.mode = models.ModeManual
	c.current = index
	c.mu.Unlock()

	c.bus.Emit(EventQualityChange, QualityChangePayload{Level: index, Auto: false})
	return nil
}

// SetAuto clears manual mode and re-enters the selection algorithm.
func (c *Controller) SetAuto() {
	c.mu.Lock()
	c.mode = models.ModeAuto
	c.mu.Unlock()
	c.runSelection(time.Now())
}

// runSelection executes the §4.7 selection algorithm and emits
// qualitychange if the level changed.
func (c *Controller) runSelection(now time.Time) {
	c.mu.Lock()

	if c.mode == models.ModeManual {
		c.mu.Unlock()
		return
	}
	if c.segmentsLoaded < warmupSegments {
		changed := c.current != 0
		c.current = 0
		c.mu.Unlock()
		if changed {
			c.bus.Emit(EventQualityChange, QualityChangePayload{Level: 0, Auto: true})
		}
		return
	}
	if c.forwardBuffer < c.cfg.DowngradeBufferThresh {
		changed := c.current != 0
		c.current = 0
		c.lastDowngradeTime = now
		c.mu.Unlock()
		if changed {
			c.bus.Emit(EventQualityChange, QualityChangePayload{Level: 0, Auto: true})
		}
		return
	}

	estimated := c.estimatedBandwidthLocked()
	targetBitrate := estimated * c.cfg.BandwidthSafetyFactor
	target := c.highestLevelAtOrBelowLocked(targetBitrate)
	current := c.current

	next := current
	switch {
	case target > current:
		next = c.considerUpgradeLocked(target, current, now)
	case target < current:
		next = c.considerDowngradeLocked(target, current, now)
	}

	changed := next != current
	if changed {
		c.current = next
		if next > current {
			c.lastUpgradeTime = now
		} else {
			c.lastDowngradeTime = now
		}
	}
	c.mu.Unlock()

	if changed {
		c.bus.Emit(EventQualityChange, QualityChangePayload{Level: next, Auto: true})
	}
}

// highestLevelAtOrBelowLocked returns the highest level index whose
// bitrate is <= targetBitrate, or 0 if none qualify. Caller must hold
// c.mu.
func (c *Controller) highestLevelAtOrBelowLocked(targetBitrate float64) int {
	best := 0
	for i, lvl := range c.levels {
		if float64(lvl.Bitrate) <= targetBitrate {
			best = i
		}
	}
	return best
}

// considerUpgradeLocked applies the §4.7 upgrade gates; returns the level
// to move to (possibly unchanged). Caller must hold c.mu.
func (c *Controller) considerUpgradeLocked(target, current int, now time.Time) int {
	if c.forwardBuffer < c.cfg.UpgradeBufferThreshold {
		return current
	}
	if float64(c.levels[target].Bitrate)/float64(c.levels[current].Bitrate) < upgradeBitrateRatio {
		return current
	}
	if !c.lastUpgradeTime.IsZero() && now.Sub(c.lastUpgradeTime) < upgradeCooldown {
		return current
	}
	if c.cfg.MobileStabilityBias {
		return current + 1
	}
	return target
}

// considerDowngradeLocked applies the §4.7 downgrade gates. Caller must
// hold c.mu.
func (c *Controller) considerDowngradeLocked(target, current int, now time.Time) int {
	if !c.lastDowngradeTime.IsZero() && now.Sub(c.lastDowngradeTime) < downgradeCooldown {
		return current
	}
	if c.cfg.MobileStabilityBias {
		return target
	}
	return current - 1
}
