package session

import (
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/avplayer/playcore/internal/abr"
	"github.com/avplayer/playcore/internal/bufferaccountant"
	"github.com/avplayer/playcore/internal/classifier"
	"github.com/avplayer/playcore/internal/errorcontroller"
	"github.com/avplayer/playcore/internal/eventbus"
	"github.com/avplayer/playcore/internal/models"
	"github.com/avplayer/playcore/internal/playerstate"
	"github.com/avplayer/playcore/internal/retrypolicy"
)

// Snapshot is the host-facing read model returned by Engine.Snapshot
// (§6 "getSnapshot()").
type Snapshot struct {
	State                models.PlayerState
	Source               SourceConfig
	ABR                  models.ABRState
	QualityLevels        []models.QualityLevel
	SubtitleTracks       []SubtitleTrack
	CurrentSubtitleTrack *string
	Volume               float64
	Muted                bool
	PlaybackRate         float64
	CurrentTime          float64
	Duration             float64
	Buffered             []models.BufferedRange
	IsLive               bool
	Error                *models.PlayerError
}

// Engine is the session coordinator (C9, §4.9): it owns the active
// adapter, runs the load protocol, maps video-sink events onto the player
// state machine, and executes the error controller's recovery decisions.
// Every exported method is safe to call from any goroutine; internally,
// state mutation is serialized under mu the way §5's single logical
// executor requires, with suspension points (adapter Attach/Load, a
// ReinitSource delay) guarded by a loadId comparison so a superseded load
// never clobbers a newer one's state.
type Engine struct {
	mu     sync.Mutex
	bus    *eventbus.Bus
	logger *slog.Logger

	sink        VideoSink
	factory     AdapterFactory
	abrCfg      abr.Config
	sinkUnsubs  []eventbus.Unsubscribe

	loadID               int64
	destroyed            bool
	adapter              Adapter
	loadUnsubs           []eventbus.Unsubscribe
	currentSource        SourceConfig
	abrCtrl              *abr.Controller
	subtitleTracks       []SubtitleTrack
	currentSubtitleTrack *string
	lastError            *models.PlayerError

	state   *playerstate.Machine
	buffer  *bufferaccountant.Accountant
	errCtrl *errorcontroller.Controller
}

// New constructs an Engine around sink (a long-lived playback surface) and
// factory (the adapter resolver). bufferCfg/abrCfg should already reflect
// resolved platform-class defaults and overrides (config.Config's
// BufferAccountantConfig/ABRControllerConfig).
func New(bus *eventbus.Bus, logger *slog.Logger, sink VideoSink, factory AdapterFactory, bufferCfg bufferaccountant.Config, abrCfg abr.Config) *Engine {
	return NewWithPolicies(bus, logger, sink, factory, bufferCfg, abrCfg, retrypolicy.Defaults)
}

// NewWithPolicies is New with a caller-supplied retry policy table, e.g.
// config.Config.RetryPolicies() after applying per-category overrides
// (§4.2).
func NewWithPolicies(bus *eventbus.Bus, logger *slog.Logger, sink VideoSink, factory AdapterFactory, bufferCfg bufferaccountant.Config, abrCfg abr.Config, policies map[models.ErrorCategory]retrypolicy.Policy) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		bus:     bus,
		logger:  logger.With("component", "session"),
		sink:    sink,
		factory: factory,
		abrCfg:  abrCfg,
		state:   playerstate.New(bus, logger),
		buffer:  bufferaccountant.New(bus, logger, bufferCfg),
		errCtrl: errorcontroller.NewWithPolicies(bus, logger, policies),
	}
	e.sinkUnsubs = e.attachSinkEvents()
	return e
}

func (e *Engine) isDestroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

func (e *Engine) superseded(myID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadID != myID
}

// Load runs the §4.9 load protocol for src. If autoplay is true and the
// source loads successfully, Play is invoked once the player reaches
// Ready.
func (e *Engine) Load(src SourceConfig, autoplay bool) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return models.ErrEngineDestroyed
	}
	e.loadID++
	myID := e.loadID
	priorAdapter := e.adapter
	priorUnsubs := e.loadUnsubs
	e.adapter = nil
	e.loadUnsubs = nil
	e.abrCtrl = nil
	e.currentSource = src
	e.subtitleTracks = nil
	e.currentSubtitleTrack = nil
	e.mu.Unlock()

	// Step 2: reset prior source if one is active.
	if priorAdapter != nil {
		for _, unsub := range priorUnsubs {
			unsub()
		}
		if err := priorAdapter.Destroy(); err != nil {
			e.logger.Debug("destroying prior adapter", "err", err)
		}
		e.errCtrl.ClearRetryStates()
		e.buffer.Reset()
		e.state.ForceTransition(models.StateIdle, models.ActionReset)
	}

	// Step 3: abort silently if a newer load has already started.
	if e.superseded(myID) {
		return models.ErrSuperseded
	}

	// Step 4.
	e.state.TransitionTo(models.StateLoading, models.ActionLoad)

	// Step 5: resolve and attach an adapter.
	if e.factory == nil {
		e.failLoad(myID, models.ErrNoAdapter)
		return models.ErrNoAdapter
	}
	adapter := e.factory(src)
	if adapter == nil {
		e.failLoad(myID, models.ErrNoAdapter)
		return models.ErrNoAdapter
	}
	if err := <-adapter.Attach(e.sink); err != nil {
		e.failLoad(myID, err)
		return err
	}
	if e.superseded(myID) {
		_ = adapter.Destroy()
		return models.ErrSuperseded
	}

	// Step 6: subscribe to adapter callbacks before Load, so no early
	// segment/error/subtitle report is missed.
	unsubs := []eventbus.Unsubscribe{
		adapter.OnSegmentLoaded(func(t models.SegmentTiming) { e.onSegmentLoaded(myID, t) }),
		adapter.OnError(func(code, message string, cause error) { e.onAdapterError(myID, code, message, cause) }),
		adapter.OnSubtitleTracksChanged(func(tracks []SubtitleTrack) { e.onSubtitleTracksChanged(myID, tracks) }),
		e.bus.Subscribe(abr.EventQualityChange, func(p any) { e.onQualityChange(myID, p.(abr.QualityChangePayload)) }),
	}

	// Step 7: load the source, then reset C5 and C7.
	if err := <-adapter.Load(src); err != nil {
		for _, u := range unsubs {
			u()
		}
		_ = adapter.Destroy()
		e.failLoad(myID, err)
		return err
	}
	if e.superseded(myID) {
		for _, u := range unsubs {
			u()
		}
		_ = adapter.Destroy()
		return models.ErrSuperseded
	}

	levels := models.SortLevels(adapter.GetQualityLevels())
	abrCtrl := abr.New(e.bus, e.logger, levels, e.abrCfg)
	e.buffer.Reset()

	e.mu.Lock()
	if e.loadID != myID {
		e.mu.Unlock()
		for _, u := range unsubs {
			u()
		}
		_ = adapter.Destroy()
		return models.ErrSuperseded
	}
	e.adapter = adapter
	e.loadUnsubs = unsubs
	e.abrCtrl = abrCtrl
	e.subtitleTracks = adapter.GetSubtitleTracks()
	e.mu.Unlock()

	// Step 8.
	e.mu.Lock()
	e.lastError = nil
	e.mu.Unlock()
	e.bus.Emit(EventQualityLevels, levels)
	e.state.TransitionTo(models.StateReady, models.ActionLoaded)
	e.bus.Emit(EventLoaded, src)
	if len(e.subtitleTracks) > 0 {
		e.bus.Emit(EventSubtitleTracks, e.subtitleTracks)
	}

	if autoplay {
		_ = e.Play()
	}
	return nil
}

// failLoad transitions Loading -> Error and publishes the classified
// cause, unless a newer load has already superseded this one.
func (e *Engine) failLoad(myID int64, cause error) {
	if e.superseded(myID) {
		return
	}
	pe := asPlayerError(cause)
	if e.state.CanTransitionTo(models.StateError) {
		e.state.TransitionTo(models.StateError, models.ActionError)
	}
	e.mu.Lock()
	e.lastError = pe
	e.mu.Unlock()
	e.bus.Emit(errorcontroller.EventError, pe)
}

func asPlayerError(err error) *models.PlayerError {
	if pe, ok := err.(*models.PlayerError); ok {
		return pe
	}
	return classifier.Classify(classifier.CodeUnknown, err.Error(), err)
}

func (e *Engine) onSegmentLoaded(myID int64, timing models.SegmentTiming) {
	if timing.DurationMs <= 0 || e.superseded(myID) {
		return
	}
	e.mu.Lock()
	abrCtrl := e.abrCtrl
	e.mu.Unlock()
	if abrCtrl != nil {
		abrCtrl.OnSegmentTiming(timing, time.Now())
		e.bus.Emit(EventABRUpdate, abrCtrl.Snapshot())
	}
}

func (e *Engine) onSubtitleTracksChanged(myID int64, tracks []SubtitleTrack) {
	if e.superseded(myID) {
		return
	}
	e.mu.Lock()
	e.subtitleTracks = tracks
	e.mu.Unlock()
	e.bus.Emit(EventSubtitleTracks, tracks)
}

func (e *Engine) onQualityChange(myID int64, payload abr.QualityChangePayload) {
	if e.superseded(myID) {
		return
	}
	e.mu.Lock()
	adapter := e.adapter
	e.mu.Unlock()
	if adapter != nil {
		if err := adapter.SetQualityLevel(payload.Level); err != nil {
			e.logger.Warn("adapter rejected quality level", "level", payload.Level, "err", err)
		}
	}
}

func (e *Engine) onAdapterError(myID int64, code, message string, cause error) {
	if e.superseded(myID) {
		return
	}
	err := classifier.Classify(code, message, cause)
	decision := e.errCtrl.Handle(err, time.Now())
	e.executeRecovery(myID, err, decision)
}

// shouldInterruptPlayback reports whether a no-further-action decision
// should force the player into Error rather than leave it as-is (§4.9
// recovery execution): fatal severity, or an unrecoverable MediaSource/
// KeySystem failure.
func shouldInterruptPlayback(err *models.PlayerError) bool {
	if err.Severity == models.SeverityFatal {
		return true
	}
	return err.Category == models.CategoryMediaSourceFailure || err.Category == models.CategoryKeySystem
}

// executeRecovery carries out C8's decision (§4.9): None interrupts
// playback only for a fatal/MSE/key-system cause; Retry/SkipSegment need
// no engine-level action since the adapter itself retries or skips;
// QualityFallback feeds a synthetic high dropped-frame rate into the ABR
// controller to force an immediate step down; ReinitSource awaits the
// computed delay and re-runs Load against the current source.
func (e *Engine) executeRecovery(myID int64, err *models.PlayerError, decision errorcontroller.Decision) {
	switch decision.Action {
	case errorcontroller.ActionNone:
		if shouldInterruptPlayback(err) {
			e.failLoad(myID, err)
		}
	case errorcontroller.ActionRetry, errorcontroller.ActionSkipSegment:
		// No direct engine action; the adapter owns retrying or skipping
		// the failed segment.
	case errorcontroller.ActionQualityFallback:
		e.mu.Lock()
		abrCtrl := e.abrCtrl
		e.mu.Unlock()
		if abrCtrl != nil {
			now := time.Now()
			abrCtrl.RecordDroppedFrames(0, now)
			abrCtrl.RecordDroppedFrames(1000, now.Add(time.Second))
		}
	case errorcontroller.ActionReinitSource:
		go e.reinitSource(myID, decision.Delay)
	}
}

func (e *Engine) reinitSource(myID int64, delay time.Duration) {
	if delay > 0 {
		time.Sleep(delay)
	}
	if e.superseded(myID) {
		return
	}
	e.mu.Lock()
	src := e.currentSource
	e.mu.Unlock()
	if err := e.Load(src, false); err != nil {
		e.logger.Warn("reinit source load failed", "err", err)
	}
}

// Play asserts the player is playable and instructs the sink to play
// (§4.9 play protocol). A NotAllowedError (autoplay policy rejection) is
// retried once after muting.
func (e *Engine) Play() error {
	if e.isDestroyed() {
		return models.ErrEngineDestroyed
	}
	if err := e.state.Play(); err != nil {
		return err
	}
	go e.drivePlay(e.sink.Play())
	return nil
}

func (e *Engine) drivePlay(errCh <-chan error) {
	err := <-errCh
	if err == nil {
		return
	}
	if !isNotAllowedError(err) {
		e.logger.Warn("sink play failed", "err", err)
		return
	}
	e.sink.SetMuted(true)
	if err2 := <-e.sink.Play(); err2 != nil {
		e.logger.Warn("sink play retry after mute failed", "err", err2)
	}
}

func isNotAllowedError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "notallowederror")
}

// Pause is idempotent from Playing/Buffering/Paused (§4.9).
func (e *Engine) Pause() error {
	if e.isDestroyed() {
		return models.ErrEngineDestroyed
	}
	e.sink.Pause()
	if e.state.CanTransitionTo(models.StatePaused) {
		e.state.TransitionTo(models.StatePaused, models.ActionPause)
	}
	return nil
}

// Seek clamps target to [0, duration] (or [0, +Inf) for a non-finite
// duration, e.g. a live source), publishes seeking, and instructs the
// sink (§4.9).
func (e *Engine) Seek(target float64) error {
	if e.isDestroyed() {
		return models.ErrEngineDestroyed
	}
	clamped := target
	if clamped < 0 {
		clamped = 0
	}
	duration := e.sink.Duration()
	if !math.IsInf(duration, 1) && !math.IsNaN(duration) && clamped > duration {
		clamped = duration
	}
	e.bus.Emit(EventSeeking, SeekingPayload{Target: clamped})
	e.sink.SetCurrentTime(clamped)
	return nil
}

// Retry re-runs the load protocol against the current source, e.g. on an
// explicit host-initiated retry after a fatal error.
func (e *Engine) Retry() error {
	if e.isDestroyed() {
		return models.ErrEngineDestroyed
	}
	e.mu.Lock()
	src := e.currentSource
	e.mu.Unlock()
	return e.Load(src, false)
}

// SetVolume delegates to the sink; volumechange is republished via the
// sink event passthrough.
func (e *Engine) SetVolume(v float64) error {
	if e.isDestroyed() {
		return models.ErrEngineDestroyed
	}
	e.sink.SetVolume(v)
	return nil
}

// SetMuted delegates to the sink.
func (e *Engine) SetMuted(m bool) error {
	if e.isDestroyed() {
		return models.ErrEngineDestroyed
	}
	e.sink.SetMuted(m)
	return nil
}

// SetPlaybackRate delegates to the sink.
func (e *Engine) SetPlaybackRate(r float64) error {
	if e.isDestroyed() {
		return models.ErrEngineDestroyed
	}
	e.sink.SetPlaybackRate(r)
	return nil
}

// SetQuality pins the ABR controller to index and, once pinned, asks the
// adapter to apply it.
func (e *Engine) SetQuality(index int) error {
	if e.isDestroyed() {
		return models.ErrEngineDestroyed
	}
	e.mu.Lock()
	abrCtrl := e.abrCtrl
	adapter := e.adapter
	e.mu.Unlock()
	if abrCtrl == nil {
		return models.ErrInvalidQualityIndex
	}
	if err := abrCtrl.SetManual(index); err != nil {
		return err
	}
	if adapter != nil {
		return adapter.SetQualityLevel(index)
	}
	return nil
}

// SetAutoQuality returns quality selection to the ABR algorithm.
func (e *Engine) SetAutoQuality() error {
	if e.isDestroyed() {
		return models.ErrEngineDestroyed
	}
	e.mu.Lock()
	abrCtrl := e.abrCtrl
	e.mu.Unlock()
	if abrCtrl == nil {
		return models.ErrInvalidQualityIndex
	}
	abrCtrl.SetAuto()
	return nil
}

// SetSubtitleTrack asks the adapter to switch tracks (nil id disables
// subtitles) and publishes subtitletrackchange on success.
func (e *Engine) SetSubtitleTrack(id *string) error {
	if e.isDestroyed() {
		return models.ErrEngineDestroyed
	}
	e.mu.Lock()
	adapter := e.adapter
	e.mu.Unlock()
	if adapter == nil {
		return models.ErrNoAdapter
	}
	if err := adapter.SetSubtitleTrack(id); err != nil {
		return err
	}
	e.mu.Lock()
	e.currentSubtitleTrack = id
	e.mu.Unlock()
	e.bus.Emit(EventSubtitleTrackChange, id)
	return nil
}

// Snapshot returns a point-in-time read model of engine state (§6
// "getSnapshot()").
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	abrCtrl := e.abrCtrl
	source := e.currentSource
	subs := append([]SubtitleTrack(nil), e.subtitleTracks...)
	curSub := e.currentSubtitleTrack
	lastErr := e.lastError
	e.mu.Unlock()

	duration := e.sink.Duration()
	snap := Snapshot{
		State:                e.state.State(),
		Source:               source,
		SubtitleTracks:       subs,
		CurrentSubtitleTrack: curSub,
		Volume:               e.sink.Volume(),
		Muted:                e.sink.Muted(),
		PlaybackRate:         e.sink.PlaybackRate(),
		CurrentTime:          e.sink.CurrentTime(),
		Duration:             duration,
		Buffered:             e.sink.Buffered(),
		IsLive:               math.IsInf(duration, 1) || math.IsNaN(duration),
		Error:                lastErr,
	}
	if abrCtrl != nil {
		abrState := abrCtrl.Snapshot()
		snap.ABR = abrState
		snap.QualityLevels = abrState.Levels
	}
	return snap
}

// Destroy is idempotent: it unsubscribes every listener, destroys the
// active adapter, and publishes destroyed (§8 invariant 7: every method
// after Destroy returns ErrEngineDestroyed).
func (e *Engine) Destroy() error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return nil
	}
	e.destroyed = true
	e.loadID++
	adapter := e.adapter
	loadUnsubs := e.loadUnsubs
	sinkUnsubs := e.sinkUnsubs
	e.adapter = nil
	e.loadUnsubs = nil
	e.sinkUnsubs = nil
	e.mu.Unlock()

	for _, u := range loadUnsubs {
		u()
	}
	for _, u := range sinkUnsubs {
		u()
	}
	if adapter != nil {
		if err := adapter.Destroy(); err != nil {
			e.logger.Debug("destroying adapter on engine destroy", "err", err)
		}
	}
	e.bus.Emit(EventDestroyed, nil)
	return nil
}
