package session

import (
	"sync"

	"github.com/avplayer/playcore/internal/eventbus"
	"github.com/avplayer/playcore/internal/models"
)

// fakeSink is a minimal VideoSink test double: state in plain fields plus
// a handler registry so tests can trigger sink events synchronously.
type fakeSink struct {
	mu sync.Mutex

	currentTime float64
	duration    float64
	paused      bool
	ended       bool
	buffered    []models.BufferedRange
	volume      float64
	muted       bool
	rate        float64

	playErr  error
	playCalls int

	handlers map[string][]func(any)
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		duration: 100,
		volume:   1,
		rate:     1,
		handlers: make(map[string][]func(any)),
	}
}

func (s *fakeSink) CurrentTime() float64 { s.mu.Lock(); defer s.mu.Unlock(); return s.currentTime }
func (s *fakeSink) Duration() float64    { s.mu.Lock(); defer s.mu.Unlock(); return s.duration }
func (s *fakeSink) Paused() bool         { s.mu.Lock(); defer s.mu.Unlock(); return s.paused }
func (s *fakeSink) Ended() bool          { s.mu.Lock(); defer s.mu.Unlock(); return s.ended }
func (s *fakeSink) Buffered() []models.BufferedRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered
}
func (s *fakeSink) Volume() float64       { s.mu.Lock(); defer s.mu.Unlock(); return s.volume }
func (s *fakeSink) Muted() bool           { s.mu.Lock(); defer s.mu.Unlock(); return s.muted }
func (s *fakeSink) PlaybackRate() float64 { s.mu.Lock(); defer s.mu.Unlock(); return s.rate }

func (s *fakeSink) Play() <-chan error {
	s.mu.Lock()
	s.playCalls++
	s.paused = false
	err := s.playErr
	s.mu.Unlock()
	ch := make(chan error, 1)
	ch <- err
	return ch
}
func (s *fakeSink) Pause() { s.mu.Lock(); s.paused = true; s.mu.Unlock() }
func (s *fakeSink) SetCurrentTime(t float64) { s.mu.Lock(); s.currentTime = t; s.mu.Unlock() }
func (s *fakeSink) SetVolume(v float64)      { s.mu.Lock(); s.volume = v; s.mu.Unlock() }
func (s *fakeSink) SetMuted(m bool)          { s.mu.Lock(); s.muted = m; s.mu.Unlock() }
func (s *fakeSink) SetPlaybackRate(r float64) { s.mu.Lock(); s.rate = r; s.mu.Unlock() }

func (s *fakeSink) On(event string, cb func(payload any)) eventbus.Unsubscribe {
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], cb)
	s.mu.Unlock()
	return func() {}
}

func (s *fakeSink) trigger(event string, payload any) {
	s.mu.Lock()
	cbs := append([]func(any){}, s.handlers[event]...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(payload)
	}
}

// fakeAdapter is a minimal Adapter test double with controllable
// Attach/Load outcomes and manually-fired segment/error/subtitle events.
type fakeAdapter struct {
	mu sync.Mutex

	attachErr error
	loadErr   error
	levels    []models.QualityLevel
	current   int
	subtitles []SubtitleTrack

	segmentCbs   []func(models.SegmentTiming)
	errorCbs     []func(code, message string, cause error)
	subtitleCbs  []func([]SubtitleTrack)

	destroyed   bool
	destroyCalls int
	qualitySets []int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		levels: models.SortLevels([]models.QualityLevel{
			{Bitrate: 500_000, Label: "low"},
			{Bitrate: 5_000_000, Label: "high"},
		}),
	}
}

func (a *fakeAdapter) Attach(sink VideoSink) <-chan error {
	ch := make(chan error, 1)
	ch <- a.attachErr
	return ch
}

func (a *fakeAdapter) Load(cfg SourceConfig) <-chan error {
	ch := make(chan error, 1)
	ch <- a.loadErr
	return ch
}

func (a *fakeAdapter) GetQualityLevels() []models.QualityLevel { return a.levels }

func (a *fakeAdapter) SetQualityLevel(index int) error {
	a.mu.Lock()
	a.current = index
	a.qualitySets = append(a.qualitySets, index)
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) GetCurrentQualityLevel() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *fakeAdapter) OnSegmentLoaded(cb func(models.SegmentTiming)) eventbus.Unsubscribe {
	a.mu.Lock()
	a.segmentCbs = append(a.segmentCbs, cb)
	a.mu.Unlock()
	return func() {}
}

func (a *fakeAdapter) OnError(cb func(code, message string, cause error)) eventbus.Unsubscribe {
	a.mu.Lock()
	a.errorCbs = append(a.errorCbs, cb)
	a.mu.Unlock()
	return func() {}
}

func (a *fakeAdapter) GetSubtitleTracks() []SubtitleTrack { return a.subtitles }

func (a *fakeAdapter) SetSubtitleTrack(id *string) error { return nil }

func (a *fakeAdapter) OnSubtitleTracksChanged(cb func([]SubtitleTrack)) eventbus.Unsubscribe {
	a.mu.Lock()
	a.subtitleCbs = append(a.subtitleCbs, cb)
	a.mu.Unlock()
	return func() {}
}

func (a *fakeAdapter) Destroy() error {
	a.mu.Lock()
	a.destroyed = true
	a.destroyCalls++
	a.mu.Unlock()
	return nil
}

func (a *fakeAdapter) fireError(code, message string, cause error) {
	a.mu.Lock()
	cbs := append([]func(code, message string, cause error){}, a.errorCbs...)
	a.mu.Unlock()
	for _, cb := range cbs {
		cb(code, message, cause)
	}
}
