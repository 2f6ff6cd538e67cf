// Package demo provides a simulated VideoSink/Adapter pair driving the
// session coordinator (C9) without a real media pipeline, for the demo
// CLI's manual smoke testing (cmd/playcore-demo). It generalizes the
// session package's fakeSink/fakeAdapter test doubles into a
// goroutine-driven surface that advances time on its own, rather than
// requiring a test to call trigger() by hand.
package demo

import (
	"sync"
	"time"

	"github.com/avplayer/playcore/internal/eventbus"
	"github.com/avplayer/playcore/internal/models"
)

// Sink is a simulated VideoSink. A background goroutine started by Run
// advances CurrentTime and grows the buffered range while playing, firing
// sink events the way a real <video> element would.
type Sink struct {
	mu sync.Mutex

	currentTime float64
	duration    float64
	paused      bool
	ended       bool
	buffered    []models.BufferedRange
	volume      float64
	muted       bool
	rate        float64

	handlers map[string][]func(any)

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSink constructs a Sink reporting the given fixed duration in seconds.
func NewSink(durationSeconds float64) *Sink {
	return &Sink{
		duration: durationSeconds,
		paused:   true,
		volume:   1,
		rate:     1,
		handlers: make(map[string][]func(any)),
	}
}

func (s *Sink) CurrentTime() float64 { s.mu.Lock(); defer s.mu.Unlock(); return s.currentTime }
func (s *Sink) Duration() float64    { s.mu.Lock(); defer s.mu.Unlock(); return s.duration }
func (s *Sink) Paused() bool         { s.mu.Lock(); defer s.mu.Unlock(); return s.paused }
func (s *Sink) Ended() bool          { s.mu.Lock(); defer s.mu.Unlock(); return s.ended }

func (s *Sink) Buffered() []models.BufferedRange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered
}

func (s *Sink) Volume() float64       { s.mu.Lock(); defer s.mu.Unlock(); return s.volume }
func (s *Sink) Muted() bool           { s.mu.Lock(); defer s.mu.Unlock(); return s.muted }
func (s *Sink) PlaybackRate() float64 { s.mu.Lock(); defer s.mu.Unlock(); return s.rate }

// Play starts the simulated playback clock and reports success.
func (s *Sink) Play() <-chan error {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.emit("playing", nil)
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func (s *Sink) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
	s.emit("pause", nil)
}

func (s *Sink) SetCurrentTime(t float64) {
	s.mu.Lock()
	s.currentTime = t
	s.ended = false
	s.mu.Unlock()
	s.emit("seeked", nil)
}

func (s *Sink) SetVolume(v float64) {
	s.mu.Lock()
	s.volume = v
	s.mu.Unlock()
	s.emit("volumechange", nil)
}

func (s *Sink) SetMuted(m bool) {
	s.mu.Lock()
	s.muted = m
	s.mu.Unlock()
	s.emit("volumechange", nil)
}

func (s *Sink) SetPlaybackRate(r float64) {
	s.mu.Lock()
	s.rate = r
	s.mu.Unlock()
	s.emit("ratechange", nil)
}

func (s *Sink) On(event string, cb func(payload any)) eventbus.Unsubscribe {
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], cb)
	s.mu.Unlock()
	return func() {}
}

func (s *Sink) emit(event string, payload any) {
	s.mu.Lock()
	cbs := append([]func(any){}, s.handlers[event]...)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb(payload)
	}
}

// Run starts the background tick loop that advances currentTime and the
// buffered range while playing, firing timeupdate/progress/ended every
// tick. It returns a stop function; calling it twice is a no-op.
func (s *Sink) Run(tick time.Duration) (stop func()) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go func() {
		defer close(s.doneCh)
		t := time.NewTicker(tick)
		defer t.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-t.C:
				s.advance(tick.Seconds())
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(s.stopCh)
			<-s.doneCh
		})
	}
}

func (s *Sink) advance(deltaSeconds float64) {
	s.mu.Lock()
	if s.paused || s.ended {
		s.mu.Unlock()
		return
	}
	s.currentTime += deltaSeconds * s.rate
	if s.currentTime >= s.duration {
		s.currentTime = s.duration
		s.ended = true
		s.paused = true
	}
	growth := models.BufferedRange{Start: 0, End: s.currentTime + 8}
	if growth.End > s.duration {
		growth.End = s.duration
	}
	s.buffered = models.NormalizeRanges(append(s.buffered, growth))
	ended := s.ended
	s.mu.Unlock()

	s.emit("timeupdate", nil)
	s.emit("progress", nil)
	if ended {
		s.emit("ended", nil)
	}
}
