package demo

import (
	"sync"
	"time"

	"github.com/avplayer/playcore/internal/eventbus"
	"github.com/avplayer/playcore/internal/models"
	"github.com/avplayer/playcore/internal/session"
)

// Adapter is a simulated session.Adapter. It reports a fixed three-rung
// quality ladder and, once Load is called, periodically synthesizes a segment
// download sample on a ticker so the ABR controller (C7) has real
// bandwidth data to react to.
type Adapter struct {
	mu sync.Mutex

	levels  []models.QualityLevel
	current int

	bandwidthBps int64 // simulated link rate fed to every synthesized segment

	segmentCbs  []func(models.SegmentTiming)
	errorCbs    []func(code, message string, cause error)
	subtitleCbs []func([]session.SubtitleTrack)

	destroyed bool
	stopCh    chan struct{}
}

// NewAdapter constructs an Adapter simulating a link of bandwidthBps
// bits/sec.
func NewAdapter(bandwidthBps int64) *Adapter {
	return &Adapter{
		levels: models.SortLevels([]models.QualityLevel{
			{Bitrate: 800_000, Width: 640, Height: 360, Label: "360p"},
			{Bitrate: 2_500_000, Width: 1280, Height: 720, Label: "720p"},
			{Bitrate: 6_000_000, Width: 1920, Height: 1080, Label: "1080p"},
		}),
		bandwidthBps: bandwidthBps,
	}
}

func (a *Adapter) Attach(sink session.VideoSink) <-chan error {
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func (a *Adapter) Load(cfg session.SourceConfig) <-chan error {
	ch := make(chan error, 1)
	a.mu.Lock()
	a.stopCh = make(chan struct{})
	stopCh := a.stopCh
	a.mu.Unlock()
	go a.simulateSegments(stopCh)
	ch <- nil
	return ch
}

func (a *Adapter) simulateSegments(stopCh chan struct{}) {
	t := time.NewTicker(2 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-t.C:
			a.mu.Lock()
			bps := a.bandwidthBps
			cbs := append([]func(models.SegmentTiming){}, a.segmentCbs...)
			a.mu.Unlock()

			const segmentDuration = 4.0 // seconds of media per segment
			bytes := int64(float64(bps) * segmentDuration / 8.0)
			timing := models.SegmentTiming{
				Bytes:           bytes,
				DurationMs:      int64(segmentDuration * 1000),
				SegmentDuration: segmentDuration,
			}
			for _, cb := range cbs {
				cb(timing)
			}
		}
	}
}

// SetBandwidth changes the simulated link rate used by future segment
// samples, e.g. to demonstrate an ABR downgrade/upgrade live.
func (a *Adapter) SetBandwidth(bps int64) {
	a.mu.Lock()
	a.bandwidthBps = bps
	a.mu.Unlock()
}

func (a *Adapter) GetQualityLevels() []models.QualityLevel { return a.levels }

func (a *Adapter) SetQualityLevel(index int) error {
	a.mu.Lock()
	a.current = index
	a.mu.Unlock()
	return nil
}

func (a *Adapter) GetCurrentQualityLevel() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Adapter) OnSegmentLoaded(cb func(models.SegmentTiming)) eventbus.Unsubscribe {
	a.mu.Lock()
	a.segmentCbs = append(a.segmentCbs, cb)
	a.mu.Unlock()
	return func() {}
}

func (a *Adapter) OnError(cb func(code, message string, cause error)) eventbus.Unsubscribe {
	a.mu.Lock()
	a.errorCbs = append(a.errorCbs, cb)
	a.mu.Unlock()
	return func() {}
}

func (a *Adapter) GetSubtitleTracks() []session.SubtitleTrack { return nil }

func (a *Adapter) SetSubtitleTrack(id *string) error { return nil }

func (a *Adapter) OnSubtitleTracksChanged(cb func([]session.SubtitleTrack)) eventbus.Unsubscribe {
	a.mu.Lock()
	a.subtitleCbs = append(a.subtitleCbs, cb)
	a.mu.Unlock()
	return func() {}
}

// FireError injects a synthetic adapter error, e.g. so an operator can
// watch the error classifier (C3) and error controller (C8) react to a
// chosen category live.
func (a *Adapter) FireError(code, message string) {
	a.mu.Lock()
	cbs := append([]func(code, message string, cause error){}, a.errorCbs...)
	a.mu.Unlock()
	for _, cb := range cbs {
		cb(code, message, nil)
	}
}

func (a *Adapter) Destroy() error {
	a.mu.Lock()
	if a.destroyed {
		a.mu.Unlock()
		return nil
	}
	a.destroyed = true
	stopCh := a.stopCh
	a.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
	}
	return nil
}
