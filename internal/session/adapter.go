// Package session implements the session coordinator (C9, §4.9): it owns
// adapter lifecycle, wires every other component together, maps video-sink
// events onto C4 transitions, and executes C8's recovery decisions. The
// session owns a monotonic id, a recovery loop, and a destroy path that
// unsubscribes everything, generalized from an HLS relay session to a
// single adaptive-playback session.
package session

import (
	"github.com/avplayer/playcore/internal/eventbus"
	"github.com/avplayer/playcore/internal/models"
)

// SourceConfig is the opaque-to-the-core description of a playable
// source, handed to the AdapterFactory (§6).
type SourceConfig struct {
	URI   string
	Extra map[string]string
}

// SubtitleTrack is a single subtitle/caption track reported by an adapter
// (§6).
type SubtitleTrack struct {
	ID       string
	Label    string
	Language string
}

// AdapterFactory resolves a SourceConfig to an Adapter, or nil if no
// adapter handles it (§6). Synchronous, per contract.
type AdapterFactory func(cfg SourceConfig) Adapter

// Adapter is the per-source collaborator that knows how to attach to a
// VideoSink, load a source, and report quality levels, segment timings,
// errors, and subtitle tracks (§6).
type Adapter interface {
	// Attach must signal completion only once sink is ready to accept
	// source bytes or an equivalent direct src.
	Attach(sink VideoSink) <-chan error
	// Load begins loading cfg; after success, GetQualityLevels must
	// return the canonical level set.
	Load(cfg SourceConfig) <-chan error

	GetQualityLevels() []models.QualityLevel
	SetQualityLevel(index int) error // index == -1 selects adapter-automatic, if supported
	GetCurrentQualityLevel() int

	OnSegmentLoaded(cb func(models.SegmentTiming)) eventbus.Unsubscribe
	// OnError callbacks must already carry an ErrorCode; C3 upgrades unknowns.
	OnError(cb func(code, message string, cause error)) eventbus.Unsubscribe

	GetSubtitleTracks() []SubtitleTrack
	SetSubtitleTrack(id *string) error
	OnSubtitleTracksChanged(cb func([]SubtitleTrack)) eventbus.Unsubscribe

	// Destroy is idempotent.
	Destroy() error
}

// VideoSink is the playback surface C9 drives directly; C6 is the only
// other component with access, and only to assign/detach src (§5 Shared
// resources).
type VideoSink interface {
	CurrentTime() float64
	Duration() float64 // may be +Inf for a live source
	Paused() bool
	Ended() bool
	Buffered() []models.BufferedRange
	Volume() float64
	Muted() bool
	PlaybackRate() float64

	Play() <-chan error
	Pause()
	SetCurrentTime(t float64)
	SetVolume(v float64)
	SetMuted(m bool)
	SetPlaybackRate(r float64)

	// On subscribes to a sink event (one of playing, pause, waiting,
	// canplay, ended, timeupdate, durationchange, seeking, seeked,
	// volumechange, ratechange, error, loadedmetadata, progress) (§6).
	On(event string, cb func(payload any)) eventbus.Unsubscribe
}
