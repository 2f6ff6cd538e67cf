package session

import (
	"errors"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/avplayer/playcore/internal/abr"
	"github.com/avplayer/playcore/internal/bufferaccountant"
	"github.com/avplayer/playcore/internal/errorcontroller"
	"github.com/avplayer/playcore/internal/eventbus"
	"github.com/avplayer/playcore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBufferConfig() bufferaccountant.Config {
	return bufferaccountant.Config{MaxBufferLength: 40, TargetBufferLength: 30, MinBufferLength: 10, BackBufferLength: 30}
}

func testABRConfig() abr.Config {
	return abr.Config{StartLevel: abr.StartLowest, BandwidthSafetyFactor: 0.8, UpgradeBufferThreshold: 10, DowngradeBufferThresh: 5}
}

func newTestEngine(factory AdapterFactory) (*Engine, *fakeSink, *eventbus.Bus) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := eventbus.New(logger)
	sink := newFakeSink()
	e := New(bus, logger, sink, factory, testBufferConfig(), testABRConfig())
	return e, sink, bus
}

func TestEngine_LoadSucceedsAndReachesReady(t *testing.T) {
	adapter := newFakeAdapter()
	e, _, bus := newTestEngine(func(SourceConfig) Adapter { return adapter })

	var loaded bool
	var levels []models.QualityLevel
	bus.Subscribe(EventLoaded, func(any) { loaded = true })
	bus.Subscribe(EventQualityLevels, func(p any) { levels = p.([]models.QualityLevel) })

	err := e.Load(SourceConfig{URI: "http://example.test/master.m3u8"}, false)
	require.NoError(t, err)

	assert.Equal(t, models.StateReady, e.Snapshot().State)
	assert.True(t, loaded)
	assert.Len(t, levels, 2)
}

func TestEngine_LoadAutoplayStartsPlayback(t *testing.T) {
	adapter := newFakeAdapter()
	e, sink, _ := newTestEngine(func(SourceConfig) Adapter { return adapter })

	require.NoError(t, e.Load(SourceConfig{URI: "x"}, true))
	assert.Equal(t, models.StatePlaying, e.Snapshot().State)
	assert.Equal(t, 1, sink.playCalls)
}

func TestEngine_NoAdapterFactoryFailsLoad(t *testing.T) {
	e, _, bus := newTestEngine(nil)
	var gotError bool
	bus.Subscribe(errorcontroller.EventError, func(any) { gotError = true })

	err := e.Load(SourceConfig{URI: "x"}, false)
	assert.ErrorIs(t, err, models.ErrNoAdapter)
	assert.Equal(t, models.StateError, e.Snapshot().State)
	assert.True(t, gotError)
}

func TestEngine_FactoryReturningNilFailsLoad(t *testing.T) {
	e, _, _ := newTestEngine(func(SourceConfig) Adapter { return nil })
	err := e.Load(SourceConfig{URI: "x"}, false)
	assert.ErrorIs(t, err, models.ErrNoAdapter)
}

func TestEngine_AttachFailureFailsLoad(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.attachErr = errors.New("attach boom")
	e, _, _ := newTestEngine(func(SourceConfig) Adapter { return adapter })

	err := e.Load(SourceConfig{URI: "x"}, false)
	require.Error(t, err)
	assert.Equal(t, models.StateError, e.Snapshot().State)
}

func TestEngine_LoadFailureDestroysAdapter(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.loadErr = errors.New("load boom")
	e, _, _ := newTestEngine(func(SourceConfig) Adapter { return adapter })

	err := e.Load(SourceConfig{URI: "x"}, false)
	require.Error(t, err)
	assert.True(t, adapter.destroyed)
}

func TestEngine_SecondLoadSupersedesFirst(t *testing.T) {
	first := newFakeAdapter()
	second := newFakeAdapter()
	calls := 0
	e, _, _ := newTestEngine(func(SourceConfig) Adapter {
		calls++
		if calls == 1 {
			return first
		}
		return second
	})

	require.NoError(t, e.Load(SourceConfig{URI: "a"}, false))
	require.NoError(t, e.Load(SourceConfig{URI: "b"}, false))

	assert.Equal(t, models.StateReady, e.Snapshot().State)
	assert.Equal(t, SourceConfig{URI: "b"}, e.Snapshot().Source)
	assert.True(t, first.destroyed, "prior adapter must be torn down on reload")
}

func TestEngine_PlayRejectedWhenNotPlayable(t *testing.T) {
	e, _, _ := newTestEngine(func(SourceConfig) Adapter { return newFakeAdapter() })
	err := e.Play()
	assert.ErrorIs(t, err, models.ErrNotPlayable)
}

func TestEngine_PauseIsIdempotent(t *testing.T) {
	adapter := newFakeAdapter()
	e, sink, _ := newTestEngine(func(SourceConfig) Adapter { return adapter })
	require.NoError(t, e.Load(SourceConfig{URI: "x"}, true))

	require.NoError(t, e.Pause())
	require.NoError(t, e.Pause())
	assert.True(t, sink.paused)
	assert.Equal(t, models.StatePaused, e.Snapshot().State)
}

func TestEngine_SinkWaitingAndCanplayMapToBufferingAndPlaying(t *testing.T) {
	adapter := newFakeAdapter()
	e, sink, _ := newTestEngine(func(SourceConfig) Adapter { return adapter })
	require.NoError(t, e.Load(SourceConfig{URI: "x"}, true))

	sink.trigger("waiting", nil)
	assert.Equal(t, models.StateBuffering, e.Snapshot().State)

	sink.trigger("canplay", nil)
	assert.Equal(t, models.StatePlaying, e.Snapshot().State)
}

func TestEngine_SeekClampsToDuration(t *testing.T) {
	adapter := newFakeAdapter()
	e, sink, bus := newTestEngine(func(SourceConfig) Adapter { return adapter })
	require.NoError(t, e.Load(SourceConfig{URI: "x"}, false))

	var seekingTarget float64
	bus.Subscribe(EventSeeking, func(p any) { seekingTarget = p.(SeekingPayload).Target })

	require.NoError(t, e.Seek(-5))
	assert.Equal(t, float64(0), sink.CurrentTime())
	assert.Equal(t, float64(0), seekingTarget)

	require.NoError(t, e.Seek(10_000))
	assert.Equal(t, sink.duration, sink.CurrentTime())
}

func TestEngine_AdapterFatalErrorForcesErrorState(t *testing.T) {
	adapter := newFakeAdapter()
	e, _, _ := newTestEngine(func(SourceConfig) Adapter { return adapter })
	require.NoError(t, e.Load(SourceConfig{URI: "x"}, true))

	adapter.fireError("CorsDenied", "cross-origin blocked", errors.New("cors"))
	snap := e.Snapshot()
	assert.Equal(t, models.StateError, snap.State)
	require.NotNil(t, snap.Error, "the triggering error must be retained on the snapshot")
	assert.Equal(t, "CorsDenied", snap.Error.Code)
	assert.Equal(t, models.CategoryFatalIncompatibility, snap.Error.Category)
}

func TestEngine_SnapshotClearsErrorOnSuccessfulReload(t *testing.T) {
	adapter := newFakeAdapter()
	e, _, _ := newTestEngine(func(SourceConfig) Adapter { return adapter })
	require.NoError(t, e.Load(SourceConfig{URI: "x"}, true))

	adapter.fireError("CorsDenied", "cross-origin blocked", errors.New("cors"))
	require.NotNil(t, e.Snapshot().Error)

	require.NoError(t, e.Load(SourceConfig{URI: "x"}, false))
	assert.Nil(t, e.Snapshot().Error, "a fresh successful load must clear the retained error")
}

func TestEngine_SnapshotExposesBufferedRangesAndLiveness(t *testing.T) {
	adapter := newFakeAdapter()
	e, sink, _ := newTestEngine(func(SourceConfig) Adapter { return adapter })
	require.NoError(t, e.Load(SourceConfig{URI: "x"}, false))

	ranges := []models.BufferedRange{{Start: 0, End: 12}}
	sink.mu.Lock()
	sink.buffered = ranges
	sink.mu.Unlock()

	snap := e.Snapshot()
	assert.Equal(t, ranges, snap.Buffered)
	assert.False(t, snap.IsLive, "a finite duration is not a live source")

	sink.mu.Lock()
	sink.duration = math.Inf(1)
	sink.mu.Unlock()
	assert.True(t, e.Snapshot().IsLive, "an infinite duration marks the source as live")
}

func TestEngine_AdapterTransientErrorLeavesPlaybackAlone(t *testing.T) {
	adapter := newFakeAdapter()
	e, _, _ := newTestEngine(func(SourceConfig) Adapter { return adapter })
	require.NoError(t, e.Load(SourceConfig{URI: "x"}, true))

	adapter.fireError("NetworkHttpError", "http 503", errors.New("503"))
	assert.Equal(t, models.StatePlaying, e.Snapshot().State, "a retryable error must not interrupt playback")
}

func TestEngine_SetQualityPinsABRAndAppliesToAdapter(t *testing.T) {
	adapter := newFakeAdapter()
	e, _, _ := newTestEngine(func(SourceConfig) Adapter { return adapter })
	require.NoError(t, e.Load(SourceConfig{URI: "x"}, false))

	require.NoError(t, e.SetQuality(1))
	assert.Equal(t, 1, e.Snapshot().ABR.CurrentLevel)
	assert.Contains(t, adapter.qualitySets, 1)
}

func TestEngine_SetQualityBeforeLoadFails(t *testing.T) {
	e, _, _ := newTestEngine(func(SourceConfig) Adapter { return newFakeAdapter() })
	err := e.SetQuality(0)
	assert.ErrorIs(t, err, models.ErrInvalidQualityIndex)
}

func TestEngine_DestroyIsIdempotentAndUnsubscribes(t *testing.T) {
	adapter := newFakeAdapter()
	e, _, _ := newTestEngine(func(SourceConfig) Adapter { return adapter })
	require.NoError(t, e.Load(SourceConfig{URI: "x"}, false))

	require.NoError(t, e.Destroy())
	require.NoError(t, e.Destroy())
	assert.Equal(t, 1, adapter.destroyCalls)

	err := e.Load(SourceConfig{URI: "y"}, false)
	assert.ErrorIs(t, err, models.ErrEngineDestroyed)
}

func TestEngine_MediaSourceErrorReinitsAfterDelay(t *testing.T) {
	first := newFakeAdapter()
	second := newFakeAdapter()
	calls := 0
	e, _, _ := newTestEngine(func(SourceConfig) Adapter {
		calls++
		if calls == 1 {
			return first
		}
		return second
	})
	require.NoError(t, e.Load(SourceConfig{URI: "x"}, false))

	first.fireError("MseQuotaExceeded", "quota", errors.New("quota"))

	require.Eventually(t, func() bool {
		return calls == 2
	}, 2*time.Second, 10*time.Millisecond, "reinit should re-invoke the adapter factory")
}
