package bufferaccountant

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/avplayer/playcore/internal/eventbus"
	"github.com/avplayer/playcore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAccountant(cfg Config) (*Accountant, *eventbus.Bus) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := eventbus.New(logger)
	return New(bus, logger, cfg), bus
}

func desktopConfig() Config {
	return Config{MaxBufferLength: 40, TargetBufferLength: 30, MinBufferLength: 10, BackBufferLength: 30}
}

func TestAccountant_BufferUpdateIsThrottledAndCoalesces(t *testing.T) {
	a, bus := newTestAccountant(desktopConfig())
	var mu sync.Mutex
	var received []models.BufferInfo
	bus.Subscribe(EventBufferUpdate, func(payload any) {
		mu.Lock()
		received = append(received, payload.(models.BufferInfo))
		mu.Unlock()
	})

	ranges := []models.BufferedRange{{Start: 0, End: 20}}
	a.OnTimeUpdate(5, ranges)
	a.OnTimeUpdate(6, ranges)
	a.OnTimeUpdate(7, ranges)

	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1, "three rapid samples should coalesce into one emission")
	assert.Equal(t, 7.0, received[0].CurrentTime, "the latest value should be the one delivered")
}

func TestAccountant_BufferLowFiresOnceUntilRecovered(t *testing.T) {
	a, bus := newTestAccountant(desktopConfig())
	var lowCount, sufficientCount int
	bus.Subscribe(EventBufferLow, func(any) { lowCount++ })
	bus.Subscribe(EventBufferSufficient, func(any) { sufficientCount++ })

	lowRanges := []models.BufferedRange{{Start: 0, End: 10}} // forwardBuffer = 5 at t=5, below min=10
	a.OnTimeUpdate(5, lowRanges)
	a.OnTimeUpdate(5, lowRanges)
	assert.Equal(t, 1, lowCount, "bufferlow should not re-fire while still low")

	sufficientRanges := []models.BufferedRange{{Start: 0, End: 40}} // forwardBuffer = 35 at t=5, >= target=30
	a.OnTimeUpdate(5, sufficientRanges)
	assert.Equal(t, 1, sufficientCount)
}

func TestAccountant_BufferSufficientFiresAfterGradualRecovery(t *testing.T) {
	a, bus := newTestAccountant(desktopConfig())
	var lowCount, sufficientCount int
	bus.Subscribe(EventBufferLow, func(any) { lowCount++ })
	bus.Subscribe(EventBufferSufficient, func(any) { sufficientCount++ })

	// forwardBuffer = 5 at t=5, below min=10: enters the low state.
	a.OnTimeUpdate(5, []models.BufferedRange{{Start: 0, End: 10}})
	assert.Equal(t, 1, lowCount)
	assert.Equal(t, 0, sufficientCount)

	// forwardBuffer = 15 at t=5: above min but still below target=30. A
	// naive wasLow==isLow implementation would clear "was low" right here
	// and never fire buffersufficient once target is actually reached.
	a.OnTimeUpdate(5, []models.BufferedRange{{Start: 0, End: 20}})
	assert.Equal(t, 0, sufficientCount, "still recovering through the min-target band")

	// forwardBuffer = 25 at t=5: closer, still below target.
	a.OnTimeUpdate(5, []models.BufferedRange{{Start: 0, End: 30}})
	assert.Equal(t, 0, sufficientCount)

	// forwardBuffer = 35 at t=5: now >= target=30, recovery completes.
	a.OnTimeUpdate(5, []models.BufferedRange{{Start: 0, End: 40}})
	assert.Equal(t, 1, sufficientCount, "buffersufficient should fire once a gradual recovery reaches target")
}

func TestAccountant_VisibilityClampsEffectiveLimits(t *testing.T) {
	a, bus := newTestAccountant(desktopConfig())
	var got models.BufferInfo
	bus.Subscribe(EventBufferUpdate, func(payload any) { got = payload.(models.BufferInfo) })

	a.SetHidden(true)
	a.OnTimeUpdate(5, []models.BufferedRange{{Start: 0, End: 20}})
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, 10.0, got.MaxBuffer, "hidden max clamps to min(max, 10)")
	assert.Equal(t, 8.0, got.TargetBuffer, "hidden target clamps to min(target, 8)")
}

func TestAccountant_EvictionBeforeSafeBack(t *testing.T) {
	a, _ := newTestAccountant(desktopConfig())
	// currentTime=100, back=30 -> safeBack=70. A range entirely before 70 is evicted whole.
	ranges := []models.BufferedRange{{Start: 0, End: 60}}
	out := a.computeEviction(100, ranges, 40, 30)
	require.Len(t, out, 1)
	assert.Equal(t, EvictionRange{Start: 0, End: 60}, out[0])
}

func TestAccountant_EvictionStraddlingSafeBack(t *testing.T) {
	a, _ := newTestAccountant(desktopConfig())
	ranges := []models.BufferedRange{{Start: 60, End: 80}} // safeBack=70 falls inside
	out := a.computeEviction(100, ranges, 40, 30)
	require.Len(t, out, 1)
	assert.Equal(t, EvictionRange{Start: 60, End: 70}, out[0])
}

func TestAccountant_EvictionPastAhead(t *testing.T) {
	a, _ := newTestAccountant(desktopConfig())
	// currentTime=100, max=40 -> ahead=140. A range extending past 140 is trimmed.
	ranges := []models.BufferedRange{{Start: 90, End: 150}}
	out := a.computeEviction(100, ranges, 40, 30)
	require.Len(t, out, 1)
	assert.Equal(t, EvictionRange{Start: 140, End: 150}, out[0])
}

func TestAccountant_NoEvictionWithinSafeWindow(t *testing.T) {
	a, _ := newTestAccountant(desktopConfig())
	// safeBack=70, ahead=140; range fully inside is left alone.
	ranges := []models.BufferedRange{{Start: 75, End: 130}}
	out := a.computeEviction(100, ranges, 40, 30)
	assert.Empty(t, out)
}
