package demo

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestSink_RunAdvancesTimeUntilEnded(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := NewSink(1)
	var ended bool
	sink.On("ended", func(any) { ended = true })

	stop := sink.Run(10 * time.Millisecond)
	defer stop()

	sink.Play()

	require.Eventually(t, func() bool {
		return ended
	}, time.Second, 5*time.Millisecond, "sink should reach its configured duration and fire ended")

	assert.True(t, sink.Ended())
	assert.Equal(t, sink.duration, sink.CurrentTime())
}

func TestSink_RunStopIsIdempotentAndLeavesNoGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := NewSink(100)
	stop := sink.Run(5 * time.Millisecond)
	stop()
	stop()
}

func TestSink_PauseStopsAdvancingCurrentTime(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sink := NewSink(100)
	stop := sink.Run(5 * time.Millisecond)
	defer stop()

	sink.Play()
	time.Sleep(20 * time.Millisecond)
	sink.Pause()
	t1 := sink.CurrentTime()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, t1, sink.CurrentTime())
}
