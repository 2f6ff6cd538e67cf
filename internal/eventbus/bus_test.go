package eventbus

import (
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus() *Bus {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(logger)
}

func TestBus_SubscribeAndEmit(t *testing.T) {
	b := newTestBus()
	var got []any
	b.Subscribe("stateChange", func(payload any) {
		got = append(got, payload)
	})

	b.Emit("stateChange", "ready")
	b.Emit("stateChange", "playing")

	assert.Equal(t, []any{"ready", "playing"}, got)
}

func TestBus_DeliveryOrderIsSubscriptionOrder(t *testing.T) {
	b := newTestBus()
	var order []int
	b.Subscribe("e", func(any) { order = append(order, 1) })
	b.Subscribe("e", func(any) { order = append(order, 2) })
	b.Subscribe("e", func(any) { order = append(order, 3) })

	b.Emit("e", nil)

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := newTestBus()
	calls := 0
	unsub := b.Subscribe("e", func(any) { calls++ })

	b.Emit("e", nil)
	unsub()
	b.Emit("e", nil)

	assert.Equal(t, 1, calls)
}

func TestBus_UnsubscribeIsIdempotent(t *testing.T) {
	b := newTestBus()
	unsub := b.Subscribe("e", func(any) {})
	unsub()
	assert.NotPanics(t, func() { unsub() })
}

func TestBus_SubscribeOnceFiresExactlyOnce(t *testing.T) {
	b := newTestBus()
	calls := 0
	b.SubscribeOnce("e", func(any) { calls++ })

	b.Emit("e", nil)
	b.Emit("e", nil)
	b.Emit("e", nil)

	assert.Equal(t, 1, calls)
}

func TestBus_RemoveAllForEvent(t *testing.T) {
	b := newTestBus()
	calls := 0
	b.Subscribe("a", func(any) { calls++ })
	b.Subscribe("b", func(any) { calls++ })

	b.RemoveAll("a")
	b.Emit("a", nil)
	b.Emit("b", nil)

	assert.Equal(t, 1, calls)
}

func TestBus_RemoveAllEverything(t *testing.T) {
	b := newTestBus()
	calls := 0
	b.Subscribe("a", func(any) { calls++ })
	b.Subscribe("b", func(any) { calls++ })

	b.RemoveAll("")
	b.Emit("a", nil)
	b.Emit("b", nil)

	assert.Equal(t, 0, calls)
}

func TestBus_EmitDuringEmitIsSafe(t *testing.T) {
	b := newTestBus()
	var secondFired bool
	var unsubFirst Unsubscribe
	unsubFirst = b.Subscribe("e", func(any) {
		unsubFirst()
		b.Subscribe("e", func(any) { secondFired = true })
	})

	b.Emit("e", nil) // snapshot excludes the listener added mid-emit
	assert.False(t, secondFired)

	b.Emit("e", nil) // now the newly added listener fires
	assert.True(t, secondFired)
}

func TestBus_HandlerPanicDoesNotBlockRemainingHandlers(t *testing.T) {
	b := newTestBus()
	second := false
	b.Subscribe("e", func(any) { panic("boom") })
	b.Subscribe("e", func(any) { second = true })

	require.NotPanics(t, func() { b.Emit("e", nil) })
	assert.True(t, second)
}

func TestBus_ConcurrentSubscribeEmit(t *testing.T) {
	b := newTestBus()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			unsub := b.Subscribe("e", func(any) {})
			unsub()
		}()
		go func() {
			defer wg.Done()
			b.Emit("e", nil)
		}()
	}
	wg.Wait()
}
