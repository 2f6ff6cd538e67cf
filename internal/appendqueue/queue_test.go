package appendqueue

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/avplayer/playcore/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSurface is a controllable AppendSurface double: each call is gated
// by an explicit release so tests can assert FIFO/single-flight ordering.
type fakeSurface struct {
	mu           sync.Mutex
	busy         bool
	calls        []string
	pendingCh    chan error
	abortCalls   int
	releaseCalls int
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{}
}

func (f *fakeSurface) Busy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeSurface) start(label string) <-chan error {
	f.mu.Lock()
	f.busy = true
	f.calls = append(f.calls, label)
	ch := make(chan error, 1)
	f.pendingCh = ch
	f.mu.Unlock()
	return ch
}

func (f *fakeSurface) Append(data []byte, timestampOffset *float64) <-chan error {
	return f.start("append")
}

func (f *fakeSurface) Remove(start, end float64) <-chan error {
	return f.start("remove")
}

// resolve completes the most recently started operation.
func (f *fakeSurface) resolve(err error) {
	f.mu.Lock()
	ch := f.pendingCh
	f.busy = false
	f.mu.Unlock()
	ch <- err
}

func (f *fakeSurface) Abort() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortCalls++
	return nil
}

func (f *fakeSurface) ReleaseHandle() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseCalls++
	return nil
}

func newTestQueue(surface AppendSurface) *Queue {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(surface, Config{MaxPendingBytes: 1 << 20, MaxPendingOps: 64}, logger)
}

func waitDone(t *testing.T, op *models.BufferOperation) {
	t.Helper()
	select {
	case <-op.Done:
	case <-time.After(time.Second):
		t.Fatal("operation did not settle in time")
	}
}

func TestQueue_AppendResolvesOnUpdateFinished(t *testing.T) {
	surface := newFakeSurface()
	q := newTestQueue(surface)

	op := models.NewAppendOperation([]byte("segment"), nil)
	require.NoError(t, q.Submit(op))

	time.Sleep(10 * time.Millisecond)
	surface.resolve(nil)

	waitDone(t, op)
	assert.NoError(t, op.Err)
}

func TestQueue_FIFOSingleFlight(t *testing.T) {
	surface := newFakeSurface()
	q := newTestQueue(surface)

	op1 := models.NewAppendOperation([]byte("a"), nil)
	op2 := models.NewRemoveOperation(0, 5)
	require.NoError(t, q.Submit(op1))
	require.NoError(t, q.Submit(op2))

	time.Sleep(10 * time.Millisecond)
	// Only the first call should have started; the second must wait.
	surface.mu.Lock()
	assert.Equal(t, []string{"append"}, surface.calls)
	surface.mu.Unlock()

	surface.resolve(nil)
	waitDone(t, op1)

	time.Sleep(10 * time.Millisecond)
	surface.mu.Lock()
	assert.Equal(t, []string{"append", "remove"}, surface.calls)
	surface.mu.Unlock()

	surface.resolve(nil)
	waitDone(t, op2)
}

func TestQueue_QuotaExceededClassifiedDistinctly(t *testing.T) {
	surface := newFakeSurface()
	q := newTestQueue(surface)

	op := models.NewAppendOperation([]byte("x"), nil)
	require.NoError(t, q.Submit(op))
	time.Sleep(10 * time.Millisecond)
	surface.resolve(ErrQuotaExceeded)

	waitDone(t, op)
	require.Error(t, op.Err)
	var classified interface{ Key() string }
	require.ErrorAs(t, op.Err, &classified)
	assert.Equal(t, "MediaSourceFailure/MseQuotaExceeded", classified.Key())
}

func TestQueue_GenericAppendErrorClassified(t *testing.T) {
	surface := newFakeSurface()
	q := newTestQueue(surface)

	op := models.NewAppendOperation([]byte("x"), nil)
	require.NoError(t, q.Submit(op))
	time.Sleep(10 * time.Millisecond)
	surface.resolve(errors.New("surface exploded"))

	waitDone(t, op)
	require.Error(t, op.Err)
	var classified interface{ Key() string }
	require.ErrorAs(t, op.Err, &classified)
	assert.Equal(t, "MediaSourceFailure/MseAppendError", classified.Key())
}

func TestQueue_BackpressureRejectsOverBudget(t *testing.T) {
	surface := newFakeSurface()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	q := New(surface, Config{MaxPendingBytes: 4, MaxPendingOps: 64}, logger)

	op := models.NewAppendOperation([]byte("toolong"), nil)
	err := q.Submit(op)
	assert.ErrorIs(t, err, models.ErrQueueBackpressure)
}

func TestQueue_BackpressureRejectsOverOpCount(t *testing.T) {
	surface := newFakeSurface()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	q := New(surface, Config{MaxPendingBytes: 1 << 20, MaxPendingOps: 1}, logger)

	op1 := models.NewAppendOperation([]byte("a"), nil)
	op2 := models.NewAppendOperation([]byte("b"), nil)
	require.NoError(t, q.Submit(op1))
	assert.ErrorIs(t, q.Submit(op2), models.ErrQueueBackpressure)

	surface.resolve(nil)
	waitDone(t, op1)
}

func TestQueue_DestroyRejectsPendingOperations(t *testing.T) {
	surface := newFakeSurface()
	q := newTestQueue(surface)

	op1 := models.NewAppendOperation([]byte("a"), nil)
	op2 := models.NewRemoveOperation(0, 1)
	require.NoError(t, q.Submit(op1))
	require.NoError(t, q.Submit(op2))

	time.Sleep(10 * time.Millisecond)
	q.Destroy()

	waitDone(t, op2)
	assert.ErrorIs(t, op2.Err, models.ErrQueueDestroyed)

	surface.resolve(nil) // let the in-flight append drain
	waitDone(t, op1)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, surface.releaseCalls)
}

func TestQueue_SubmitAfterDestroyIsRejected(t *testing.T) {
	surface := newFakeSurface()
	q := newTestQueue(surface)
	q.Destroy()

	op := models.NewAppendOperation([]byte("x"), nil)
	assert.ErrorIs(t, q.Submit(op), models.ErrQueueDestroyed)
}

func TestQueue_DestroyIsIdempotent(t *testing.T) {
	surface := newFakeSurface()
	q := newTestQueue(surface)
	q.Destroy()
	assert.NotPanics(t, func() { q.Destroy() })
	assert.Equal(t, 1, surface.releaseCalls)
}

func TestQueue_AbortNotCalledWhileSurfaceBusy(t *testing.T) {
	surface := newFakeSurface()
	q := newTestQueue(surface)

	op := models.NewAppendOperation([]byte("a"), nil)
	require.NoError(t, q.Submit(op))
	time.Sleep(10 * time.Millisecond) // surface is now busy, in flight

	q.Destroy()
	time.Sleep(10 * time.Millisecond)
	surface.mu.Lock()
	assert.Equal(t, 0, surface.abortCalls, "must not abort while surface reports busy")
	surface.mu.Unlock()

	surface.resolve(nil)
	waitDone(t, op)
}
