// Package appendqueue serializes Append/Remove operations against a
// single-mutation append surface (an MSE SourceBuffer analogue), queueing
// submissions FIFO and dispatching at most one at a time per surface
// (C6, §4.6).
package appendqueue

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/avplayer/playcore/internal/classifier"
	"github.com/avplayer/playcore/internal/models"
)

// ErrQuotaExceeded is returned by an AppendSurface's completion channel
// when the surface reports a quota-exceeded condition during an append
// (§4.6). The queue classifies it to MseQuotaExceeded rather than the
// generic MseAppendError.
var ErrQuotaExceeded = errors.New("append surface quota exceeded")

// AppendSurface is the append/remove target C6 serializes access to: one
// real SourceBuffer-like resource per source session. Append and Remove
// are asynchronous; each returns a channel that delivers exactly one
// value (nil on success) when the surface's "update finished" or error
// signal fires.
type AppendSurface interface {
	// Busy reports the surface's "updating" flag.
	Busy() bool
	Append(data []byte, timestampOffset *float64) <-chan error
	Remove(start, end float64) <-chan error
	// Abort requests the surface cancel its current operation. Only
	// called by the queue when Busy() is false (§4.6 invariant ii).
	Abort() error
	// ReleaseHandle releases the object URL/handle backing the surface.
	// Guaranteed by the queue to be called at most once (§4.6 invariant
	// iii).
	ReleaseHandle() error
}

// Config bounds how much unsubmitted work the queue will hold before
// rejecting further submissions with ErrQueueBackpressure.
type Config struct {
	MaxPendingBytes int64
	MaxPendingOps   int
}

// Queue is the per-session FIFO append/remove dispatcher (C6). The zero
// value is not usable; construct with New.
type Queue struct {
	mu      sync.Mutex
	surface AppendSurface
	cfg     Config
	logger  *slog.Logger

	pending      []*models.BufferOperation
	pendingBytes int64
	dispatching  bool
	destroyed    bool
	releaseOnce  sync.Once
}

// New constructs a Queue over surface.
func New(surface AppendSurface, cfg Config, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		surface: surface,
		cfg:     cfg,
		logger:  logger.With("component", "appendqueue"),
	}
}

// Submit enqueues op for FIFO dispatch. It returns ErrQueueDestroyed if
// the queue has been destroyed, or ErrQueueBackpressure if accepting op
// would exceed the configured bounds (§4.6). On success, the caller reads
// op.Done to learn the outcome; Submit itself never blocks on completion.
func (q *Queue) Submit(op *models.BufferOperation) error {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return models.ErrQueueDestroyed
	}

	opBytes := int64(len(op.Data))
	if (q.cfg.MaxPendingOps > 0 && len(q.pending) >= q.cfg.MaxPendingOps) ||
		(q.cfg.MaxPendingBytes > 0 && q.pendingBytes+opBytes > q.cfg.MaxPendingBytes) {
		q.mu.Unlock()
		return models.ErrQueueBackpressure
	}

	q.pending = append(q.pending, op)
	q.pendingBytes += opBytes
	alreadyDispatching := q.dispatching
	q.dispatching = true
	q.mu.Unlock()

	if !alreadyDispatching {
		go q.dispatchLoop()
	}
	return nil
}

// dispatchLoop pops and runs one operation at a time until the queue
// drains, then clears the dispatching flag. It never starts a new
// operation while a previous one's completion channel is still pending,
// satisfying §4.6 invariant (i).
func (q *Queue) dispatchLoop() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.dispatching = false
			destroyed := q.destroyed
			q.mu.Unlock()
			if destroyed {
				q.finalizeDestroy()
			}
			return
		}
		op := q.pending[0]
		q.pending = q.pending[1:]
		if op.Kind == models.OpAppend {
			q.pendingBytes -= int64(len(op.Data))
		}
		destroyed := q.destroyed
		q.mu.Unlock()

		if destroyed {
			op.Settle(models.ErrQueueDestroyed)
			continue
		}

		q.runOp(op)
	}
}

func (q *Queue) runOp(op *models.BufferOperation) {
	var resultCh <-chan error
	switch op.Kind {
	case models.OpAppend:
		resultCh = q.surface.Append(op.Data, op.TimestampOffset)
	case models.OpRemove:
		resultCh = q.surface.Remove(op.Start, op.End)
	}

	err := <-resultCh
	if err != nil {
		err = q.classify(err)
		q.logger.Debug("append surface operation failed", "kind", op.Kind.String(), "err", err)
	}
	op.Settle(err)
}

// classify converts a raw surface error into a PlayerError. Quota
// exhaustion gets its own code so C8/C9 can decide to enqueue an eviction
// first; the queue itself never retries (§4.6).
func (q *Queue) classify(err error) error {
	if errors.Is(err, ErrQuotaExceeded) {
		return classifier.Classify(classifier.CodeMseQuotaExceeded, err.Error(), err)
	}
	return classifier.Classify(classifier.CodeMseAppendError, err.Error(), err)
}

// Destroy rejects every still-pending operation with ErrQueueDestroyed
// and, once nothing is in flight, aborts the surface (only if it is not
// currently updating) and releases its handle exactly once (§4.6).
// Destroy is idempotent.
func (q *Queue) Destroy() {
	q.mu.Lock()
	if q.destroyed {
		q.mu.Unlock()
		return
	}
	q.destroyed = true
	pending := q.pending
	q.pending = nil
	q.pendingBytes = 0
	dispatching := q.dispatching
	q.mu.Unlock()

	for _, op := range pending {
		op.Settle(models.ErrQueueDestroyed)
	}

	if !dispatching {
		q.finalizeDestroy()
	}
	// If dispatching is true, an in-flight operation is still awaiting its
	// completion channel; dispatchLoop notices q.destroyed once it drains
	// and calls finalizeDestroy itself.
}

func (q *Queue) finalizeDestroy() {
	q.releaseOnce.Do(func() {
		if !q.surface.Busy() {
			if err := q.surface.Abort(); err != nil {
				q.logger.Debug("abort on destroy failed", "err", err)
			}
		}
		if err := q.surface.ReleaseHandle(); err != nil {
			q.logger.Debug("release handle failed", "err", err)
		}
	})
}
