// Package recovery implements the deferred retry queue: a priority-ordered
// list of captured retry attempts, accumulated while startup runs and
// drained exactly once afterwards.
package recovery

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/Workiva/go-datastructures/queue"

	"github.com/vk/modkit/internal/config"
	"github.com/vk/modkit/internal/ctxlog"
	"github.com/vk/modkit/internal/events"
	"github.com/vk/modkit/internal/metrics"
	"github.com/vk/modkit/module"
)

// Priorities assigned to queue entries. Critical modules drain first.
const (
	PriorityCritical = 1
	PriorityDefault  = 5
)

// QueueError wraps a failure from a deferred recovery attempt. It is logged
// and surfaced to the error sink but never retried again.
type QueueError struct {
	Module string
	Phase  module.Phase
	Err    error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("recovery attempt for module %q phase %q failed: %v", e.Module, e.Phase, e.Err)
}

func (e *QueueError) Unwrap() error { return e.Err }

// Entry is one captured retry attempt.
type Entry struct {
	seq      int64
	Priority int
	Module   string
	Phase    module.Phase
	Attempts int
	Options  config.RetryOptions
	Op       func(ctx context.Context) error
}

// Compare orders entries ascending by priority, then FIFO by capture order,
// satisfying the priority queue's Item contract.
func (e *Entry) Compare(other queue.Item) int {
	o := other.(*Entry)
	if e.Priority != o.Priority {
		if e.Priority < o.Priority {
			return -1
		}
		return 1
	}
	switch {
	case e.seq < o.seq:
		return -1
	case e.seq > o.seq:
		return 1
	default:
		return 0
	}
}

// Queue accumulates deferred retry attempts from the retry engine.
type Queue struct {
	pq      *queue.PriorityQueue
	seq     atomic.Int64
	drained atomic.Bool
	bus     *events.Bus
	metrics *metrics.Metrics
}

// New creates an empty recovery queue.
func New(bus *events.Bus, m *metrics.Metrics) *Queue {
	return &Queue{
		pq:      queue.NewPriorityQueue(16, true),
		bus:     bus,
		metrics: m,
	}
}

// Enqueue captures a deferred attempt. It fails once the single drain pass
// has already happened, so callers can fall back to direct scheduling.
func (q *Queue) Enqueue(ctx context.Context, e *Entry) error {
	if q.drained.Load() {
		return fmt.Errorf("recovery queue already drained")
	}
	e.seq = q.seq.Add(1)
	if err := q.pq.Put(e); err != nil {
		return fmt.Errorf("failed to enqueue recovery attempt for %q: %w", e.Module, err)
	}
	q.metrics.QueueDepth(1)
	ctxlog.FromContext(ctx).Debug("Captured deferred retry attempt.",
		"module", e.Module, "phase", e.Phase, "priority", e.Priority, "attempts", e.Attempts)
	return nil
}

// Len returns the number of waiting entries.
func (q *Queue) Len() int {
	return q.pq.Len()
}

// Drain executes every captured attempt strictly sequentially in ascending
// priority order. It runs at most once per queue; later calls are no-ops.
// Failures are logged and surfaced to the error sink but never re-enqueued,
// and the queue is empty afterwards regardless of individual outcomes.
func (q *Queue) Drain(ctx context.Context) {
	if !q.drained.CompareAndSwap(false, true) {
		return
	}
	logger := ctxlog.FromContext(ctx)
	if q.pq.Empty() {
		logger.Debug("Recovery queue empty, nothing to drain.")
		return
	}
	logger.Info("🩹 Draining recovery queue.", "entries", q.pq.Len())

	for !q.pq.Empty() {
		items, err := q.pq.Get(1)
		if err != nil || len(items) == 0 {
			logger.Error("Failed to pop recovery queue entry.", "error", err)
			return
		}
		entry := items[0].(*Entry)
		q.metrics.QueueDepth(-1)
		q.runEntry(ctx, entry)
	}
	logger.Info("Recovery queue drained.")
}

func (q *Queue) runEntry(ctx context.Context, entry *Entry) {
	logger := ctxlog.FromContext(ctx).With("module", entry.Module, "phase", entry.Phase)
	logger.Debug("Executing deferred retry attempt.", "priority", entry.Priority)

	err := func() (opErr error) {
		defer func() {
			if r := recover(); r != nil {
				opErr = fmt.Errorf("panic in deferred attempt: %v", r)
			}
		}()
		return entry.Op(ctx)
	}()
	if err == nil {
		q.metrics.Outcome(entry.Phase, "recovered")
		logger.Info("✅ Deferred retry attempt succeeded.")
		return
	}

	qErr := &QueueError{Module: entry.Module, Phase: entry.Phase, Err: err}
	q.metrics.Outcome(entry.Phase, "failure")
	logger.Error("Deferred retry attempt failed; will not be retried again.", "error", err)
	q.bus.Publish(ctx, events.Event{
		Topic:    events.TopicRuntimeError,
		Module:   entry.Module,
		Phase:    entry.Phase,
		Attempts: entry.Attempts,
		Err:      qErr,
	})
}
