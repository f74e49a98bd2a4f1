package goAccount

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// auditDispatcher hands events to the sink from a single goroutine. A nil
// dispatcher accepts and discards everything.
type auditDispatcher struct {
	sink       AuditSink
	dropIfFull bool
	logger     *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan AuditEvent
	done   chan struct{}

	dropped  atomic.Uint64
	warnOnce sync.Once
}

func newAuditDispatcher(cfg AuditConfig, sink AuditSink, logger *slog.Logger) *auditDispatcher {
	if !cfg.Enabled {
		return nil
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &auditDispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		logger:     logger,
		queue:      make(chan AuditEvent, max(cfg.BufferSize, 1)),
		done:       make(chan struct{}),
	}
	go d.deliver()
	return d
}

func (d *auditDispatcher) deliver() {
	defer close(d.done)
	for event := range d.queue {
		d.sink.Emit(context.Background(), event)
	}
}

// Emit queues event for the sink. When the queue is full it either drops the
// event or waits for room, depending on AuditConfig.DropIfFull. A waiting
// Emit gives up when ctx ends.
func (d *auditDispatcher) Emit(ctx context.Context, event AuditEvent) {
	if d == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}

	select {
	case d.queue <- event:
		return
	default:
	}

	if d.dropIfFull {
		d.dropped.Add(1)
		d.warnOnce.Do(func() {
			d.logger.Warn("audit buffer full, dropping events", "event_type", event.EventType)
		})
		return
	}

	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close flushes queued events to the sink and stops the dispatcher. Later
// Emit calls are ignored.
func (d *auditDispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *auditDispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
