package postgres

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tickscraper/internal/domain"
)

type auditEvent struct {
	event  string
	detail map[string]any
}

// Auditor hands lifecycle events to an AuditStore from a background
// goroutine. Record never blocks: when the queue is full the event is
// dropped and counted.
type Auditor struct {
	store   domain.AuditStore
	queue   chan auditEvent
	logger  *slog.Logger
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewAuditor creates an Auditor with a queue of size entries.
func NewAuditor(store domain.AuditStore, size int, logger *slog.Logger) *Auditor {
	if size < 1 {
		size = 1
	}
	return &Auditor{
		store:   store,
		queue:   make(chan auditEvent, size),
		logger:  logger.With(slog.String("component", "auditor")),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
}

// Record enqueues an event.
func (a *Auditor) Record(event string, detail map[string]any) {
	select {
	case <-a.done:
		a.dropped.Add(1)
		return
	default:
	}
	select {
	case a.queue <- auditEvent{event: event, detail: detail}:
	default:
		a.dropped.Add(1)
		a.logger.Warn("audit queue full, event dropped", slog.String("event", event))
	}
}

// Run drains the queue until ctx is cancelled, then writes whatever is still
// queued before returning.
func (a *Auditor) Run(ctx context.Context) error {
	defer a.closeOnce.Do(func() { close(a.done) })
	for {
		select {
		case <-ctx.Done():
			a.drain(context.WithoutCancel(ctx))
			return nil
		case ev := <-a.queue:
			a.write(ctx, ev)
		}
	}
}

func (a *Auditor) drain(ctx context.Context) {
	for {
		select {
		case ev := <-a.queue:
			a.write(ctx, ev)
		default:
			return
		}
	}
}

func (a *Auditor) write(ctx context.Context, ev auditEvent) {
	wctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	if err := a.store.Log(wctx, ev.event, ev.detail); err != nil {
		a.failed.Add(1)
		a.logger.Error("audit write failed",
			slog.String("event", ev.event),
			slog.String("error", err.Error()),
		)
		return
	}
	a.written.Add(1)
}

// AuditorStats is a snapshot of the auditor counters.
type AuditorStats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
	Queued  int   `json:"queued"`
}

// Stats returns a snapshot of the auditor counters.
func (a *Auditor) Stats() AuditorStats {
	return AuditorStats{
		Written: a.written.Load(),
		Dropped: a.dropped.Load(),
		Failed:  a.failed.Load(),
		Queued:  len(a.queue),
	}
}
