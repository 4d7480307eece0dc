// Package book applies order-book actions to the per-level series.
package book

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/alanyoungcy/tickscraper/internal/domain"
	"github.com/alanyoungcy/tickscraper/internal/series"
)

// LevelWriter is the subset of series.Writer the reconciler drives.
type LevelWriter interface {
	WriteLevel(ctx context.Context, exchange, symbol string, side domain.Side, price float64, ts int64, size float64) bool
	SupersedeLevel(ctx context.Context, exchange, symbol string, side domain.Side, price float64, ts int64, size float64) bool
	ResetBook(ctx context.Context, exchange, symbol string, ts int64, mode series.ResetMode, keep []series.Level) (int, error)
}

// EventRecorder receives book lifecycle events. It must not block.
type EventRecorder interface {
	Record(event string, detail map[string]any)
}

// Stats is a snapshot of the reconciler counters.
type Stats struct {
	Snapshots     int64 `json:"snapshots"`
	LevelsApplied int64 `json:"levels_applied"`
	LevelsSkipped int64 `json:"levels_skipped"`
}

// Reconciler applies BookBatches in arrival order. It keeps no book state of
// its own; the current size of a level is the latest point of its series.
type Reconciler struct {
	writer LevelWriter
	mode   series.ResetMode
	events EventRecorder
	logger *slog.Logger

	snapshots atomic.Int64
	applied   atomic.Int64
	skipped   atomic.Int64
}

// NewReconciler creates a Reconciler. events may be nil.
func NewReconciler(writer LevelWriter, mode series.ResetMode, events EventRecorder, logger *slog.Logger) *Reconciler {
	if mode == "" {
		mode = series.ResetZero
	}
	return &Reconciler{
		writer: writer,
		mode:   mode,
		events: events,
		logger: logger.With(slog.String("component", "book_reconciler")),
	}
}

// Reconcile applies one batch. A SNAPSHOT first resets every level of the
// book it does not carry, then writes its own levels so that each becomes
// the latest point of its series. If the reset fails the levels are still
// written and the reset error is returned.
func (r *Reconciler) Reconcile(ctx context.Context, b domain.BookBatch) error {
	var resetErr error
	switch b.Action {
	case domain.BookSnapshot:
		resetErr = r.reset(ctx, b)
		for _, d := range b.Deltas {
			if !r.usable(d) {
				continue
			}
			if d.Size == nil {
				r.skip(d, "snapshot level without size")
				continue
			}
			if r.writer.SupersedeLevel(ctx, d.Exchange, d.Symbol, d.Side, d.Price, d.TimestampMs, *d.Size) {
				r.applied.Add(1)
			}
		}
	case domain.BookUpsert:
		for _, d := range b.Deltas {
			r.upsert(ctx, d)
		}
	case domain.BookDelete:
		for _, d := range b.Deltas {
			r.remove(ctx, d)
		}
	default:
		r.logger.Warn("ignoring unknown book action",
			slog.String("action", string(b.Action)),
			slog.Int("deltas", len(b.Deltas)),
		)
		return fmt.Errorf("book: action %q: %w", b.Action, domain.ErrUnknownAction)
	}
	return resetErr
}

func (r *Reconciler) reset(ctx context.Context, b domain.BookBatch) error {
	ts := resetTimestamp(b)
	var keep []series.Level
	for _, d := range b.Deltas {
		if d.TimestampMs > 0 && d.Size != nil {
			keep = append(keep, series.Level{Side: d.Side, Price: d.Price})
		}
	}
	n, err := r.writer.ResetBook(ctx, b.Exchange, b.Symbol, ts, r.mode, keep)
	r.snapshots.Add(1)
	if err != nil {
		r.logger.Error("book reset failed",
			slog.String("exchange", b.Exchange),
			slog.String("symbol", b.Symbol),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("book: reset %s:%s: %w", b.Exchange, b.Symbol, err)
	}
	r.logger.Info("book reset",
		slog.String("exchange", b.Exchange),
		slog.String("symbol", b.Symbol),
		slog.String("mode", string(r.mode)),
		slog.Int("levels_cleared", n),
		slog.Int("levels_incoming", len(b.Deltas)),
	)
	if r.events != nil {
		r.events.Record(domain.EventBookReset, map[string]any{
			"exchange":        b.Exchange,
			"symbol":          b.Symbol,
			"mode":            string(r.mode),
			"levels_cleared":  n,
			"levels_incoming": len(b.Deltas),
			"ts":              ts,
		})
	}
	return nil
}

// resetTimestamp is the latest delta timestamp of the snapshot, or its
// receive time when no delta carries one.
func resetTimestamp(b domain.BookBatch) int64 {
	var ts int64
	for _, d := range b.Deltas {
		if d.TimestampMs > ts {
			ts = d.TimestampMs
		}
	}
	if ts == 0 {
		ts = b.ReceivedMs
	}
	return ts
}

func (r *Reconciler) upsert(ctx context.Context, d domain.BookDelta) {
	if !r.usable(d) {
		return
	}
	if d.Size == nil {
		r.skip(d, "upsert without size")
		return
	}
	if r.writer.WriteLevel(ctx, d.Exchange, d.Symbol, d.Side, d.Price, d.TimestampMs, *d.Size) {
		r.applied.Add(1)
	}
}

func (r *Reconciler) remove(ctx context.Context, d domain.BookDelta) {
	if !r.usable(d) {
		return
	}
	if r.writer.WriteLevel(ctx, d.Exchange, d.Symbol, d.Side, d.Price, d.TimestampMs, 0) {
		r.applied.Add(1)
	}
}

func (r *Reconciler) usable(d domain.BookDelta) bool {
	if d.TimestampMs <= 0 {
		r.skip(d, "non-positive timestamp")
		return false
	}
	return true
}

func (r *Reconciler) skip(d domain.BookDelta, reason string) {
	r.skipped.Add(1)
	r.logger.Warn("skipping book delta",
		slog.String("reason", reason),
		slog.String("symbol", d.Symbol),
		slog.String("side", string(d.Side)),
		slog.Float64("price", d.Price),
		slog.Int64("ts", d.TimestampMs),
	)
}

// Stats returns the reconciler counters.
func (r *Reconciler) Stats() Stats {
	return Stats{
		Snapshots:     r.snapshots.Load(),
		LevelsApplied: r.applied.Load(),
		LevelsSkipped: r.skipped.Load(),
	}
}
