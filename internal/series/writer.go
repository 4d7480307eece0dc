// Package series turns canonical records into time-series point writes.
package series

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tickscraper/internal/domain"
)

// ResetMode controls how a book snapshot clears the levels it supersedes.
type ResetMode string

const (
	// ResetZero appends a zero point to every existing level.
	ResetZero ResetMode = "zero"
	// ResetDelete removes the level series outright.
	ResetDelete ResetMode = "delete"
)

// Config holds the series naming and creation options.
type Config struct {
	Namespace       string
	Retention       time.Duration
	DuplicatePolicy string
}

// FailureSink receives points the store rejected so they can be replayed.
type FailureSink interface {
	RecordWriteFailure(key string, p domain.Point, labels domain.Labels, err error)
}

// WriterStats is a snapshot of the writer counters.
type WriterStats struct {
	PointsWritten int64 `json:"points_written"`
	WriteFailures int64 `json:"write_failures"`
	PointsDropped int64 `json:"points_dropped"`
}

// Writer issues create-if-absent appends against a SeriesStore. Failed
// writes are logged and handed to the FailureSink; they are never retried.
type Writer struct {
	store  domain.SeriesStore
	cfg    Config
	sink   FailureSink
	logger *slog.Logger

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// NewWriter creates a Writer. sink may be nil.
func NewWriter(store domain.SeriesStore, cfg Config, sink FailureSink, logger *slog.Logger) *Writer {
	if cfg.DuplicatePolicy == "" {
		cfg.DuplicatePolicy = "LAST"
	}
	return &Writer{
		store:  store,
		cfg:    cfg,
		sink:   sink,
		logger: logger.With(slog.String("component", "series_writer")),
	}
}

// Prefix returns the key prefix for a feed.
func (w *Writer) Prefix(exchange, symbol string, kind domain.FeedKind) string {
	return Prefix(w.cfg.Namespace, exchange, symbol, kind)
}

// Write appends (ts, value) to key. It reports whether the point was stored.
func (w *Writer) Write(ctx context.Context, key string, ts int64, value float64, labels domain.Labels) bool {
	if ts <= 0 {
		w.dropped.Add(1)
		w.logger.Warn("dropping point with non-positive timestamp",
			slog.String("key", key),
			slog.Int64("ts", ts),
			slog.Float64("value", value),
		)
		return false
	}

	p := domain.Point{TimestampMs: ts, Value: value}
	err := w.store.Add(ctx, key, p, domain.SeriesOptions{
		RetentionMs:     w.cfg.Retention.Milliseconds(),
		DuplicatePolicy: w.cfg.DuplicatePolicy,
		Labels:          labels,
	})
	if err != nil {
		w.failed.Add(1)
		w.logger.Error("series write failed",
			slog.String("key", key),
			slog.Int64("ts", ts),
			slog.Float64("value", value),
			slog.String("error", err.Error()),
		)
		if w.sink != nil {
			w.sink.RecordWriteFailure(key, p, labels, err)
		}
		return false
	}
	w.written.Add(1)
	return true
}

// WriteQuote writes the bid as the BUY side and the ask as the SELL side,
// each with a PRICE and a VOL point.
func (w *Writer) WriteQuote(ctx context.Context, q domain.Quote) {
	prefix := w.Prefix(q.Exchange, q.Symbol, domain.FeedQuote)
	w.writePair(ctx, prefix, q.Exchange, q.Symbol, domain.FeedQuote, domain.SideBuy, q.TimestampMs, q.BidPrice, q.BidSize)
	w.writePair(ctx, prefix, q.Exchange, q.Symbol, domain.FeedQuote, domain.SideSell, q.TimestampMs, q.AskPrice, q.AskSize)
}

// WriteTrade writes the trade's PRICE and VOL points under its side.
func (w *Writer) WriteTrade(ctx context.Context, t domain.Trade) {
	prefix := w.Prefix(t.Exchange, t.Symbol, domain.FeedTrade)
	w.writePair(ctx, prefix, t.Exchange, t.Symbol, domain.FeedTrade, t.Side, t.TimestampMs, t.Price, t.Size)
}

func (w *Writer) writePair(ctx context.Context, prefix, exchange, symbol string, kind domain.FeedKind, side domain.Side, ts int64, price, size float64) {
	w.Write(ctx, FieldKey(prefix, side, domain.GroupPrice), ts, price, Labels(exchange, symbol, side, kind, domain.GroupPrice))
	w.Write(ctx, FieldKey(prefix, side, domain.GroupVol), ts, size, Labels(exchange, symbol, side, kind, domain.GroupVol))
}

// WriteLevel writes size to the book level series for (side, price).
func (w *Writer) WriteLevel(ctx context.Context, exchange, symbol string, side domain.Side, price float64, ts int64, size float64) bool {
	prefix := w.Prefix(exchange, symbol, domain.FeedBook)
	return w.Write(ctx, LevelKey(prefix, side, price), ts, size, Labels(exchange, symbol, side, domain.FeedBook, domain.GroupVol))
}

// BookKeys lists every level key of one book. The scan is scoped to the
// exchange, symbol and BOOK kind; other symbols sharing a textual prefix are
// never matched.
func (w *Writer) BookKeys(ctx context.Context, exchange, symbol string) ([]string, error) {
	prefix := w.Prefix(exchange, symbol, domain.FeedBook)
	keys, err := w.store.Keys(ctx, PrefixPattern(prefix))
	if err != nil {
		return nil, fmt.Errorf("series: list book keys %s: %w", prefix, err)
	}
	return keys, nil
}

// Level identifies one price level of a book side.
type Level struct {
	Side  domain.Side
	Price float64
}

// SupersedeLevel writes size to a book level at ts, or at the level's latest
// timestamp when that is newer, so the written size becomes the level's
// latest point.
func (w *Writer) SupersedeLevel(ctx context.Context, exchange, symbol string, side domain.Side, price float64, ts int64, size float64) bool {
	prefix := w.Prefix(exchange, symbol, domain.FeedBook)
	key := LevelKey(prefix, side, price)
	return w.Write(ctx, key, w.supersedeTs(ctx, key, ts), size, Labels(exchange, symbol, side, domain.FeedBook, domain.GroupVol))
}

// supersedeTs returns the earliest timestamp at which a point on key is
// guaranteed to be the latest one.
func (w *Writer) supersedeTs(ctx context.Context, key string, ts int64) int64 {
	p, err := w.store.Latest(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			w.logger.Warn("latest point lookup failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return ts
	}
	switch {
	case p.TimestampMs < ts:
		return ts
	case strings.EqualFold(w.cfg.DuplicatePolicy, "LAST"):
		return p.TimestampMs
	default:
		return p.TimestampMs + 1
	}
}

// ResetBook makes every existing level of a book that is not in keep
// logically absent. In ResetZero mode a zero point is appended to each such
// level at ts, or at the level's latest timestamp when that is newer. In
// ResetDelete mode every level series is removed, kept levels included,
// since the caller rewrites them. It returns the number of levels reset.
func (w *Writer) ResetBook(ctx context.Context, exchange, symbol string, ts int64, mode ResetMode, keep []Level) (int, error) {
	keys, err := w.BookKeys(ctx, exchange, symbol)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	if mode == ResetDelete {
		if err := w.store.Delete(ctx, keys...); err != nil {
			return 0, fmt.Errorf("series: delete %d book keys: %w", len(keys), err)
		}
		return len(keys), nil
	}

	prefix := w.Prefix(exchange, symbol, domain.FeedBook)
	kept := make(map[string]struct{}, len(keep))
	for _, l := range keep {
		kept[LevelKey(prefix, l.Side, l.Price)] = struct{}{}
	}

	n := 0
	for _, key := range keys {
		if _, ok := kept[key]; ok {
			continue
		}
		side, ok := sideOfLevelKey(prefix, key)
		if !ok {
			w.logger.Warn("skipping unrecognised book key", slog.String("key", key))
			continue
		}
		if w.Write(ctx, key, w.supersedeTs(ctx, key, ts), 0, Labels(exchange, symbol, side, domain.FeedBook, domain.GroupVol)) {
			n++
		}
	}
	return n, nil
}

// Stats returns the writer counters.
func (w *Writer) Stats() WriterStats {
	return WriterStats{
		PointsWritten: w.written.Load(),
		WriteFailures: w.failed.Load(),
		PointsDropped: w.dropped.Load(),
	}
}

// Labels builds the label set attached to a series at creation. Exchange and
// symbol are upper-cased to match the key segments built by Prefix.
func Labels(exchange, symbol string, side domain.Side, kind domain.FeedKind, group string) domain.Labels {
	return domain.Labels{
		domain.LabelExchange: strings.ToUpper(exchange),
		domain.LabelSymbol:   strings.ToUpper(symbol),
		domain.LabelSide:     string(side),
		domain.LabelSub:      string(kind),
		domain.LabelGroup:    group,
	}
}
