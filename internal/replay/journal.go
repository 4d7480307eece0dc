// Package replay keeps a bounded journal of points the series store rejected
// and frames no decoder could read, and ships it to object storage as JSONL
// so the data can be replayed later.
package replay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/tickscraper/internal/domain"
)

// Entry kinds.
const (
	KindWrite = "write"
	KindFrame = "frame"
)

// Entry is one journal line.
type Entry struct {
	Kind       string        `json:"kind"`
	RecordedAt time.Time     `json:"recorded_at"`
	Key        string        `json:"key,omitempty"`
	Timestamp  int64         `json:"ts,omitempty"`
	Value      *float64      `json:"value,omitempty"`
	Labels     domain.Labels `json:"labels,omitempty"`
	Feed       string        `json:"feed,omitempty"`
	Frame      string        `json:"frame,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Options configures a Journal.
type Options struct {
	// Prefix is the object key prefix, "replay" by default.
	Prefix        string
	MaxEntries    int
	FlushInterval time.Duration
}

// Stats is a snapshot of the journal counters.
type Stats struct {
	Buffered int   `json:"buffered"`
	Recorded int64 `json:"recorded"`
	Dropped  int64 `json:"dropped"`
	Flushed  int64 `json:"flushed"`
	Uploads  int64 `json:"uploads"`
}

// Journal buffers entries in memory and uploads them on Flush. Record methods
// never block on I/O; when the buffer is full the oldest entry is dropped.
type Journal struct {
	blob   domain.BlobWriter
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	entries []Entry
	stats   Stats
}

// NewJournal creates a Journal that uploads through blob.
func NewJournal(blob domain.BlobWriter, opts Options, logger *slog.Logger) *Journal {
	if opts.Prefix == "" {
		opts.Prefix = "replay"
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 10_000
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Minute
	}
	return &Journal{
		blob:   blob,
		opts:   opts,
		logger: logger.With(slog.String("component", "replay_journal")),
		now:    time.Now,
	}
}

// RecordWriteFailure journals a point the series store did not accept.
func (j *Journal) RecordWriteFailure(key string, p domain.Point, labels domain.Labels, err error) {
	v := p.Value
	e := Entry{
		Kind:      KindWrite,
		Key:       key,
		Timestamp: p.TimestampMs,
		Value:     &v,
		Labels:    labels,
	}
	if err != nil {
		e.Error = err.Error()
	}
	j.append(e)
}

// RecordFrame journals a frame that failed to decode.
func (j *Journal) RecordFrame(feed string, raw []byte, err error) {
	e := Entry{
		Kind:  KindFrame,
		Feed:  feed,
		Frame: string(raw),
	}
	if err != nil {
		e.Error = err.Error()
	}
	j.append(e)
}

func (j *Journal) append(e Entry) {
	e.RecordedAt = j.now().UTC()

	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.entries) >= j.opts.MaxEntries {
		j.entries = j.entries[1:]
		j.stats.Dropped++
	}
	j.entries = append(j.entries, e)
	j.stats.Recorded++
}

// Flush uploads the buffered entries as one JSONL object and returns its
// path. An empty buffer uploads nothing and returns "". On upload failure the
// entries are put back in front of anything recorded meanwhile, still subject
// to the size bound.
func (j *Journal) Flush(ctx context.Context) (string, error) {
	j.mu.Lock()
	batch := j.entries
	j.entries = nil
	j.mu.Unlock()

	if len(batch) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(batch)
	if err != nil {
		return "", fmt.Errorf("replay: marshal: %w", err)
	}

	path := objectPath(j.opts.Prefix, j.now().UTC(), uuid.NewString())
	if err := j.blob.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		j.requeue(batch)
		return "", fmt.Errorf("replay: upload %s: %w", path, err)
	}

	j.mu.Lock()
	j.stats.Flushed += int64(len(batch))
	j.stats.Uploads++
	j.mu.Unlock()

	j.logger.Info("replay journal flushed",
		slog.String("path", path),
		slog.Int("entries", len(batch)),
	)
	return path, nil
}

func (j *Journal) requeue(batch []Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	merged := append(batch, j.entries...)
	if over := len(merged) - j.opts.MaxEntries; over > 0 {
		merged = merged[over:]
		j.stats.Dropped += int64(over)
	}
	j.entries = merged
}

// Run flushes every FlushInterval until ctx is cancelled, then performs a
// final flush with a fresh deadline so shutdown does not lose the buffer.
func (j *Journal) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.opts.FlushInterval)
	defer ticker.Stop()

	j.logger.Info("replay journal started",
		slog.Duration("flush_interval", j.opts.FlushInterval),
		slog.Int("max_entries", j.opts.MaxEntries),
	)

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			if _, err := j.Flush(flushCtx); err != nil {
				j.logger.Error("final replay flush failed", slog.String("error", err.Error()))
			}
			cancel()
			return nil
		case <-ticker.C:
			if _, err := j.Flush(ctx); err != nil {
				j.logger.Error("replay flush failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Stats returns a snapshot of the journal counters.
func (j *Journal) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := j.stats
	s.Buffered = len(j.entries)
	return s
}

// objectPath builds the object key for one flush, partitioned by day:
//
//	replay/2024/05/01/1714521600-<uuid>.jsonl
func objectPath(prefix string, at time.Time, id string) string {
	return fmt.Sprintf("%s/%s/%d-%s.jsonl", prefix, at.Format("2006/01/02"), at.Unix(), id)
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
