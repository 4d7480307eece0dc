package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/tickscraper/internal/book"
	"github.com/alanyoungcy/tickscraper/internal/domain"
	"github.com/alanyoungcy/tickscraper/internal/platform/ws"
	"github.com/alanyoungcy/tickscraper/internal/series"
)

// State is the externally visible state of a Pipeline.
type State string

const (
	StateIdle         State = "IDLE"
	StateConnecting   State = "CONNECTING"
	StateStreaming    State = "STREAMING"
	StateReconnecting State = "RECONNECTING"
	StateStopped      State = "STOPPED"
	StateFailed       State = "FAILED"
)

// Transport is the frame source a Pipeline reads from.
type Transport interface {
	Next(ctx context.Context) ([]byte, error)
	MarkActive()
	Close() error
}

// DialFunc opens the Transport for an endpoint.
type DialFunc func(ctx context.Context, endpoint string, opts ws.Options, logger *slog.Logger) (Transport, error)

// WSDial dials a websocket Session.
func WSDial(ctx context.Context, endpoint string, opts ws.Options, logger *slog.Logger) (Transport, error) {
	return ws.Dial(ctx, endpoint, opts, logger)
}

// RecordWriter persists quotes and trades.
type RecordWriter interface {
	WriteQuote(ctx context.Context, q domain.Quote)
	WriteTrade(ctx context.Context, t domain.Trade)
}

// BookApplier applies book batches.
type BookApplier interface {
	Reconcile(ctx context.Context, b domain.BookBatch) error
}

// FrameJournal keeps frames that could not be decoded.
type FrameJournal interface {
	RecordFrame(feed string, raw []byte, err error)
}

// EventRecorder receives session lifecycle events. It must not block.
type EventRecorder interface {
	Record(event string, detail map[string]any)
}

// Options configures a Pipeline.
type Options struct {
	Name      string
	Transport ws.Options
	Dial      DialFunc
	Journal   FrameJournal
	Events    EventRecorder
}

// Pipeline drives one feed: read, decode, normalize, then reconcile or
// write. Frames are handled strictly in arrival order; nothing is buffered
// across frames.
type Pipeline struct {
	name     string
	feed     domain.Feed
	writer   RecordWriter
	book     BookApplier
	opts     Options
	dial     DialFunc
	logger   *slog.Logger
	now      func() time.Time
	state    atomic.Value
	session  atomic.Value
	frames   atomic.Int64
	control  atomic.Int64
	decodeKO atomic.Int64
	normKO   atomic.Int64
}

// New creates a Pipeline. book may be nil for quote and trade feeds.
func New(feed domain.Feed, writer RecordWriter, book BookApplier, opts Options, logger *slog.Logger) *Pipeline {
	name := opts.Name
	if name == "" {
		name = feed.Exchange() + ":" + string(feed.Kind()) + ":" + feed.Symbol()
	}
	dial := opts.Dial
	if dial == nil {
		dial = WSDial
	}
	p := &Pipeline{
		name:   name,
		feed:   feed,
		writer: writer,
		book:   book,
		opts:   opts,
		dial:   dial,
		logger: logger.With(
			slog.String("component", "pipeline"),
			slog.String("pipeline", name),
			slog.String("exchange", feed.Exchange()),
			slog.String("feed", string(feed.Kind())),
			slog.String("symbol", feed.Symbol()),
		),
		now: time.Now,
	}
	p.state.Store(StateIdle)
	return p
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// State returns the current state.
func (p *Pipeline) State() State { return p.state.Load().(State) }

// Run connects and processes frames until ctx is cancelled. A failed initial
// connection is returned as an error; everything after that is absorbed.
func (p *Pipeline) Run(ctx context.Context) error {
	p.state.Store(StateConnecting)

	sub, err := p.feed.Subscription()
	if err != nil {
		p.state.Store(StateFailed)
		return fmt.Errorf("pipeline %s: subscription: %w", p.name, err)
	}
	topts := p.opts.Transport
	topts.Subscription = sub
	if kf, ok := p.feed.(domain.KeepaliveFramer); ok {
		topts.KeepaliveFrame = kf.KeepaliveFrame()
	}
	topts.OnConnect = p.onConnect
	topts.OnDisconnect = p.onDisconnect

	t, err := p.dial(ctx, p.feed.Endpoint(), topts, p.logger)
	if err != nil {
		p.state.Store(StateFailed)
		return fmt.Errorf("pipeline %s: %w", p.name, err)
	}
	p.session.Store(transportBox{t})
	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()
	defer t.Close()

	p.state.Store(StateStreaming)
	p.logger.Info("pipeline streaming", slog.String("endpoint", p.feed.Endpoint()))

	for {
		raw, err := t.Next(ctx)
		if err != nil {
			p.state.Store(StateStopped)
			if ctx.Err() != nil {
				p.logger.Info("pipeline stopped")
				return ctx.Err()
			}
			return fmt.Errorf("pipeline %s: read: %w", p.name, err)
		}
		p.handle(ctx, t, raw)
	}
}

func (p *Pipeline) handle(ctx context.Context, t Transport, raw []byte) {
	p.frames.Add(1)
	receivedMs := p.now().UnixMilli()

	msg, err := p.feed.Decode(raw)
	if err != nil {
		if errors.Is(err, domain.ErrControlMessage) {
			p.control.Add(1)
			p.logger.Debug("control message", slog.String("raw", string(raw)))
			return
		}
		p.decodeKO.Add(1)
		p.logger.Warn("decode failed",
			slog.String("raw", string(raw)),
			slog.String("error", err.Error()),
		)
		if p.opts.Journal != nil {
			p.opts.Journal.RecordFrame(p.name, raw, err)
		}
		return
	}

	batch, err := p.feed.Normalize(msg, receivedMs)
	if err != nil {
		p.normKO.Add(1)
		p.logger.Warn("normalize skipped records",
			slog.Int("records_kept", batch.Len()),
			slog.String("error", err.Error()),
		)
	}
	if err == nil || batch.Len() > 0 {
		t.MarkActive()
	}

	switch batch.Kind {
	case domain.FeedQuote:
		for _, q := range batch.Quotes {
			p.writer.WriteQuote(ctx, q)
		}
	case domain.FeedTrade:
		for _, tr := range batch.Trades {
			p.writer.WriteTrade(ctx, tr)
		}
	case domain.FeedBook:
		if batch.Book == nil || p.book == nil {
			return
		}
		if err := p.book.Reconcile(ctx, *batch.Book); err != nil {
			p.logger.Warn("book reconcile incomplete", slog.String("error", err.Error()))
		}
	}
}

func (p *Pipeline) onConnect(ev ws.ConnectEvent) {
	p.state.Store(StateStreaming)
	if p.opts.Events == nil {
		return
	}
	event := domain.EventSessionConnected
	if ev.Reconnect {
		event = domain.EventSessionReconnected
	}
	p.opts.Events.Record(event, map[string]any{
		"pipeline": p.name,
		"conn_id":  ev.ConnID,
		"endpoint": ev.Endpoint,
		"attempts": ev.Attempts,
	})
}

func (p *Pipeline) onDisconnect(error) {
	p.state.Store(StateReconnecting)
}

// transportBox lets differently typed Transports share one atomic.Value.
type transportBox struct{ t Transport }

// Status is a point-in-time view of a pipeline for the status API.
type Status struct {
	Name            string              `json:"name"`
	Exchange        string              `json:"exchange"`
	Kind            string              `json:"kind"`
	Symbol          string              `json:"symbol"`
	Endpoint        string              `json:"endpoint"`
	State           State               `json:"state"`
	Frames          int64               `json:"frames"`
	ControlFrames   int64               `json:"control_frames"`
	DecodeErrors    int64               `json:"decode_errors"`
	NormalizeErrors int64               `json:"normalize_errors"`
	Writer          *series.WriterStats `json:"writer,omitempty"`
	Book            *book.Stats         `json:"book,omitempty"`
	Transport       *ws.Stats           `json:"transport,omitempty"`
}

// Status returns the pipeline's counters and state.
func (p *Pipeline) Status() Status {
	st := Status{
		Name:            p.name,
		Exchange:        p.feed.Exchange(),
		Kind:            string(p.feed.Kind()),
		Symbol:          p.feed.Symbol(),
		Endpoint:        p.feed.Endpoint(),
		State:           p.State(),
		Frames:          p.frames.Load(),
		ControlFrames:   p.control.Load(),
		DecodeErrors:    p.decodeKO.Load(),
		NormalizeErrors: p.normKO.Load(),
	}
	if w, ok := p.writer.(interface{ Stats() series.WriterStats }); ok {
		wstats := w.Stats()
		st.Writer = &wstats
	}
	if b, ok := p.book.(interface{ Stats() book.Stats }); ok {
		bs := b.Stats()
		st.Book = &bs
	}
	if box, ok := p.session.Load().(transportBox); ok {
		if s, ok := box.t.(interface{ Stats() ws.Stats }); ok {
			ts := s.Stats()
			st.Transport = &ts
		}
	}
	return st
}
