package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickscraper/internal/book"
	"github.com/alanyoungcy/tickscraper/internal/domain"
	"github.com/alanyoungcy/tickscraper/internal/platform/bitmex"
	"github.com/alanyoungcy/tickscraper/internal/platform/ws"
	"github.com/alanyoungcy/tickscraper/internal/series"
	"github.com/alanyoungcy/tickscraper/internal/series/seriestest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTransport replays frames, then reports io.EOF.
type fakeTransport struct {
	frames [][]byte
	active atomic.Int32
	closed atomic.Bool
}

func (f *fakeTransport) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(f.frames) == 0 {
		return nil, io.EOF
	}
	fr := f.frames[0]
	f.frames = f.frames[1:]
	return fr, nil
}

func (f *fakeTransport) MarkActive()  { f.active.Add(1) }
func (f *fakeTransport) Close() error { f.closed.Store(true); return nil }

func fakeDial(t *fakeTransport) DialFunc {
	return func(context.Context, string, ws.Options, *slog.Logger) (Transport, error) {
		return t, nil
	}
}

type frameJournal struct {
	mu     sync.Mutex
	frames []string
}

func (j *frameJournal) RecordFrame(_ string, raw []byte, _ error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.frames = append(j.frames, string(raw))
}

type harness struct {
	store  *seriestest.MemStore
	writer *series.Writer
	feed   domain.Feed
}

func newHarness(t *testing.T, kind domain.FeedKind, symbol, endpoint string) *harness {
	t.Helper()
	f, err := bitmex.NewFeed(kind, bitmex.Options{Symbol: symbol, Endpoint: endpoint})
	require.NoError(t, err)
	store := seriestest.NewMemStore()
	return &harness{
		store:  store,
		writer: series.NewWriter(store, series.Config{Retention: 24 * time.Hour}, nil, discardLogger()),
		feed:   f,
	}
}

func (h *harness) pipeline(opts Options) *Pipeline {
	rec := book.NewReconciler(h.writer, series.ResetZero, nil, discardLogger())
	return New(h.feed, h.writer, rec, opts, discardLogger())
}

func latest(t *testing.T, store *seriestest.MemStore, key string) domain.Point {
	t.Helper()
	p, err := store.Latest(context.Background(), key)
	require.NoError(t, err, key)
	return p
}

func TestPartialFrameResetsThenWrites(t *testing.T) {
	h := newHarness(t, domain.FeedBook, "X", "")
	h.store.Seed("BITMEX:X:BOOK:SELL:200", nil, domain.Point{TimestampMs: 1, Value: 9})
	h.store.Seed("BITMEX:XX:BOOK:SELL:200", nil, domain.Point{TimestampMs: 1, Value: 9})

	tr := &fakeTransport{frames: [][]byte{
		[]byte(`{"action":"partial","data":[{"side":"Buy","price":100.0,"size":5,"symbol":"X","timestamp":"2024-01-01T00:00:00.000Z"}]}`),
	}}
	p := h.pipeline(Options{Dial: fakeDial(tr)})

	err := p.Run(context.Background())
	require.ErrorIs(t, err, io.EOF)

	assert.Equal(t, []string{"BITMEX:X:BOOK:*"}, h.store.Scans())
	got := latest(t, h.store, "BITMEX:X:BOOK:BUY:100")
	assert.Equal(t, domain.Point{TimestampMs: 1704067200000, Value: 5}, got)
	assert.Equal(t, 0.0, latest(t, h.store, "BITMEX:X:BOOK:SELL:200").Value)
	assert.Equal(t, 9.0, latest(t, h.store, "BITMEX:XX:BOOK:SELL:200").Value)
	assert.True(t, tr.closed.Load())
	assert.Equal(t, int32(1), tr.active.Load())
}

func TestTradeWithBadTimestampIsNeverWritten(t *testing.T) {
	h := newHarness(t, domain.FeedTrade, "XBTUSD", "")
	tr := &fakeTransport{frames: [][]byte{
		[]byte(`{"table":"trade","action":"insert","data":[{"timestamp":"01/02/2024 10:00","symbol":"XBTUSD","side":"Buy","size":1,"price":42000}]}`),
	}}
	p := h.pipeline(Options{Dial: fakeDial(tr)})

	_ = p.Run(context.Background())
	assert.Empty(t, h.store.Adds())
	assert.Equal(t, int64(1), p.Status().NormalizeErrors)
	assert.Equal(t, int32(0), tr.active.Load())
}

func TestBadFramesDoNotStopTheLoop(t *testing.T) {
	h := newHarness(t, domain.FeedQuote, "XBTUSD", "")
	journal := &frameJournal{}
	tr := &fakeTransport{frames: [][]byte{
		[]byte(`{"info":"Welcome to the BitMEX Realtime API."}`),
		[]byte(`{{{`),
		[]byte(`{"table":"quote","action":"insert","data":[{"timestamp":"2024-01-01T00:00:00Z","symbol":"XBTUSD","bidSize":1,"bidPrice":10,"askPrice":11,"askSize":2}]}`),
	}}
	p := h.pipeline(Options{Dial: fakeDial(tr), Journal: journal})

	_ = p.Run(context.Background())

	assert.Len(t, h.store.Adds(), 4)
	assert.Equal(t, 10.0, latest(t, h.store, "BITMEX:XBTUSD:QUOTE:BUY:PRICE").Value)
	assert.Equal(t, 2.0, latest(t, h.store, "BITMEX:XBTUSD:QUOTE:SELL:VOL").Value)
	assert.Equal(t, []string{`{{{`}, journal.frames)

	st := p.Status()
	assert.Equal(t, int64(3), st.Frames)
	assert.Equal(t, int64(1), st.ControlFrames)
	assert.Equal(t, int64(1), st.DecodeErrors)
	require.NotNil(t, st.Writer)
	assert.Equal(t, int64(4), st.Writer.PointsWritten)
}

func TestStoreFailureDoesNotStopTheLoop(t *testing.T) {
	h := newHarness(t, domain.FeedQuote, "XBTUSD", "")
	h.store.FailAll(errors.New("connection refused"))
	quote := []byte(`{"table":"quote","action":"insert","data":[{"timestamp":"2024-01-01T00:00:00Z","symbol":"XBTUSD","bidSize":1,"bidPrice":10,"askPrice":11,"askSize":2}]}`)
	tr := &fakeTransport{frames: [][]byte{quote, quote}}
	p := h.pipeline(Options{Dial: fakeDial(tr)})

	_ = p.Run(context.Background())
	assert.Len(t, h.store.Adds(), 8)
	assert.Equal(t, int64(8), p.Status().Writer.WriteFailures)
}

func TestInitialDialFailureIsFatal(t *testing.T) {
	h := newHarness(t, domain.FeedQuote, "XBTUSD", "")
	p := h.pipeline(Options{Dial: func(context.Context, string, ws.Options, *slog.Logger) (Transport, error) {
		return nil, domain.ErrConnect
	}})

	err := p.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnect)
	assert.Equal(t, StateFailed, p.State())
}

// countingFeed counts Decode calls on the wrapped feed.
type countingFeed struct {
	domain.Feed
	decodes atomic.Int32
}

func (c *countingFeed) Decode(raw []byte) (any, error) {
	c.decodes.Add(1)
	return c.Feed.Decode(raw)
}

const quoteFrame = `{"table":"quote","action":"insert","data":[{"timestamp":"2024-01-01T00:00:0%dZ","symbol":"XBTUSD","bidSize":1,"bidPrice":10,"askPrice":11,"askSize":2}]}`

func quoteAt(sec int) []byte {
	return []byte(strings.Replace(quoteFrame, "%d", string(rune('0'+sec)), 1))
}

func newExchange(t *testing.T, handler func(c *websocket.Conn, n int)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var count atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		handler(c, int(count.Add(1)))
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func drain(c *websocket.Conn) {
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

func runAsync(p *Pipeline) (context.CancelFunc, <-chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	return cancel, done
}

func TestReconnectResumesWriting(t *testing.T) {
	url := newExchange(t, func(c *websocket.Conn, n int) {
		if n == 1 {
			_ = c.WriteMessage(websocket.TextMessage, quoteAt(1))
			return // abrupt drop
		}
		_ = c.WriteMessage(websocket.TextMessage, quoteAt(2))
		drain(c)
	})

	h := newHarness(t, domain.FeedQuote, "XBTUSD", url)
	p := h.pipeline(Options{Transport: ws.Options{ReconnectDelay: 10 * time.Millisecond}})
	cancel, done := runAsync(p)

	require.Eventually(t, func() bool { return len(h.store.Adds()) == 8 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1704067202000), latest(t, h.store, "BITMEX:XBTUSD:QUOTE:BUY:PRICE").TimestampMs)

	st := p.Status()
	assert.Equal(t, StateStreaming, st.State)
	require.NotNil(t, st.Transport)
	assert.Equal(t, int64(1), st.Transport.Reconnects)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop")
	}
	assert.Equal(t, StateStopped, p.State())
}

func TestPingIsNotAnApplicationFrame(t *testing.T) {
	var pongs atomic.Int32
	url := newExchange(t, func(c *websocket.Conn, _ int) {
		c.SetPongHandler(func(string) error {
			pongs.Add(1)
			return nil
		})
		if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
			return
		}
		_ = c.WriteMessage(websocket.TextMessage, quoteAt(1))
		drain(c)
	})

	h := newHarness(t, domain.FeedQuote, "XBTUSD", url)
	counting := &countingFeed{Feed: h.feed}
	rec := book.NewReconciler(h.writer, series.ResetZero, nil, discardLogger())
	p := New(counting, h.writer, rec, Options{}, discardLogger())
	cancel, done := runAsync(p)
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return len(h.store.Adds()) == 4 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return pongs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), counting.decodes.Load())
}
