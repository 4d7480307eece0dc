// Package ws implements the exchange transport session on gorilla/websocket.
// A Session hands text frames to a single reader, answers PINGs, keeps idle
// connections alive and transparently reconnects when the connection fails.
package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/tickscraper/internal/domain"
)

const (
	defaultIdleTimeout       = 5 * time.Second
	defaultHandshakeTimeout  = 15 * time.Second
	defaultWriteWait         = 10 * time.Second
	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 60 * time.Second
)

// ErrClosed is returned by Next and Send after Close.
var ErrClosed = errors.New("ws: session closed")

// FrameType selects how Send writes a frame.
type FrameType int

const (
	TextFrame FrameType = iota
	PingFrame
	PongFrame
)

// Frame is an outbound frame.
type Frame struct {
	Type FrameType
	Data []byte
}

// ConnectEvent describes a completed (re)connect.
type ConnectEvent struct {
	ConnID    string
	Endpoint  string
	Reconnect bool
	Attempts  int
}

// Options configures a Session. Zero durations take the package defaults.
type Options struct {
	// Subscription is sent as a text frame after every connect.
	Subscription []byte
	// KeepaliveFrame replaces the transport PING with an application text
	// frame when set.
	KeepaliveFrame []byte

	IdleTimeout       time.Duration
	HandshakeTimeout  time.Duration
	WriteWait         time.Duration
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	ReadLimit         int64

	OnConnect func(ConnectEvent)
	// OnDisconnect is called when a read error tears the connection down,
	// before the first reconnect attempt.
	OnDisconnect func(error)
}

func (o Options) withDefaults() Options {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = defaultReconnectDelay
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	return o
}

// Stats is a snapshot of the session counters.
type Stats struct {
	Connects          int64 `json:"connects"`
	Reconnects        int64 `json:"reconnects"`
	PingsReceived     int64 `json:"pings_received"`
	PongsSent         int64 `json:"pongs_sent"`
	PongsReceived     int64 `json:"pongs_received"`
	KeepalivesSent    int64 `json:"keepalives_sent"`
	KeepaliveFailures int64 `json:"keepalive_failures"`
	DiscardedFrames   int64 `json:"discarded_frames"`
}

// Session owns one connection to one endpoint. Next must be called from a
// single goroutine; Send, MarkActive and Close are safe from any goroutine.
type Session struct {
	endpoint string
	opts     Options
	dialer   *websocket.Dialer
	logger   *slog.Logger
	idle     *IdleTimer

	mu            sync.Mutex
	conn          *websocket.Conn
	connLog       *slog.Logger
	stopKeepalive context.CancelFunc
	closed        bool
	done          chan struct{}

	// writeMu serialises every write so a PONG is only sent once any
	// in-flight frame has been fully written.
	writeMu sync.Mutex

	connects          atomic.Int64
	reconnects        atomic.Int64
	pingsReceived     atomic.Int64
	pongsSent         atomic.Int64
	pongsReceived     atomic.Int64
	keepalivesSent    atomic.Int64
	keepaliveFailures atomic.Int64
	discarded         atomic.Int64
}

// Dial connects to endpoint. A failure here is fatal to the caller; later
// connection failures are handled inside Next.
func Dial(ctx context.Context, endpoint string, opts Options, logger *slog.Logger) (*Session, error) {
	opts = opts.withDefaults()
	s := &Session{
		endpoint: endpoint,
		opts:     opts,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		logger: logger.With(slog.String("component", "ws_session")),
		idle:   NewIdleTimer(opts.IdleTimeout),
		done:   make(chan struct{}),
	}
	if err := s.connect(ctx, false, 1); err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w: %w", endpoint, domain.ErrConnect, err)
	}
	return s, nil
}

// Next blocks until the next text frame arrives. Connection failures are
// logged and followed by a reconnect; Next only returns an error when ctx is
// done or the session is closed.
func (s *Session) Next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.mu.Lock()
		conn, log, closed := s.conn, s.connLog, s.closed
		s.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if s.isClosed() {
				return nil, ErrClosed
			}
			log.Warn("read failed, reconnecting",
				slog.String("reason", describe(err)),
				slog.String("error", err.Error()),
			)
			if s.opts.OnDisconnect != nil {
				s.opts.OnDisconnect(err)
			}
			if err := s.reconnect(ctx); err != nil {
				return nil, err
			}
			continue
		}

		if mt != websocket.TextMessage {
			s.discarded.Add(1)
			log.Warn("discarding non-text frame",
				slog.Int("message_type", mt),
				slog.Int("size", len(data)),
			)
			continue
		}
		return data, nil
	}
}

// Send writes f on the current connection.
func (s *Session) Send(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	conn, closed := s.conn, s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}

	var mt int
	switch f.Type {
	case PingFrame:
		mt = websocket.PingMessage
	case PongFrame:
		mt = websocket.PongMessage
	default:
		mt = websocket.TextMessage
	}
	if err := s.write(conn, mt, f.Data); err != nil {
		return fmt.Errorf("ws: send: %w", err)
	}
	return nil
}

// MarkActive restarts the idle window. The pipeline calls it after each
// successfully normalized frame.
func (s *Session) MarkActive() {
	s.idle.Reset()
}

// Endpoint returns the dialed URL.
func (s *Session) Endpoint() string { return s.endpoint }

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Connects:          s.connects.Load(),
		Reconnects:        s.reconnects.Load(),
		PingsReceived:     s.pingsReceived.Load(),
		PongsSent:         s.pongsSent.Load(),
		PongsReceived:     s.pongsReceived.Load(),
		KeepalivesSent:    s.keepalivesSent.Load(),
		KeepaliveFailures: s.keepaliveFailures.Load(),
		DiscardedFrames:   s.discarded.Load(),
	}
}

// Close shuts the session down and unblocks a pending Next.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	conn, stop := s.conn, s.stopKeepalive
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn == nil {
		return nil
	}
	_ = s.write(conn, websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return conn.Close()
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

func (s *Session) connect(ctx context.Context, reconnect bool, attempts int) error {
	conn, _, err := s.dialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return err
	}
	if s.opts.ReadLimit > 0 {
		conn.SetReadLimit(s.opts.ReadLimit)
	}

	connID := uuid.NewString()
	log := s.logger.With(slog.String("conn_id", connID))

	conn.SetPingHandler(func(appData string) error {
		s.pingsReceived.Add(1)
		if err := s.write(conn, websocket.PongMessage, []byte(appData)); err != nil {
			log.Warn("pong reply failed", slog.String("error", err.Error()))
			return nil
		}
		s.pongsSent.Add(1)
		return nil
	})
	conn.SetPongHandler(func(string) error {
		s.pongsReceived.Add(1)
		s.idle.Reset()
		return nil
	})

	if len(s.opts.Subscription) > 0 {
		if err := s.write(conn, websocket.TextMessage, s.opts.Subscription); err != nil {
			_ = conn.Close()
			return fmt.Errorf("send subscription: %w", err)
		}
	}

	kctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.connLog = log
	s.stopKeepalive = cancel
	s.mu.Unlock()

	s.idle.Reset()
	s.connects.Add(1)
	go s.keepalive(kctx, conn, log)

	log.Info("connected",
		slog.String("endpoint", s.endpoint),
		slog.Bool("reconnect", reconnect),
		slog.Int("attempts", attempts),
	)
	if s.opts.OnConnect != nil {
		s.opts.OnConnect(ConnectEvent{
			ConnID:    connID,
			Endpoint:  s.endpoint,
			Reconnect: reconnect,
			Attempts:  attempts,
		})
	}
	return nil
}

// reconnect tears down the current connection and dials again with
// exponential backoff until it succeeds, ctx is done or Close is called.
func (s *Session) reconnect(ctx context.Context) error {
	s.mu.Lock()
	old, stop := s.conn, s.stopKeepalive
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	if old != nil {
		_ = old.Close()
	}

	delay := s.opts.ReconnectDelay
	for attempt := 1; ; attempt++ {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.done:
			timer.Stop()
			return ErrClosed
		case <-timer.C:
		}

		dctx, cancel := context.WithTimeout(ctx, s.opts.HandshakeTimeout)
		err := s.connect(dctx, true, attempt)
		cancel()
		if err == nil {
			s.reconnects.Add(1)
			return nil
		}
		if errors.Is(err, ErrClosed) {
			return err
		}

		delay = min(delay*2, s.opts.MaxReconnectDelay)
		s.logger.Warn("reconnect failed",
			slog.String("endpoint", s.endpoint),
			slog.Int("attempt", attempt),
			slog.Duration("next_delay", delay),
			slog.String("error", err.Error()),
		)
	}
}

// keepalive sends a PING (or the configured keepalive frame) whenever the
// idle window elapses. A failed send is logged and retried on the next check.
func (s *Session) keepalive(ctx context.Context, conn *websocket.Conn, log *slog.Logger) {
	interval := s.idle.Window() / 5
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.idle.Expired() {
			continue
		}

		var err error
		if s.opts.KeepaliveFrame != nil {
			err = s.write(conn, websocket.TextMessage, s.opts.KeepaliveFrame)
		} else {
			err = s.write(conn, websocket.PingMessage, nil)
		}
		if err != nil {
			s.keepaliveFailures.Add(1)
			log.Warn("keepalive send failed", slog.String("error", err.Error()))
			continue
		}
		s.keepalivesSent.Add(1)
		s.idle.Reset()
		log.Debug("keepalive sent")
	}
}

func (s *Session) write(conn *websocket.Conn, mt int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Now().Add(s.opts.WriteWait)
	switch mt {
	case websocket.PingMessage, websocket.PongMessage, websocket.CloseMessage:
		return conn.WriteControl(mt, data, deadline)
	default:
		if err := conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		return conn.WriteMessage(mt, data)
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// describe classifies a read error for logging. gorilla/websocket poisons the
// connection after any read error, so every class leads to a reconnect.
func describe(err error) string {
	var closeErr *websocket.CloseError
	switch {
	case errors.As(err, &closeErr):
		return fmt.Sprintf("close %d", closeErr.Code)
	case errors.Is(err, websocket.ErrReadLimit):
		return "read limit"
	case errors.Is(err, io.ErrUnexpectedEOF):
		return "unexpected eof"
	default:
		return "protocol"
	}
}
