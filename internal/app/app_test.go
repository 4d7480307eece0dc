package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickscraper/internal/config"
	"github.com/alanyoungcy/tickscraper/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, mr *miniredis.Miniredis, feeds ...config.FeedConfig) *config.Config {
	t.Helper()
	mr.RequireAuth("secret")
	cfg := config.Defaults()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg.Redis.Host = mr.Host()
	cfg.Redis.Port = port
	cfg.Redis.Password = "secret"
	cfg.Feeds = feeds
	require.NoError(t, cfg.Validate())
	return &cfg
}

func TestWireBuildsOnePipelinePerFeed(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr,
		config.FeedConfig{Exchange: "bitmex", Kind: "book", Symbol: "XBTUSD"},
		config.FeedConfig{Exchange: "BINANCE", Kind: "quote", Symbol: "btcusdt", KeySymbol: "XBTUSD"},
	)

	deps, cleanup, err := Wire(context.Background(), cfg, discardLogger())
	require.NoError(t, err)
	defer cleanup()

	require.Len(t, deps.Pipelines, 2)
	assert.Equal(t, "bitmex:book:XBTUSD", deps.Pipelines[0].Name())
	assert.Equal(t, "binance:quote:btcusdt", deps.Pipelines[1].Name())
	assert.Nil(t, deps.Journal)
	assert.Nil(t, deps.Auditor)
	assert.Nil(t, deps.AuditStore)

	require.Len(t, deps.Checks, 2)
	for name, check := range deps.Checks {
		assert.True(t, strings.HasPrefix(name, "redis:"), name)
		assert.NoError(t, check.Ping(context.Background()))
	}
}

func TestWireFailsOnBadPassword(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr, config.FeedConfig{Exchange: "bitmex", Kind: "quote", Symbol: "XBTUSD"})
	mr.RequireAuth("other")
	_, _, err := Wire(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}

func TestWireFailsWhenStoreUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr, config.FeedConfig{Exchange: "bitmex", Kind: "quote", Symbol: "XBTUSD"})
	mr.Close()

	_, _, err := Wire(context.Background(), cfg, discardLogger())
	assert.Error(t, err)
}

func TestRunFailsWhenInitialConnectFails(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr, config.FeedConfig{
		Exchange: "bitmex",
		Kind:     "trade",
		Symbol:   "XBTUSD",
		Endpoint: "ws://127.0.0.1:1/realtime",
	})

	a := New(cfg, discardLogger())
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err := a.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnect)
}

func TestRunStopsOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	connected := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		select {
		case connected <- struct{}{}:
		default:
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	mr := miniredis.RunT(t)
	cfg := testConfig(t, mr, config.FeedConfig{
		Exchange: "bitmex",
		Kind:     "quote",
		Symbol:   "XBTUSD",
		Endpoint: "ws" + strings.TrimPrefix(srv.URL, "http") + "/realtime",
	})

	a := New(cfg, discardLogger())
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline never connected")
	}
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
