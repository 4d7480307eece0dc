package bitmex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickscraper/internal/domain"
)

func newFeed(t *testing.T, kind domain.FeedKind) *Feed {
	t.Helper()
	f, err := NewFeed(kind, Options{Symbol: "XBTUSD"})
	require.NoError(t, err)
	return f
}

func TestEndpointCarriesTopic(t *testing.T) {
	f := newFeed(t, domain.FeedBook)
	assert.Equal(t, "wss://ws.bitmex.com/realtime?subscribe=orderBookL2%3AXBTUSD", f.Endpoint())

	sub, err := f.Subscription()
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestDecodeControlFrames(t *testing.T) {
	f := newFeed(t, domain.FeedBook)

	_, err := f.Decode([]byte(`{"info":"Welcome to the BitMEX Realtime API.","version":"2.0.0"}`))
	assert.ErrorIs(t, err, domain.ErrControlMessage)

	_, err = f.Decode([]byte(`{"success":true,"subscribe":"orderBookL2:XBTUSD"}`))
	assert.ErrorIs(t, err, domain.ErrControlMessage)

	_, err = f.Decode([]byte(`{"error":"Unknown table"}`))
	assert.ErrorIs(t, err, domain.ErrMalformedFrame)

	_, err = f.Decode([]byte(`not json`))
	assert.ErrorIs(t, err, domain.ErrMalformedFrame)
}

func TestNormalizeBookPartial(t *testing.T) {
	f := newFeed(t, domain.FeedBook)
	raw := `{"table":"orderBookL2","action":"partial","data":[
		{"symbol":"XBTUSD","id":1,"side":"Buy","size":5,"price":100.0,"timestamp":"2024-01-01T00:00:00.000Z"},
		{"symbol":"XBTUSD","id":2,"side":"Sell","size":3,"price":101.5,"timestamp":"2024-01-01T00:00:00.000Z"}]}`

	msg, err := f.Decode([]byte(raw))
	require.NoError(t, err)

	batch, err := f.Normalize(msg, 1)
	require.NoError(t, err)
	require.Equal(t, domain.FeedBook, batch.Kind)
	require.NotNil(t, batch.Book)
	assert.Equal(t, domain.BookSnapshot, batch.Book.Action)
	assert.Equal(t, "XBTUSD", batch.Book.Symbol)
	require.Len(t, batch.Book.Deltas, 2)

	d := batch.Book.Deltas[0]
	assert.Equal(t, domain.SideBuy, d.Side)
	assert.Equal(t, 100.0, d.Price)
	require.NotNil(t, d.Size)
	assert.Equal(t, 5.0, *d.Size)
	assert.Equal(t, int64(1704067200000), d.TimestampMs)
	assert.Equal(t, domain.SideSell, batch.Book.Deltas[1].Side)
}

func TestNormalizeBookActions(t *testing.T) {
	f := newFeed(t, domain.FeedBook)
	cases := map[string]domain.BookAction{
		"insert": domain.BookUpsert,
		"update": domain.BookUpsert,
		"delete": domain.BookDelete,
	}
	for action, want := range cases {
		t.Run(action, func(t *testing.T) {
			raw := `{"action":"` + action + `","data":[{"symbol":"XBTUSD","side":"Sell","price":101,"timestamp":"2024-01-01T00:00:00Z"}]}`
			msg, err := f.Decode([]byte(raw))
			require.NoError(t, err)
			batch, err := f.Normalize(msg, 1)
			require.NoError(t, err)
			assert.Equal(t, want, batch.Book.Action)
			require.Len(t, batch.Book.Deltas, 1)
			assert.Nil(t, batch.Book.Deltas[0].Size)
		})
	}
}

func TestNormalizeBookDeleteIgnoresSize(t *testing.T) {
	f := newFeed(t, domain.FeedBook)
	raw := `{"action":"delete","data":[
		{"symbol":"XBTUSD","side":"Buy","size":"n/a","price":100,"timestamp":"2024-01-01T00:00:00Z"},
		{"symbol":"XBTUSD","side":"Sell","size":4,"price":101,"timestamp":"2024-01-01T00:00:00Z"}]}`
	msg, err := f.Decode([]byte(raw))
	require.NoError(t, err)

	batch, err := f.Normalize(msg, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.BookDelete, batch.Book.Action)
	require.Len(t, batch.Book.Deltas, 2)
	for _, d := range batch.Book.Deltas {
		assert.Nil(t, d.Size)
	}
	assert.Equal(t, 100.0, batch.Book.Deltas[0].Price)
}

func TestNormalizeBookUnknownAction(t *testing.T) {
	f := newFeed(t, domain.FeedBook)
	msg, err := f.Decode([]byte(`{"action":"merge","data":[{"symbol":"XBTUSD","side":"Buy","size":1,"price":1,"timestamp":"2024-01-01T00:00:00Z"}]}`))
	require.NoError(t, err)

	batch, err := f.Normalize(msg, 1)
	assert.ErrorIs(t, err, domain.ErrUnknownAction)
	assert.Equal(t, 0, batch.Len())
}

func TestNormalizeBookSkipsBadLevelOnly(t *testing.T) {
	f := newFeed(t, domain.FeedBook)
	raw := `{"action":"update","data":[
		{"symbol":"XBTUSD","side":"Buy","size":"abc","price":100,"timestamp":"2024-01-01T00:00:00Z"},
		{"symbol":"XBTUSD","side":"Buy","size":7,"price":99,"timestamp":"bad"},
		{"symbol":"XBTUSD","side":"Buy","size":2,"price":98,"timestamp":"2024-01-01T00:00:00Z"}]}`
	msg, err := f.Decode([]byte(raw))
	require.NoError(t, err)

	batch, err := f.Normalize(msg, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidTimestamp)
	require.Len(t, batch.Book.Deltas, 1)
	assert.Equal(t, 98.0, batch.Book.Deltas[0].Price)
}

func TestNormalizeTradeDropsUnparseableTimestamp(t *testing.T) {
	f := newFeed(t, domain.FeedTrade)
	raw := `{"table":"trade","action":"insert","data":[
		{"timestamp":"not-a-time","symbol":"XBTUSD","side":"Sell","size":100,"price":42000.5,"tickDirection":"MinusTick","trdMatchID":"a","grossValue":1,"homeNotional":0.1,"foreignNotional":100,"trdType":"Regular"},
		{"timestamp":"2024-01-03T00:09:50.444Z","symbol":"XBTUSD","side":"Buy","size":200,"price":42001,"trdType":"Regular"}]}`
	msg, err := f.Decode([]byte(raw))
	require.NoError(t, err)

	batch, err := f.Normalize(msg, 1)
	assert.ErrorIs(t, err, domain.ErrInvalidTimestamp)
	require.Len(t, batch.Trades, 1)
	tr := batch.Trades[0]
	assert.Equal(t, domain.SideBuy, tr.Side)
	assert.Equal(t, 42001.0, tr.Price)
	assert.Equal(t, 200.0, tr.Size)
	assert.Equal(t, int64(1704240590444), tr.TimestampMs)
}

func TestNormalizeQuote(t *testing.T) {
	f := newFeed(t, domain.FeedQuote)
	raw := `{"table":"quote","action":"insert","data":[{"timestamp":"2024-01-01T00:00:00Z","symbol":"XBTUSD","bidSize":100,"bidPrice":42000,"askPrice":42000.5,"askSize":300}]}`
	msg, err := f.Decode([]byte(raw))
	require.NoError(t, err)

	batch, err := f.Normalize(msg, 5)
	require.NoError(t, err)
	require.Len(t, batch.Quotes, 1)
	assert.Equal(t, domain.Quote{
		Exchange:    Exchange,
		Symbol:      "XBTUSD",
		TimestampMs: 1704067200000,
		BidPrice:    42000,
		BidSize:     100,
		AskPrice:    42000.5,
		AskSize:     300,
	}, batch.Quotes[0])
}

func TestKeySymbolAlias(t *testing.T) {
	f, err := NewFeed(domain.FeedQuote, Options{Symbol: "XBTUSDT", KeySymbol: "xbtusd"})
	require.NoError(t, err)
	assert.Equal(t, "XBTUSD", f.Symbol())
}
