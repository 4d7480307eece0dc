package coinbase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickscraper/internal/domain"
)

func TestSubscription(t *testing.T) {
	f, err := NewFeed(domain.FeedQuote, Options{Symbol: "BTC-USD"})
	require.NoError(t, err)

	sub, err := f.Subscription()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"subscribe","channels":["ticker"],"product_ids":["BTC-USD"]}`, string(sub))
	assert.Equal(t, "BTCUSD", f.Symbol())
}

func TestTickerToQuote(t *testing.T) {
	f, err := NewFeed(domain.FeedQuote, Options{Symbol: "BTC-USD", KeySymbol: "XBTUSD"})
	require.NoError(t, err)

	raw := `{"type":"ticker","sequence":37475248783,"product_id":"BTC-USD","price":"42001.00",
		"best_bid":"42000.99","best_bid_size":"0.5","best_ask":"42001.00","best_ask_size":"1.25",
		"side":"buy","time":"2024-01-01T00:00:00.000000Z","trade_id":1,"last_size":"0.01"}`
	msg, err := f.Decode([]byte(raw))
	require.NoError(t, err)

	batch, err := f.Normalize(msg, 7)
	require.NoError(t, err)
	require.Len(t, batch.Quotes, 1)
	q := batch.Quotes[0]
	assert.Equal(t, "XBTUSD", q.Symbol)
	assert.Equal(t, int64(1704067200000), q.TimestampMs)
	assert.Equal(t, 42000.99, q.BidPrice)
	assert.Equal(t, 0.5, q.BidSize)
	assert.Equal(t, 42001.0, q.AskPrice)
	assert.Equal(t, 1.25, q.AskSize)
}

func TestMatchToTrade(t *testing.T) {
	f, err := NewFeed(domain.FeedTrade, Options{Symbol: "BTC-USD"})
	require.NoError(t, err)

	msg, err := f.Decode([]byte(`{"type":"match","trade_id":10,"side":"sell","size":"0.2","price":"42000.5","product_id":"BTC-USD","sequence":50,"time":"2024-01-01T00:00:01Z"}`))
	require.NoError(t, err)

	batch, err := f.Normalize(msg, 7)
	require.NoError(t, err)
	require.Len(t, batch.Trades, 1)
	assert.Equal(t, domain.SideSell, batch.Trades[0].Side)
	assert.Equal(t, int64(1704067201000), batch.Trades[0].TimestampMs)

	msg, err = f.Decode([]byte(`{"type":"match","side":"sell","size":"0.2","price":"1","product_id":"BTC-USD","time":"later"}`))
	require.NoError(t, err)
	batch, err = f.Normalize(msg, 7)
	assert.ErrorIs(t, err, domain.ErrInvalidTimestamp)
	assert.Empty(t, batch.Trades)
}

func TestControlMessages(t *testing.T) {
	f, err := NewFeed(domain.FeedQuote, Options{Symbol: "BTC-USD"})
	require.NoError(t, err)

	_, err = f.Decode([]byte(`{"type":"subscriptions","channels":[{"name":"ticker","product_ids":["BTC-USD"]}]}`))
	assert.ErrorIs(t, err, domain.ErrControlMessage)

	_, err = f.Decode([]byte(`{"type":"error","message":"Failed to subscribe","reason":"BTC-XYZ is not a valid product"}`))
	assert.ErrorIs(t, err, domain.ErrMalformedFrame)
}
