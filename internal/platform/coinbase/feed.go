// Package coinbase decodes the Coinbase Exchange ticker and matches channels.
package coinbase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/tickscraper/internal/domain"
	"github.com/alanyoungcy/tickscraper/internal/platform/wire"
)

const (
	Exchange        = "COINBASE"
	DefaultEndpoint = "wss://ws-feed.exchange.coinbase.com"
)

// Options configures a Feed.
type Options struct {
	Symbol    string // product id, e.g. BTC-USD
	KeySymbol string
	Endpoint  string
}

// Feed implements domain.Feed for one product on the ticker (quotes) or
// matches (trades) channel.
type Feed struct {
	kind      domain.FeedKind
	channel   string
	product   string
	keySymbol string
	endpoint  string
}

var _ domain.Feed = (*Feed)(nil)

// NewFeed builds a feed for kind.
func NewFeed(kind domain.FeedKind, opts Options) (*Feed, error) {
	if opts.Symbol == "" {
		return nil, fmt.Errorf("coinbase: symbol: %w", domain.ErrMissingField)
	}
	var channel string
	switch kind {
	case domain.FeedQuote:
		channel = "ticker"
	case domain.FeedTrade:
		channel = "matches"
	default:
		return nil, fmt.Errorf("coinbase: kind %s: %w", kind, domain.ErrUnsupportedFeed)
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	keySymbol := opts.KeySymbol
	if keySymbol == "" {
		keySymbol = strings.ReplaceAll(opts.Symbol, "-", "")
	}
	return &Feed{
		kind:      kind,
		channel:   channel,
		product:   strings.ToUpper(opts.Symbol),
		keySymbol: strings.ToUpper(keySymbol),
		endpoint:  endpoint,
	}, nil
}

func (f *Feed) Exchange() string      { return Exchange }
func (f *Feed) Kind() domain.FeedKind { return f.kind }
func (f *Feed) Symbol() string        { return f.keySymbol }
func (f *Feed) Endpoint() string      { return f.endpoint }

// Subscription returns the subscribe request for the feed's channel.
func (f *Feed) Subscription() ([]byte, error) {
	return json.Marshal(Subscribe{
		Type:       "subscribe",
		Channels:   []string{f.channel},
		ProductIDs: []string{f.product},
	})
}

// Decode parses a channel message into a *Message.
func (f *Feed) Decode(raw []byte) (any, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("coinbase: decode: %w: %v", domain.ErrMalformedFrame, err)
	}
	switch m.Type {
	case "ticker", "match", "last_match":
		return &m, nil
	case "subscriptions", "heartbeat":
		return nil, domain.ErrControlMessage
	case "error":
		return nil, fmt.Errorf("coinbase: server error %q (%s): %w", m.Message, m.Reason, domain.ErrMalformedFrame)
	default:
		return nil, fmt.Errorf("coinbase: message type %q: %w", m.Type, domain.ErrMalformedFrame)
	}
}

// Normalize converts a *Message into one quote or one trade.
func (f *Feed) Normalize(msg any, receivedMs int64) (domain.Batch, error) {
	m, ok := msg.(*Message)
	if !ok {
		return domain.Batch{}, fmt.Errorf("coinbase: normalize: unexpected message %T", msg)
	}
	batch := domain.Batch{Kind: f.kind}
	if !strings.EqualFold(m.ProductID, f.product) {
		return batch, fmt.Errorf("coinbase: product %q not subscribed", m.ProductID)
	}

	switch {
	case f.kind == domain.FeedQuote && m.Type == "ticker":
		q, err := f.quote(m, receivedMs)
		if err != nil {
			return batch, err
		}
		batch.Quotes = []domain.Quote{q}
	case f.kind == domain.FeedTrade && m.Type != "ticker":
		t, err := f.trade(m)
		if err != nil {
			return batch, err
		}
		batch.Trades = []domain.Trade{t}
	default:
		return batch, fmt.Errorf("coinbase: %s message on %s feed: %w", m.Type, f.kind, domain.ErrMalformedFrame)
	}
	return batch, nil
}

func (f *Feed) quote(m *Message, receivedMs int64) (domain.Quote, error) {
	q := domain.Quote{
		Exchange:    Exchange,
		Symbol:      f.keySymbol,
		TimestampMs: wire.TimestampOr(m.Time, receivedMs),
	}
	var err error
	if q.BidPrice, err = m.BestBid.Float64("best_bid"); err != nil {
		return domain.Quote{}, err
	}
	if q.BidSize, err = m.BestBidSize.Float64("best_bid_size"); err != nil {
		return domain.Quote{}, err
	}
	if q.AskPrice, err = m.BestAsk.Float64("best_ask"); err != nil {
		return domain.Quote{}, err
	}
	if q.AskSize, err = m.BestAskSize.Float64("best_ask_size"); err != nil {
		return domain.Quote{}, err
	}
	return q, nil
}

func (f *Feed) trade(m *Message) (domain.Trade, error) {
	side, err := domain.ParseSide(m.Side)
	if err != nil {
		return domain.Trade{}, err
	}
	price, err := m.Price.Float64("price")
	if err != nil {
		return domain.Trade{}, err
	}
	size, err := m.Size.Float64("size")
	if err != nil {
		return domain.Trade{}, err
	}
	ts, err := wire.ParseTimestampMs("time", m.Time)
	if err != nil {
		return domain.Trade{}, err
	}
	return domain.Trade{
		Exchange:    Exchange,
		Symbol:      f.keySymbol,
		Side:        side,
		Price:       price,
		Size:        size,
		TimestampMs: ts,
	}, nil
}
