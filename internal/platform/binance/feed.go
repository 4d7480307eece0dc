// Package binance decodes the Binance spot bookTicker stream.
package binance

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/tickscraper/internal/domain"
	"github.com/alanyoungcy/tickscraper/internal/platform/wire"
)

const (
	Exchange        = "BINANCE"
	DefaultEndpoint = "wss://stream.binance.com:9443/ws"
)

// BookTicker is a best bid/ask update. Prices and quantities are strings.
type BookTicker struct {
	UpdateID int64       `json:"u"`
	Symbol   string      `json:"s"`
	BidPrice wire.Number `json:"b"`
	BidQty   wire.Number `json:"B"`
	AskPrice wire.Number `json:"a"`
	AskQty   wire.Number `json:"A"`
}

// Options configures a Feed.
type Options struct {
	Symbol    string
	KeySymbol string
	Endpoint  string
}

// Feed implements domain.Feed for <symbol>@bookTicker.
type Feed struct {
	symbol    string
	keySymbol string
	endpoint  string
}

var _ domain.Feed = (*Feed)(nil)

// NewFeed builds a bookTicker feed. Only quotes are supported.
func NewFeed(kind domain.FeedKind, opts Options) (*Feed, error) {
	if kind != domain.FeedQuote {
		return nil, fmt.Errorf("binance: kind %s: %w", kind, domain.ErrUnsupportedFeed)
	}
	if opts.Symbol == "" {
		return nil, fmt.Errorf("binance: symbol: %w", domain.ErrMissingField)
	}
	base := strings.TrimRight(opts.Endpoint, "/")
	if base == "" {
		base = DefaultEndpoint
	}
	keySymbol := opts.KeySymbol
	if keySymbol == "" {
		keySymbol = opts.Symbol
	}
	return &Feed{
		symbol:    strings.ToUpper(opts.Symbol),
		keySymbol: strings.ToUpper(keySymbol),
		endpoint:  base + "/" + strings.ToLower(opts.Symbol) + "@bookTicker",
	}, nil
}

func (f *Feed) Exchange() string              { return Exchange }
func (f *Feed) Kind() domain.FeedKind         { return domain.FeedQuote }
func (f *Feed) Symbol() string                { return f.keySymbol }
func (f *Feed) Endpoint() string              { return f.endpoint }
func (f *Feed) Subscription() ([]byte, error) { return nil, nil }

// Decode parses a bookTicker frame. Method responses ({"result":...,"id":n})
// are reported as control messages.
func (f *Feed) Decode(raw []byte) (any, error) {
	if bytes.Contains(raw, []byte(`"result"`)) && bytes.Contains(raw, []byte(`"id"`)) {
		return nil, domain.ErrControlMessage
	}
	var t BookTicker
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("binance: decode: %w: %v", domain.ErrMalformedFrame, err)
	}
	if t.Symbol == "" {
		return nil, fmt.Errorf("binance: decode: no symbol: %w", domain.ErrMalformedFrame)
	}
	return &t, nil
}

// Normalize converts a *BookTicker into a single quote stamped with the
// receive time; the stream carries no event time.
func (f *Feed) Normalize(msg any, receivedMs int64) (domain.Batch, error) {
	t, ok := msg.(*BookTicker)
	if !ok {
		return domain.Batch{}, fmt.Errorf("binance: normalize: unexpected message %T", msg)
	}
	batch := domain.Batch{Kind: domain.FeedQuote}
	if !strings.EqualFold(t.Symbol, f.symbol) {
		return batch, fmt.Errorf("binance: symbol %q not subscribed", t.Symbol)
	}

	q := domain.Quote{Exchange: Exchange, Symbol: f.keySymbol, TimestampMs: receivedMs}
	var err error
	if q.BidPrice, err = t.BidPrice.Float64("b"); err != nil {
		return batch, err
	}
	if q.BidSize, err = t.BidQty.Float64("B"); err != nil {
		return batch, err
	}
	if q.AskPrice, err = t.AskPrice.Float64("a"); err != nil {
		return batch, err
	}
	if q.AskSize, err = t.AskQty.Float64("A"); err != nil {
		return batch, err
	}
	batch.Quotes = []domain.Quote{q}
	return batch, nil
}
