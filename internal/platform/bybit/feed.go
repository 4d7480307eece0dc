// Package bybit decodes the Bybit v5 public tickers stream.
package bybit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/alanyoungcy/tickscraper/internal/domain"
)

const (
	Exchange        = "BYBIT"
	DefaultEndpoint = "wss://stream.bybit.com/v5/public/linear"
)

var pingFrame = []byte(`{"op":"ping"}`)

// Options configures a Feed.
type Options struct {
	Symbol    string
	KeySymbol string
	Endpoint  string
}

// Feed implements domain.Feed for tickers.<symbol>.
type Feed struct {
	topic     string
	symbol    string
	keySymbol string
	endpoint  string
}

var (
	_ domain.Feed            = (*Feed)(nil)
	_ domain.KeepaliveFramer = (*Feed)(nil)
)

// NewFeed builds a tickers feed. Only quotes are supported.
func NewFeed(kind domain.FeedKind, opts Options) (*Feed, error) {
	if kind != domain.FeedQuote {
		return nil, fmt.Errorf("bybit: kind %s: %w", kind, domain.ErrUnsupportedFeed)
	}
	if opts.Symbol == "" {
		return nil, fmt.Errorf("bybit: symbol: %w", domain.ErrMissingField)
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	symbol := strings.ToUpper(opts.Symbol)
	keySymbol := opts.KeySymbol
	if keySymbol == "" {
		keySymbol = symbol
	}
	return &Feed{
		topic:     "tickers." + symbol,
		symbol:    symbol,
		keySymbol: strings.ToUpper(keySymbol),
		endpoint:  endpoint,
	}, nil
}

func (f *Feed) Exchange() string      { return Exchange }
func (f *Feed) Kind() domain.FeedKind { return domain.FeedQuote }
func (f *Feed) Symbol() string        { return f.keySymbol }
func (f *Feed) Endpoint() string      { return f.endpoint }

// Subscription returns the subscribe operation for the tickers topic.
func (f *Feed) Subscription() ([]byte, error) {
	return json.Marshal(Request{Op: "subscribe", Args: []string{f.topic}})
}

// KeepaliveFrame is the application ping Bybit expects on idle connections.
func (f *Feed) KeepaliveFrame() []byte { return pingFrame }

// Decode parses a push into a *TickerMessage. Operation responses
// (subscribe acks, pongs) are control messages.
func (f *Feed) Decode(raw []byte) (any, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("bybit: decode: %w: %v", domain.ErrMalformedFrame, err)
	}
	if m.Topic == "" {
		if m.Op != "" {
			if m.Success != nil && !*m.Success {
				return nil, fmt.Errorf("bybit: op %s failed: %s: %w", m.Op, m.RetMsg, domain.ErrMalformedFrame)
			}
			return nil, domain.ErrControlMessage
		}
		return nil, fmt.Errorf("bybit: decode: no topic: %w", domain.ErrMalformedFrame)
	}
	if m.Topic != f.topic {
		return nil, fmt.Errorf("bybit: unexpected topic %q: %w", m.Topic, domain.ErrMalformedFrame)
	}

	tm := &TickerMessage{Type: m.Type, TS: m.TS}
	if err := json.Unmarshal(m.Data, &tm.Ticker); err != nil {
		return nil, fmt.Errorf("bybit: decode ticker: %w: %v", domain.ErrMalformedFrame, err)
	}
	return tm, nil
}

// Normalize emits a quote when the push carries a full top of book. Deltas
// that only touch other fields produce an empty batch.
func (f *Feed) Normalize(msg any, receivedMs int64) (domain.Batch, error) {
	m, ok := msg.(*TickerMessage)
	if !ok {
		return domain.Batch{}, fmt.Errorf("bybit: normalize: unexpected message %T", msg)
	}
	batch := domain.Batch{Kind: domain.FeedQuote}
	t := m.Ticker
	if !t.Bid1Price.IsSet() || !t.Bid1Size.IsSet() || !t.Ask1Price.IsSet() || !t.Ask1Size.IsSet() {
		return batch, nil
	}

	ts := m.TS
	if ts <= 0 {
		ts = receivedMs
	}
	q := domain.Quote{Exchange: Exchange, Symbol: f.keySymbol, TimestampMs: ts}
	var err error
	if q.BidPrice, err = t.Bid1Price.Float64("bid1Price"); err != nil {
		return batch, err
	}
	if q.BidSize, err = t.Bid1Size.Float64("bid1Size"); err != nil {
		return batch, err
	}
	if q.AskPrice, err = t.Ask1Price.Float64("ask1Price"); err != nil {
		return batch, err
	}
	if q.AskSize, err = t.Ask1Size.Float64("ask1Size"); err != nil {
		return batch, err
	}
	batch.Quotes = []domain.Quote{q}
	return batch, nil
}
