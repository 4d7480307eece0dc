// Package bitmex decodes and normalizes the BitMEX realtime quote, trade and
// orderBookL2 tables.
package bitmex

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/alanyoungcy/tickscraper/internal/domain"
	"github.com/alanyoungcy/tickscraper/internal/platform/wire"
)

const (
	// Exchange is the EXCHANGE label and key segment for this venue.
	Exchange = "BITMEX"

	DefaultEndpoint = "wss://ws.bitmex.com/realtime"
)

// Options configures a Feed.
type Options struct {
	Symbol    string
	KeySymbol string
	Endpoint  string
}

// Feed implements domain.Feed for one BitMEX table and symbol.
type Feed struct {
	kind      domain.FeedKind
	table     string
	symbol    string
	keySymbol string
	endpoint  string
}

var _ domain.Feed = (*Feed)(nil)

// NewFeed builds a feed for kind. The topic is selected with the
// ?subscribe= query parameter so no subscription message is sent.
func NewFeed(kind domain.FeedKind, opts Options) (*Feed, error) {
	if opts.Symbol == "" {
		return nil, fmt.Errorf("bitmex: symbol: %w", domain.ErrMissingField)
	}
	var table string
	switch kind {
	case domain.FeedQuote:
		table = "quote"
	case domain.FeedTrade:
		table = "trade"
	case domain.FeedBook:
		table = "orderBookL2"
	default:
		return nil, fmt.Errorf("bitmex: kind %s: %w", kind, domain.ErrUnsupportedFeed)
	}

	base := opts.Endpoint
	if base == "" {
		base = DefaultEndpoint
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("bitmex: endpoint %q: %w", base, err)
	}
	q := u.Query()
	q.Set("subscribe", table+":"+opts.Symbol)
	u.RawQuery = q.Encode()

	keySymbol := opts.KeySymbol
	if keySymbol == "" {
		keySymbol = opts.Symbol
	}

	return &Feed{
		kind:      kind,
		table:     table,
		symbol:    opts.Symbol,
		keySymbol: strings.ToUpper(keySymbol),
		endpoint:  u.String(),
	}, nil
}

func (f *Feed) Exchange() string              { return Exchange }
func (f *Feed) Kind() domain.FeedKind         { return f.kind }
func (f *Feed) Symbol() string                { return f.keySymbol }
func (f *Feed) Endpoint() string              { return f.endpoint }
func (f *Feed) Subscription() ([]byte, error) { return nil, nil }

// Decode parses a realtime frame into a *BookMessage, *TradeMessage or
// *QuoteMessage depending on the feed's table.
func (f *Feed) Decode(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("bitmex: decode: %w: %v", domain.ErrMalformedFrame, err)
	}
	if env.Error != "" {
		return nil, fmt.Errorf("bitmex: server error %q: %w", env.Error, domain.ErrMalformedFrame)
	}
	if len(env.Data) == 0 {
		if env.Info != "" || env.Success != nil {
			return nil, domain.ErrControlMessage
		}
		return nil, fmt.Errorf("bitmex: decode: no data: %w", domain.ErrMalformedFrame)
	}
	if env.Table != "" && env.Table != f.table {
		return nil, fmt.Errorf("bitmex: unexpected table %q: %w", env.Table, domain.ErrMalformedFrame)
	}

	switch f.kind {
	case domain.FeedBook:
		msg := &BookMessage{Action: env.Action}
		if err := json.Unmarshal(env.Data, &msg.Levels); err != nil {
			return nil, fmt.Errorf("bitmex: decode levels: %w: %v", domain.ErrMalformedFrame, err)
		}
		return msg, nil
	case domain.FeedTrade:
		msg := &TradeMessage{Action: env.Action}
		if err := json.Unmarshal(env.Data, &msg.Trades); err != nil {
			return nil, fmt.Errorf("bitmex: decode trades: %w: %v", domain.ErrMalformedFrame, err)
		}
		return msg, nil
	default:
		msg := &QuoteMessage{Action: env.Action}
		if err := json.Unmarshal(env.Data, &msg.Quotes); err != nil {
			return nil, fmt.Errorf("bitmex: decode quotes: %w: %v", domain.ErrMalformedFrame, err)
		}
		return msg, nil
	}
}

// Normalize converts a decoded message into canonical records.
func (f *Feed) Normalize(msg any, receivedMs int64) (domain.Batch, error) {
	switch m := msg.(type) {
	case *BookMessage:
		return f.normalizeBook(m, receivedMs)
	case *TradeMessage:
		return f.normalizeTrades(m)
	case *QuoteMessage:
		return f.normalizeQuotes(m, receivedMs)
	default:
		return domain.Batch{}, fmt.Errorf("bitmex: normalize: unexpected message %T", msg)
	}
}

// BookAction maps a BitMEX action onto the reconciler's action set.
func BookAction(action string) (domain.BookAction, error) {
	switch action {
	case "partial":
		return domain.BookSnapshot, nil
	case "insert", "update":
		return domain.BookUpsert, nil
	case "delete":
		return domain.BookDelete, nil
	default:
		return "", fmt.Errorf("bitmex: action %q: %w", action, domain.ErrUnknownAction)
	}
}

func (f *Feed) normalizeBook(m *BookMessage, receivedMs int64) (domain.Batch, error) {
	action, err := BookAction(m.Action)
	if err != nil {
		return domain.Batch{Kind: domain.FeedBook}, err
	}

	bb := &domain.BookBatch{
		Exchange:   Exchange,
		Symbol:     f.keySymbol,
		Action:     action,
		Deltas:     make([]domain.BookDelta, 0, len(m.Levels)),
		ReceivedMs: receivedMs,
	}
	var errs []error
	for i, lvl := range m.Levels {
		d, err := f.level(lvl, action)
		if err != nil {
			errs = append(errs, fmt.Errorf("level %d: %w", i, err))
			continue
		}
		bb.Deltas = append(bb.Deltas, d)
	}
	return domain.Batch{Kind: domain.FeedBook, Book: bb}, errors.Join(errs...)
}

func (f *Feed) level(lvl BookLevel, action domain.BookAction) (domain.BookDelta, error) {
	if err := f.checkSymbol(lvl.Symbol); err != nil {
		return domain.BookDelta{}, err
	}
	side, err := domain.ParseSide(lvl.Side)
	if err != nil {
		return domain.BookDelta{}, err
	}
	price, err := lvl.Price.Float64("price")
	if err != nil {
		return domain.BookDelta{}, err
	}
	// A delete clears the level whatever size it carries.
	var size *float64
	if action != domain.BookDelete {
		if size, err = lvl.Size.Optional("size"); err != nil {
			return domain.BookDelta{}, err
		}
	}
	ts, err := wire.ParseTimestampMs("timestamp", lvl.Timestamp)
	if err != nil {
		return domain.BookDelta{}, err
	}
	return domain.BookDelta{
		Exchange:    Exchange,
		Symbol:      f.keySymbol,
		Side:        side,
		Price:       price,
		Size:        size,
		TimestampMs: ts,
		Action:      action,
	}, nil
}

func (f *Feed) normalizeTrades(m *TradeMessage) (domain.Batch, error) {
	batch := domain.Batch{Kind: domain.FeedTrade}
	switch m.Action {
	case "partial", "insert", "update":
	case "delete":
		return batch, fmt.Errorf("bitmex: trade delete of %d rows ignored", len(m.Trades))
	default:
		return batch, fmt.Errorf("bitmex: trade action %q: %w", m.Action, domain.ErrUnknownAction)
	}

	var errs []error
	for i, row := range m.Trades {
		t, err := f.trade(row)
		if err != nil {
			errs = append(errs, fmt.Errorf("trade %d: %w", i, err))
			continue
		}
		batch.Trades = append(batch.Trades, t)
	}
	return batch, errors.Join(errs...)
}

func (f *Feed) trade(row TradeRow) (domain.Trade, error) {
	if err := f.checkSymbol(row.Symbol); err != nil {
		return domain.Trade{}, err
	}
	side, err := domain.ParseSide(row.Side)
	if err != nil {
		return domain.Trade{}, err
	}
	price, err := row.Price.Float64("price")
	if err != nil {
		return domain.Trade{}, err
	}
	size, err := row.Size.Float64("size")
	if err != nil {
		return domain.Trade{}, err
	}
	ts, err := wire.ParseTimestampMs("timestamp", row.Timestamp)
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

func (f *Feed) normalizeQuotes(m *QuoteMessage, receivedMs int64) (domain.Batch, error) {
	batch := domain.Batch{Kind: domain.FeedQuote}
	var errs []error
	for i, row := range m.Quotes {
		q, err := f.quote(row, receivedMs)
		if err != nil {
			errs = append(errs, fmt.Errorf("quote %d: %w", i, err))
			continue
		}
		batch.Quotes = append(batch.Quotes, q)
	}
	return batch, errors.Join(errs...)
}

func (f *Feed) quote(row QuoteRow, receivedMs int64) (domain.Quote, error) {
	if err := f.checkSymbol(row.Symbol); err != nil {
		return domain.Quote{}, err
	}
	q := domain.Quote{
		Exchange:    Exchange,
		Symbol:      f.keySymbol,
		TimestampMs: wire.TimestampOr(row.Timestamp, receivedMs),
	}
	var err error
	if q.BidPrice, err = row.BidPrice.Float64("bidPrice"); err != nil {
		return domain.Quote{}, err
	}
	if q.BidSize, err = row.BidSize.Float64("bidSize"); err != nil {
		return domain.Quote{}, err
	}
	if q.AskPrice, err = row.AskPrice.Float64("askPrice"); err != nil {
		return domain.Quote{}, err
	}
	if q.AskSize, err = row.AskSize.Float64("askSize"); err != nil {
		return domain.Quote{}, err
	}
	return q, nil
}

func (f *Feed) checkSymbol(s string) error {
	if s != "" && !strings.EqualFold(s, f.symbol) {
		return fmt.Errorf("symbol %q not subscribed", s)
	}
	return nil
}

