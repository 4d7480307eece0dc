package domain

import (
	"fmt"
	"strings"
)

// Side is the canonical book or trade side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide maps the exchange spellings ("Buy", "bid", "sell", ...) onto a Side.
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "bid", "b":
		return SideBuy, nil
	case "sell", "ask", "a", "s":
		return SideSell, nil
	default:
		return "", fmt.Errorf("side %q: %w", s, ErrMissingField)
	}
}

// FeedKind identifies what a feed carries. Its value doubles as the SUB label.
type FeedKind string

const (
	FeedQuote FeedKind = "QUOTE"
	FeedTrade FeedKind = "TRADE"
	FeedBook  FeedKind = "BOOK"
)

// ParseFeedKind accepts the lower- or upper-case feed kind name.
func ParseFeedKind(s string) (FeedKind, error) {
	switch FeedKind(strings.ToUpper(strings.TrimSpace(s))) {
	case FeedQuote:
		return FeedQuote, nil
	case FeedTrade:
		return FeedTrade, nil
	case FeedBook:
		return FeedBook, nil
	default:
		return "", fmt.Errorf("feed kind %q: %w", s, ErrUnsupportedFeed)
	}
}

// BookAction is the canonical order-book action applied by the reconciler.
type BookAction string

const (
	BookSnapshot BookAction = "SNAPSHOT"
	BookUpsert   BookAction = "UPSERT"
	BookDelete   BookAction = "DELETE"
)

// Quote is a best bid/ask observation.
type Quote struct {
	Exchange    string
	Symbol      string
	TimestampMs int64
	BidPrice    float64
	BidSize     float64
	AskPrice    float64
	AskSize     float64
}

// Trade is a single executed trade print.
type Trade struct {
	Exchange    string
	Symbol      string
	Side        Side
	Price       float64
	Size        float64
	TimestampMs int64
}

// BookDelta is a change to one price level. A nil Size on an upsert is a
// malformed delta and is skipped by the reconciler.
type BookDelta struct {
	Exchange    string
	Symbol      string
	Side        Side
	Price       float64
	Size        *float64
	TimestampMs int64
	Action      BookAction
}

// BookBatch is the ordered set of deltas carried by one inbound frame.
type BookBatch struct {
	Exchange   string
	Symbol     string
	Action     BookAction
	Deltas     []BookDelta
	ReceivedMs int64
}

// Batch is the output of one normalization. Exactly one of the record slices
// is populated, matching Kind.
type Batch struct {
	Kind   FeedKind
	Quotes []Quote
	Trades []Trade
	Book   *BookBatch
}

// Len returns the number of canonical records in the batch.
func (b Batch) Len() int {
	switch b.Kind {
	case FeedQuote:
		return len(b.Quotes)
	case FeedTrade:
		return len(b.Trades)
	case FeedBook:
		if b.Book == nil {
			return 0
		}
		return len(b.Book.Deltas)
	}
	return 0
}
