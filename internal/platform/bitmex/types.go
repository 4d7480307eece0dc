package bitmex

import (
	"encoding/json"

	"github.com/alanyoungcy/tickscraper/internal/platform/wire"
)

// --------------------------------------------------------------------------
// BitMEX realtime DTOs
// --------------------------------------------------------------------------

// Envelope is the outer shape of every realtime frame. Data frames carry
// Table/Action/Data; control frames carry Info, Success or Error.
type Envelope struct {
	Table     string          `json:"table"`
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data"`
	Info      string          `json:"info"`
	Success   *bool           `json:"success"`
	Subscribe string          `json:"subscribe"`
	Error     string          `json:"error"`
}

// BookLevel is one orderBookL2 row. Size is omitted on delete actions.
type BookLevel struct {
	Symbol    string      `json:"symbol"`
	ID        int64       `json:"id"`
	Side      string      `json:"side"` // "Buy" or "Sell"
	Size      wire.Number `json:"size"`
	Price     wire.Number `json:"price"`
	Timestamp string      `json:"timestamp"`
}

// TradeRow is one trade print.
type TradeRow struct {
	Timestamp       string      `json:"timestamp"`
	Symbol          string      `json:"symbol"`
	Side            string      `json:"side"`
	Size            wire.Number `json:"size"`
	Price           wire.Number `json:"price"`
	TickDirection   string      `json:"tickDirection"`
	TrdMatchID      string      `json:"trdMatchID"`
	GrossValue      int64       `json:"grossValue"`
	HomeNotional    float64     `json:"homeNotional"`
	ForeignNotional float64     `json:"foreignNotional"`
	TrdType         string      `json:"trdType"`
}

// QuoteRow is one top-of-book quote.
type QuoteRow struct {
	Timestamp string      `json:"timestamp"`
	Symbol    string      `json:"symbol"`
	BidSize   wire.Number `json:"bidSize"`
	BidPrice  wire.Number `json:"bidPrice"`
	AskPrice  wire.Number `json:"askPrice"`
	AskSize   wire.Number `json:"askSize"`
}

// BookMessage is a decoded orderBookL2 frame.
type BookMessage struct {
	Action string
	Levels []BookLevel
}

// TradeMessage is a decoded trade frame.
type TradeMessage struct {
	Action string
	Trades []TradeRow
}

// QuoteMessage is a decoded quote frame.
type QuoteMessage struct {
	Action string
	Quotes []QuoteRow
}
