package bybit

import (
	"encoding/json"

	"github.com/alanyoungcy/tickscraper/internal/platform/wire"
)

// Request is an operation sent to the public stream.
type Request struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

// Message is the outer shape of a topic push or an operation response.
type Message struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"` // "snapshot" or "delta"
	TS    int64           `json:"ts"`
	CS    int64           `json:"cs"`
	Data  json.RawMessage `json:"data"`

	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

// Ticker is the tickers.<symbol> payload. Deltas carry only changed fields.
type Ticker struct {
	Symbol       string      `json:"symbol"`
	LastPrice    wire.Number `json:"lastPrice"`
	HighPrice24h wire.Number `json:"highPrice24h"`
	LowPrice24h  wire.Number `json:"lowPrice24h"`
	PrevPrice24h wire.Number `json:"prevPrice24h"`
	Volume24h    wire.Number `json:"volume24h"`
	Turnover24h  wire.Number `json:"turnover24h"`
	Price24hPcnt wire.Number `json:"price24hPcnt"`
	Bid1Price    wire.Number `json:"bid1Price"`
	Bid1Size     wire.Number `json:"bid1Size"`
	Ask1Price    wire.Number `json:"ask1Price"`
	Ask1Size     wire.Number `json:"ask1Size"`
}

// TickerMessage is a decoded tickers push.
type TickerMessage struct {
	Type   string
	TS     int64
	Ticker Ticker
}
