package coinbase

import "github.com/alanyoungcy/tickscraper/internal/platform/wire"

// Subscribe is the channel subscription request.
type Subscribe struct {
	Type       string   `json:"type"`
	Channels   []string `json:"channels"`
	ProductIDs []string `json:"product_ids"`
}

// Message is the union of the ticker and matches channel payloads. Type
// selects which fields are meaningful.
type Message struct {
	Type      string `json:"type"` // "ticker", "match", "last_match", "subscriptions", "heartbeat", "error"
	Sequence  int64  `json:"sequence"`
	ProductID string `json:"product_id"`
	Time      string `json:"time"`

	// ticker
	Price       wire.Number `json:"price"`
	BestBid     wire.Number `json:"best_bid"`
	BestBidSize wire.Number `json:"best_bid_size"`
	BestAsk     wire.Number `json:"best_ask"`
	BestAskSize wire.Number `json:"best_ask_size"`

	// matches
	TradeID int64       `json:"trade_id"`
	Side    string      `json:"side"`
	Size    wire.Number `json:"size"`

	// error
	Message string `json:"message"`
	Reason  string `json:"reason"`
}
