package domain

// Feed is the per exchange/feed-kind capability driven by a pipeline. Decode
// and Normalize are pure; they never touch the connection or the store.
type Feed interface {
	Exchange() string
	Kind() FeedKind
	Symbol() string
	// Endpoint is the full URL to dial, including any query-string topic.
	Endpoint() string
	// Subscription returns the control message sent after every connect, or
	// nil when the topic is selected by the endpoint itself.
	Subscription() ([]byte, error)
	Decode(raw []byte) (any, error)
	// Normalize converts a decoded message into canonical records. A non-nil
	// error alongside a non-empty batch reports records that were skipped.
	Normalize(msg any, receivedMs int64) (Batch, error)
}

// KeepaliveFramer is implemented by feeds whose exchange expects an
// application-level keepalive text frame instead of a transport PING.
type KeepaliveFramer interface {
	KeepaliveFrame() []byte
}
