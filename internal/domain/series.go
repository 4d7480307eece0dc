package domain

import "context"

// Labels are the string labels attached to a series when it is created.
type Labels map[string]string

// Label names written on every series.
const (
	LabelExchange = "EXCHANGE"
	LabelSymbol   = "SYMBOL"
	LabelSide     = "SIDE"
	LabelSub      = "SUB"
	LabelGroup    = "GROUP"
)

// Field groups.
const (
	GroupPrice = "PRICE"
	GroupVol   = "VOL"
)

// Point is one (timestamp, value) sample.
type Point struct {
	TimestampMs int64
	Value       float64
}

// SeriesOptions are applied when a series does not yet exist.
type SeriesOptions struct {
	RetentionMs     int64
	DuplicatePolicy string
	Labels          Labels
}

// SeriesStore is an append-only labeled time-series store.
type SeriesStore interface {
	// Add appends p to key, creating the series with opts if it is absent.
	Add(ctx context.Context, key string, p Point, opts SeriesOptions) error
	// Latest returns the newest point of key, or ErrNotFound.
	Latest(ctx context.Context, key string) (Point, error)
	// Keys lists every key matching the glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	Delete(ctx context.Context, keys ...string) error
}
