package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrConnect          = errors.New("connect failed")
	ErrMalformedFrame   = errors.New("malformed frame")
	ErrControlMessage   = errors.New("control message")
	ErrUnknownAction    = errors.New("unknown book action")
	ErrMissingField     = errors.New("missing field")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrUnsupportedFeed  = errors.New("unsupported feed")
)
