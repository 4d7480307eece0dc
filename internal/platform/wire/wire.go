// Package wire holds the field parsers shared by every exchange decoder.
// Exchanges encode prices and sizes as JSON strings, integers or floats; all
// of them go through Number so a bad field is reported the same way.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/tickscraper/internal/domain"
)

// FieldError reports which field of a record could not be parsed.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s=%q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Number is a JSON numeric field that may arrive quoted or unquoted. The raw
// text is kept until Float64 is called so the failure names the field.
type Number struct {
	raw string
	set bool
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*n = Number{}
		return nil
	}
	n.set = true
	if len(b) >= 2 && b[0] == '"' && b[len(b)-1] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		n.raw = s
		return nil
	}
	n.raw = string(b)
	return nil
}

// NewNumber builds a Number from its textual form.
func NewNumber(s string) Number { return Number{raw: s, set: true} }

// IsSet reports whether the field was present and not null.
func (n Number) IsSet() bool { return n.set }

// String returns the raw text of the field.
func (n Number) String() string { return n.raw }

// Float64 parses the number, reporting failures against field.
func (n Number) Float64(field string) (float64, error) {
	if !n.set {
		return 0, &FieldError{Field: field, Err: domain.ErrMissingField}
	}
	return ParseFloat(field, n.raw)
}

// Optional returns nil when the field is absent.
func (n Number) Optional(field string) (*float64, error) {
	if !n.set {
		return nil, nil
	}
	v, err := ParseFloat(field, n.raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ParseFloat parses a decimal string.
func ParseFloat(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) {
			err = numErr.Err
		}
		return 0, &FieldError{Field: field, Value: s, Err: err}
	}
	return v, nil
}

// ParseTimestampMs parses an RFC3339 timestamp with optional fractional
// seconds into Unix milliseconds. A non-positive result is an error so a
// zero timestamp can never be persisted.
func ParseTimestampMs(field, s string) (int64, error) {
	if s == "" {
		return 0, &FieldError{Field: field, Err: domain.ErrMissingField}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return 0, &FieldError{Field: field, Value: s, Err: domain.ErrInvalidTimestamp}
	}
	ms := t.UnixMilli()
	if ms <= 0 {
		return 0, &FieldError{Field: field, Value: s, Err: domain.ErrInvalidTimestamp}
	}
	return ms, nil
}

// TimestampOr returns the parsed timestamp, or fallback when s is empty or
// unparseable. Used by quote feeds that stamp with the receive time.
func TimestampOr(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	ms, err := ParseTimestampMs("", s)
	if err != nil {
		return fallback
	}
	return ms
}
