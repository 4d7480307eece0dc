package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickscraper/internal/domain"
)

func TestNumberAcceptsStringsAndNumbers(t *testing.T) {
	var v struct {
		A Number `json:"a"`
		B Number `json:"b"`
		C Number `json:"c"`
		D Number `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"42000.5","b":17,"c":null}`), &v))

	a, err := v.A.Float64("a")
	require.NoError(t, err)
	assert.Equal(t, 42000.5, a)

	b, err := v.B.Float64("b")
	require.NoError(t, err)
	assert.Equal(t, 17.0, b)

	assert.False(t, v.C.IsSet())
	assert.False(t, v.D.IsSet())

	_, err = v.D.Float64("d")
	assert.ErrorIs(t, err, domain.ErrMissingField)

	opt, err := v.C.Optional("c")
	require.NoError(t, err)
	assert.Nil(t, opt)
}

func TestParseFloatReportsField(t *testing.T) {
	_, err := ParseFloat("bidPrice", "12x")
	require.Error(t, err)

	var fe *FieldError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "bidPrice", fe.Field)
	assert.Equal(t, "12x", fe.Value)
}

func TestParseTimestampMs(t *testing.T) {
	ms, err := ParseTimestampMs("timestamp", "2024-01-03T00:09:50.444Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1704240590444), ms)

	ms, err = ParseTimestampMs("timestamp", "2024-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, int64(1704067200000), ms)

	_, err = ParseTimestampMs("timestamp", "yesterday")
	assert.ErrorIs(t, err, domain.ErrInvalidTimestamp)

	_, err = ParseTimestampMs("timestamp", "1970-01-01T00:00:00Z")
	assert.ErrorIs(t, err, domain.ErrInvalidTimestamp)

	_, err = ParseTimestampMs("timestamp", "")
	assert.ErrorIs(t, err, domain.ErrMissingField)
}

func TestTimestampOr(t *testing.T) {
	assert.Equal(t, int64(99), TimestampOr("", 99))
	assert.Equal(t, int64(99), TimestampOr("garbage", 99))
	assert.Equal(t, int64(1704067200000), TimestampOr("2024-01-01T00:00:00Z", 99))
}
