package series

import (
	"strconv"
	"strings"

	"github.com/alanyoungcy/tickscraper/internal/domain"
)

// Prefix returns the key prefix {NAMESPACE:}{EXCHANGE}:{SYMBOL}:{KIND}.
func Prefix(namespace, exchange, symbol string, kind domain.FeedKind) string {
	parts := make([]string, 0, 4)
	if namespace != "" {
		parts = append(parts, namespace)
	}
	parts = append(parts, strings.ToUpper(exchange), strings.ToUpper(symbol), string(kind))
	return strings.Join(parts, ":")
}

// FieldKey is the key of a quote or trade aggregate: {PREFIX}:{SIDE}:{FIELD}.
func FieldKey(prefix string, side domain.Side, field string) string {
	return prefix + ":" + string(side) + ":" + field
}

// LevelKey is the key of one book level: {PREFIX}:{SIDE}:{PRICE_LEVEL}.
func LevelKey(prefix string, side domain.Side, price float64) string {
	return prefix + ":" + string(side) + ":" + FormatPrice(price)
}

// FormatPrice renders a price with the shortest exact representation, so
// 100.0 becomes "100" and 100.50 becomes "100.5".
func FormatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

// sideOfLevelKey extracts the side segment of a level key under prefix.
func sideOfLevelKey(prefix, key string) (domain.Side, bool) {
	rest, ok := strings.CutPrefix(key, prefix+":")
	if !ok {
		return "", false
	}
	side, _, ok := strings.Cut(rest, ":")
	if !ok {
		return "", false
	}
	switch domain.Side(side) {
	case domain.SideBuy, domain.SideSell:
		return domain.Side(side), true
	}
	return "", false
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// PrefixPattern returns a SCAN/KEYS glob matching every key strictly under
// prefix. Glob metacharacters inside the prefix are escaped.
func PrefixPattern(prefix string) string {
	return globEscaper.Replace(prefix) + ":*"
}
