// Package feed selects the exchange decoder/normalizer for a configured
// exchange and feed kind.
package feed

import (
	"fmt"
	"sort"
	"strings"

	"github.com/alanyoungcy/tickscraper/internal/domain"
	"github.com/alanyoungcy/tickscraper/internal/platform/binance"
	"github.com/alanyoungcy/tickscraper/internal/platform/bitmex"
	"github.com/alanyoungcy/tickscraper/internal/platform/bybit"
	"github.com/alanyoungcy/tickscraper/internal/platform/coinbase"
)

// Spec identifies one feed to run.
type Spec struct {
	Exchange  string
	Kind      domain.FeedKind
	Symbol    string
	KeySymbol string
	Endpoint  string
}

// Name is a short identifier used in logs and the status API.
func (s Spec) Name() string {
	return strings.ToLower(s.Exchange) + ":" + strings.ToLower(string(s.Kind)) + ":" + s.Symbol
}

type constructor func(kind domain.FeedKind, s Spec) (domain.Feed, error)

var constructors = map[string]constructor{
	"bitmex": func(kind domain.FeedKind, s Spec) (domain.Feed, error) {
		return bitmex.NewFeed(kind, bitmex.Options{Symbol: s.Symbol, KeySymbol: s.KeySymbol, Endpoint: s.Endpoint})
	},
	"binance": func(kind domain.FeedKind, s Spec) (domain.Feed, error) {
		return binance.NewFeed(kind, binance.Options{Symbol: s.Symbol, KeySymbol: s.KeySymbol, Endpoint: s.Endpoint})
	},
	"coinbase": func(kind domain.FeedKind, s Spec) (domain.Feed, error) {
		return coinbase.NewFeed(kind, coinbase.Options{Symbol: s.Symbol, KeySymbol: s.KeySymbol, Endpoint: s.Endpoint})
	},
	"bybit": func(kind domain.FeedKind, s Spec) (domain.Feed, error) {
		return bybit.NewFeed(kind, bybit.Options{Symbol: s.Symbol, KeySymbol: s.KeySymbol, Endpoint: s.Endpoint})
	},
}

// New builds the feed described by s.
func New(s Spec) (domain.Feed, error) {
	ctor, ok := constructors[strings.ToLower(s.Exchange)]
	if !ok {
		return nil, fmt.Errorf("feed: exchange %q (supported: %s): %w",
			s.Exchange, strings.Join(Exchanges(), ", "), domain.ErrUnsupportedFeed)
	}
	f, err := ctor(s.Kind, s)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", s.Name(), err)
	}
	return f, nil
}

// Exchanges returns the supported exchange names in sorted order.
func Exchanges() []string {
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
