// Package synth implements the fallback synthesizer (C6): a Quote marked
// isDefault=true, produced whenever the resolver cannot get a live value
// from any source. It never errors.
package synth

import (
	"time"

	"github.com/sawpanic/marketdata/internal/core/quote"
)

// Defaults configures the per-dataType fallback price/currency, and a
// pair table for exchange rates.
type Defaults struct {
	PriceByDataType    map[quote.DataType]float64
	CurrencyByDataType map[quote.DataType]string
	RatesByPair        map[string]float64 // "BASE-TARGET" -> rate
}

// DefaultDefaults is a reasonable built-in table: zero price for
// equities/funds (a synthesized default is a degraded signal, not a
// guess at market value) and the common-pairs rate table from §4.6.
func DefaultDefaults() Defaults {
	return Defaults{
		PriceByDataType: map[quote.DataType]float64{
			quote.USStock:    0,
			quote.JPStock:    0,
			quote.MutualFund: 0,
		},
		CurrencyByDataType: map[quote.DataType]string{
			quote.USStock:    "USD",
			quote.JPStock:    "JPY",
			quote.MutualFund: "JPY",
		},
		RatesByPair: map[string]float64{
			"USD-JPY": 150.0,
			"EUR-JPY": 160.0,
			"GBP-JPY": 190.0,
			"USD-EUR": 0.92,
		},
	}
}

// Synthesizer builds default Quotes.
type Synthesizer struct {
	defaults Defaults
	now      func() time.Time
}

// New builds a Synthesizer with the given defaults (zero value uses
// DefaultDefaults).
func New(defaults Defaults) *Synthesizer {
	if defaults.PriceByDataType == nil && defaults.RatesByPair == nil {
		defaults = DefaultDefaults()
	}
	return &Synthesizer{defaults: defaults, now: func() time.Time { return time.Now().UTC() }}
}

// Synthesize produces a default Quote for (symbol, dataType). For exchange
// rates, symbol is the "<base>-<target>" pair; base/target are split out
// on the caller's behalf when possible.
func (s *Synthesizer) Synthesize(symbol string, dataType quote.DataType) quote.Quote {
	q := quote.Quote{
		Symbol:      symbol,
		DataType:    dataType,
		Source:      "Default",
		IsDefault:   true,
		LastUpdated: s.now(),
	}

	if dataType != quote.ExchangeRate {
		q.Price = s.defaults.PriceByDataType[dataType]
		q.Currency = s.defaults.CurrencyByDataType[dataType]
		if dataType == quote.MutualFund {
			q.PriceLabel = "NAV"
		}
		return q
	}

	base, target, ok := splitPair(symbol)
	if !ok {
		q.Price = s.defaults.RatesByPair["USD-JPY"]
		q.Currency = ""
		return q
	}
	q.Base, q.Target = base, target
	q.Pair = quote.PairSymbol(base, target)
	q.Currency = target

	switch {
	case base == target:
		q.Price = 1.0
	default:
		if rate, ok := s.defaults.RatesByPair[q.Pair]; ok {
			q.Price = rate
		} else if base == "JPY" || target == "JPY" {
			q.Price = s.defaults.RatesByPair["USD-JPY"]
		} else {
			q.Price = 1.0
		}
	}
	return q
}

func splitPair(symbol string) (base, target string, ok bool) {
	for i := 0; i < len(symbol); i++ {
		if symbol[i] == '-' {
			return symbol[:i], symbol[i+1:], true
		}
	}
	return "", "", false
}
