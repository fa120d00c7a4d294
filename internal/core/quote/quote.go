// Package quote defines the canonical record produced by the acquisition
// pipeline and the data types it is classified into.
package quote

import (
	"fmt"
	"time"
)

// DataType classifies an instrument into one of the four supported
// acquisition pipelines.
type DataType string

const (
	USStock      DataType = "US_STOCK"
	JPStock      DataType = "JP_STOCK"
	MutualFund   DataType = "MUTUAL_FUND"
	ExchangeRate DataType = "EXCHANGE_RATE"
)

// Valid reports whether d is one of the four known data types.
func (d DataType) Valid() bool {
	switch d {
	case USStock, JPStock, MutualFund, ExchangeRate:
		return true
	}
	return false
}

// ErrorKind classifies a failure from an upstream fetch attempt.
type ErrorKind string

const (
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindRateLimit  ErrorKind = "rateLimit"
	ErrorKindNetwork    ErrorKind = "network"
	ErrorKindNotFound   ErrorKind = "notFound"
	ErrorKindValidation ErrorKind = "validation"
	ErrorKindOther      ErrorKind = "other"
)

// Quote is the normalized per-symbol record returned by the pipeline.
type Quote struct {
	Symbol        string    `json:"symbol"`
	DataType      DataType  `json:"dataType"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Currency      string    `json:"currency"`
	Name          string    `json:"name,omitempty"`
	LastUpdated   time.Time `json:"lastUpdated"`
	Source        string    `json:"source"`
	IsDefault     bool      `json:"isDefault"`

	// PriceLabel is set for mutual funds, where "price" is a NAV.
	PriceLabel string `json:"priceLabel,omitempty"`

	// Base/Target/Pair are set for exchange rates.
	Base   string `json:"base,omitempty"`
	Target string `json:"target,omitempty"`
	Pair   string `json:"pair,omitempty"`
}

// CacheKey returns the key under which this quote's data type and symbol
// are stored, e.g. "US_STOCK:AAPL" or "EXCHANGE_RATE:USD-JPY".
func CacheKey(dataType DataType, symbol string) string {
	return fmt.Sprintf("%s:%s", dataType, symbol)
}

// PairSymbol returns the canonical "<base>-<target>" symbol used as the
// cache key suffix and Quote.Pair for exchange rates.
func PairSymbol(base, target string) string {
	return base + "-" + target
}

// Validate checks the invariants from the data model: non-negative price,
// and for exchange rates a positive rate with a consistent pair.
func (q Quote) Validate() error {
	if q.Price < 0 {
		return fmt.Errorf("quote %s/%s: negative price %v", q.DataType, q.Symbol, q.Price)
	}
	if q.DataType == ExchangeRate {
		if q.Base == "" || q.Target == "" {
			return fmt.Errorf("quote %s: exchange rate missing base/target", q.Symbol)
		}
		if q.Pair != PairSymbol(q.Base, q.Target) {
			return fmt.Errorf("quote %s: pair %q does not match base/target", q.Symbol, q.Pair)
		}
		if q.Price <= 0 {
			return fmt.Errorf("quote %s: exchange rate must be positive", q.Symbol)
		}
	}
	return nil
}
