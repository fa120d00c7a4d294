// Package validator implements the cross-source reasonableness check
// (C11): an absolute-change gate against the last cached value, and an
// optional cross-source median/divergence check for batch dispatches.
package validator

import (
	"math"

	"github.com/sawpanic/marketdata/internal/core/quote"
)

// Severity classifies how far a new Quote diverges from the prior one.
type Severity string

const (
	SeverityNone   Severity = ""
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Thresholds configures the jump gates and cross-source divergence bound
// for one data type.
type Thresholds struct {
	H  float64 // MEDIUM severity threshold, fraction (0.25 = 25%)
	H2 float64 // HIGH severity threshold
	D  float64 // cross-source max/min divergence threshold for SOURCE_DIFFERENCE
	// MedianMode enables the batch-level cross-source median check for
	// this data type; disabled by default everywhere (see DESIGN.md).
	MedianMode bool
}

// DefaultThresholds matches §4.11's defaults.
func DefaultThresholds() map[quote.DataType]Thresholds {
	return map[quote.DataType]Thresholds{
		quote.USStock:      {H: 0.25, H2: 0.50, D: 0.05},
		quote.JPStock:      {H: 0.25, H2: 0.50, D: 0.05},
		quote.MutualFund:   {H: 0.10, H2: 0.20, D: 0.03},
		quote.ExchangeRate: {H: 0.05, H2: 0.10, D: 0.02},
	}
}

// Issue describes a flagged reasonableness problem.
type Issue struct {
	Severity Severity
	Kind     string // "absolute-change" or "source-difference"
	Detail   string
}

// Validator evaluates freshly-fetched Quotes against prior cached values.
type Validator struct {
	thresholds map[quote.DataType]Thresholds
}

// New builds a Validator with the given per-dataType thresholds (nil uses
// DefaultThresholds).
func New(thresholds map[quote.DataType]Thresholds) *Validator {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	return &Validator{thresholds: thresholds}
}

func (v *Validator) thresholdFor(dt quote.DataType) Thresholds {
	if t, ok := v.thresholds[dt]; ok {
		return t
	}
	return Thresholds{H: 0.25, H2: 0.50, D: 0.05}
}

// MedianModeEnabled reports whether cross-source median validation is
// opted into for dt.
func (v *Validator) MedianModeEnabled(dt quote.DataType) bool {
	return v.thresholdFor(dt).MedianMode
}

// CheckAbsoluteChange compares fresh against the last cached Quote for the
// same key (prior may be the zero Quote if there was none, in which case
// no issue is ever raised). It reports the gate severity.
func (v *Validator) CheckAbsoluteChange(fresh, prior quote.Quote, hadPrior bool) Issue {
	if !hadPrior || prior.Price == 0 {
		return Issue{}
	}
	t := v.thresholdFor(fresh.DataType)
	changePct := math.Abs(fresh.Price-prior.Price) / math.Abs(prior.Price)

	switch {
	case changePct > t.H2:
		return Issue{Severity: SeverityHigh, Kind: "absolute-change", Detail: "price jump exceeds high threshold"}
	case changePct > t.H:
		return Issue{Severity: SeverityMedium, Kind: "absolute-change", Detail: "price jump exceeds medium threshold"}
	default:
		return Issue{}
	}
}

// CheckCrossSource computes the median of a set of quotes for the same
// symbol returned by different sources in one dispatch, and flags a
// SOURCE_DIFFERENCE issue if the max/min spread (as a fraction of the
// median) exceeds D.
func (v *Validator) CheckCrossSource(dt quote.DataType, quotes []quote.Quote) (median float64, issue Issue) {
	if len(quotes) == 0 {
		return 0, Issue{}
	}
	prices := make([]float64, len(quotes))
	for i, q := range quotes {
		prices[i] = q.Price
	}
	median = medianOf(prices)

	min, max := prices[0], prices[0]
	for _, p := range prices {
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}
	}
	if median == 0 {
		return median, Issue{}
	}
	t := v.thresholdFor(dt)
	if (max-min)/median > t.D {
		return median, Issue{Severity: SeverityHigh, Kind: "source-difference", Detail: "sources diverge beyond threshold"}
	}
	return median, Issue{}
}

func medianOf(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	for i := 0; i < len(sorted); i++ {
		for j := 0; j < len(sorted)-i-1; j++ {
			if sorted[j] > sorted[j+1] {
				sorted[j], sorted[j+1] = sorted[j+1], sorted[j]
			}
		}
	}
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
