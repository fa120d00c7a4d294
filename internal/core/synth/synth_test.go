package synth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sawpanic/marketdata/internal/core/quote"
	"github.com/sawpanic/marketdata/internal/core/synth"
)

func TestSynthesize_EquityUsesZeroPriceAndIsFlagged(t *testing.T) {
	s := synth.New(synth.DefaultDefaults())
	q := s.Synthesize("AAPL", quote.USStock)
	assert.True(t, q.IsDefault)
	assert.Equal(t, 0.0, q.Price)
	assert.Equal(t, "USD", q.Currency)
}

func TestSynthesize_ExchangeRateIdentityPair(t *testing.T) {
	s := synth.New(synth.DefaultDefaults())
	q := s.Synthesize("JPY-JPY", quote.ExchangeRate)
	assert.True(t, q.IsDefault)
	assert.Equal(t, 1.0, q.Price)
}

func TestSynthesize_ExchangeRateKnownPair(t *testing.T) {
	s := synth.New(synth.DefaultDefaults())
	q := s.Synthesize("USD-JPY", quote.ExchangeRate)
	assert.True(t, q.IsDefault)
	assert.Equal(t, 150.0, q.Price)
	assert.Equal(t, "USD", q.Base)
	assert.Equal(t, "JPY", q.Target)
}

func TestSynthesize_NeverErrors(t *testing.T) {
	s := synth.New(synth.DefaultDefaults())
	q := s.Synthesize("not-a-real-pair", quote.ExchangeRate)
	assert.True(t, q.IsDefault)
	assert.GreaterOrEqual(t, q.Price, 0.0)
}
