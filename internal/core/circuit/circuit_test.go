package circuit_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata/internal/core/circuit"
	"github.com/sawpanic/marketdata/internal/core/quote"
)

func TestRegistry_TripsAfterConsecutiveFailures(t *testing.T) {
	reg := circuit.NewRegistry(circuit.Config{
		MaxRequests: 1, Interval: time.Minute, Timeout: time.Hour, ConsecutiveFailures: 3,
	})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_, err := reg.Execute("src", quote.USStock, func() (quote.Quote, error) { return quote.Quote{}, boom })
		require.Error(t, err)
	}

	assert.True(t, reg.IsOpen("src", quote.USStock))
}

func TestRegistry_StaysClosedOnSuccess(t *testing.T) {
	reg := circuit.NewRegistry(circuit.DefaultConfig())
	for i := 0; i < 10; i++ {
		_, err := reg.Execute("src", quote.USStock, func() (quote.Quote, error) {
			return quote.Quote{Symbol: "AAPL"}, nil
		})
		require.NoError(t, err)
	}
	assert.False(t, reg.IsOpen("src", quote.USStock))
}

func TestRegistry_PerPairIsolation(t *testing.T) {
	reg := circuit.NewRegistry(circuit.Config{
		MaxRequests: 1, Interval: time.Minute, Timeout: time.Hour, ConsecutiveFailures: 2,
	})
	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		_, _ = reg.Execute("src", quote.USStock, func() (quote.Quote, error) { return quote.Quote{}, boom })
	}
	assert.True(t, reg.IsOpen("src", quote.USStock))
	assert.False(t, reg.IsOpen("src", quote.JPStock), "a trip for one data type must not affect another")
}
