package dispatcher_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata/internal/core/alerts"
	"github.com/sawpanic/marketdata/internal/core/blacklist"
	"github.com/sawpanic/marketdata/internal/core/budget"
	"github.com/sawpanic/marketdata/internal/core/cache"
	"github.com/sawpanic/marketdata/internal/core/circuit"
	"github.com/sawpanic/marketdata/internal/core/clock"
	"github.com/sawpanic/marketdata/internal/core/dispatcher"
	"github.com/sawpanic/marketdata/internal/core/metrics"
	"github.com/sawpanic/marketdata/internal/core/quote"
	"github.com/sawpanic/marketdata/internal/core/ratelimit"
	"github.com/sawpanic/marketdata/internal/core/resolver"
	"github.com/sawpanic/marketdata/internal/core/sources"
	"github.com/sawpanic/marketdata/internal/core/store"
	"github.com/sawpanic/marketdata/internal/core/synth"
	"github.com/sawpanic/marketdata/internal/core/validator"
)

type fxSource struct {
	id  string
	dt  quote.DataType
	qps float64
}

func (f *fxSource) ID() string               { return f.id }
func (f *fxSource) DataType() quote.DataType { return f.dt }
func (f *fxSource) DefaultPriority() int     { return 0 }
func (f *fxSource) Fetch(ctx context.Context, symbol string) (quote.Quote, error) {
	return quote.Quote{Symbol: symbol, DataType: f.dt, Price: 150, Currency: "JPY", Source: f.id, LastUpdated: time.Now(), Pair: symbol}, nil
}

func buildDispatcher(t *testing.T, qps float64, src sources.Source) (*dispatcher.Dispatcher, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Now())
	mem := store.NewMemory()
	ca := cache.New(mem, cache.DefaultTTLPolicy())
	bl := blacklist.New(fake, blacklist.DefaultThresholds())
	reg := sources.NewRegistry()
	reg.Register(src)
	sink := metrics.NewSink()
	synthesizer := synth.New(synth.DefaultDefaults())
	val := validator.New(validator.DefaultThresholds())
	circuits := circuit.NewRegistry(circuit.DefaultConfig())
	budgets := budget.NewManager()
	limiter := ratelimit.NewManager(ratelimit.Limits{QPS: qps, Burst: 1})
	throttler := alerts.NewThrottler(alerts.NewLogSink(), fake, time.Minute, 1, 16)
	t.Cleanup(throttler.Close)

	res := resolver.New(resolver.Config{MaxAttempts: 1}, resolver.Deps{
		Clock: fake, Cache: ca, Blacklist: bl, Registry: reg, Metrics: sink,
		Synth: synthesizer, Validator: val, Circuits: circuits, Budgets: budgets,
		Limiter: limiter, Alerts: throttler,
	})
	disp := dispatcher.New(dispatcher.Deps{
		Resolver: res, Cache: ca, Blacklist: bl, Synth: synthesizer,
		Workers: dispatcher.WorkerCounts{quote.ExchangeRate: 4},
	})
	return disp, fake
}

func TestGetQuotes_ExchangeRateBatchPacing(t *testing.T) {
	src := &fxSource{id: "fx-primary", dt: quote.ExchangeRate, qps: 100}
	disp, _ := buildDispatcher(t, 100, src)

	pairs := []string{"USD-JPY", "EUR-JPY", "GBP-JPY", "USD-EUR", "AUD-JPY"}
	results := disp.GetQuotes(context.Background(), quote.ExchangeRate, pairs, false)

	require.Len(t, results, len(pairs))
	for _, p := range pairs {
		q, ok := results[p]
		require.True(t, ok)
		assert.False(t, q.IsDefault)
		assert.Equal(t, "fx-primary", q.Source)
	}
}

func TestGetQuotes_DedupesInput(t *testing.T) {
	var calls int32
	src := &countingSource{id: "x", dt: quote.USStock, calls: &calls}
	disp, _ := buildDispatcher(t, 1000, src)

	results := disp.GetQuotes(context.Background(), quote.USStock, []string{"AAPL", "AAPL", "AAPL"}, false)
	assert.Len(t, results, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type countingSource struct {
	id    string
	dt    quote.DataType
	calls *int32
}

func (c *countingSource) ID() string               { return c.id }
func (c *countingSource) DataType() quote.DataType { return c.dt }
func (c *countingSource) DefaultPriority() int     { return 0 }
func (c *countingSource) Fetch(ctx context.Context, symbol string) (quote.Quote, error) {
	atomic.AddInt32(c.calls, 1)
	return quote.Quote{Symbol: symbol, DataType: c.dt, Price: 1, Currency: "USD", Source: c.id, LastUpdated: time.Now()}, nil
}
