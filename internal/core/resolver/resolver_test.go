package resolver_test

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
	"github.com/sawpanic/marketdata/internal/core/errs"
	"github.com/sawpanic/marketdata/internal/core/metrics"
	"github.com/sawpanic/marketdata/internal/core/quote"
	"github.com/sawpanic/marketdata/internal/core/ratelimit"
	"github.com/sawpanic/marketdata/internal/core/resolver"
	"github.com/sawpanic/marketdata/internal/core/sources"
	"github.com/sawpanic/marketdata/internal/core/store"
	"github.com/sawpanic/marketdata/internal/core/synth"
	"github.com/sawpanic/marketdata/internal/core/validator"
)

// scriptedSource is a fake sources.Source whose Fetch behavior is driven
// by a queue of scripted responses, one per call, the last repeating once
// exhausted.
type scriptedSource struct {
	id       string
	dt       quote.DataType
	priority int
	calls    atomic.Int64
	script   []func(symbol string) (quote.Quote, error)
}

func (s *scriptedSource) ID() string                  { return s.id }
func (s *scriptedSource) DataType() quote.DataType    { return s.dt }
func (s *scriptedSource) DefaultPriority() int        { return s.priority }
func (s *scriptedSource) Fetch(ctx context.Context, symbol string) (quote.Quote, error) {
	n := s.calls.Add(1) - 1
	idx := int(n)
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	return s.script[idx](symbol)
}

func okQuote(symbol string, dt quote.DataType, price float64, source string) func(string) (quote.Quote, error) {
	return func(string) (quote.Quote, error) {
		return quote.Quote{Symbol: symbol, DataType: dt, Price: price, Currency: "USD", Source: source, LastUpdated: time.Now()}, nil
	}
}

func failWith(sourceID string, kind quote.ErrorKind) func(string) (quote.Quote, error) {
	return func(string) (quote.Quote, error) {
		return quote.Quote{}, &errs.SourceError{SourceID: sourceID, Kind: kind, Err: context.DeadlineExceeded}
	}
}

type harness struct {
	res       *resolver.Resolver
	cache     *cache.Cache
	blacklist *blacklist.Registry
	registry  *sources.Registry
	fake      *clock.Fake
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithValidator(t, validator.New(validator.DefaultThresholds()))
}

func newHarnessWithValidator(t *testing.T, val *validator.Validator) *harness {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	mem := store.NewMemory()
	ca := cache.New(mem, cache.DefaultTTLPolicy())
	bl := blacklist.New(fake, blacklist.DefaultThresholds())
	reg := sources.NewRegistry()
	sink := metrics.NewSink()
	synthesizer := synth.New(synth.DefaultDefaults())
	circuits := circuit.NewRegistry(circuit.DefaultConfig())
	budgets := budget.NewManager() // no sources registered: Consume always allows
	limiter := ratelimit.NewManager(ratelimit.Limits{QPS: 1000, Burst: 1000})
	throttler := alerts.NewThrottler(alerts.NewLogSink(), fake, time.Minute, 1, 16)
	t.Cleanup(throttler.Close)

	res := resolver.New(resolver.Config{MaxAttempts: 3}, resolver.Deps{
		Clock: fake, Cache: ca, Blacklist: bl, Registry: reg, Metrics: sink,
		Synth: synthesizer, Validator: val, Circuits: circuits, Budgets: budgets,
		Limiter: limiter, Alerts: throttler,
	})
	return &harness{res: res, cache: ca, blacklist: bl, registry: reg, fake: fake}
}

func TestResolve_CacheHit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	key := quote.CacheKey(quote.USStock, "AAPL")
	seeded := quote.Quote{Symbol: "AAPL", DataType: quote.USStock, Price: 150, Currency: "USD", Source: "seed", LastUpdated: h.fake.Now()}
	require.NoError(t, h.cache.Set(ctx, key, seeded, time.Hour))

	got := h.res.Resolve(ctx, quote.USStock, "AAPL", false)
	assert.Equal(t, "Cache", got.Source)
	assert.Equal(t, 150.0, got.Price)
	assert.False(t, got.IsDefault)
}

func TestResolve_FirstSourceSuccess(t *testing.T) {
	h := newHarness(t)
	primary := &scriptedSource{id: "primary", dt: quote.USStock, priority: 0,
		script: []func(string) (quote.Quote, error){okQuote("AAPL", quote.USStock, 200, "primary")}}
	h.registry.Register(primary)

	got := h.res.Resolve(context.Background(), quote.USStock, "AAPL", false)
	assert.Equal(t, "primary", got.Source)
	assert.Equal(t, 200.0, got.Price)
	assert.False(t, got.IsDefault)
	assert.Equal(t, int64(1), primary.calls.Load())
}

func TestResolve_FailoverThenSuccess(t *testing.T) {
	h := newHarness(t)
	primary := &scriptedSource{id: "primary", dt: quote.USStock, priority: 0,
		script: []func(string) (quote.Quote, error){
			failWith("primary", quote.ErrorKindNetwork),
			failWith("primary", quote.ErrorKindNetwork),
			failWith("primary", quote.ErrorKindNetwork),
		}}
	backup := &scriptedSource{id: "backup", dt: quote.USStock, priority: 1,
		script: []func(string) (quote.Quote, error){okQuote("AAPL", quote.USStock, 199, "backup")}}
	h.registry.Register(primary)
	h.registry.Register(backup)

	got := h.res.Resolve(context.Background(), quote.USStock, "AAPL", false)
	assert.Equal(t, "backup", got.Source)
	assert.False(t, got.IsDefault)
	assert.Equal(t, int64(3), primary.calls.Load())
	assert.Equal(t, int64(1), backup.calls.Load())
}

func TestResolve_AllSourcesFailYieldsDefault(t *testing.T) {
	h := newHarness(t)
	only := &scriptedSource{id: "only", dt: quote.USStock, priority: 0,
		script: []func(string) (quote.Quote, error){
			failWith("only", quote.ErrorKindNetwork),
			failWith("only", quote.ErrorKindNetwork),
			failWith("only", quote.ErrorKindNetwork),
		}}
	h.registry.Register(only)

	got := h.res.Resolve(context.Background(), quote.USStock, "ZZZZ", false)
	assert.True(t, got.IsDefault)
	assert.Equal(t, "ZZZZ", got.Symbol)
}

func TestResolve_BlacklistColdPathSkipsSource(t *testing.T) {
	h := newHarness(t)
	src := &scriptedSource{id: "only", dt: quote.USStock, priority: 0,
		script: []func(string) (quote.Quote, error){okQuote("AAPL", quote.USStock, 1, "only")}}
	h.registry.Register(src)

	thresholds := blacklist.DefaultThresholds()[quote.USStock]
	for i := 0; i < thresholds.FailureThreshold; i++ {
		h.blacklist.RecordFailure("AAPL", quote.USStock, context.DeadlineExceeded)
	}
	require.True(t, h.blacklist.IsCold("AAPL", quote.USStock))

	got := h.res.Resolve(context.Background(), quote.USStock, "AAPL", false)
	assert.True(t, got.IsDefault)
	assert.Equal(t, int64(0), src.calls.Load(), "a cold symbol must never reach the source")
}

func TestResolve_MedianModeQueriesEverySourceAndTakesTheMedian(t *testing.T) {
	thresholds := validator.DefaultThresholds()
	t1 := thresholds[quote.USStock]
	t1.MedianMode = true
	thresholds[quote.USStock] = t1
	h := newHarnessWithValidator(t, validator.New(thresholds))

	a := &scriptedSource{id: "a", dt: quote.USStock, priority: 0,
		script: []func(string) (quote.Quote, error){okQuote("AAPL", quote.USStock, 100, "a")}}
	b := &scriptedSource{id: "b", dt: quote.USStock, priority: 1,
		script: []func(string) (quote.Quote, error){okQuote("AAPL", quote.USStock, 102, "b")}}
	c := &scriptedSource{id: "c", dt: quote.USStock, priority: 2,
		script: []func(string) (quote.Quote, error){okQuote("AAPL", quote.USStock, 101, "c")}}
	h.registry.Register(a)
	h.registry.Register(b)
	h.registry.Register(c)

	got := h.res.Resolve(context.Background(), quote.USStock, "AAPL", false)
	assert.Equal(t, 101.0, got.Price)
	assert.False(t, got.IsDefault)
	assert.Equal(t, int64(1), a.calls.Load())
	assert.Equal(t, int64(1), b.calls.Load())
	assert.Equal(t, int64(1), c.calls.Load())
}

func TestResolve_MedianModeFallsBackToDefaultWhenEverySourceFails(t *testing.T) {
	thresholds := validator.DefaultThresholds()
	t1 := thresholds[quote.USStock]
	t1.MedianMode = true
	thresholds[quote.USStock] = t1
	h := newHarnessWithValidator(t, validator.New(thresholds))

	only := &scriptedSource{id: "only", dt: quote.USStock, priority: 0,
		script: []func(string) (quote.Quote, error){
			failWith("only", quote.ErrorKindNetwork),
			failWith("only", quote.ErrorKindNetwork),
			failWith("only", quote.ErrorKindNetwork),
		}}
	h.registry.Register(only)

	got := h.res.Resolve(context.Background(), quote.USStock, "ZZZZ", false)
	assert.True(t, got.IsDefault)
}
