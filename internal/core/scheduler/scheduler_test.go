package scheduler_test

import (
	"context"
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
	"github.com/sawpanic/marketdata/internal/core/scheduler"
	"github.com/sawpanic/marketdata/internal/core/sources"
	"github.com/sawpanic/marketdata/internal/core/store"
	"github.com/sawpanic/marketdata/internal/core/synth"
	"github.com/sawpanic/marketdata/internal/core/validator"
)

type alwaysOKSource struct{ dt quote.DataType }

func (s *alwaysOKSource) ID() string               { return "ok" }
func (s *alwaysOKSource) DataType() quote.DataType { return s.dt }
func (s *alwaysOKSource) DefaultPriority() int     { return 0 }
func (s *alwaysOKSource) Fetch(ctx context.Context, symbol string) (quote.Quote, error) {
	return quote.Quote{Symbol: symbol, DataType: s.dt, Price: 1, Currency: "USD", Source: "ok", LastUpdated: time.Now()}, nil
}

func TestRunOnce_RefreshesHotSetAndReportsSummary(t *testing.T) {
	fake := clock.NewFake(time.Now())
	mem := store.NewMemory()
	ca := cache.New(mem, cache.DefaultTTLPolicy())
	bl := blacklist.New(fake, blacklist.DefaultThresholds())
	reg := sources.NewRegistry()
	reg.Register(&alwaysOKSource{dt: quote.USStock})
	sink := metrics.NewSink()
	synthesizer := synth.New(synth.DefaultDefaults())
	val := validator.New(validator.DefaultThresholds())
	circuits := circuit.NewRegistry(circuit.DefaultConfig())
	budgets := budget.NewManager()
	limiter := ratelimit.NewManager(ratelimit.Limits{QPS: 1000, Burst: 1000})
	throttler := alerts.NewThrottler(alerts.NewLogSink(), fake, time.Minute, 1, 16)
	defer throttler.Close()

	res := resolver.New(resolver.Config{MaxAttempts: 1}, resolver.Deps{
		Clock: fake, Cache: ca, Blacklist: bl, Registry: reg, Metrics: sink,
		Synth: synthesizer, Validator: val, Circuits: circuits, Budgets: budgets,
		Limiter: limiter, Alerts: throttler,
	})
	disp := dispatcher.New(dispatcher.Deps{Resolver: res, Cache: ca, Blacklist: bl, Synth: synthesizer})

	sched := scheduler.New(scheduler.Deps{
		Cache: ca, Blacklist: bl, Dispatcher: disp, Alerts: throttler,
		HotSets: scheduler.HotSets{quote.USStock: {"AAPL", "MSFT"}},
		Interval: time.Hour,
	})

	summary := sched.RunOnce(context.Background())
	require.Contains(t, summary.PerDataType, quote.USStock)
	assert.Equal(t, 2, summary.PerDataType[quote.USStock].Total)
	assert.Equal(t, 0, summary.PerDataType[quote.USStock].Defaulted)
	assert.Equal(t, 0.0, summary.AggregateFailRt)

	last, ok := sched.LastRun()
	require.True(t, ok)
	assert.Equal(t, summary.StartedAt, last.StartedAt)
}
