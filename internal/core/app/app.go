// Package app is the composition root (§6's public API surface): it wires
// every component built from configuration into a ready-to-use App and
// exposes the handful of operations the CLI and scheduler loop call.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/marketdata/internal/core/alerts"
	"github.com/sawpanic/marketdata/internal/core/blacklist"
	"github.com/sawpanic/marketdata/internal/core/budget"
	"github.com/sawpanic/marketdata/internal/core/cache"
	"github.com/sawpanic/marketdata/internal/core/circuit"
	"github.com/sawpanic/marketdata/internal/core/clock"
	"github.com/sawpanic/marketdata/internal/core/config"
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

// App bundles every wired component. Its exported fields let the CLI and
// tests reach individual collaborators (e.g. for a status report) without
// every operation needing its own accessor method.
type App struct {
	Config     *config.Config
	Clock      clock.Clock
	Store      store.Store
	Cache      *cache.Cache
	Blacklist  *blacklist.Registry
	Registry   *sources.Registry
	Metrics    *metrics.Sink
	Synth      *synth.Synthesizer
	Validator  *validator.Validator
	Circuits   *circuit.Registry
	Budgets    *budget.Manager
	Limiter    *ratelimit.Manager
	Alerts     *alerts.Throttler
	Resolver   *resolver.Resolver
	Dispatcher *dispatcher.Dispatcher
	Scheduler  *scheduler.Scheduler
}

// Build wires a full App from cfg. The returned App owns no background
// goroutines beyond the alert throttler's delivery workers; starting the
// scheduler's tick loop is the caller's responsibility (Run).
func Build(cfg *config.Config) (*App, error) {
	c := clock.Real{}

	backend, err := buildStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("build store: %w", err)
	}

	ttls := cache.TTLPolicy{}
	for name, dt := range cfg.DataTypes {
		ttls[quote.DataType(name)] = time.Duration(dt.TTLSeconds) * time.Second
	}
	ca := cache.New(backend, ttls)

	blThresholds := map[quote.DataType]blacklist.Thresholds{}
	validatorThresholds := map[quote.DataType]validator.Thresholds{}
	hotSets := scheduler.HotSets{}
	workers := dispatcher.WorkerCounts{}
	for name, dt := range cfg.DataTypes {
		dataType := quote.DataType(name)
		blThresholds[dataType] = blacklist.Thresholds{
			FailureThreshold: dt.FailureThreshold,
			CooldownWindow:   time.Duration(dt.CooldownSeconds) * time.Second,
		}
		validatorThresholds[dataType] = validator.Thresholds{
			H: dt.ValidatorH, H2: dt.ValidatorH2, D: dt.ValidatorD, MedianMode: dt.MedianMode,
		}
		if len(dt.HotSet) > 0 {
			hotSets[dataType] = dt.HotSet
		}
		workers[dataType] = dt.Workers
	}

	bl := blacklist.New(c, blThresholds)
	registry := sources.NewRegistry()
	sink := metrics.NewSink()
	synthesizer := synth.New(synth.DefaultDefaults())
	val := validator.New(validatorThresholds)
	circuits := circuit.NewRegistry(circuit.DefaultConfig())
	budgets := budget.NewManager()
	limiter := ratelimit.NewManager(ratelimit.Limits{QPS: 5, Burst: 1})

	for _, sc := range cfg.Sources {
		dt := quote.DataType(sc.DataType)
		if sc.RateLimitQPS > 0 {
			limiter.Configure(sc.ID, dt, ratelimit.Limits{QPS: sc.RateLimitQPS, Burst: sc.RateLimitBurst})
		}
		if sc.DailyBudget > 0 {
			resetHour := sc.BudgetResetHourUTC
			warn := sc.BudgetWarnThreshold
			if warn <= 0 {
				warn = 0.8
			}
			budgets.Register(sc.ID, sc.DailyBudget, resetHour, warn)
		}
		if sc.CircuitConsecutive > 0 {
			circuits.Configure(sc.ID, dt, circuit.Config{
				MaxRequests:         maxUint32(sc.CircuitMaxRequests, 1),
				Interval:            durOrDefault(sc.CircuitIntervalSec, 60*time.Second),
				Timeout:             durOrDefault(sc.CircuitTimeoutSec, 30*time.Second),
				ConsecutiveFailures: maxUint32(sc.CircuitConsecutive, 3),
			})
		}
	}
	registerDefaultSources(registry, cfg)

	var alertSink alerts.Sink = alerts.NewLogSink()
	if cfg.Alerts.ArtifactPath != "" {
		alertSink = alerts.NewArtifactSink(cfg.Alerts.ArtifactPath)
	}
	throttler := alerts.NewThrottler(alertSink, c, time.Duration(cfg.Alerts.DefaultWindowSeconds)*time.Second, 2, 64)
	for prefix, secs := range cfg.Alerts.WindowsByPrefix {
		throttler.ConfigureWindow(prefix, time.Duration(secs)*time.Second)
	}

	res := resolver.New(resolver.Config{MaxAttempts: cfg.Retry.MaxAttempts}, resolver.Deps{
		Clock: c, Cache: ca, Blacklist: bl, Registry: registry, Metrics: sink,
		Synth: synthesizer, Validator: val, Circuits: circuits, Budgets: budgets,
		Limiter: limiter, Alerts: throttler,
	})

	disp := dispatcher.New(dispatcher.Deps{
		Resolver: res, Cache: ca, Blacklist: bl, Synth: synthesizer,
		Workers: workers, Alerts: throttler,
	})

	sched := scheduler.New(scheduler.Deps{
		Cache: ca, Blacklist: bl, Dispatcher: disp, Alerts: throttler,
		Registry: registry, Metrics: sink,
		HotSets: hotSets, Interval: cfg.PreWarmInterval(),
	})

	return &App{
		Config: cfg, Clock: c, Store: backend, Cache: ca, Blacklist: bl,
		Registry: registry, Metrics: sink, Synth: synthesizer, Validator: val,
		Circuits: circuits, Budgets: budgets, Limiter: limiter, Alerts: throttler,
		Resolver: res, Dispatcher: disp, Scheduler: sched,
	}, nil
}

// GetQuote resolves a single symbol (§6's getQuote).
func (a *App) GetQuote(ctx context.Context, dt quote.DataType, symbol string, refresh bool) quote.Quote {
	return a.Dispatcher.GetQuote(ctx, dt, symbol, refresh)
}

// GetQuotes resolves a batch of symbols (§6's getQuotes).
func (a *App) GetQuotes(ctx context.Context, dt quote.DataType, symbols []string, refresh bool) map[string]quote.Quote {
	return a.Dispatcher.GetQuotes(ctx, dt, symbols, refresh)
}

// Invalidate evicts a symbol's cached entry so the next Resolve bypasses
// the cache, matching §6's invalidate operation.
func (a *App) Invalidate(ctx context.Context, dt quote.DataType, symbol string) error {
	return a.Cache.Delete(ctx, quote.CacheKey(dt, symbol))
}

// PreWarm runs one scheduler tick synchronously (§6's preWarm).
func (a *App) PreWarm(ctx context.Context) scheduler.Summary {
	return a.Scheduler.RunOnce(ctx)
}

// Run starts the scheduler's tick loop, blocking until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	a.Scheduler.Run(ctx)
}

// Close releases the underlying store and alert delivery workers.
func (a *App) Close() error {
	a.Alerts.Close()
	return a.Store.Close()
}

func buildStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return store.NewMemory(), nil
	case "redis":
		return store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// registerDefaultSources wires one illustrative reference fetcher per
// data type (§10.6) unless configuration names sources explicitly, in
// which case it registers the configured source IDs as reference
// fetchers pointed at placeholder endpoints; a real deployment supplies
// its own Source implementations for production endpoints.
func registerDefaultSources(registry *sources.Registry, cfg *config.Config) {
	configured := map[quote.DataType]bool{}
	for _, sc := range cfg.Sources {
		dt := quote.DataType(sc.DataType)
		configured[dt] = true
		registerFetcherFor(registry, dt, sc.ID, sc.ID)
	}
	for name := range cfg.DataTypes {
		dt := quote.DataType(name)
		if configured[dt] {
			continue
		}
		registerFetcherFor(registry, dt, "primary", "primary")
	}
}

func registerFetcherFor(registry *sources.Registry, dt quote.DataType, id, baseURLHost string) {
	baseURL := "https://" + baseURLHost + ".invalid/quote"
	switch dt {
	case quote.USStock, quote.JPStock:
		currency := "USD"
		if dt == quote.JPStock {
			currency = "JPY"
		}
		registry.Register(sources.NewEquityFetcher(id, dt, baseURL, currency, 0))
	case quote.MutualFund:
		registry.Register(sources.NewMutualFundFetcher(id, baseURL, 0))
	case quote.ExchangeRate:
		registry.Register(sources.NewExchangeRateFetcher(id, baseURL, 0))
	}
}

func maxUint32(v uint32, min uint32) uint32 {
	if v == 0 {
		return min
	}
	return v
}

func durOrDefault(seconds int, def time.Duration) time.Duration {
	if seconds <= 0 {
		return def
	}
	return time.Duration(seconds) * time.Second
}
