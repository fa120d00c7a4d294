// Package scheduler implements the pre-warm & sweep scheduler (C9): a
// single-flight periodic loop that sweeps the cache and blacklist stores,
// then refreshes each data type's hot set through the dispatcher.
package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketdata/internal/core/alerts"
	"github.com/sawpanic/marketdata/internal/core/blacklist"
	"github.com/sawpanic/marketdata/internal/core/cache"
	"github.com/sawpanic/marketdata/internal/core/dispatcher"
	"github.com/sawpanic/marketdata/internal/core/metrics"
	"github.com/sawpanic/marketdata/internal/core/quote"
	"github.com/sawpanic/marketdata/internal/core/sources"
)

// HotSets configures the small static symbol list per data type kept warm
// by each tick.
type HotSets map[quote.DataType][]string

// DefaultHotSets gives each data type a representative starter set; real
// deployments override this via configuration (§10.4).
func DefaultHotSets() HotSets {
	return HotSets{
		quote.USStock:      {"AAPL", "MSFT", "GOOGL", "AMZN", "META", "NVDA", "TSLA", "JPM", "V", "WMT"},
		quote.JPStock:      {"7203", "9984", "6758", "8306", "9432", "6861", "7974", "4063", "6902", "8035"},
		quote.MutualFund:   {"0331418A", "0431415A", "03311169", "0331C175", "0331119A"},
		quote.ExchangeRate: {"USD-JPY", "EUR-JPY", "GBP-JPY", "USD-EUR", "AUD-JPY"},
	}
}

// Summary reports one tick's outcome.
type Summary struct {
	StartedAt       time.Time
	Duration        time.Duration
	CacheSwept      int
	BlacklistSwept  int
	PerDataType     map[quote.DataType]BatchSummary
	AggregateFailRt float64
}

// BatchSummary reports one data type's hot-set refresh outcome.
type BatchSummary struct {
	Total     int
	Defaulted int
}

// Scheduler owns the single-flight tick loop.
type Scheduler struct {
	cache      *cache.Cache
	blacklist  *blacklist.Registry
	dispatcher *dispatcher.Dispatcher
	alertSink  *alerts.Throttler
	registry   *sources.Registry
	metrics    *metrics.Sink
	hotSets    HotSets
	interval   time.Duration

	running atomic.Bool
	lastRun atomic.Value // Summary
}

// Deps bundles the Scheduler's collaborators for construction. Registry
// and Metrics are optional: a nil Registry skips the reliability reorder
// step of each tick.
type Deps struct {
	Cache      *cache.Cache
	Blacklist  *blacklist.Registry
	Dispatcher *dispatcher.Dispatcher
	Alerts     *alerts.Throttler
	Registry   *sources.Registry
	Metrics    *metrics.Sink
	HotSets    HotSets
	Interval   time.Duration // default 1h
}

func New(d Deps) *Scheduler {
	hotSets := d.HotSets
	if hotSets == nil {
		hotSets = DefaultHotSets()
	}
	interval := d.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	return &Scheduler{
		cache:      d.Cache,
		blacklist:  d.Blacklist,
		dispatcher: d.Dispatcher,
		alertSink:  d.Alerts,
		registry:   d.Registry,
		metrics:    d.Metrics,
		hotSets:    hotSets,
		interval:   interval,
	}
}

// Run blocks, ticking every Interval until ctx is cancelled. A tick that
// is still running when the next one is due is skipped rather than
// queued, preventing overlapping pre-warm storms; a skipped tick is not
// made up later.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.running.CompareAndSwap(false, true) {
				log.Warn().Msg("scheduler tick skipped: previous tick still running")
				continue
			}
			go func() {
				defer s.running.Store(false)
				s.RunOnce(ctx)
			}()
		}
	}
}

// RunOnce performs one tick's three steps synchronously and records the
// Summary, for both the ticking loop and a manually-triggered preWarm()
// call (§6's public API surface).
func (s *Scheduler) RunOnce(ctx context.Context) Summary {
	start := time.Now().UTC()
	summary := Summary{StartedAt: start, PerDataType: make(map[quote.DataType]BatchSummary)}

	if n, err := s.cache.Sweep(ctx); err != nil {
		log.Warn().Err(err).Msg("cache sweep error")
	} else {
		summary.CacheSwept = n
	}
	summary.BlacklistSwept = s.blacklist.Sweep()

	if s.registry != nil {
		for _, dt := range s.registry.DataTypes() {
			s.registry.Reconcile(dt, s.metrics)
		}
	}

	var totalFailed, totalSymbols int
	for dt, hotSet := range s.hotSets {
		if len(hotSet) == 0 {
			continue
		}
		results := s.dispatcher.GetQuotes(ctx, dt, hotSet, true)
		defaulted := 0
		for _, q := range results {
			if q.IsDefault {
				defaulted++
			}
		}
		summary.PerDataType[dt] = BatchSummary{Total: len(results), Defaulted: defaulted}
		totalFailed += defaulted
		totalSymbols += len(results)
	}

	if totalSymbols > 0 {
		summary.AggregateFailRt = float64(totalFailed) / float64(totalSymbols)
	}
	summary.Duration = time.Since(start)

	log.Info().
		Int("cacheSwept", summary.CacheSwept).
		Int("blacklistSwept", summary.BlacklistSwept).
		Float64("aggregateFailRate", summary.AggregateFailRt).
		Dur("duration", summary.Duration).
		Msg("pre-warm tick complete")

	if summary.AggregateFailRt >= 0.20 && s.alertSink != nil {
		s.alertSink.Emit("scheduler|aggregate-failure-rate", alerts.SeverityWarning, "pre-warm", "aggregate failure rate across data types exceeded 20%")
	}

	s.lastRun.Store(summary)
	return summary
}

// LastRun returns the most recently recorded tick Summary, or the zero
// value if none has run yet.
func (s *Scheduler) LastRun() (Summary, bool) {
	v := s.lastRun.Load()
	if v == nil {
		return Summary{}, false
	}
	return v.(Summary), true
}
