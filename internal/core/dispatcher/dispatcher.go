// Package dispatcher implements the batch dispatcher (C8): bounded-worker
// fan-out over a symbol list with cache/blacklist pre-checks, per-symbol
// coalescing, and aggregate failure-rate alerting.
package dispatcher

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/marketdata/internal/core/alerts"
	"github.com/sawpanic/marketdata/internal/core/blacklist"
	"github.com/sawpanic/marketdata/internal/core/cache"
	"github.com/sawpanic/marketdata/internal/core/quote"
	"github.com/sawpanic/marketdata/internal/core/resolver"
	"github.com/sawpanic/marketdata/internal/core/synth"
)

// WorkerCounts configures the worker pool size per data type (§4.8 step 3).
type WorkerCounts map[quote.DataType]int

// DefaultWorkerCounts matches the spec's defaults.
func DefaultWorkerCounts() WorkerCounts {
	return WorkerCounts{
		quote.USStock:      8,
		quote.JPStock:      4,
		quote.MutualFund:   4,
		quote.ExchangeRate: 4,
	}
}

// AlertPolicy configures the batch-level high-failure-rate alert (§4.8
// step 6).
type AlertPolicy struct {
	FailureRateThreshold float64
	MinBatchSize         int
}

func DefaultAlertPolicy() AlertPolicy {
	return AlertPolicy{FailureRateThreshold: 0.20, MinBatchSize: 10}
}

// Dispatcher fans a batch of symbols out across a bounded worker pool,
// pre-checking cache and blacklist state before spending a worker slot.
type Dispatcher struct {
	resolver  *resolver.Resolver
	cache     *cache.Cache
	blacklist *blacklist.Registry
	synth     *synth.Synthesizer
	workers   WorkerCounts
	alertPol  AlertPolicy
	alertSink *alerts.Throttler
}

// Deps bundles the Dispatcher's collaborators for construction.
type Deps struct {
	Resolver  *resolver.Resolver
	Cache     *cache.Cache
	Blacklist *blacklist.Registry
	Synth     *synth.Synthesizer
	Workers   WorkerCounts
	AlertPol  AlertPolicy
	Alerts    *alerts.Throttler
}

func New(d Deps) *Dispatcher {
	workers := d.Workers
	if workers == nil {
		workers = DefaultWorkerCounts()
	}
	alertPol := d.AlertPol
	if alertPol.FailureRateThreshold == 0 && alertPol.MinBatchSize == 0 {
		alertPol = DefaultAlertPolicy()
	}
	return &Dispatcher{
		resolver:  d.Resolver,
		cache:     d.Cache,
		blacklist: d.Blacklist,
		synth:     d.Synth,
		workers:   workers,
		alertPol:  alertPol,
		alertSink: d.Alerts,
	}
}

func (d *Dispatcher) workerCount(dt quote.DataType) int {
	if n, ok := d.workers[dt]; ok && n > 0 {
		return n
	}
	return 4
}

// GetQuotes resolves every symbol in symbols (deduplicated) and returns a
// map with exactly one entry per unique input symbol. It never returns an
// error: unresolvable symbols get a default Quote. Cancellation before any
// worker starts yields an all-default map with no upstream calls.
func (d *Dispatcher) GetQuotes(ctx context.Context, dataType quote.DataType, symbols []string, refresh bool) map[string]quote.Quote {
	result := make(map[string]quote.Quote)
	if len(symbols) == 0 {
		return result
	}

	unique := dedupe(symbols)

	var mu sync.Mutex
	remaining := make([]string, 0, len(unique))

	// Pre-check caches in bulk; fresh hits short-circuit without
	// consuming a worker slot.
	if !refresh {
		for _, s := range unique {
			key := quote.CacheKey(dataType, s)
			if r, found, err := d.cache.Get(ctx, key); err == nil && found {
				q := r.Payload
				q.Source = "Cache"
				mu.Lock()
				result[s] = q
				mu.Unlock()
				continue
			}
			remaining = append(remaining, s)
		}
	} else {
		remaining = unique
	}

	// Blacklist split: cold symbols go straight to a default without
	// spending a worker slot or counting as a new failure.
	var toDispatch []string
	for _, s := range remaining {
		if d.blacklist.IsCold(s, dataType) {
			mu.Lock()
			result[s] = d.synth.Synthesize(s, dataType)
			mu.Unlock()
			continue
		}
		toDispatch = append(toDispatch, s)
	}

	if len(toDispatch) == 0 {
		return result
	}

	if err := ctx.Err(); err != nil {
		for _, s := range toDispatch {
			mu.Lock()
			result[s] = d.synth.Synthesize(s, dataType)
			mu.Unlock()
		}
		return result
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	workerN := d.workerCount(dataType)
	if workerN > len(toDispatch) {
		workerN = len(toDispatch)
	}

	for i := 0; i < workerN; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				q := d.resolver.Resolve(ctx, dataType, symbol, refresh)
				mu.Lock()
				result[symbol] = q
				mu.Unlock()
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, s := range toDispatch {
			select {
			case jobs <- s:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()

	// Any symbol that never got a result because the context was
	// cancelled mid-dispatch still needs an entry (§5 cancellation).
	for _, s := range toDispatch {
		if _, ok := result[s]; !ok {
			result[s] = d.synth.Synthesize(s, dataType)
		}
	}

	d.maybeAlert(dataType, unique, result)
	return result
}

// GetQuote resolves a single symbol via the dispatcher, a convenience
// wrapper matching the public API surface's getQuote.
func (d *Dispatcher) GetQuote(ctx context.Context, dataType quote.DataType, symbol string, refresh bool) quote.Quote {
	out := d.GetQuotes(ctx, dataType, []string{symbol}, refresh)
	return out[symbol]
}

func (d *Dispatcher) maybeAlert(dataType quote.DataType, symbols []string, result map[string]quote.Quote) {
	if d.alertSink == nil || len(symbols) < d.alertPol.MinBatchSize {
		return
	}
	failures := 0
	for _, s := range symbols {
		if q, ok := result[s]; ok && q.IsDefault {
			failures++
		}
	}
	rate := float64(failures) / float64(len(symbols))
	if rate <= d.alertPol.FailureRateThreshold {
		return
	}
	log.Warn().Str("dataType", string(dataType)).Float64("failureRate", rate).Msg("batch high failure rate")
	key := string(dataType) + "|high-failure-rate"
	d.alertSink.Emit(key, alerts.SeverityWarning, "high-failure-rate", "batch failure rate exceeded threshold")
}

func dedupe(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
