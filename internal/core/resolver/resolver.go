// Package resolver implements the single-symbol resolver (C7): the
// orchestration of cache, blacklist, source registry, metrics, and
// fallback synthesis described in §4.7.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

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
	"github.com/sawpanic/marketdata/internal/core/sources"
	"github.com/sawpanic/marketdata/internal/core/synth"
	"github.com/sawpanic/marketdata/internal/core/validator"
)

// Config tunes the resolver's retry policy.
type Config struct {
	MaxAttempts int // per-source retry budget, default 3
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 3}
}

var errValidationHigh = errors.New("validator: HIGH severity absolute-change gate")

// Resolver orchestrates C2 through C6 for one symbol at a time.
type Resolver struct {
	cfg        Config
	clock      clock.Clock
	cache      *cache.Cache
	blacklist  *blacklist.Registry
	registry   *sources.Registry
	metrics    *metrics.Sink
	synth      *synth.Synthesizer
	validator  *validator.Validator
	circuits   *circuit.Registry
	budgets    *budget.Manager
	limiter    *ratelimit.Manager
	alertSink  *alerts.Throttler
}

// Deps bundles the Resolver's collaborators for construction.
type Deps struct {
	Clock     clock.Clock
	Cache     *cache.Cache
	Blacklist *blacklist.Registry
	Registry  *sources.Registry
	Metrics   *metrics.Sink
	Synth     *synth.Synthesizer
	Validator *validator.Validator
	Circuits  *circuit.Registry
	Budgets   *budget.Manager
	Limiter   *ratelimit.Manager
	Alerts    *alerts.Throttler
}

// New builds a Resolver from its dependencies.
func New(cfg Config, d Deps) *Resolver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Resolver{
		cfg:       cfg,
		clock:     d.Clock,
		cache:     d.Cache,
		blacklist: d.Blacklist,
		registry:  d.Registry,
		metrics:   d.Metrics,
		synth:     d.Synth,
		validator: d.Validator,
		circuits:  d.Circuits,
		budgets:   d.Budgets,
		limiter:   d.Limiter,
		alertSink: d.Alerts,
	}
}

// Resolve runs the §4.7 algorithm for one (dataType, symbol) pair.
func (r *Resolver) Resolve(ctx context.Context, dataType quote.DataType, symbol string, refresh bool) quote.Quote {
	key := quote.CacheKey(dataType, symbol)

	if !refresh {
		if result, found, err := r.cache.Get(ctx, key); err == nil && found {
			q := result.Payload
			q.Source = "Cache"
			return q
		}
		// A cache error is treated as a miss (availability over
		// freshness); fall through to upstream resolution.
	}

	if r.blacklist.IsCold(symbol, dataType) {
		return r.synthesizeAndCache(ctx, key, symbol, dataType)
	}

	if err := ctx.Err(); err != nil {
		return r.synthesizeAndCache(ctx, key, symbol, dataType)
	}

	if r.validator != nil && r.validator.MedianModeEnabled(dataType) {
		return r.resolveMedian(ctx, key, symbol, dataType)
	}

	var lastErr error
	for _, src := range r.registry.SourcesFor(dataType) {
		if ctx.Err() != nil {
			return r.synthesizeAndCache(ctx, key, symbol, dataType)
		}

		if r.circuits != nil && r.circuits.IsOpen(src.ID(), dataType) {
			r.metrics.RecordCircuitSkip(src.ID(), dataType)
			continue
		}
		if r.budgets != nil {
			if err := r.budgets.Consume(src.ID()); err != nil {
				var exhausted *budget.ExhaustedError
				if errors.As(err, &exhausted) {
					lastErr = err
					continue
				}
				// A WarningError still allows the attempt through.
				log.Warn().Str("source", src.ID()).Err(err).Msg("source budget warning")
			}
		}

		q, err := r.attemptSource(ctx, src, symbol, dataType)
		if err == nil {
			r.blacklist.RecordSuccess(symbol, dataType)
			if err := r.cache.Set(ctx, key, q, 0); err != nil {
				log.Warn().Str("key", key).Err(err).Msg("cache write failed after successful fetch")
			}
			_ = r.cache.StoreSnapshot(ctx, key, q, r.clock.Now())
			return q
		}
		lastErr = err
	}

	r.blacklist.RecordFailure(symbol, dataType, &errs.ExhaustedError{DataType: dataType, Symbol: symbol, Last: lastErr})
	return r.synthesizeAndCache(ctx, key, symbol, dataType)
}

// resolveMedian runs every eligible source for dataType instead of
// stopping at the first success, then applies the cross-source median and
// divergence check over whatever succeeded (§4.11's opt-in median mode).
// The cached result carries the median price with the first successful
// quote's other fields; its Source names the sources that contributed.
func (r *Resolver) resolveMedian(ctx context.Context, key, symbol string, dataType quote.DataType) quote.Quote {
	var (
		quotes  []quote.Quote
		lastErr error
	)
	for _, src := range r.registry.SourcesFor(dataType) {
		if ctx.Err() != nil {
			break
		}
		if r.circuits != nil && r.circuits.IsOpen(src.ID(), dataType) {
			r.metrics.RecordCircuitSkip(src.ID(), dataType)
			continue
		}
		if r.budgets != nil {
			if err := r.budgets.Consume(src.ID()); err != nil {
				var exhausted *budget.ExhaustedError
				if errors.As(err, &exhausted) {
					lastErr = err
					continue
				}
				log.Warn().Str("source", src.ID()).Err(err).Msg("source budget warning")
			}
		}

		q, err := r.attemptSource(ctx, src, symbol, dataType)
		if err != nil {
			lastErr = err
			continue
		}
		quotes = append(quotes, q)
	}

	if len(quotes) == 0 {
		r.blacklist.RecordFailure(symbol, dataType, &errs.ExhaustedError{DataType: dataType, Symbol: symbol, Last: lastErr})
		return r.synthesizeAndCache(ctx, key, symbol, dataType)
	}
	r.blacklist.RecordSuccess(symbol, dataType)

	median, issue := r.validator.CheckCrossSource(dataType, quotes)
	if issue.Severity == validator.SeverityHigh {
		r.emitValidationAlert(symbol, dataType, issue)
	}

	result := quotes[0]
	result.Price = median
	result.Source = fmt.Sprintf("Median(%d)", len(quotes))

	if err := r.cache.Set(ctx, key, result, 0); err != nil {
		log.Warn().Str("key", key).Err(err).Msg("cache write failed after median resolve")
	}
	_ = r.cache.StoreSnapshot(ctx, key, result, r.clock.Now())
	return result
}

// attemptSource runs one source's retry-guarded fetch and, on success,
// applies the validator's absolute-change gate.
func (r *Resolver) attemptSource(ctx context.Context, src sources.Source, symbol string, dataType quote.DataType) (quote.Quote, error) {
	retryer := &clock.Retryer{Clock: r.clock, Backoff: clock.DefaultBackoffPolicy(), MaxAttempts: r.cfg.MaxAttempts}

	var result quote.Quote
	handle := r.metrics.BeginAttempt(src.ID(), dataType)
	start := r.clock.Now()

	err := retryer.Do(ctx, func() error {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx, src.ID(), dataType); err != nil {
				return err
			}
		}
		q, err := src.Fetch(ctx, symbol)
		if err != nil {
			return err
		}
		result = q
		return nil
	}, func(err error) (clock.Classification, time.Duration) {
		var se *errs.SourceError
		if errors.As(err, &se) {
			if se.Retryable() {
				return clock.Retryable, se.RetryAfter
			}
			return clock.NotRetryable, 0
		}
		return clock.NotRetryable, 0
	})

	latencyMs := float64(r.clock.Now().Sub(start).Milliseconds())

	if err == nil && r.validator != nil {
		key := quote.CacheKey(dataType, symbol)
		prior, hadPrior, _ := r.cache.Get(ctx, key)
		issue := r.validator.CheckAbsoluteChange(result, prior.Payload, hadPrior)
		if issue.Severity == validator.SeverityHigh {
			r.emitValidationAlert(symbol, dataType, issue)
			err = &errs.SourceError{SourceID: src.ID(), Kind: quote.ErrorKindValidation, Err: errValidationHigh}
		}
	}

	// Replay the already-computed outcome through the circuit breaker so
	// its consecutive-failure/error-rate counts reflect real attempts,
	// without performing the fetch a second time.
	if r.circuits != nil {
		_, _ = r.circuits.Execute(src.ID(), dataType, func() (quote.Quote, error) { return result, err })
	}

	if err != nil {
		r.metrics.EndAttempt(handle, metrics.Outcome{Success: false, LatencyMs: latencyMs, ErrorKind: errorKindOf(err)})
		return quote.Quote{}, err
	}

	r.metrics.EndAttempt(handle, metrics.Outcome{Success: true, LatencyMs: latencyMs})
	return result, nil
}

func (r *Resolver) synthesizeAndCache(ctx context.Context, key, symbol string, dataType quote.DataType) quote.Quote {
	q := r.synth.Synthesize(symbol, dataType)
	if err := r.cache.Set(ctx, key, q, cache.DefaultTTL); err != nil {
		log.Warn().Str("key", key).Err(err).Msg("cache write failed for default quote")
	}
	return q
}

func (r *Resolver) emitValidationAlert(symbol string, dataType quote.DataType, issue validator.Issue) {
	if r.alertSink == nil {
		return
	}
	key := string(dataType) + "|" + symbol + "|validation"
	r.alertSink.Emit(key, alerts.SeverityHigh, "validation", issue.Detail)
}

func errorKindOf(err error) quote.ErrorKind {
	var se *errs.SourceError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return quote.ErrorKindTimeout
	}
	return quote.ErrorKindOther
}

// DefaultRetryDelay exposes the floor used when an upstream source does
// not specify a Retry-After; kept here so callers tuning configuration
// have one place to look for the fallback value.
const DefaultRetryDelay = 400 * time.Millisecond
