// Package circuit wraps github.com/sony/gobreaker into a per-(source,
// dataType) breaker registry. This is additive to the blacklist registry
// (C3, which is per-symbol) and to the metrics-driven priority reordering
// (C5, which demotes rather than hard-stops): a tripped breaker makes the
// resolver skip that source entirely until it cools down.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/marketdata/internal/core/quote"
)

// Config tunes one breaker's trip/reset behavior.
type Config struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// DefaultConfig trips after 3 consecutive failures and probes again after
// a 30s cooldown, matching the reference material's provider breakers.
func DefaultConfig() Config {
	return Config{
		MaxRequests:         1,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 3,
	}
}

func breakerKey(sourceID string, dt quote.DataType) string {
	return fmt.Sprintf("%s|%s", sourceID, dt)
}

// Registry owns one gobreaker.CircuitBreaker per (source, dataType) pair.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*gobreaker.CircuitBreaker
	configs  map[string]Config
	fallback Config
}

// NewRegistry builds a Registry using fallback for any pair without an
// explicit Configure call.
func NewRegistry(fallback Config) *Registry {
	return &Registry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		configs:  make(map[string]Config),
		fallback: fallback,
	}
}

// Configure installs explicit tuning for one (source, dataType) pair. It
// must be called before the pair's first Execute/IsOpen to take effect.
func (r *Registry) Configure(sourceID string, dt quote.DataType, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[breakerKey(sourceID, dt)] = cfg
}

func (r *Registry) breakerFor(sourceID string, dt quote.DataType) *gobreaker.CircuitBreaker {
	key := breakerKey(sourceID, dt)

	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	cfg, ok := r.configs[key]
	if !ok {
		cfg = r.fallback
	}
	name := key
	b = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	r.breakers[key] = b
	return b
}

// Execute runs fn through the breaker for (sourceID, dataType), returning
// gobreaker.ErrOpenState if the breaker is currently open.
func (r *Registry) Execute(sourceID string, dt quote.DataType, fn func() (quote.Quote, error)) (quote.Quote, error) {
	b := r.breakerFor(sourceID, dt)
	result, err := b.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return quote.Quote{}, err
	}
	return result.(quote.Quote), nil
}

// IsOpen reports whether (sourceID, dataType)'s breaker is currently open,
// used by the resolver to skip the source without even attempting
// Execute (and therefore without counting as a C5 failure sample).
func (r *Registry) IsOpen(sourceID string, dt quote.DataType) bool {
	return r.breakerFor(sourceID, dt).State() == gobreaker.StateOpen
}

// State returns the breaker's current state as a string, for status
// reporting.
func (r *Registry) State(sourceID string, dt quote.DataType) string {
	return r.breakerFor(sourceID, dt).State().String()
}
