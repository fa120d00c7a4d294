// Package ratelimit provides the per-(source, dataType) pacing tokens the
// batch dispatcher's workers acquire before issuing an upstream call
// (§4.8 step 4, §5 backpressure).
package ratelimit

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/sawpanic/marketdata/internal/core/quote"
)

// Limits configures the refill rate and burst for one (source, dataType)
// pair's token bucket.
type Limits struct {
	QPS   float64
	Burst int
}

func bucketKey(sourceID string, dt quote.DataType) string {
	return fmt.Sprintf("%s|%s", sourceID, dt)
}

// Manager owns one token-bucket limiter per (sourceID, dataType), created
// lazily on first use via double-checked locking so the common path only
// takes a read lock.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limits   map[string]Limits
	fallback Limits
}

// NewManager builds a Manager using fallback limits for any (source,
// dataType) pair without an explicit configuration.
func NewManager(fallback Limits) *Manager {
	if fallback.QPS <= 0 {
		fallback.QPS = 5
	}
	if fallback.Burst <= 0 {
		fallback.Burst = 1
	}
	return &Manager{
		limiters: make(map[string]*rate.Limiter),
		limits:   make(map[string]Limits),
		fallback: fallback,
	}
}

// Configure sets explicit limits for one (source, dataType) pair, applied
// the next time its limiter is created or live-updated if already active.
func (m *Manager) Configure(sourceID string, dt quote.DataType, limits Limits) {
	key := bucketKey(sourceID, dt)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits[key] = limits
	if l, ok := m.limiters[key]; ok {
		l.SetLimit(rate.Limit(limits.QPS))
		l.SetBurst(limits.Burst)
	}
}

func (m *Manager) limiterFor(sourceID string, dt quote.DataType) *rate.Limiter {
	key := bucketKey(sourceID, dt)

	m.mu.RLock()
	l, ok := m.limiters[key]
	m.mu.RUnlock()
	if ok {
		return l
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.limiters[key]; ok {
		return l
	}
	limits, ok := m.limits[key]
	if !ok {
		limits = m.fallback
	}
	l = rate.NewLimiter(rate.Limit(limits.QPS), limits.Burst)
	m.limiters[key] = l
	return l
}

// Wait blocks until a token is available for (sourceID, dataType) or ctx
// is done, whichever comes first. This is the suspension point workers
// yield at before issuing an upstream call.
func (m *Manager) Wait(ctx context.Context, sourceID string, dt quote.DataType) error {
	return m.limiterFor(sourceID, dt).Wait(ctx)
}

// Allow reports whether a request may proceed immediately, consuming a
// token when it returns true. It never blocks.
func (m *Manager) Allow(sourceID string, dt quote.DataType) bool {
	return m.limiterFor(sourceID, dt).Allow()
}
