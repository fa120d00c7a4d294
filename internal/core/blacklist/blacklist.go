// Package blacklist implements the per-symbol cooldown registry (C3):
// repeated upstream failures for a symbol stop further attempts for a
// cooldown window, independent of any single source's health.
package blacklist

import (
	"sync"
	"time"

	"github.com/sawpanic/marketdata/internal/core/clock"
	"github.com/sawpanic/marketdata/internal/core/quote"
)

// Thresholds configures the failure count that trips a symbol cold and the
// cooldown duration once tripped, per data type.
type Thresholds struct {
	FailureThreshold int
	CooldownWindow   time.Duration
}

// DefaultThresholds matches §4.3: 5 consecutive failures for stocks/funds
// (6h cooldown), 10 for exchange rates (1h cooldown).
func DefaultThresholds() map[quote.DataType]Thresholds {
	stockFund := Thresholds{FailureThreshold: 5, CooldownWindow: 6 * time.Hour}
	return map[quote.DataType]Thresholds{
		quote.USStock:      stockFund,
		quote.JPStock:      stockFund,
		quote.MutualFund:   stockFund,
		quote.ExchangeRate: {FailureThreshold: 10, CooldownWindow: time.Hour},
	}
}

type entry struct {
	consecutiveFailures int
	firstFailureAt      time.Time
	lastFailureAt       time.Time
	cooldownUntil       time.Time // zero means not cold
}

type key struct {
	symbol   string
	dataType quote.DataType
}

// Registry tracks blacklist entries for every (symbol, dataType) pair seen
// so far, guarded by a single mutex — contention here is expected to be
// low relative to the I/O-bound source attempts it gates.
type Registry struct {
	mu         sync.Mutex
	entries    map[key]*entry
	thresholds map[quote.DataType]Thresholds
	clock      clock.Clock
}

// New builds a Registry with the given per-dataType thresholds (nil uses
// DefaultThresholds) and clock.
func New(c clock.Clock, thresholds map[quote.DataType]Thresholds) *Registry {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	return &Registry{
		entries:    make(map[key]*entry),
		thresholds: thresholds,
		clock:      c,
	}
}

func (r *Registry) thresholdFor(dt quote.DataType) Thresholds {
	if t, ok := r.thresholds[dt]; ok {
		return t
	}
	return Thresholds{FailureThreshold: 5, CooldownWindow: 6 * time.Hour}
}

// IsCold reports whether (symbol, dataType) currently has a cooldown in
// effect.
func (r *Registry) IsCold(symbol string, dataType quote.DataType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key{symbol, dataType}]
	if !ok || e.cooldownUntil.IsZero() {
		return false
	}
	return r.clock.Now().Before(e.cooldownUntil)
}

// RecordFailure increments the failure counter for (symbol, dataType) and
// trips the cooldown once the threshold is crossed. reason is accepted for
// future structured logging/alerting but does not affect state.
func (r *Registry) RecordFailure(symbol string, dataType quote.DataType, reason error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	k := key{symbol, dataType}
	e, ok := r.entries[k]
	if !ok {
		e = &entry{firstFailureAt: now}
		r.entries[k] = e
	}
	e.consecutiveFailures++
	e.lastFailureAt = now

	t := r.thresholdFor(dataType)
	if e.consecutiveFailures >= t.FailureThreshold {
		e.cooldownUntil = now.Add(t.CooldownWindow)
	}
}

// RecordSuccess clears any failure state for (symbol, dataType),
// immediately lifting a cooldown if one was in effect.
func (r *Registry) RecordSuccess(symbol string, dataType quote.DataType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key{symbol, dataType})
}

// Sweep removes entries whose cooldown has already lapsed, returning the
// count removed. Non-cold entries that simply haven't failed recently are
// left alone — they carry no ongoing cost beyond a map slot.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	removed := 0
	for k, e := range r.entries {
		if !e.cooldownUntil.IsZero() && now.After(e.cooldownUntil) {
			delete(r.entries, k)
			removed++
		}
	}
	return removed
}

// Reset clears all state for the given symbols under dataType only. The
// cache invalidate path does not call it (see DESIGN.md's resolution of
// the corresponding open question).
func (r *Registry) Reset(dataType quote.DataType, symbols []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range symbols {
		delete(r.entries, key{s, dataType})
	}
}

// Snapshot describes the current state of one entry, for status reporting.
type Snapshot struct {
	Symbol              string
	DataType            quote.DataType
	ConsecutiveFailures int
	FirstFailureAt      time.Time
	LastFailureAt       time.Time
	CooldownUntil       time.Time
	Cold                bool
}

// Snapshots returns a point-in-time copy of every tracked entry.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	out := make([]Snapshot, 0, len(r.entries))
	for k, e := range r.entries {
		out = append(out, Snapshot{
			Symbol:              k.symbol,
			DataType:            k.dataType,
			ConsecutiveFailures: e.consecutiveFailures,
			FirstFailureAt:      e.firstFailureAt,
			LastFailureAt:       e.lastFailureAt,
			CooldownUntil:       e.cooldownUntil,
			Cold:                !e.cooldownUntil.IsZero() && now.Before(e.cooldownUntil),
		})
	}
	return out
}
