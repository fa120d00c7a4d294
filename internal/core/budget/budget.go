// Package budget tracks per-source daily request quotas (§4.5), a
// protection independent of the per-second token bucket in package
// ratelimit: many market-data upstreams cap total calls per day rather
// than (or in addition to) calls per second.
package budget

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// ExhaustedError is returned once a source's daily budget is used up.
type ExhaustedError struct {
	SourceID string
	Used     int64
	Limit    int64
	ResetsAt time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted for %s: %d/%d used, resets at %s",
		e.SourceID, e.Used, e.Limit, e.ResetsAt.Format("15:04 UTC"))
}

// WarningError is returned (alongside a successful Consume) once
// utilization crosses the warn threshold, so callers can log/alert without
// treating the attempt as failed.
type WarningError struct {
	SourceID  string
	Used      int64
	Limit     int64
	Threshold float64
}

func (e *WarningError) Error() string {
	utilization := float64(e.Used) / float64(e.Limit) * 100
	return fmt.Sprintf("budget warning for %s: %.1f%% used (%d/%d)", e.SourceID, utilization, e.Used, e.Limit)
}

// Tracker enforces one source's daily budget. Counters are atomic; a
// mutex guards only the reset-boundary check, matching the double-checked
// locking shape used by the circuit breaker's half-open transition.
type Tracker struct {
	limit         int64
	used          int64
	resetHour     int
	warnThreshold float64
	lastReset     time.Time
	mu            sync.RWMutex
}

// NewTracker builds a Tracker resetting daily at resetHour UTC (0-23),
// warning once utilization crosses warnThreshold (0,1].
func NewTracker(limit int64, resetHour int, warnThreshold float64) *Tracker {
	if resetHour < 0 || resetHour > 23 {
		resetHour = 0
	}
	if warnThreshold <= 0 || warnThreshold > 1 {
		warnThreshold = 0.8
	}
	now := time.Now().UTC()
	return &Tracker{
		limit:         limit,
		resetHour:     resetHour,
		warnThreshold: warnThreshold,
		lastReset:     lastResetBefore(now, resetHour),
	}
}

func lastResetBefore(now time.Time, resetHour int) time.Time {
	today := time.Date(now.Year(), now.Month(), now.Day(), resetHour, 0, 0, 0, time.UTC)
	if now.Hour() >= resetHour {
		return today
	}
	return today.AddDate(0, 0, -1)
}

func (t *Tracker) nextReset() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastReset.Add(24 * time.Hour)
}

func (t *Tracker) resetIfDue() {
	now := time.Now().UTC()
	if !now.After(t.nextReset()) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if now.After(t.lastReset.Add(24 * time.Hour)) {
		atomic.StoreInt64(&t.used, 0)
		t.lastReset = lastResetBefore(now, t.resetHour)
	}
}

// Consume records one unit of usage. It returns an *ExhaustedError once
// the limit is reached (without incrementing past it), or a *WarningError
// once the warn threshold is crossed, alongside the successful increment.
func (t *Tracker) Consume(sourceID string) error {
	t.resetIfDue()

	newUsed := atomic.AddInt64(&t.used, 1)
	if newUsed > t.limit {
		atomic.AddInt64(&t.used, -1)
		return &ExhaustedError{SourceID: sourceID, Used: newUsed - 1, Limit: t.limit, ResetsAt: t.nextReset()}
	}

	if utilization := float64(newUsed) / float64(t.limit); utilization >= t.warnThreshold {
		return &WarningError{SourceID: sourceID, Used: newUsed, Limit: t.limit, Threshold: t.warnThreshold}
	}
	return nil
}

// Stats reports the tracker's current state.
type Stats struct {
	Used        int64
	Limit       int64
	Utilization float64
	NextReset   time.Time
}

func (t *Tracker) Stats() Stats {
	t.resetIfDue()
	used := atomic.LoadInt64(&t.used)
	return Stats{Used: used, Limit: t.limit, Utilization: float64(used) / float64(t.limit), NextReset: t.nextReset()}
}

// Manager owns one Tracker per source.
type Manager struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker
}

func NewManager() *Manager {
	return &Manager{trackers: make(map[string]*Tracker)}
}

// Register installs a budget for sourceID, replacing any existing one.
func (m *Manager) Register(sourceID string, limit int64, resetHour int, warnThreshold float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackers[sourceID] = NewTracker(limit, resetHour, warnThreshold)
}

// Consume records usage for sourceID. A source with no registered budget
// is always allowed (budget tracking is opt-in per source).
func (m *Manager) Consume(sourceID string) error {
	m.mu.RLock()
	t, ok := m.trackers[sourceID]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	return t.Consume(sourceID)
}

// Stats returns every tracked source's current usage.
func (m *Manager) Stats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.trackers))
	for id, t := range m.trackers {
		out[id] = t.Stats()
	}
	return out
}
