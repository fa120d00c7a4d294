package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

func (e memEntry) remainingTTL(now time.Time) time.Duration {
	if e.expiresAt.IsZero() {
		return 0
	}
	return e.expiresAt.Sub(now)
}

type snapshotPoint struct {
	at    time.Time
	value []byte
}

// Memory is a map-backed Store used in tests and for local/offline
// operation. It implements the same logical-miss-on-expiry semantics as
// the Redis-backed store so callers never need to branch on backend.
type Memory struct {
	mu        sync.RWMutex
	entries   map[string]memEntry
	snapshots map[string][]snapshotPoint
	now       func() time.Time
}

// NewMemory returns an empty Memory store using the real wall clock.
func NewMemory() *Memory {
	return &Memory{
		entries:   make(map[string]memEntry),
		snapshots: make(map[string][]snapshotPoint),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, time.Duration, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	now := m.now()
	if !ok || e.expired(now) {
		return nil, 0, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, e.remainingTTL(now), true, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key] = memEntry{value: stored, expiresAt: expiresAt}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) ScanPrefix(_ context.Context, prefix string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	now := m.now()
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		e := m.entries[k]
		if e.expired(now) {
			continue
		}
		val := make([]byte, len(e.value))
		copy(val, e.value)
		out = append(out, Entry{Key: k, Value: val, RemainingTTL: e.remainingTTL(now)})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) StoreSnapshot(_ context.Context, key string, value []byte, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	val := make([]byte, len(value))
	copy(val, value)
	m.snapshots[key] = append(m.snapshots[key], snapshotPoint{at: at, value: val})
	return nil
}

func (m *Memory) SnapshotBefore(_ context.Context, key string, at time.Time) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	points := m.snapshots[key]
	var best *snapshotPoint
	for i := range points {
		p := points[i]
		if p.at.After(at) {
			continue
		}
		if best == nil || p.at.After(best.at) {
			best = &points[i]
		}
	}
	if best == nil {
		return nil, false, nil
	}
	out := make([]byte, len(best.value))
	copy(out, best.value)
	return out, true, nil
}
