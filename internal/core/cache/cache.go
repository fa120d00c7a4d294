// Package cache implements the TTL-keyed Quote store (C2): the resolver's
// first stop and the dispatcher's bulk pre-check, backed by the abstract
// store.Store interface.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sawpanic/marketdata/internal/core/errs"
	"github.com/sawpanic/marketdata/internal/core/quote"
	"github.com/sawpanic/marketdata/internal/core/store"
)

// TTLPolicy maps a data type to its default cache TTL.
type TTLPolicy map[quote.DataType]time.Duration

// DefaultTTLPolicy matches §4.2's default seconds.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		quote.USStock:      3600 * time.Second,
		quote.JPStock:      3600 * time.Second,
		quote.MutualFund:   10800 * time.Second,
		quote.ExchangeRate: 21600 * time.Second,
	}
}

// DefaultTTL is the short TTL used when caching a synthesized default
// Quote, so the next caller re-attempts soon (§4.7 step 5).
const DefaultTTL = 300 * time.Second

// Result is what Get returns on a hit.
type Result struct {
	Payload      quote.Quote
	RemainingTTL time.Duration
}

// Cache wraps a store.Store with Quote-aware (de)serialization and the
// default TTL policy.
type Cache struct {
	backend store.Store
	ttls    TTLPolicy
}

// New builds a Cache over backend using policy for default per-dataType
// TTLs. A nil policy uses DefaultTTLPolicy.
func New(backend store.Store, policy TTLPolicy) *Cache {
	if policy == nil {
		policy = DefaultTTLPolicy()
	}
	return &Cache{backend: backend, ttls: policy}
}

// TTLFor returns the configured default TTL for a data type.
func (c *Cache) TTLFor(dt quote.DataType) time.Duration {
	if ttl, ok := c.ttls[dt]; ok {
		return ttl
	}
	return DefaultTTL
}

// Get returns (payload, remaining TTL, found). A store error is wrapped in
// *errs.CacheError; callers treat that as equivalent to !found.
func (c *Cache) Get(ctx context.Context, key string) (Result, bool, error) {
	raw, ttl, found, err := c.backend.Get(ctx, key)
	if err != nil {
		return Result{}, false, &errs.CacheError{Op: "get", Key: key, Err: err}
	}
	if !found {
		return Result{}, false, nil
	}
	var q quote.Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return Result{}, false, &errs.CacheError{Op: "decode", Key: key, Err: err}
	}
	return Result{Payload: q, RemainingTTL: ttl}, true, nil
}

// Set writes payload under key with ttl. ttl<=0 uses the payload's data
// type default.
func (c *Cache) Set(ctx context.Context, key string, payload quote.Quote, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.TTLFor(payload.DataType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache encode %q: %w", key, err)
	}
	if err := c.backend.Put(ctx, key, raw, ttl); err != nil {
		return &errs.CacheError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Delete removes a key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.backend.Delete(ctx, key); err != nil {
		return &errs.CacheError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// GetWithPrefix returns every unexpired entry whose key begins with
// prefix, e.g. all quotes for a data type via CacheKey's "<dataType>:"
// prefix.
func (c *Cache) GetWithPrefix(ctx context.Context, prefix string) ([]Result, error) {
	entries, err := c.backend.ScanPrefix(ctx, prefix, 0)
	if err != nil {
		return nil, &errs.CacheError{Op: "scan", Key: prefix, Err: err}
	}
	out := make([]Result, 0, len(entries))
	for _, e := range entries {
		var q quote.Quote
		if err := json.Unmarshal(e.Value, &q); err != nil {
			continue // skip entries that don't decode as a Quote
		}
		out = append(out, Result{Payload: q, RemainingTTL: e.RemainingTTL})
	}
	return out, nil
}

// Sweep removes expired entries and returns the count removed. Partial
// progress on error is kept; the error is returned for logging but is
// non-fatal to the caller.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	n, err := c.backend.Sweep(ctx)
	if err != nil {
		return n, fmt.Errorf("cache sweep: %w", err)
	}
	return n, nil
}

// StoreSnapshot and SnapshotBefore expose point-in-time history when the
// backing store supports it (§10.3); a backend without that capability
// makes these no-ops so callers don't need to type-switch.
func (c *Cache) StoreSnapshot(ctx context.Context, key string, payload quote.Quote, at time.Time) error {
	snap, ok := c.backend.(store.SnapshotStore)
	if !ok {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("cache snapshot encode %q: %w", key, err)
	}
	return snap.StoreSnapshot(ctx, key, raw, at)
}

func (c *Cache) SnapshotBefore(ctx context.Context, key string, at time.Time) (quote.Quote, bool, error) {
	snap, ok := c.backend.(store.SnapshotStore)
	if !ok {
		return quote.Quote{}, false, nil
	}
	raw, found, err := snap.SnapshotBefore(ctx, key, at)
	if err != nil || !found {
		return quote.Quote{}, false, err
	}
	var q quote.Quote
	if err := json.Unmarshal(raw, &q); err != nil {
		return quote.Quote{}, false, fmt.Errorf("cache snapshot decode %q: %w", key, err)
	}
	return q, true, nil
}
