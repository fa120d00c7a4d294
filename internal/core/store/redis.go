package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Store backed by a Redis instance, using native key TTLs for
// physical expiry and SCAN for prefix enumeration. Because Redis expires
// keys itself, Sweep removes nothing and always reports zero.
type Redis struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedis connects to addr/db with the given password (empty for none)
// and namespaces all keys under keyPrefix (e.g. "marketdata:").
func NewRedis(addr, password string, db int, keyPrefix string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	})
	return &Redis{client: client, keyPrefix: keyPrefix}
}

func (r *Redis) ns(key string) string { return r.keyPrefix + key }

func (r *Redis) Get(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	nsKey := r.ns(key)
	val, err := r.client.Get(ctx, nsKey).Bytes()
	if err == redis.Nil {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	ttl, err := r.client.TTL(ctx, nsKey).Result()
	if err != nil || ttl < 0 {
		ttl = 0
	}
	return val, ttl, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.ns(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.ns(key)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

func (r *Redis) ScanPrefix(ctx context.Context, prefix string, limit int) ([]Entry, error) {
	var (
		cursor uint64
		out    []Entry
	)
	pattern := r.ns(prefix) + "*"
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return out, fmt.Errorf("redis scan %q: %w", prefix, err)
		}
		for _, k := range keys {
			val, err := r.client.Get(ctx, k).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return out, fmt.Errorf("redis get during scan %q: %w", k, err)
			}
			ttl, err := r.client.TTL(ctx, k).Result()
			if err != nil {
				ttl = 0
			}
			out = append(out, Entry{
				Key:          k[len(r.keyPrefix):],
				Value:        val,
				RemainingTTL: ttl,
			})
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// Sweep is a no-op count of zero: Redis enforces TTL expiry itself, so the
// core sweep never finds physically-present-but-expired keys here. It
// exists to satisfy the Store interface and the scheduler's unconditional
// sweep-then-prewarm sequencing.
func (r *Redis) Sweep(context.Context) (int, error) {
	return 0, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// StoreSnapshot records value in a per-key sorted set scored by at's unix
// millis, used for point-in-time lookups (§10.3).
func (r *Redis) StoreSnapshot(ctx context.Context, key string, value []byte, at time.Time) error {
	snapKey := r.ns("snapshot:" + key)
	score := float64(at.UnixMilli())
	member := strconv.FormatInt(at.UnixMilli(), 10) + ":" + string(value)
	if err := r.client.ZAdd(ctx, snapKey, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("redis snapshot add %q: %w", key, err)
	}
	return nil
}

// SnapshotBefore returns the most recent snapshot recorded at or before at.
func (r *Redis) SnapshotBefore(ctx context.Context, key string, at time.Time) ([]byte, bool, error) {
	snapKey := r.ns("snapshot:" + key)
	members, err := r.client.ZRevRangeByScore(ctx, snapKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(at.UnixMilli(), 10),
		Count: 1,
	}).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis snapshot lookup %q: %w", key, err)
	}
	if len(members) == 0 {
		return nil, false, nil
	}
	// member is "<unixmilli>:<value>"; strip the timestamp prefix we added.
	m := members[0]
	for i := 0; i < len(m); i++ {
		if m[i] == ':' {
			return []byte(m[i+1:]), true, nil
		}
	}
	return []byte(m), true, nil
}
