package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/marketdata/internal/core/cache"
	"github.com/sawpanic/marketdata/internal/core/quote"
	"github.com/sawpanic/marketdata/internal/core/store"
)

func TestCache_SetGetRoundTrip(t *testing.T) {
	c := cache.New(store.NewMemory(), cache.DefaultTTLPolicy())
	ctx := context.Background()
	key := quote.CacheKey(quote.USStock, "AAPL")
	q := quote.Quote{Symbol: "AAPL", DataType: quote.USStock, Price: 150, Currency: "USD", Source: "test", LastUpdated: time.Now()}

	require.NoError(t, c.Set(ctx, key, q, 0))
	result, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, q.Symbol, result.Payload.Symbol)
	assert.Equal(t, q.Price, result.Payload.Price)
	assert.Greater(t, result.RemainingTTL, time.Duration(0))
}

func TestCache_MissAfterDelete(t *testing.T) {
	c := cache.New(store.NewMemory(), cache.DefaultTTLPolicy())
	ctx := context.Background()
	key := quote.CacheKey(quote.USStock, "AAPL")
	q := quote.Quote{Symbol: "AAPL", DataType: quote.USStock, Price: 150}

	require.NoError(t, c.Set(ctx, key, q, time.Minute))
	require.NoError(t, c.Delete(ctx, key))

	_, found, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_SnapshotBeforeReturnsPriorPointInTime(t *testing.T) {
	c := cache.New(store.NewMemory(), cache.DefaultTTLPolicy())
	ctx := context.Background()
	key := quote.CacheKey(quote.ExchangeRate, "USD-JPY")

	t0 := time.Now()
	q1 := quote.Quote{Symbol: "USD-JPY", DataType: quote.ExchangeRate, Price: 150, Base: "USD", Target: "JPY", Pair: "USD-JPY"}
	require.NoError(t, c.StoreSnapshot(ctx, key, q1, t0))

	t1 := t0.Add(time.Hour)
	q2 := quote.Quote{Symbol: "USD-JPY", DataType: quote.ExchangeRate, Price: 152, Base: "USD", Target: "JPY", Pair: "USD-JPY"}
	require.NoError(t, c.StoreSnapshot(ctx, key, q2, t1))

	got, found, err := c.SnapshotBefore(ctx, key, t0.Add(30*time.Minute))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 150.0, got.Price)
}

func TestCache_GetWithPrefix(t *testing.T) {
	c := cache.New(store.NewMemory(), cache.DefaultTTLPolicy())
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, quote.CacheKey(quote.USStock, "AAPL"), quote.Quote{Symbol: "AAPL", DataType: quote.USStock, Price: 1}, time.Minute))
	require.NoError(t, c.Set(ctx, quote.CacheKey(quote.USStock, "MSFT"), quote.Quote{Symbol: "MSFT", DataType: quote.USStock, Price: 2}, time.Minute))
	require.NoError(t, c.Set(ctx, quote.CacheKey(quote.JPStock, "7203"), quote.Quote{Symbol: "7203", DataType: quote.JPStock, Price: 3}, time.Minute))

	results, err := c.GetWithPrefix(ctx, string(quote.USStock)+":")
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
