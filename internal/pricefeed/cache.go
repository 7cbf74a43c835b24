package pricefeed

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

type cacheEntry struct {
	value   decimal.Decimal
	fetched time.Time
}

// Cached wraps a Feed with a per-symbol TTL cache. Concurrent misses
// on the same symbol are collapsed into a single upstream fetch.
type Cached struct {
	src Feed
	ttl time.Duration
	now func() time.Time

	mu     sync.RWMutex
	prices map[string]cacheEntry
	rates  map[string]cacheEntry

	group singleflight.Group
}

// NewCached wraps src with the given TTL.
func NewCached(src Feed, ttl time.Duration) *Cached {
	return &Cached{
		src:    src,
		ttl:    ttl,
		now:    time.Now,
		prices: make(map[string]cacheEntry),
		rates:  make(map[string]cacheEntry),
	}
}

func (c *Cached) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return c.get(ctx, c.prices, "p:"+symbol, func() (decimal.Decimal, error) {
		return c.src.MarkPrice(ctx, symbol)
	}, symbol)
}

func (c *Cached) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return c.get(ctx, c.rates, "r:"+symbol, func() (decimal.Decimal, error) {
		return c.src.FundingRate(ctx, symbol)
	}, symbol)
}

func (c *Cached) get(_ context.Context, table map[string]cacheEntry, key string, fetch func() (decimal.Decimal, error), symbol string) (decimal.Decimal, error) {
	c.mu.RLock()
	entry, ok := table[symbol]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.fetched) < c.ttl {
		return entry.value, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Another waiter may have refreshed while we queued.
		c.mu.RLock()
		entry, ok := table[symbol]
		c.mu.RUnlock()
		if ok && c.now().Sub(entry.fetched) < c.ttl {
			return entry.value, nil
		}

		value, err := fetch()
		if err != nil {
			return decimal.Zero, err
		}

		c.mu.Lock()
		table[symbol] = cacheEntry{value: value, fetched: c.now()}
		c.mu.Unlock()
		return value, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// Invalidate drops the cached values for a symbol.
func (c *Cached) Invalidate(symbol string) {
	c.mu.Lock()
	delete(c.prices, symbol)
	delete(c.rates, symbol)
	c.mu.Unlock()
}
