// Package oracle defines the price-feed interface the engine consumes
// and an in-process cache implementation fed by the NATS price
// subscriber (or set directly in tests).
package oracle

import (
	"fmt"
	"sort"
	"sync"

	"PerpEngine/internal/state"
)

// PriceOracle supplies the current price per asset. Price returns
// state.ErrOracleUnavailable when the feed has no usable price.
type PriceOracle interface {
	// Price returns the primary (mark) price for an asset.
	Price(asset string) (int64, error)
	// SourcePrices returns named secondary feeds for index computation.
	// An empty map is valid: the index falls back to the primary price.
	SourcePrices(asset string) map[string]int64
}

// Cache is a concurrency-safe PriceOracle backed by maps. The ingestion
// layer writes into it; the engine only reads.
type Cache struct {
	mu        sync.RWMutex
	prices    map[string]int64
	available map[string]bool
	sources   map[string]map[string]int64
}

func NewCache() *Cache {
	return &Cache{
		prices:    make(map[string]int64),
		available: make(map[string]bool),
		sources:   make(map[string]map[string]int64),
	}
}

// SetPrice stores the primary price and marks the asset available.
func (c *Cache) SetPrice(asset string, price int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[asset] = price
	c.available[asset] = true
}

// SetAvailable flips the availability flag without touching the price.
func (c *Cache) SetAvailable(asset string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available[asset] = ok
}

// SetSourcePrice stores a named secondary feed price.
func (c *Cache) SetSourcePrice(asset, source string, price int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.sources[asset]
	if m == nil {
		m = make(map[string]int64)
		c.sources[asset] = m
	}
	m[source] = price
}

func (c *Cache) Price(asset string) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	price, ok := c.prices[asset]
	if !ok || !c.available[asset] || price <= 0 {
		return 0, fmt.Errorf("%w: no price for %s", state.ErrOracleUnavailable, asset)
	}
	return price, nil
}

func (c *Cache) SourcePrices(asset string) map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int64, len(c.sources[asset]))
	for k, v := range c.sources[asset] {
		out[k] = v
	}
	return out
}

// IndexPrice derives the index price for an asset: the median of all
// secondary source feeds, falling back to the primary price when no
// sources are configured. The median keeps one outlier feed from
// skewing the funding premium.
func IndexPrice(o PriceOracle, asset string) (int64, error) {
	sources := o.SourcePrices(asset)
	if len(sources) == 0 {
		return o.Price(asset)
	}

	prices := make([]int64, 0, len(sources))
	for _, p := range sources {
		if p > 0 {
			prices = append(prices, p)
		}
	}
	if len(prices) == 0 {
		return o.Price(asset)
	}

	sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	mid := len(prices) / 2
	if len(prices)%2 == 1 {
		return prices[mid], nil
	}
	return (prices[mid-1] + prices[mid]) / 2, nil
}
