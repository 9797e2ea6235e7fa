package exchange

import (
	"context"
	"fmt"
	"time"

	"binance-regime-grid-go/internal/models"

	"github.com/dgraph-io/ristretto"
)

// CachedRules wraps a RulesProvider with a TTL cache. Trading filters change
// rarely, so one lookup per symbol per TTL is enough.
type CachedRules struct {
	next  RulesProvider
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCachedRules creates the cache. A ttl of zero disables caching.
func NewCachedRules(next RulesProvider, ttl time.Duration) (*CachedRules, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        1000,
		MaxCost:            1000,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("创建交易规则缓存失败: %w", err)
	}
	return &CachedRules{next: next, cache: cache, ttl: ttl}, nil
}

// GetSymbolRules returns the cached rules or fetches them from the wrapped provider.
func (c *CachedRules) GetSymbolRules(ctx context.Context, symbol string) (*models.SymbolRules, error) {
	if v, ok := c.cache.Get(symbol); ok {
		r := v.(models.SymbolRules)
		return &r, nil
	}
	rules, err := c.next.GetSymbolRules(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if c.ttl > 0 {
		c.cache.SetWithTTL(symbol, *rules, 1, c.ttl)
		c.cache.Wait()
	}
	return rules, nil
}

// Invalidate drops the cached rules of a symbol, e.g. after a filter rejection.
func (c *CachedRules) Invalidate(symbol string) {
	c.cache.Del(symbol)
}

// Close releases the cache goroutines.
func (c *CachedRules) Close() {
	c.cache.Close()
}
