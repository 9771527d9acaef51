package route

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Cache memoizes route lookups keyed by coordinate pair. External routing is
// called once at ride start; caching keeps repeat rides on the same corridor
// cheap.
type Cache struct {
	inner Provider
	ttl   time.Duration

	mu    sync.RWMutex
	store map[string]cacheEntry
}

type cacheEntry struct {
	pts []models.Coord
	ts  time.Time
}

func NewCache(inner Provider, ttl time.Duration) *Cache {
	return &Cache{inner: inner, ttl: ttl, store: make(map[string]cacheEntry)}
}

func (c *Cache) GetRoute(ctx context.Context, from, to models.Coord) ([]models.Coord, error) {
	k := keyFor(from, to)
	c.mu.RLock()
	e, ok := c.store[k]
	c.mu.RUnlock()
	if ok && time.Since(e.ts) <= c.ttl {
		return e.pts, nil
	}
	pts, err := c.inner.GetRoute(ctx, from, to)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.store[k] = cacheEntry{pts: pts, ts: time.Now()}
	c.mu.Unlock()
	return pts, nil
}

func keyFor(a, b models.Coord) string {
	return fmtCoord(a) + "->" + fmtCoord(b)
}

func fmtCoord(c models.Coord) string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}
