package oracle

import (
	"fmt"
	"sync"
	"time"
)

// Quote is one NAV observation for a basket.
type Quote struct {
	BasktID    string
	Nav        int64
	ReceivedAt time.Time
}

// Cache holds the latest quote per basket and enforces a freshness window on
// reads. Quotes only ever move forward in time.
type Cache struct {
	maxAge time.Duration

	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewCache(maxAge time.Duration) *Cache {
	return &Cache{
		maxAge: maxAge,
		quotes: make(map[string]Quote),
	}
}

func (c *Cache) Put(q Quote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.quotes[q.BasktID]
	if ok && q.ReceivedAt.Before(prev.ReceivedAt) {
		return
	}
	c.quotes[q.BasktID] = q
}

// Nav returns the cached NAV for a basket, failing when no quote exists or
// the latest one is older than the freshness window.
func (c *Cache) Nav(basktID string, now time.Time) (int64, error) {
	c.mu.RLock()
	q, ok := c.quotes[basktID]
	c.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoQuote, basktID)
	}
	if c.maxAge > 0 && now.Sub(q.ReceivedAt) > c.maxAge {
		return 0, fmt.Errorf("%w: %s age %s", ErrStaleQuote, basktID, now.Sub(q.ReceivedAt))
	}
	return q.Nav, nil
}

// Snapshot returns a copy of every cached quote.
func (c *Cache) Snapshot() map[string]Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Quote, len(c.quotes))
	for id, q := range c.quotes {
		out[id] = q
	}
	return out
}
