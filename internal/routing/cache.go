package routing

import (
	"sort"
	"sync"
	"time"

	"github.com/user/rescuemesh/internal/model"
)

// RouteCache records relay outcomes per destination.
type RouteCache struct {
	mu      sync.RWMutex
	entries map[string]model.RoutingEntry
}

// NewRouteCache creates an empty cache.
func NewRouteCache() *RouteCache {
	return &RouteCache{entries: make(map[string]model.RoutingEntry)}
}

// Load seeds the cache, e.g. from persisted routes.
func (c *RouteCache) Load(entries []model.RoutingEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		c.entries[e.DestinationID] = e
	}
}

// RecordSuccess notes a delivered relay to destination via nextHop.
func (c *RouteCache) RecordSuccess(destination, nextHop string, hopCount int, now time.Time) model.RoutingEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[destination]
	if !ok {
		e = model.RoutingEntry{
			DestinationID: destination,
			Score:         50,
			IsActive:      true,
		}
	}
	e.NextHopID = nextHop
	e.HopCount = hopCount
	e = e.RecordSuccess(now)
	c.entries[destination] = e
	return e
}

// RecordFailure notes a failed relay. Unknown destinations are not
// created; entries only start on a success.
func (c *RouteCache) RecordFailure(destination string, now time.Time) (model.RoutingEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[destination]
	if !ok {
		return model.RoutingEntry{}, false
	}
	e = e.RecordFailure(now)
	c.entries[destination] = e
	return e, true
}

// Get returns the entry for destination.
func (c *RouteCache) Get(destination string) (model.RoutingEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[destination]
	return e, ok
}

// Prune removes stale entries and returns how many were dropped.
func (c *RouteCache) Prune(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if e.IsStale(now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Snapshot returns all entries ordered by destination.
func (c *RouteCache) Snapshot() []model.RoutingEntry {
	c.mu.RLock()
	out := make([]model.RoutingEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].DestinationID < out[j].DestinationID
	})
	return out
}

// Len returns the number of entries.
func (c *RouteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
