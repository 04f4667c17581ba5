// Package discovery advertises this node's metadata over mDNS and keeps
// the neighbor view the router decides over.
package discovery

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/user/rescuemesh/internal/model"
)

type neighborEntry struct {
	node model.NodeInfo
	seq  uint64
}

// NeighborTable holds the latest announcement per node id. Re-announcements
// supersede the stored value but keep the node's first-seen position.
type NeighborTable struct {
	clock      clock.Clock
	staleAfter time.Duration
	selfID     string

	mu      sync.RWMutex
	entries map[string]*neighborEntry
	nextSeq uint64
}

// NewNeighborTable creates a table whose entries expire after staleAfter.
// Announcements from selfID are ignored.
func NewNeighborTable(c clock.Clock, staleAfter time.Duration, selfID string) *NeighborTable {
	if c == nil {
		c = clock.New()
	}
	return &NeighborTable{
		clock:      c,
		staleAfter: staleAfter,
		selfID:     selfID,
		entries:    make(map[string]*neighborEntry),
	}
}

// Upsert stores an announcement and reports whether the node is new.
func (t *NeighborTable) Upsert(n model.NodeInfo) bool {
	if n.ID == "" || n.ID == t.selfID {
		return false
	}
	if n.LastSeen.IsZero() {
		n.LastSeen = t.clock.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[n.ID]; ok {
		e.node = n
		return false
	}
	t.entries[n.ID] = &neighborEntry{node: n, seq: t.nextSeq}
	t.nextSeq++
	return true
}

// Remove drops a node.
func (t *NeighborTable) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, id)
}

// Neighbors returns fresh entries in first-seen order.
func (t *NeighborTable) Neighbors() []model.NodeInfo {
	now := t.clock.Now()

	t.mu.RLock()
	live := make([]*neighborEntry, 0, len(t.entries))
	for _, e := range t.entries {
		if !t.stale(e.node, now) {
			live = append(live, e)
		}
	}
	t.mu.RUnlock()

	sort.Slice(live, func(i, j int) bool { return live[i].seq < live[j].seq })
	out := make([]model.NodeInfo, len(live))
	for i, e := range live {
		out[i] = e.node
	}
	return out
}

// Expire removes stale entries and returns their ids.
func (t *NeighborTable) Expire() []string {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	var gone []string
	for id, e := range t.entries {
		if t.stale(e.node, now) {
			delete(t.entries, id)
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)
	return gone
}

// Len returns the number of stored entries, stale or not.
func (t *NeighborTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

func (t *NeighborTable) stale(n model.NodeInfo, now time.Time) bool {
	return t.staleAfter > 0 && now.Sub(n.LastSeen) > t.staleAfter
}
