// Package cache implements the in-process hot tier of the memory engine.
//
// Records whose importance clears an admission threshold are mirrored into
// per-kind partitions so frequent lookups avoid the database. The cache is
// strictly an accelerator: it never holds data the store does not, and a
// rebuild from the store restores it exactly.
package cache

import (
	"strings"
	"sync"
	"time"
)

// Entry is one cached memory record. Entries are value copies; mutating a
// returned Entry never affects the cache.
type Entry struct {
	ID         int64
	Kind       string
	Owner      string
	Content    string
	Metadata   map[string]interface{}
	Importance float64
	ExpiresAt  *time.Time
	CachedAt   time.Time
}

// expired reports whether the entry's expiry deadline has passed.
func (e *Entry) expired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// HotCache keeps the most important records of each memory kind in memory.
//
// Each kind owns an independent partition with its own lock, so admissions
// for one kind never contend with scans of another. When a partition is
// full, admitting a new entry evicts the entry with the lowest importance;
// the older CachedAt loses ties.
type HotCache struct {
	mu         sync.RWMutex
	partitions map[string]*partition

	threshold float64
	capacity  int
}

type partition struct {
	mu      sync.RWMutex
	entries map[int64]*Entry
}

// New creates a hot cache. Entries below threshold are refused; each kind
// holds at most capacity entries.
func New(threshold float64, capacity int) *HotCache {
	return &HotCache{
		partitions: make(map[string]*partition),
		threshold:  threshold,
		capacity:   capacity,
	}
}

// Admit offers an entry to the cache. It returns true if the entry was
// cached, false if its importance is below the admission threshold or the
// entry has already expired.
//
// When the kind's partition is full, the least important entry (oldest
// CachedAt on ties) is evicted to make room. An entry already present under
// the same id is overwritten in place without eviction.
func (c *HotCache) Admit(entry Entry) bool {
	if entry.Importance < c.threshold {
		return false
	}
	if entry.expired(time.Now()) {
		return false
	}
	if entry.CachedAt.IsZero() {
		entry.CachedAt = time.Now()
	}

	p := c.partition(entry.Kind)

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[entry.ID]; !exists && len(p.entries) >= c.capacity {
		p.evictLocked()
	}
	p.entries[entry.ID] = &entry

	return true
}

// evictLocked removes the lowest-importance entry. Caller holds p.mu.
func (p *partition) evictLocked() {
	var victim *Entry
	for _, e := range p.entries {
		if victim == nil {
			victim = e
			continue
		}
		if e.Importance < victim.Importance ||
			(e.Importance == victim.Importance && e.CachedAt.Before(victim.CachedAt)) {
			victim = e
		}
	}
	if victim != nil {
		delete(p.entries, victim.ID)
	}
}

// Scan returns live cached entries for the owner whose content contains
// the query as an exact substring, the same predicate the durable store
// scans with. Entries past their expiry are skipped; the next Rebuild
// drops them. A kind of "" or "all" scans every partition. The returned
// entries are copies in no particular order.
func (c *HotCache) Scan(owner, kind, query string) []Entry {
	now := time.Now()

	var results []Entry
	for _, p := range c.selectPartitions(kind) {
		p.mu.RLock()
		for _, e := range p.entries {
			if e.Owner != owner || e.expired(now) {
				continue
			}
			if query != "" && !strings.Contains(e.Content, query) {
				continue
			}
			results = append(results, *e)
		}
		p.mu.RUnlock()
	}

	return results
}

// Get returns the cached entry for id within kind, if present and not
// expired.
func (c *HotCache) Get(kind string, id int64) (Entry, bool) {
	p := c.partition(kind)

	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[id]
	if !ok || e.expired(time.Now()) {
		return Entry{}, false
	}
	return *e, true
}

// Remove drops the entry with the given id from the kind's partition.
// Removing an absent id is a no-op.
func (c *HotCache) Remove(kind string, id int64) {
	p := c.partition(kind)

	p.mu.Lock()
	delete(p.entries, id)
	p.mu.Unlock()
}

// RemoveOwner drops every cached entry belonging to the owner across all
// partitions.
func (c *HotCache) RemoveOwner(owner string) {
	for _, p := range c.selectPartitions("") {
		p.mu.Lock()
		for id, e := range p.entries {
			if e.Owner == owner {
				delete(p.entries, id)
			}
		}
		p.mu.Unlock()
	}
}

// Rebuild clears the cache and admits the given entries, applying the usual
// threshold and capacity rules. Used by the janitor after a sweep.
func (c *HotCache) Rebuild(entries []Entry) {
	c.mu.Lock()
	c.partitions = make(map[string]*partition)
	c.mu.Unlock()

	for _, e := range entries {
		c.Admit(e)
	}
}

// Len returns the total number of cached entries across all partitions.
func (c *HotCache) Len() int {
	total := 0
	for _, p := range c.selectPartitions("") {
		p.mu.RLock()
		total += len(p.entries)
		p.mu.RUnlock()
	}
	return total
}

// Occupancy reports the number of cached entries per kind.
func (c *HotCache) Occupancy() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	occ := make(map[string]int, len(c.partitions))
	for kind, p := range c.partitions {
		p.mu.RLock()
		occ[kind] = len(p.entries)
		p.mu.RUnlock()
	}
	return occ
}

// partition returns the partition for kind, creating it if needed.
func (c *HotCache) partition(kind string) *partition {
	c.mu.RLock()
	p, ok := c.partitions[kind]
	c.mu.RUnlock()
	if ok {
		return p
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok = c.partitions[kind]; ok {
		return p
	}
	p = &partition{entries: make(map[int64]*Entry)}
	c.partitions[kind] = p
	return p
}

// selectPartitions returns the partitions matching kind ("" or "all" means
// every partition).
func (c *HotCache) selectPartitions(kind string) []*partition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if kind != "" && kind != "all" {
		if p, ok := c.partitions[kind]; ok {
			return []*partition{p}
		}
		return nil
	}

	parts := make([]*partition, 0, len(c.partitions))
	for _, p := range c.partitions {
		parts = append(parts, p)
	}
	return parts
}
