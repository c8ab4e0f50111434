// Package readcache implements ReadCache: a bounded,
// exact-match point-read cache sitting in front of TemporalMatrix/
// BranchResolver reads. It never resolves a miss itself and never serves
// anything but literal (branch, keyspace, key, T) hits — a cached answer
// for T=100 says nothing about a read at T=101, even if no write happened
// in between, since generalizing past the resolved timestamp would leak
// BranchResolver's origin-chain logic into the cache. Grounded on the
// teacher's orchestrator.IngesterStats for lock-free hit/miss counting.
package readcache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"chronodb/internal/branch"
)

// entry is one cached answer: either a value or a confirmed not-found.
type entry struct {
	value []byte
	found bool
}

type cacheKey struct {
	Branch   string
	Keyspace string
	Key      string
	T        uint64
}

// Cache is a bounded LRU cache of point-read results.
//
// AssumeValuesImmutable, when true, skips the extra defensive copy on Get
// (the caller promises never to mutate a returned slice); it does not
// otherwise change invalidation behavior.
type Cache struct {
	MaxSize               int
	AssumeValuesImmutable bool
	Registry              *branch.Registry

	mu      sync.Mutex
	entries map[cacheKey]*list.Element // key -> element in order
	order   *list.List                 // front = most recently used

	hits   atomic.Int64
	misses atomic.Int64
}

type listValue struct {
	key   cacheKey
	entry entry
}

// New builds a cache bounded at maxSize entries (a non-positive maxSize
// means effectively unbounded — 0 disables the bound).
func New(maxSize int, assumeValuesImmutable bool, registry *branch.Registry) *Cache {
	return &Cache{
		MaxSize:               maxSize,
		AssumeValuesImmutable: assumeValuesImmutable,
		Registry:              registry,
		entries:               make(map[cacheKey]*list.Element),
		order:                 list.New(),
	}
}

// Get returns a cached answer for the exact (branch, keyspace, key, T)
// tuple, if present.
func (c *Cache) Get(branchName, keyspace, key string, t uint64) (value []byte, found bool, cached bool) {
	k := cacheKey{Branch: branchName, Keyspace: keyspace, Key: key, T: t}

	c.mu.Lock()
	elem, ok := c.entries[k]
	if ok {
		c.order.MoveToFront(elem)
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return nil, false, false
	}
	c.hits.Add(1)
	e := elem.Value.(*listValue).entry
	if !c.AssumeValuesImmutable && e.value != nil {
		cp := make([]byte, len(e.value))
		copy(cp, e.value)
		return cp, e.found, true
	}
	return e.value, e.found, true
}

// Put records the result of resolving (branch, keyspace, key, T), evicting
// the least-recently-used entry if the cache is at capacity.
func (c *Cache) Put(branchName, keyspace, key string, t uint64, value []byte, found bool) {
	k := cacheKey{Branch: branchName, Keyspace: keyspace, Key: key, T: t}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[k]; ok {
		elem.Value.(*listValue).entry = entry{value: value, found: found}
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&listValue{key: k, entry: entry{value: value, found: found}})
	c.entries[k] = elem

	if c.MaxSize > 0 {
		for c.order.Len() > c.MaxSize {
			c.evictOldestLocked()
		}
	}
}

func (c *Cache) evictOldestLocked() {
	oldest := c.order.Back()
	if oldest == nil {
		return
	}
	c.order.Remove(oldest)
	delete(c.entries, oldest.Value.(*listValue).key)
}

// Hits returns the running count of cache hits.
func (c *Cache) Hits() int64 { return c.hits.Load() }

// Misses returns the running count of cache misses.
func (c *Cache) Misses() int64 { return c.misses.Load() }

// InvalidateBranch drops every cached entry for branchName.
func (c *Cache) InvalidateBranch(branchName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeMatchingLocked(func(k cacheKey) bool { return k.Branch == branchName })
}

// OnCommit applies the cache-invalidation rule for a commit of
// timestamp t on committedBranch: it always invalidates committedBranch's
// own entries, and additionally invalidates, for every branch forked from
// committedBranch at or after t, that child's entries with T strictly
// less than its own branchingTimestamp (entries at or past the fork read
// from the child's own history and are unaffected by an ancestor write
// below the fork point).
func (c *Cache) OnCommit(committedBranch string, t uint64) {
	c.InvalidateBranch(committedBranch)

	if c.Registry == nil {
		return
	}
	for _, info := range c.Registry.List() {
		if info.Origin != committedBranch {
			continue
		}
		if t > info.BranchingTimestamp {
			continue
		}
		childName := info.Name
		forkPoint := info.BranchingTimestamp
		c.mu.Lock()
		c.removeMatchingLocked(func(k cacheKey) bool {
			return k.Branch == childName && k.T < forkPoint
		})
		c.mu.Unlock()
	}
}

// removeMatchingLocked must be called with c.mu held.
func (c *Cache) removeMatchingLocked(match func(cacheKey) bool) {
	var toRemove []*list.Element
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		if match(elem.Value.(*listValue).key) {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		c.order.Remove(elem)
		delete(c.entries, elem.Value.(*listValue).key)
	}
}
