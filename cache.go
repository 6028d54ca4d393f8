package docdb

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCacheSize is the default bound on cached query results.
const DefaultCacheSize = 1024

// resultCache memoizes query results keyed by query fingerprint, with
// LRU eviction at a bounded entry count and per-table invalidation.
// A capacity of zero disables caching entirely; that only changes
// latency, never results.
type resultCache struct {
	mu      sync.Mutex
	cap     int
	entries map[uint64]*list.Element
	lru     *list.List // front = most recently used
	byTable map[string]map[uint64]struct{}

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	fp        uint64
	table     string
	docs      []*Document
	createdAt time.Time
}

func newResultCache(capacity int) *resultCache {
	return &resultCache{
		cap:     capacity,
		entries: make(map[uint64]*list.Element),
		lru:     list.New(),
		byTable: make(map[string]map[uint64]struct{}),
	}
}

func (c *resultCache) enabled() bool { return c.cap > 0 }

func (c *resultCache) get(fp uint64) ([]*Document, bool) {
	if !c.enabled() {
		c.misses.Add(1)
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[fp]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.lru.MoveToFront(el)
	return cloneDocs(el.Value.(*cacheEntry).docs), true
}

func (c *resultCache) put(fp uint64, table string, docs []*Document) {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(fp, table, docs)
}

// putChecked stores a result only if the table's write generation is
// still the one the result was computed from. The check runs under the
// cache lock and writers bump the generation before invalidating, so a
// result computed from a pre-write snapshot can never outlive the
// write's invalidation.
func (c *resultCache) putChecked(fp uint64, table string, docs []*Document, gen uint64, curGen *atomic.Uint64) {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if curGen.Load() != gen {
		return
	}
	c.insertLocked(fp, table, docs)
}

func (c *resultCache) insertLocked(fp uint64, table string, docs []*Document) {
	if el, ok := c.entries[fp]; ok {
		ent := el.Value.(*cacheEntry)
		ent.docs = cloneDocs(docs)
		ent.createdAt = time.Now()
		c.lru.MoveToFront(el)
		return
	}
	for len(c.entries) >= c.cap {
		c.evictOldest()
	}
	ent := &cacheEntry{fp: fp, table: table, docs: cloneDocs(docs), createdAt: time.Now()}
	c.entries[fp] = c.lru.PushFront(ent)
	fps := c.byTable[table]
	if fps == nil {
		fps = make(map[uint64]struct{})
		c.byTable[table] = fps
	}
	fps[fp] = struct{}{}
}

// invalidate drops every entry summarizing the table. It runs inside
// the table's write lock, so no stale result survives a write.
func (c *resultCache) invalidate(table string) {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for fp := range c.byTable[table] {
		if el, ok := c.entries[fp]; ok {
			c.lru.Remove(el)
			delete(c.entries, fp)
		}
	}
	delete(c.byTable, table)
}

func (c *resultCache) purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*list.Element)
	c.byTable = make(map[string]map[uint64]struct{})
	c.lru.Init()
}

func (c *resultCache) evictOldest() {
	el := c.lru.Back()
	if el == nil {
		return
	}
	ent := el.Value.(*cacheEntry)
	c.lru.Remove(el)
	delete(c.entries, ent.fp)
	if fps := c.byTable[ent.table]; fps != nil {
		delete(fps, ent.fp)
		if len(fps) == 0 {
			delete(c.byTable, ent.table)
		}
	}
}

func (c *resultCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
