package aresgo

import (
	"sync"
	"time"

	"github.com/miekg/dns"
)

// MemoryCache is an opt-in, in-process QueryCache with LRU eviction and
// TTL-based expiry. It is adapted from the teacher's lru-cache.go /
// cache-memory.go; the on-disk load/save path from the teacher is dropped
// since persistent on-disk state is an explicit Non-goal of this resolver
// (spec.md §1).
type MemoryCache struct {
	mu       sync.Mutex
	maxItems int
	items    map[cacheKey]*cacheItem
	head     *cacheItem
	tail     *cacheItem
}

type cacheKey struct {
	qtype uint16
	name  string
}

type cacheItem struct {
	key        cacheKey
	resp       *dns.Msg
	expiry     time.Time
	prev, next *cacheItem
}

var _ QueryCache = (*MemoryCache)(nil)

// NewMemoryCache returns a memory-backed cache holding at most capacity
// entries (0 = unbounded).
func NewMemoryCache(capacity int) *MemoryCache {
	head := new(cacheItem)
	tail := new(cacheItem)
	head.next = tail
	tail.prev = head
	return &MemoryCache{
		maxItems: capacity,
		items:    make(map[cacheKey]*cacheItem),
		head:     head,
		tail:     tail,
	}
}

func keyFor(q *dns.Msg) cacheKey {
	if len(q.Question) == 0 {
		return cacheKey{}
	}
	return cacheKey{qtype: q.Question[0].Qtype, name: q.Question[0].Name}
}

// Insert stores resp keyed on query's question, with a TTL derived from
// the minimum TTL of its answer records (or negativeTTLDefault for empty
// answers). It takes ownership (returns true) whenever query has a
// question; a question-less query is not cached (returns false).
func (c *MemoryCache) Insert(now time.Time, query, resp *dns.Msg) bool {
	if len(query.Question) == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	ttl := uint32(negativeTTLDefault)
	for i, rr := range resp.Answer {
		if i == 0 || rr.Header().Ttl < ttl {
			ttl = rr.Header().Ttl
		}
	}
	key := keyFor(query)
	item := c.touch(key)
	if item == nil {
		item = &cacheItem{key: key, next: c.head.next, prev: c.head}
		c.head.next.prev = item
		c.head.next = item
		c.items[key] = item
	}
	item.resp = resp
	item.expiry = now.Add(time.Duration(ttl) * time.Second)
	c.resize()
	return true
}

// Lookup returns a cached response for query, if present and unexpired.
func (c *MemoryCache) Lookup(now time.Time, query *dns.Msg) (*dns.Msg, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item := c.touch(keyFor(query))
	if item == nil {
		return nil, false
	}
	if now.After(item.expiry) {
		c.remove(item)
		return nil, false
	}
	return item.resp, true
}

const negativeTTLDefault = 60

func (c *MemoryCache) touch(key cacheKey) *cacheItem {
	item := c.items[key]
	if item == nil {
		return nil
	}
	item.prev.next = item.next
	item.next.prev = item.prev
	item.next = c.head.next
	item.prev = c.head
	c.head.next.prev = item
	c.head.next = item
	return item
}

func (c *MemoryCache) remove(item *cacheItem) {
	item.prev.next = item.next
	item.next.prev = item.prev
	delete(c.items, item.key)
}

func (c *MemoryCache) resize() {
	if c.maxItems <= 0 {
		return
	}
	for len(c.items) > c.maxItems {
		c.remove(c.tail.prev)
	}
}

// Size returns the number of items currently cached.
func (c *MemoryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
