package generator

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/hashstructure/v2"
)

// snippetLen bounds how much of the message participates in the cache key.
const snippetLen = 200

// cacheKey is hashed with hashstructure; all fields participate.
type cacheKey struct {
	TenantID       string
	Classification Classification
	Tone           string
	Snippet        string
}

func keyFor(tenantID string, class Classification, tone, subject, body string) (uint64, error) {
	snippet := strings.Join(strings.Fields(strings.ToLower(subject+" "+body)), " ")
	if len(snippet) > snippetLen {
		snippet = snippet[:snippetLen]
	}
	return hashstructure.Hash(cacheKey{
		TenantID:       tenantID,
		Classification: class,
		Tone:           tone,
		Snippet:        snippet,
	}, hashstructure.FormatV2, nil)
}

type cacheEntry struct {
	key      uint64
	value    Completion
	storedAt time.Time
}

// Cache is a size-bounded LRU with a per-entry TTL. A zero size or TTL
// disables it. Safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	size  int
	ttl   time.Duration
	ll    *list.List
	items map[uint64]*list.Element
	now   func() time.Time
}

// NewCache returns a cache holding at most size entries for ttl each.
func NewCache(size int, ttl time.Duration) *Cache {
	return &Cache{
		size:  size,
		ttl:   ttl,
		ll:    list.New(),
		items: make(map[uint64]*list.Element),
		now:   time.Now,
	}
}

func (c *Cache) enabled() bool { return c != nil && c.size > 0 && c.ttl > 0 }

// Get returns a live entry and marks it most recently used.
func (c *Cache) Get(key uint64) (Completion, bool) {
	if !c.enabled() {
		return Completion{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return Completion{}, false
	}
	e := el.Value.(*cacheEntry)
	if c.now().Sub(e.storedAt) >= c.ttl {
		c.ll.Remove(el)
		delete(c.items, key)
		return Completion{}, false
	}
	c.ll.MoveToFront(el)
	return e.value, true
}

// Put stores value, evicting the least recently used entry when full.
func (c *Cache) Put(key uint64, value Completion) {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		e := el.Value.(*cacheEntry)
		e.value, e.storedAt = value, c.now()
		c.ll.MoveToFront(el)
		return
	}
	c.items[key] = c.ll.PushFront(&cacheEntry{key: key, value: value, storedAt: c.now()})
	for c.ll.Len() > c.size {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// Len reports the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
