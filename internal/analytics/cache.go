package analytics

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// ResultCache memoizes derived analytics between store mutations.
// Keys carry the store watermark, so any insert, delete or rename
// invalidates every prior entry without coordination: stale keys are
// simply never asked for again and age out via LRU eviction or TTL.
type ResultCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	lru     *list.List

	hits   int64
	misses int64
}

type cacheEntry[T any] struct {
	key       string
	data      T
	expiresAt time.Time
}

func NewResultCache[T any](maxSize int, ttl time.Duration) *ResultCache[T] {
	return &ResultCache[T]{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// Key builds the cache key from the store watermark and the query
// fingerprint parts.
func Key(watermark int64, parts ...any) string {
	key := fmt.Sprintf("w%d", watermark)
	for _, p := range parts {
		key += fmt.Sprintf("|%v", p)
	}
	return key
}

func (c *ResultCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	elem, exists := c.items[key]
	if !exists {
		c.misses++
		return zero, false
	}

	entry := elem.Value.(*cacheEntry[T])
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		c.misses++
		return zero, false
	}

	c.lru.MoveToFront(elem)
	c.hits++
	return entry.data, true
}

func (c *ResultCache[T]) Set(key string, data T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry[T]{key: key, data: data, expiresAt: time.Now().Add(c.ttl)}
	if elem, exists := c.items[key]; exists {
		elem.Value = entry
		c.lru.MoveToFront(elem)
		return
	}

	elem := c.lru.PushFront(entry)
	c.items[key] = elem

	if c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

func (c *ResultCache[T]) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry[T])
	delete(c.items, entry.key)
	c.lru.Remove(elem)
}

// CleanExpired removes expired entries and returns how many were
// dropped.
func (c *ResultCache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var toRemove []*list.Element
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		if now.After(elem.Value.(*cacheEntry[T]).expiresAt) {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		c.removeElement(elem)
	}
	return len(toRemove)
}

func (c *ResultCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns hit and miss counts since creation.
func (c *ResultCache[T]) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
