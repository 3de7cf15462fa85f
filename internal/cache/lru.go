package cache

import (
	"container/list"
	"sync"
	"time"
)

// EvictReason tells an eviction callback why an entry left the cache.
type EvictReason int

const (
	// EvictCapacity means the entry was the least recently used one when the
	// cache grew past its size.
	EvictCapacity EvictReason = iota
	// EvictExpired means the entry outlived the TTL.
	EvictExpired
)

func (r EvictReason) String() string {
	if r == EvictExpired {
		return "expired"
	}
	return "capacity"
}

// LRUCache evicts by size and by TTL. A non-positive ttl disables expiry.
// Explicit Delete and Clear do not fire the eviction callback.
type LRUCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	entries map[string]*list.Element
	order   *list.List
	onEvict func(key string, value T, reason EvictReason)
	now     func() time.Time
}

var _ Cache[int] = (*LRUCache[int])(nil)

type entry[T any] struct {
	key       string
	value     T
	expiresAt time.Time
}

type eviction[T any] struct {
	entry  *entry[T]
	reason EvictReason
}

// NewLRUCache creates a cache holding at most maxSize entries.
func NewLRUCache[T any](maxSize int, ttl time.Duration) *LRUCache[T] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &LRUCache[T]{
		maxSize: maxSize,
		ttl:     ttl,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// OnEvict registers fn to run after an entry is evicted for capacity or
// expiry. fn runs without the cache lock held.
func (c *LRUCache[T]) OnEvict(fn func(key string, value T, reason EvictReason)) *LRUCache[T] {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
	return c
}

// Get returns the value for key and marks it recently used.
func (c *LRUCache[T]) Get(key string) (T, bool) {
	var zero T

	c.mu.Lock()
	elem, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return zero, false
	}
	e := elem.Value.(*entry[T])
	if c.expiredAt(e, c.now()) {
		c.unlink(elem)
		fn := c.onEvict
		c.mu.Unlock()
		c.notify(fn, []eviction[T]{{e, EvictExpired}})
		return zero, false
	}
	c.order.MoveToFront(elem)
	c.mu.Unlock()
	return e.value, true
}

// Set stores value under key, replacing any previous value and restarting
// its TTL.
func (c *LRUCache[T]) Set(key string, value T) {
	c.mu.Lock()
	e := &entry[T]{key: key, value: value, expiresAt: c.now().Add(c.ttl)}
	if elem, ok := c.entries[key]; ok {
		elem.Value = e
		c.order.MoveToFront(elem)
		c.mu.Unlock()
		return
	}
	c.entries[key] = c.order.PushFront(e)

	var evicted []eviction[T]
	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		evicted = append(evicted, eviction[T]{c.unlink(oldest), EvictCapacity})
	}
	fn := c.onEvict
	c.mu.Unlock()
	c.notify(fn, evicted)
}

// Delete removes key from the cache.
func (c *LRUCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.unlink(elem)
	}
}

// CleanExpired removes expired entries and returns how many were removed.
func (c *LRUCache[T]) CleanExpired() int {
	if c.ttl <= 0 {
		return 0
	}

	c.mu.Lock()
	now := c.now()
	var evicted []eviction[T]
	for elem := c.order.Front(); elem != nil; {
		next := elem.Next()
		if e := elem.Value.(*entry[T]); c.expiredAt(e, now) {
			evicted = append(evicted, eviction[T]{c.unlink(elem), EvictExpired})
		}
		elem = next
	}
	fn := c.onEvict
	c.mu.Unlock()

	c.notify(fn, evicted)
	return len(evicted)
}

// Clear drops every entry.
func (c *LRUCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Size returns the current number of entries.
func (c *LRUCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *LRUCache[T]) expiredAt(e *entry[T], now time.Time) bool {
	return c.ttl > 0 && now.After(e.expiresAt)
}

func (c *LRUCache[T]) unlink(elem *list.Element) *entry[T] {
	e := elem.Value.(*entry[T])
	delete(c.entries, e.key)
	c.order.Remove(elem)
	return e
}

func (c *LRUCache[T]) notify(fn func(string, T, EvictReason), evicted []eviction[T]) {
	if fn == nil {
		return
	}
	for _, ev := range evicted {
		fn(ev.entry.key, ev.entry.value, ev.reason)
	}
}
