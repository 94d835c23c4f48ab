// Package segcache memoizes sub-scores per geometric fingerprint for the
// lifetime of the process, so candidates that share a segment or location
// are scored once.
package segcache

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// Cache is the narrow get/put surface the orchestrator depends on.
type Cache[V any] interface {
	Get(key string) (V, bool)
	Put(key string, value V)
	Len() int
}

// MapCache is an unbounded cache. One run is bounded in size, so growth is
// bounded by the number of distinct segments seen by the process.
type MapCache[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// NewMapCache returns an empty MapCache.
func NewMapCache[V any]() *MapCache[V] {
	return &MapCache[V]{items: make(map[string]V)}
}

func (c *MapCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *MapCache[V]) Put(key string, value V) {
	c.mu.Lock()
	c.items[key] = value
	c.mu.Unlock()
}

func (c *MapCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// LRUCache bounds the number of entries, evicting the least recently used.
type LRUCache[V any] struct {
	inner *lru.Cache[string, V]
}

// NewLRUCache returns a cache holding at most size entries.
func NewLRUCache[V any](size int) (*LRUCache[V], error) {
	inner, err := lru.New[string, V](size)
	if err != nil {
		return nil, fmt.Errorf("segcache: %w", err)
	}
	return &LRUCache[V]{inner: inner}, nil
}

func (c *LRUCache[V]) Get(key string) (V, bool) {
	return c.inner.Get(key)
}

func (c *LRUCache[V]) Put(key string, value V) {
	c.inner.Add(key, value)
}

func (c *LRUCache[V]) Len() int {
	return c.inner.Len()
}

// New returns an LRUCache when size is positive, otherwise a MapCache.
func New[V any](size int) (Cache[V], error) {
	if size <= 0 {
		return NewMapCache[V](), nil
	}
	return NewLRUCache[V](size)
}

// Memo fronts a Cache with in-flight deduplication: concurrent lookups of a
// missing key share one computation. Only successful results are stored.
type Memo[V any] struct {
	cache Cache[V]
	group singleflight.Group
}

// NewMemo wraps cache. A nil cache gets an unbounded MapCache.
func NewMemo[V any](cache Cache[V]) *Memo[V] {
	if cache == nil {
		cache = NewMapCache[V]()
	}
	return &Memo[V]{cache: cache}
}

// Do returns the cached value for key or computes it with fn. hit reports
// whether the value came from the cache.
func (m *Memo[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (value V, hit bool, err error) {
	if v, ok := m.cache.Get(key); ok {
		return v, true, nil
	}
	out, err, _ := m.group.Do(key, func() (any, error) {
		if v, ok := m.cache.Get(key); ok {
			return v, nil
		}
		v, err := fn(ctx)
		if err != nil {
			return v, err
		}
		m.cache.Put(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	return out.(V), false, nil
}

// Len reports the number of cached entries.
func (m *Memo[V]) Len() int {
	return m.cache.Len()
}
