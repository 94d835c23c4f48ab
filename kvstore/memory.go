package kvstore

import (
	"context"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"
)

const (
	defaultNumCounters = 1e6
	defaultMaxCost     = 64 << 20
	defaultBufferItems = 64
)

// MemoryConfig bounds the ristretto-backed store. MaxCost is measured in bytes
// of stored value.
type MemoryConfig struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// MemoryStore is a bounded in-process store; eviction follows ristretto's
// admission and sampled-LFU policy.
type MemoryStore struct {
	cache  *ristretto.Cache
	closed atomic.Bool
}

// NewMemoryStore constructs a MemoryStore, filling zero fields with defaults.
func NewMemoryStore(cfg MemoryConfig) (*MemoryStore, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = defaultNumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = defaultMaxCost
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = defaultBufferItems
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &MemoryStore{cache: cache}, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	value, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	raw, ok := value.([]byte)
	if !ok {
		return nil, false, nil
	}
	return clone(raw), true, nil
}

// Put stores the value and waits for ristretto's write buffer so a following
// Get observes it. A rejected admission is not an error.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	cost := int64(len(value))
	if cost == 0 {
		cost = 1
	}
	s.cache.Set(key, clone(value), cost)
	s.cache.Wait()
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close releases the cache goroutines.
func (s *MemoryStore) Close() {
	if s.closed.CompareAndSwap(false, true) {
		s.cache.Close()
	}
}
