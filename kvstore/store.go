// Package kvstore holds the backing stores for the edge score cache.
//
// Entries never expire on their own; a store may evict under its own policy and
// callers treat a missing key as a miss.
package kvstore

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by stores used after Close.
var ErrClosed = errors.New("kvstore: closed")

// Store is the narrow key/value surface the proxy depends on.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Pinger is implemented by stores that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MapStore is an unbounded in-process store.
type MapStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMapStore returns an empty MapStore.
func NewMapStore() *MapStore {
	return &MapStore{items: make(map[string][]byte)}
}

func (s *MapStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	value, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return clone(value), true, nil
}

func (s *MapStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.items[key] = clone(value)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries.
func (s *MapStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
