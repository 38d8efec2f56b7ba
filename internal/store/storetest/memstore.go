// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"sync"

	"fleetman.io/fleetman/internal/store"
)

type MemStore struct {
	mu       sync.Mutex
	kvs      map[string]*store.KVPair
	revision uint64

	// Gets counts Get calls, so tests can tell cached reads from real ones.
	Gets int
}

func NewMemStore() *MemStore {
	return &MemStore{kvs: make(map[string]*store.KVPair)}
}

func (s *MemStore) Get(ctx context.Context, key string) (*store.KVPair, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Gets++
	kv, ok := s.kvs[key]
	if !ok {
		return nil, nil
	}
	value := make([]byte, len(kv.Value))
	copy(value, kv.Value)
	return &store.KVPair{Key: kv.Key, Value: value, LastIndex: kv.LastIndex}, nil
}

func (s *MemStore) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revision++
	v := make([]byte, len(value))
	copy(v, value)
	s.kvs[key] = &store.KVPair{Key: key, Value: v, LastIndex: s.revision}
	return nil
}

func (s *MemStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kvs, key)
	return nil
}

func (s *MemStore) Close() error {
	return nil
}

var _ store.Store = (*MemStore)(nil)
