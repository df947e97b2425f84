package storage

import (
	"context"
	"sync"
)

type MemoryStore struct {
	values sync.Map
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	val, ok := m.values.Load(key)
	if !ok {
		return nil, nil
	}
	src := val.([]byte)
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.values.Store(key, stored)
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.values.Delete(key)
	return nil
}
