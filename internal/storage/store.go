// Package storage provides the durable string-keyed stores the engine persists to.
package storage

import "context"

// Store is a durable key-value store. Get returns nil, nil for absent keys.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// Pinger is implemented by stores that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}
