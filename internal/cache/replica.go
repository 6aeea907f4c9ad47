package cache

import "context"

// Replica receives a copy of every cache write. Key is already namespaced
// by the cache name; value is the JSON encoding of the stored value.
type Replica interface {
	Name() string

	// Replicate stores value under key, replacing any previous value.
	Replicate(ctx context.Context, key string, value []byte) error

	// Close gracefully closes any connections
	Close()
}
