package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const (
	memcachedWriteTimeout = 100 * time.Millisecond
	memcachedMaxKeyLen    = 250
)

var _ Replica = (*MemcachedReplica)(nil)

type MemcachedReplica struct {
	client *memcache.Client
	prefix string
	ttl    time.Duration
}

func NewMemcachedReplica(addr, prefix string, ttl time.Duration) *MemcachedReplica {
	return &MemcachedReplica{
		client: memcache.New(addr),
		prefix: prefix,
		ttl:    ttl,
	}
}

func (m *MemcachedReplica) Name() string {
	return "memcached"
}

// Replicate writes value, giving up after memcachedWriteTimeout or when ctx
// ends, whichever comes first.
func (m *MemcachedReplica) Replicate(ctx context.Context, key string, value []byte) error {
	item := &memcache.Item{
		Key:        memcachedKey(m.prefix + key),
		Value:      value,
		Expiration: int32(m.ttl.Seconds()),
	}

	done := make(chan error, 1)
	go func() {
		done <- m.client.Set(item)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("memcached set: %w", err)
		}
		return nil
	case <-time.After(memcachedWriteTimeout):
		return fmt.Errorf("memcached set: %w", context.DeadlineExceeded)
	case <-ctx.Done():
		return fmt.Errorf("memcached set: %w", ctx.Err())
	}
}

func (m *MemcachedReplica) Close() {
	m.client.Close()
}

// memcachedKey maps arbitrary cache keys onto memcached's key grammar: no
// whitespace or control characters, at most 250 bytes.
func memcachedKey(key string) string {
	key = strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, key)
	if len(key) <= memcachedMaxKeyLen {
		return key
	}
	sum := sha1.Sum([]byte(key))
	return key[:memcachedMaxKeyLen-2*len(sum)-1] + "#" + hex.EncodeToString(sum[:])
}
