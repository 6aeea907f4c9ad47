package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ppiankov/kafkameta/internal/metrics"
)

// ErrReplication marks a Put that was stored locally but could not be
// pushed to one of the replicas.
var ErrReplication = errors.New("cache replication failed")

// Key is the constraint for cache keys. String is used for sharding and as
// the replica key.
type Key interface {
	comparable
	String() string
}

// ReplicatedMap is a handle to a shared keyed store. Handles obtained with
// Alias see and mutate the same entries; the zero value is not usable.
type ReplicatedMap[K Key, V any] struct {
	store *store[K, V]
}

type store[K Key, V any] struct {
	name     string
	entries  cmap.ConcurrentMap[K, V]
	replicas []Replica
}

// New creates an empty store named name. Every Put is forwarded to each
// replica as JSON after it has been applied locally.
func New[K Key, V any](name string, replicas ...Replica) *ReplicatedMap[K, V] {
	return &ReplicatedMap[K, V]{
		store: &store[K, V]{
			name:     name,
			entries:  cmap.NewStringer[K, V](),
			replicas: replicas,
		},
	}
}

// Alias returns another handle over the same entries and replicas.
func (m *ReplicatedMap[K, V]) Alias() *ReplicatedMap[K, V] {
	return &ReplicatedMap[K, V]{store: m.store}
}

func (m *ReplicatedMap[K, V]) Name() string {
	return m.store.name
}

// Put replaces the value stored under key. A replication failure is
// returned wrapped in ErrReplication; the local entry is already updated at
// that point.
func (m *ReplicatedMap[K, V]) Put(ctx context.Context, key K, value V) error {
	start := time.Now()
	m.store.entries.Set(key, value)

	if len(m.store.replicas) == 0 {
		metrics.CacheWritesTotal.WithLabelValues(m.store.name, "ok").Inc()
		metrics.CacheWriteLatencySeconds.WithLabelValues(m.store.name).Observe(time.Since(start).Seconds())
		return nil
	}

	if err := m.replicate(ctx, key, value); err != nil {
		metrics.CacheWritesTotal.WithLabelValues(m.store.name, "error").Inc()
		return err
	}

	metrics.CacheWritesTotal.WithLabelValues(m.store.name, "ok").Inc()
	metrics.CacheWriteLatencySeconds.WithLabelValues(m.store.name).Observe(time.Since(start).Seconds())
	return nil
}

func (m *ReplicatedMap[K, V]) replicate(ctx context.Context, key K, value V) error {
	ctx, span := otel.Tracer("kafkameta-cache").Start(ctx, "cache.Replicate")
	defer span.End()

	replicaKey := m.store.name + ":" + key.String()
	span.SetAttributes(
		attribute.String("cache.name", m.store.name),
		attribute.String("cache.key", replicaKey),
	)

	b, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: encode %s: %w", ErrReplication, replicaKey, err)
	}

	for _, replica := range m.store.replicas {
		if err := replica.Replicate(ctx, replicaKey, b); err != nil {
			metrics.ReplicationErrorsTotal.WithLabelValues(m.store.name, replica.Name()).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("%w: %s to %s: %w", ErrReplication, replicaKey, replica.Name(), err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func (m *ReplicatedMap[K, V]) Get(key K) (V, bool) {
	return m.store.entries.Get(key)
}

// Keys returns every key currently stored, ordered by their string form.
func (m *ReplicatedMap[K, V]) Keys() []K {
	keys := m.store.entries.Keys()
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

func (m *ReplicatedMap[K, V]) Len() int {
	return m.store.entries.Count()
}
