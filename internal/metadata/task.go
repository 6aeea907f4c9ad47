package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/kafkameta/internal/kafka"
	"github.com/ppiankov/kafkameta/internal/metrics"
)

// Dialer opens a connection to a cluster.
type Dialer func(cfg kafka.Config) (kafka.Connection, error)

var tracer = otel.Tracer("kafkameta-fetcher")

// Task refreshes the caches of exactly one cluster.
type Task struct {
	cluster      ClusterID
	config       kafka.Config
	dial         Dialer
	caches       Caches
	fetchTimeout time.Duration
	now          func() time.Time

	// mu serialises runs; conn is not safe for concurrent use.
	mu          sync.Mutex
	conn        kafka.Connection
	lastRefresh time.Time
}

func newTask(cluster ClusterID, cfg kafka.Config, dial Dialer, caches Caches, fetchTimeout time.Duration) *Task {
	return &Task{
		cluster:      cluster,
		config:       cfg,
		dial:         dial,
		caches:       caches,
		fetchTimeout: fetchTimeout,
		now:          time.Now,
	}
}

func (t *Task) connect() error {
	conn, err := t.dial(t.config)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *Task) close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
}

// Run performs one refresh: aggregate snapshot, decomposed brokers and
// topics, then consumer groups. The first failure ends the run; entries
// written by earlier phases are kept.
func (t *Task) Run(ctx context.Context) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return fmt.Errorf("cluster %s: %w", t.cluster, ErrClientUninitialized)
	}

	runID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "metadata.Run", trace.WithAttributes(
		attribute.String("kafka.cluster", string(t.cluster)),
		attribute.String("run_id", runID),
	))
	defer span.End()

	log := slog.With("cluster", t.cluster, "run_id", runID)
	start := time.Now()
	log.Debug("metadata refresh start")

	defer func() {
		result := "ok"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		metrics.RefreshRunsTotal.WithLabelValues(string(t.cluster), result).Inc()
		metrics.RefreshDurationSeconds.WithLabelValues(string(t.cluster)).Observe(time.Since(start).Seconds())
	}()

	if err := t.refreshAggregate(ctx); err != nil {
		return err
	}
	if err := t.refreshDecomposed(ctx); err != nil {
		return err
	}
	if err := t.refreshGroups(ctx); err != nil {
		return err
	}

	log.Debug("metadata refresh end", "duration", time.Since(start))
	return nil
}

func (t *Task) refreshAggregate(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "metadata.aggregate")
	defer span.End()

	topology, err := t.fetchTopology(ctx, PhaseAggregate)
	if err != nil {
		return err
	}

	snapshot := NewMetadata(topology, t.refreshTime())
	if err := t.caches.Metadata.Put(ctx, t.cluster, snapshot); err != nil {
		return t.writeError(MetadataCacheName, t.cluster.String(), err)
	}

	metrics.LastRefreshTimestamp.WithLabelValues(string(t.cluster)).Set(float64(snapshot.RefreshTime.Unix()))
	span.SetAttributes(
		attribute.Int("kafka.brokers", len(snapshot.Brokers)),
		attribute.Int("kafka.topics", len(snapshot.Topics)),
	)
	return nil
}

// refreshDecomposed deliberately fetches the topology again instead of
// reusing the aggregate phase's response.
func (t *Task) refreshDecomposed(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "metadata.decomposed")
	defer span.End()

	topology, err := t.fetchTopology(ctx, PhaseDecomposed)
	if err != nil {
		return err
	}

	if err := t.caches.Brokers.Put(ctx, t.cluster, NormalizeBrokers(topology.Brokers)); err != nil {
		return t.writeError(BrokerCacheName, t.cluster.String(), err)
	}

	// Topics missing from this response keep their previous entry.
	for _, topic := range topology.Topics {
		key := TopicKey{Cluster: t.cluster, Topic: topic.Name}
		if err := t.caches.Topics.Put(ctx, key, NormalizePartitions(topic.Partitions)); err != nil {
			return t.writeError(TopicCacheName, key.String(), err)
		}
	}
	return nil
}

func (t *Task) refreshGroups(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "metadata.groups")
	defer span.End()

	listing, err := t.fetchGroups(ctx)
	if err != nil {
		return err
	}

	// Groups missing from this listing keep their previous entry.
	for _, group := range NormalizeGroups(listing) {
		key := GroupKey{Cluster: t.cluster, Group: group.Name}
		if err := t.caches.Groups.Put(ctx, key, group); err != nil {
			return t.writeError(GroupCacheName, key.String(), err)
		}
	}

	span.SetAttributes(attribute.Int("kafka.groups", len(listing.Groups)))
	return nil
}

func (t *Task) fetchTopology(ctx context.Context, phase Phase) (*kafka.Topology, error) {
	ctx, cancel := context.WithTimeout(ctx, t.fetchTimeout)
	defer cancel()

	start := time.Now()
	topology, err := t.conn.FetchTopology(ctx)
	metrics.FetchDurationSeconds.WithLabelValues(string(t.cluster), string(phase)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &FetchError{Cluster: t.cluster, Phase: phase, Err: err}
	}
	return topology, nil
}

func (t *Task) fetchGroups(ctx context.Context) (*kafka.GroupListing, error) {
	ctx, cancel := context.WithTimeout(ctx, t.fetchTimeout)
	defer cancel()

	start := time.Now()
	listing, err := t.conn.FetchGroups(ctx)
	metrics.FetchDurationSeconds.WithLabelValues(string(t.cluster), string(PhaseGroups)).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, &FetchError{Cluster: t.cluster, Phase: PhaseGroups, Err: err}
	}
	return listing, nil
}

// refreshTime returns now, clamped so that snapshots of this cluster never
// go back in time when the wall clock does. The monotonic reading is
// stripped first: Before would otherwise ignore a wall clock step.
func (t *Task) refreshTime() time.Time {
	now := t.now().Round(0)
	if now.Before(t.lastRefresh) {
		now = t.lastRefresh
	}
	t.lastRefresh = now
	return now
}

func (t *Task) writeError(cacheName, key string, err error) error {
	return &CacheWriteError{Cluster: t.cluster, Cache: cacheName, Key: key, Err: err}
}
