package metadata

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/kafkameta/internal/kafka"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

type recordingDialer struct {
	mu      sync.Mutex
	conns   map[string]*fakeConn
	configs []kafka.Config
	err     error
}

func (d *recordingDialer) dial(cfg kafka.Config) (kafka.Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.configs = append(d.configs, cfg)
	if d.err != nil {
		return nil, d.err
	}
	conn, ok := d.conns[cfg.BootstrapServers]
	if !ok {
		conn = newFakeConn(singleBrokerTopology())
		if d.conns == nil {
			d.conns = make(map[string]*fakeConn)
		}
		d.conns[cfg.BootstrapServers] = conn
	}
	return conn, nil
}

func (d *recordingDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.configs)
}

func TestAddClusterAppliesConnectionConfig(t *testing.T) {
	dialer := &recordingDialer{}
	f := NewFetcher(NewCaches(), time.Minute,
		WithDialer(dialer.dial),
		WithConnectionConfig(kafka.Config{Driver: kafka.DriverSarama, BootstrapServers: "ignored:1", AuthMechanism: "PLAIN"}),
	)

	if err := f.AddCluster("prod", "k1:9092,k2:9092"); err != nil {
		t.Fatalf("AddCluster() error = %v", err)
	}

	got := dialer.configs[0]
	if got.BootstrapServers != "k1:9092,k2:9092" || got.Driver != kafka.DriverSarama || got.AuthMechanism != "PLAIN" {
		t.Fatalf("unexpected dial config: %+v", got)
	}
}

func TestAddClusterRejectsDuplicate(t *testing.T) {
	dialer := &recordingDialer{}
	f := NewFetcher(NewCaches(), time.Minute, WithDialer(dialer.dial))

	if err := f.AddCluster("prod", "k1:9092"); err != nil {
		t.Fatalf("first AddCluster() error = %v", err)
	}
	err := f.AddCluster("prod", "k9:9092")
	if !errors.Is(err, ErrClusterExists) {
		t.Fatalf("expected ErrClusterExists, got %v", err)
	}
	if dialer.dialCount() != 1 {
		t.Fatalf("duplicate registration should not dial, got %d dials", dialer.dialCount())
	}
	if !reflect.DeepEqual(f.Clusters(), []ClusterID{"prod"}) {
		t.Fatalf("Clusters() = %v", f.Clusters())
	}
}

func TestAddClusterSetupFailure(t *testing.T) {
	refused := errors.New("connection refused")
	f := NewFetcher(NewCaches(), time.Minute, WithDialer((&recordingDialer{err: refused}).dial))

	err := f.AddCluster("prod", "k1:9092")

	var setupErr *ConnectionSetupError
	if !errors.As(err, &setupErr) {
		t.Fatalf("expected *ConnectionSetupError, got %T: %v", err, err)
	}
	if setupErr.Cluster != "prod" || !errors.Is(err, refused) {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Clusters()) != 0 {
		t.Fatalf("failed cluster should not be registered, got %v", f.Clusters())
	}
}

func TestRefreshUnknownCluster(t *testing.T) {
	f := NewFetcher(NewCaches(), time.Minute, WithDialer((&recordingDialer{}).dial))

	if err := f.Refresh(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unregistered cluster")
	}
}

func TestClustersSorted(t *testing.T) {
	f := NewFetcher(NewCaches(), time.Minute, WithDialer((&recordingDialer{}).dial))

	for _, id := range []ClusterID{"staging", "dev", "prod"} {
		if err := f.AddCluster(id, string(id)+":9092"); err != nil {
			t.Fatalf("AddCluster(%s) error = %v", id, err)
		}
	}

	want := []ClusterID{"dev", "prod", "staging"}
	if got := f.Clusters(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Clusters() = %v, want %v", got, want)
	}
}

func TestFetcherRefreshesOnSchedule(t *testing.T) {
	dialer := &recordingDialer{}
	f := NewFetcher(NewCaches(), 5*time.Millisecond, WithDialer(dialer.dial), WithFetchTimeout(time.Second))

	if err := f.AddCluster("a", "a:9092"); err != nil {
		t.Fatalf("AddCluster(a) error = %v", err)
	}
	f.Start(context.Background())

	// Registered after Start, picked up without a restart.
	if err := f.AddCluster("b", "b:9092"); err != nil {
		t.Fatalf("AddCluster(b) error = %v", err)
	}

	caches := f.Caches()
	waitFor(t, 2*time.Second, func() bool {
		_, okA := caches.Metadata.Get("a")
		_, okB := caches.Metadata.Get("b")
		return okA && okB
	})

	f.Stop()

	for addr, conn := range dialer.conns {
		if !conn.isClosed() {
			t.Fatalf("connection %s not closed on Stop", addr)
		}
	}
	if err := f.Refresh(context.Background(), "a"); !errors.Is(err, ErrClientUninitialized) {
		t.Fatalf("expected ErrClientUninitialized after Stop, got %v", err)
	}
}

func TestRefreshPublishesSynchronously(t *testing.T) {
	f := NewFetcher(NewCaches(), time.Hour, WithDialer((&recordingDialer{}).dial))
	if err := f.AddCluster("prod", "k1:9092"); err != nil {
		t.Fatalf("AddCluster() error = %v", err)
	}

	if err := f.Refresh(context.Background(), "prod"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	if got := f.Caches().TopicsOf("prod"); len(got) != 1 {
		t.Fatalf("expected one cached topic, got %+v", got)
	}
}

func TestAddClusterRejectsAmbiguousID(t *testing.T) {
	tests := []struct {
		name string
		id   ClusterID
	}{
		{"empty", ""},
		{"separator", "a/b"},
		{"space", "prod east"},
		{"tab", "prod\t"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &recordingDialer{}
			f := NewFetcher(NewCaches(), time.Minute, WithDialer(dialer.dial))

			err := f.AddCluster(tt.id, "k1:9092")
			if !errors.Is(err, ErrInvalidClusterID) {
				t.Fatalf("AddCluster(%q) error = %v, want ErrInvalidClusterID", tt.id, err)
			}
			if dialer.dialCount() != 0 {
				t.Fatalf("invalid id should not dial, got %d dials", dialer.dialCount())
			}
			if len(f.Clusters()) != 0 {
				t.Fatalf("Clusters() = %v, want none", f.Clusters())
			}
		})
	}
}

type recordingReplica struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingReplica) Name() string { return "recording" }

func (r *recordingReplica) Replicate(_ context.Context, key string, _ []byte) error {
	r.mu.Lock()
	r.keys = append(r.keys, key)
	r.mu.Unlock()
	return nil
}

func (r *recordingReplica) Close() {}

func TestReplicaKeysDistinctAcrossClusters(t *testing.T) {
	replica := &recordingReplica{}
	caches := NewCaches(replica)

	// Group names may contain the separator; valid cluster ids may not.
	keys := []GroupKey{
		{Cluster: "a", Group: "b/c"},
		{Cluster: "b", Group: "c"},
		{Cluster: "a", Group: "b"},
		{Cluster: "ab", Group: "c"},
	}
	for _, key := range keys {
		if err := key.Cluster.Validate(); err != nil {
			t.Fatalf("Validate(%q) error = %v", key.Cluster, err)
		}
		if err := caches.Groups.Put(context.Background(), key, Group{Name: key.Group}); err != nil {
			t.Fatalf("Put(%s) error = %v", key, err)
		}
	}

	seen := make(map[string]bool)
	for _, key := range replica.keys {
		if seen[key] {
			t.Fatalf("replica key %q written twice, keys = %q", key, replica.keys)
		}
		seen[key] = true
	}
	if len(seen) != len(keys) {
		t.Fatalf("replica keys = %q, want %d distinct", replica.keys, len(keys))
	}

	if err := ClusterID("a/b").Validate(); !errors.Is(err, ErrInvalidClusterID) {
		t.Fatalf("Validate(a/b) error = %v, want ErrInvalidClusterID", err)
	}
}

func TestFailingClusterLeavesOthersUntouched(t *testing.T) {
	broken := newFakeConn(singleBrokerTopology())
	broken.topologyErr = errors.New("broker unreachable")
	healthy := newFakeConn(singleBrokerTopology())
	dialer := &recordingDialer{conns: map[string]*fakeConn{"a:9092": broken, "b:9092": healthy}}

	f := NewFetcher(NewCaches(), 5*time.Millisecond, WithDialer(dialer.dial), WithMaxBackoff(10*time.Millisecond))
	for _, id := range []ClusterID{"a", "b"} {
		if err := f.AddCluster(id, string(id)+":9092"); err != nil {
			t.Fatalf("AddCluster(%s) error = %v", id, err)
		}
	}
	caches := f.Caches()

	f.Start(context.Background())
	waitFor(t, 2*time.Second, func() bool {
		_, ok := caches.Metadata.Get("b")
		return ok
	})
	brokers, _ := caches.Brokers.Get("b")
	topics := caches.TopicsOf("b")
	healthyRuns := healthy.topologyCalls()

	waitFor(t, 2*time.Second, func() bool {
		return broken.topologyCalls() >= 3 && healthy.topologyCalls() > healthyRuns+2
	})
	f.Stop()

	if _, ok := caches.Metadata.Get("a"); ok {
		t.Fatal("failing cluster should publish nothing")
	}
	gotBrokers, _ := caches.Brokers.Get("b")
	if !reflect.DeepEqual(gotBrokers, brokers) {
		t.Fatalf("brokers of b = %+v, want %+v", gotBrokers, brokers)
	}
	if got := caches.TopicsOf("b"); !reflect.DeepEqual(got, topics) {
		t.Fatalf("topics of b = %+v, want %+v", got, topics)
	}
}

func TestAddClusterDialsWithoutBlockingReaders(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	slow := func(cfg kafka.Config) (kafka.Connection, error) {
		close(started)
		<-release
		return newFakeConn(singleBrokerTopology()), nil
	}
	f := NewFetcher(NewCaches(), time.Minute, WithDialer(slow))

	added := make(chan error, 1)
	go func() { added <- f.AddCluster("slow", "slow:9092") }()
	<-started

	done := make(chan []ClusterID, 1)
	go func() { done <- f.Clusters() }()
	select {
	case ids := <-done:
		if len(ids) != 0 {
			t.Fatalf("Clusters() during dial = %v, want none", ids)
		}
	case <-time.After(time.Second):
		t.Fatal("Clusters() blocked while a cluster was dialling")
	}

	if err := f.AddCluster("slow", "other:9092"); !errors.Is(err, ErrClusterExists) {
		t.Fatalf("concurrent AddCluster error = %v, want ErrClusterExists", err)
	}

	close(release)
	if err := <-added; err != nil {
		t.Fatalf("AddCluster() error = %v", err)
	}
	if got := f.Clusters(); !reflect.DeepEqual(got, []ClusterID{"slow"}) {
		t.Fatalf("Clusters() = %v", got)
	}
}
