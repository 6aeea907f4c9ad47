package metadata

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/kafkameta/internal/kafka"
	"github.com/ppiankov/kafkameta/internal/scheduler"
)

const (
	// ConcurrencyLimit is the number of refresh runs allowed in flight
	// across all clusters.
	ConcurrencyLimit = 2

	DefaultFetchTimeout = 30 * time.Second
)

type Option func(*Fetcher)

// WithDialer replaces kafka.Dial as the connection constructor.
func WithDialer(dial Dialer) Option {
	return func(f *Fetcher) {
		f.dial = dial
	}
}

// WithConnectionConfig sets the driver, SASL and TLS settings applied to
// every cluster. BootstrapServers is ignored.
func WithConnectionConfig(cfg kafka.Config) Option {
	return func(f *Fetcher) {
		f.base = cfg
	}
}

// WithFetchTimeout bounds every individual upstream fetch.
func WithFetchTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.fetchTimeout = d
		}
	}
}

// WithMaxBackoff caps the delay before re-running a failing cluster.
func WithMaxBackoff(d time.Duration) Option {
	return func(f *Fetcher) {
		f.schedulerOpts = append(f.schedulerOpts, scheduler.WithMaxBackoff(d))
	}
}

// Fetcher is the registration point for monitored clusters. It owns the
// shared caches and the scheduler that drives one Task per cluster.
type Fetcher struct {
	scheduler     *scheduler.Scheduler
	schedulerOpts []scheduler.Option
	caches        Caches
	base          kafka.Config
	dial          Dialer
	fetchTimeout  time.Duration

	mu      sync.Mutex
	tasks   map[ClusterID]*Task
	pending map[ClusterID]struct{}
}

func NewFetcher(caches Caches, interval time.Duration, opts ...Option) *Fetcher {
	f := &Fetcher{
		caches:       caches,
		dial:         kafka.Dial,
		fetchTimeout: DefaultFetchTimeout,
		tasks:        make(map[ClusterID]*Task),
		pending:      make(map[ClusterID]struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.scheduler = scheduler.New(interval, ConcurrencyLimit, f.schedulerOpts...)
	return f
}

// AddCluster connects to bootstrap and schedules periodic refreshes of id.
// A connection failure is returned as *ConnectionSetupError and nothing is
// registered. An id that is already registered, or being registered, is
// rejected with ErrClusterExists before any connection is attempted.
func (f *Fetcher) AddCluster(id ClusterID, bootstrap string) error {
	if err := id.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	_, registered := f.tasks[id]
	_, pending := f.pending[id]
	if registered || pending {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrClusterExists, id)
	}
	f.pending[id] = struct{}{}
	f.mu.Unlock()

	// Dial without f.mu held; it can take the whole dial timeout.
	task, err := f.connect(id, bootstrap)

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, id)
	if err != nil {
		return err
	}

	if err := f.scheduler.Register(string(id), task); err != nil {
		task.close()
		return fmt.Errorf("register cluster %s: %w", id, err)
	}
	f.tasks[id] = task

	slog.Info("cluster registered", "cluster", id, "bootstrap_servers", bootstrap)
	return nil
}

func (f *Fetcher) connect(id ClusterID, bootstrap string) (*Task, error) {
	cfg := f.base
	cfg.BootstrapServers = bootstrap

	task := newTask(id, cfg, f.dial, f.caches.Alias(), f.fetchTimeout)
	if err := task.connect(); err != nil {
		return nil, &ConnectionSetupError{Cluster: id, Err: err}
	}
	return task, nil
}

// Refresh runs one refresh of id synchronously, outside the schedule.
func (f *Fetcher) Refresh(ctx context.Context, id ClusterID) error {
	f.mu.Lock()
	task, ok := f.tasks[id]
	f.mu.Unlock()

	if !ok {
		return fmt.Errorf("cluster %s is not registered", id)
	}
	return task.Run(ctx)
}

// Clusters returns the registered cluster ids in ascending order.
func (f *Fetcher) Clusters() []ClusterID {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]ClusterID, 0, len(f.tasks))
	for id := range f.tasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (f *Fetcher) Caches() Caches {
	return f.caches
}

// Start begins periodic refreshes of every registered cluster.
func (f *Fetcher) Start(ctx context.Context) {
	f.scheduler.Start(ctx)
}

// Stop halts the schedule and closes every cluster connection.
func (f *Fetcher) Stop() {
	f.scheduler.Stop()

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, task := range f.tasks {
		task.close()
	}
}
