package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ppiankov/kafkameta/internal/metrics"
)

// ErrDuplicateKey is returned when a key is registered twice.
var ErrDuplicateKey = errors.New("task already registered")

// Task is one unit of recurring work.
type Task interface {
	Run(ctx context.Context) error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func(ctx context.Context) error

func (f TaskFunc) Run(ctx context.Context) error { return f(ctx) }

type Option func(*Scheduler)

// WithMaxBackoff caps the delay between runs of a failing key. The default
// is eight times the interval.
func WithMaxBackoff(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.maxBackoff = d
		}
	}
}

// Scheduler runs every registered task once per interval. Runs of one key
// never overlap; at most limit runs are in flight across all keys.
type Scheduler struct {
	interval   time.Duration
	maxBackoff time.Duration
	slots      chan struct{}

	mu      sync.Mutex
	tasks   map[string]Task
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	wg      sync.WaitGroup
}

func New(interval time.Duration, limit int, opts ...Option) *Scheduler {
	if limit < 1 {
		limit = 1
	}
	s := &Scheduler{
		interval:   interval,
		maxBackoff: 8 * interval,
		slots:      make(chan struct{}, limit),
		tasks:      make(map[string]Task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds task under key. If the scheduler is already started the
// first run happens immediately.
func (s *Scheduler) Register(key string, task Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	s.tasks[key] = task
	metrics.ScheduledTasks.Set(float64(len(s.tasks)))

	if s.running {
		s.launch(key, task)
	}
	return nil
}

// Keys returns the registered keys in ascending order.
func (s *Scheduler) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.tasks))
	for key := range s.tasks {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Start begins running all registered tasks. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for key, task := range s.tasks {
		s.launch(key, task)
	}
	slog.Info("scheduler started", "tasks", len(s.tasks), "interval", s.interval, "concurrency", cap(s.slots))
}

// Stop cancels in-flight runs and waits for every task loop to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	slog.Info("scheduler stopped")
}

// launch must be called with s.mu held.
func (s *Scheduler) launch(key string, task Task) {
	s.wg.Add(1)
	go s.loop(s.ctx, key, task)
}

func (s *Scheduler) loop(ctx context.Context, key string, task Task) {
	defer s.wg.Done()

	b := newBackOff(s.interval, s.maxBackoff)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		delay := s.interval
		if err := s.execute(ctx, key, task); err != nil {
			if ctx.Err() != nil {
				return
			}
			delay = b.NextBackOff()
		} else {
			b.Reset()
		}
		timer.Reset(delay)
	}
}

// newBackOff doubles the delay after each failure, from interval up to
// maxDelay. Without jitter a failing key is never polled sooner than a
// healthy one.
func newBackOff(interval, maxDelay time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = interval
	b.MaxInterval = max(maxDelay, interval)
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

func (s *Scheduler) execute(ctx context.Context, key string, task Task) error {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.slots }()

	start := time.Now()
	if err := runSafely(ctx, task); err != nil {
		slog.Error("scheduled task failed", "key", key, "duration", time.Since(start), "error", err)
		return err
	}

	slog.Debug("scheduled task completed", "key", key, "duration", time.Since(start))
	return nil
}

// runSafely turns a panicking task into a failed run so that other keys
// keep being scheduled.
func runSafely(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Run(ctx)
}
