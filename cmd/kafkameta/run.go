package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ppiankov/kafkameta/internal/cache"
	"github.com/ppiankov/kafkameta/internal/config"
	"github.com/ppiankov/kafkameta/internal/metadata"
	"github.com/ppiankov/kafkameta/internal/reporter"
	"github.com/ppiankov/kafkameta/internal/tracing"
)

const shutdownTimeout = 5 * time.Second

type runOptions struct {
	connectionOptions
	pollInterval  time.Duration
	maxBackoff    time.Duration
	redisAddrs    []string
	replicaTTL    time.Duration
	memcachedAddr string
	metricsAddr   string
	otlpEndpoint  string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Continuously refresh metadata of every configured cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveRunOptions(cmd, opts)
			if err != nil {
				return err
			}
			return runFetcher(cmd, resolved)
		},
	}

	addConnectionFlags(cmd, &opts.connectionOptions)
	flags := cmd.Flags()
	flags.DurationVar(&opts.pollInterval, "poll-interval", defaultPollInterval, "Delay between refreshes of one cluster")
	flags.DurationVar(&opts.maxBackoff, "max-backoff", 0, "Cap on the retry delay of a failing cluster (default 8x poll-interval)")
	flags.StringSliceVar(&opts.redisAddrs, "redis-addr", nil, "Redis address to replicate cache entries to (repeatable)")
	flags.DurationVar(&opts.replicaTTL, "replica-ttl", defaultReplicaTTL, "Expiry of replicated cache entries")
	flags.StringVar(&opts.memcachedAddr, "memcached-addr", "", "Memcached address to replicate cache entries to")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Listen address for /metrics, /healthz and /snapshot (disabled when empty)")
	flags.StringVar(&opts.otlpEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for traces (disabled when empty)")

	return cmd
}

func resolveRunOptions(cmd *cobra.Command, opts runOptions) (runOptions, error) {
	cfg, err := loadConfig()
	if err != nil {
		return opts, err
	}
	if cfg != nil {
		opts = applyRunConfigDefaults(cmd, opts, cfg)
	}

	if opts.pollInterval == 0 {
		opts.pollInterval = defaultPollInterval
	}

	return opts, nil
}

func applyRunConfigDefaults(cmd *cobra.Command, opts runOptions, cfg *config.Config) runOptions {
	opts.connectionOptions = applyConnectionConfigDefaults(cmd, opts.connectionOptions, cfg)

	if !flagChanged(cmd, "poll-interval") && cfg.HasPollInterval {
		opts.pollInterval = cfg.PollInterval
	}
	if !flagChanged(cmd, "redis-addr") && len(cfg.RedisAddrs) > 0 {
		opts.redisAddrs = append([]string(nil), cfg.RedisAddrs...)
	}
	if !flagChanged(cmd, "replica-ttl") && cfg.HasReplicaTTL {
		opts.replicaTTL = cfg.ReplicaTTL
	}
	if !flagChanged(cmd, "memcached-addr") && strings.TrimSpace(cfg.MemcachedAddr) != "" {
		opts.memcachedAddr = cfg.MemcachedAddr
	}
	if !flagChanged(cmd, "metrics-addr") && strings.TrimSpace(cfg.MetricsAddr) != "" {
		opts.metricsAddr = cfg.MetricsAddr
	}
	if !flagChanged(cmd, "otlp-endpoint") && strings.TrimSpace(cfg.OTLPEndpoint) != "" {
		opts.otlpEndpoint = cfg.OTLPEndpoint
	}

	return opts
}

func validateRun(opts runOptions) ([]config.Cluster, error) {
	clusters, err := validateConnection(opts.connectionOptions)
	if err != nil {
		return nil, err
	}
	if opts.pollInterval <= 0 {
		return nil, errors.New("poll-interval must be greater than zero")
	}
	if opts.maxBackoff < 0 {
		return nil, errors.New("max-backoff must not be negative")
	}
	if (len(opts.redisAddrs) > 0 || opts.memcachedAddr != "") && opts.replicaTTL <= 0 {
		return nil, errors.New("replica-ttl must be greater than zero")
	}
	return clusters, nil
}

func runFetcher(cmd *cobra.Command, opts runOptions) error {
	clusters, err := validateRun(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, opts.otlpEndpoint, "kafkameta")
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	replicas, err := buildReplicas(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		for _, replica := range replicas {
			replica.Close()
		}
	}()

	fetcherOpts := []metadata.Option{
		metadata.WithConnectionConfig(kafkaConfig(opts.connectionOptions)),
		metadata.WithFetchTimeout(opts.fetchTimeout),
	}
	if opts.maxBackoff > 0 {
		fetcherOpts = append(fetcherOpts, metadata.WithMaxBackoff(opts.maxBackoff))
	}
	fetcher := metadata.NewFetcher(metadata.NewCaches(replicas...), opts.pollInterval, fetcherOpts...)

	if err := registerClusters(fetcher, clusters); err != nil {
		return err
	}

	if opts.metricsAddr != "" {
		server := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           newHTTPHandler(fetcher),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "addr", opts.metricsAddr, "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
		slog.Info("serving metrics", "addr", opts.metricsAddr)
	}

	fetcher.Start(ctx)
	slog.Info("metadata fetcher running",
		"clusters", len(fetcher.Clusters()),
		"poll_interval", opts.pollInterval,
		"driver", kafkaConfig(opts.connectionOptions).Driver,
		"replicas", len(replicas),
	)

	<-ctx.Done()
	slog.Info("shutting down")
	fetcher.Stop()

	return nil
}

// buildReplicas connects the configured cache replicas. Redis is pinged up
// front so that a wrong address fails the command instead of every write.
func buildReplicas(ctx context.Context, opts runOptions) ([]cache.Replica, error) {
	var replicas []cache.Replica

	if len(opts.redisAddrs) > 0 {
		redis := cache.NewRedisReplica(opts.redisAddrs, replicaKeyPrefix, opts.replicaTTL)
		pingCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		err := redis.Ping(pingCtx)
		cancel()
		if err != nil {
			redis.Close()
			return nil, fmt.Errorf("redis %s: %w", strings.Join(opts.redisAddrs, ","), err)
		}
		replicas = append(replicas, redis)
	}

	if opts.memcachedAddr != "" {
		replicas = append(replicas, cache.NewMemcachedReplica(opts.memcachedAddr, replicaKeyPrefix, opts.replicaTTL))
	}

	return replicas, nil
}

// registerClusters adds every cluster it can connect to. A cluster that
// fails setup is logged and skipped; the command fails only when none
// remain.
func registerClusters(fetcher *metadata.Fetcher, clusters []config.Cluster) error {
	var firstErr error
	for _, cluster := range clusters {
		if err := fetcher.AddCluster(metadata.ClusterID(cluster.ID), cluster.Bootstrap); err != nil {
			slog.Error("cluster not registered", "cluster", cluster.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if len(fetcher.Clusters()) == 0 {
		return fmt.Errorf("no cluster could be registered: %w", firstErr)
	}
	return nil
}

func newHTTPHandler(fetcher *metadata.Fetcher) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		ids := fetcher.Clusters()
		if id := r.URL.Query().Get("cluster"); id != "" {
			ids = []metadata.ClusterID{metadata.ClusterID(id)}
		}
		snapshot := reporter.BuildSnapshot(fetcher.Caches(), ids, nil, Version, time.Now())

		w.Header().Set("Content-Type", "application/json")
		if err := reporter.NewJSONReporter(w, false).Generate(r.Context(), snapshot); err != nil {
			slog.Warn("write snapshot response failed", "error", err)
		}
	})
	return mux
}
