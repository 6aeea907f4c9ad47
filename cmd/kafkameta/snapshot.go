package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/kafkameta/internal/config"
	"github.com/ppiankov/kafkameta/internal/kafka"
	"github.com/ppiankov/kafkameta/internal/metadata"
	"github.com/ppiankov/kafkameta/internal/reporter"
)

type snapshotOptions struct {
	connectionOptions
	output          string
	pretty          bool
	failOnUnhealthy bool
}

func newSnapshotCmd() *cobra.Command {
	var opts snapshotOptions

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Refresh every configured cluster once and print the cached metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveSnapshotOptions(cmd, opts)
			if err != nil {
				return err
			}
			return runSnapshot(cmd, resolved)
		},
	}

	addConnectionFlags(cmd, &opts.connectionOptions)
	flags := cmd.Flags()
	flags.StringVar(&opts.output, "output", "text", "Output format (json|text)")
	flags.BoolVar(&opts.pretty, "pretty", false, "Indent JSON output")
	flags.BoolVar(&opts.failOnUnhealthy, "fail-on-unhealthy", false, "Exit with status 2 when any partition is offline, under-replicated or reports an error")

	return cmd
}

func resolveSnapshotOptions(cmd *cobra.Command, opts snapshotOptions) (snapshotOptions, error) {
	cfg, err := loadConfig()
	if err != nil {
		return opts, err
	}
	if cfg != nil {
		opts.connectionOptions = applyConnectionConfigDefaults(cmd, opts.connectionOptions, cfg)
	}
	return opts, nil
}

func runSnapshot(cmd *cobra.Command, opts snapshotOptions) error {
	start := time.Now()

	clusters, err := validateConnection(opts.connectionOptions)
	if err != nil {
		return err
	}

	output := strings.ToLower(strings.TrimSpace(opts.output))
	if output == "" {
		output = "text"
	}
	var report reporter.Reporter
	switch output {
	case "json":
		report = reporter.NewJSONReporter(cmd.OutOrStdout(), opts.pretty)
	case "text":
		report = reporter.NewTextReporter(cmd.OutOrStdout())
	default:
		return fmt.Errorf("invalid output format %q (expected json or text)", opts.output)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	fetcherOpts := []metadata.Option{
		metadata.WithConnectionConfig(kafkaConfig(opts.connectionOptions)),
		metadata.WithFetchTimeout(opts.fetchTimeout),
	}
	snapshot, failed := collectSnapshot(ctx, clusters, kafka.Dial, fetcherOpts...)

	if err := report.Generate(ctx, snapshot); err != nil {
		return err
	}

	slog.Info("snapshot completed",
		"clusters", len(clusters),
		"failed", len(failed),
		"duration", time.Since(start),
	)

	if len(failed) == len(clusters) {
		return fmt.Errorf("all %d clusters failed: %w", len(clusters), failed[0])
	}
	if opts.failOnUnhealthy {
		if count := unhealthyClusters(snapshot); count > 0 {
			return &UnhealthyError{Count: count}
		}
	}
	return nil
}

// collectSnapshot registers and refreshes each cluster once, in order. A
// cluster that fails is still reported with its error; failed holds those
// errors in cluster order.
func collectSnapshot(ctx context.Context, clusters []config.Cluster, dial metadata.Dialer, opts ...metadata.Option) (*reporter.Snapshot, []error) {
	caches := metadata.NewCaches()
	fetcher := metadata.NewFetcher(caches, defaultPollInterval, append(opts, metadata.WithDialer(dial))...)
	defer fetcher.Stop()

	refreshErrs := make(map[metadata.ClusterID]error)
	var failed []error

	for _, cluster := range clusters {
		id := metadata.ClusterID(cluster.ID)

		err := fetcher.AddCluster(id, cluster.Bootstrap)
		if err == nil {
			err = fetcher.Refresh(ctx, id)
		}
		if err != nil {
			slog.Warn("cluster refresh failed", "cluster", id, "error", err)
			refreshErrs[id] = err
			failed = append(failed, err)
		}
	}

	return reporter.BuildSnapshot(caches, clusterIDs(clusters), refreshErrs, Version, time.Now()), failed
}

func unhealthyClusters(snapshot *reporter.Snapshot) int {
	count := 0
	for _, cluster := range snapshot.Clusters {
		if cluster.Error != "" || !cluster.Summary.Healthy() {
			count++
		}
	}
	return count
}
