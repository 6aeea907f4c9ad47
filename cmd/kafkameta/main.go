package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/kafkameta/internal/config"
	"github.com/ppiankov/kafkameta/internal/kafka"
	"github.com/ppiankov/kafkameta/internal/logging"
	"github.com/ppiankov/kafkameta/internal/metadata"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultReplicaTTL   = 10 * time.Minute
	replicaKeyPrefix    = "kafkameta:"
)

func main() {
	_ = logging.Init(false, logging.FormatText)

	err := newRootCmd().Execute()
	if err != nil {
		slog.Error("command failed", "error", err)
		_, _ = fmt.Fprintf(os.Stderr, "Tip: Use 'kafkameta --help' for usage information.\n")
	}
	os.Exit(classifyError(err))
}

// connectionOptions are shared by every command that talks to Kafka.
type connectionOptions struct {
	clusters      []string
	driver        string
	authMechanism string
	username      string
	password      string
	tlsEnabled    bool
	tlsCert       string
	tlsKey        string
	tlsCA         string
	fetchTimeout  time.Duration
}

func newRootCmd() *cobra.Command {
	var (
		verbose   bool
		logFormat string
	)

	cmd := &cobra.Command{
		Use:           "kafkameta",
		Short:         "kafkameta keeps a cached view of Kafka cluster metadata",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Init(verbose, logFormat)
		},
	}

	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatText, "Log format (text|json)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSnapshotCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintf(out, "version: %s\n", Version); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(out, "commit:  %s\n", GitCommit); err != nil {
				return err
			}
			if _, err := fmt.Fprintf(out, "date:    %s\n", BuildDate); err != nil {
				return err
			}
			return nil
		},
	}
}

func addConnectionFlags(cmd *cobra.Command, opts *connectionOptions) {
	flags := cmd.Flags()
	flags.StringArrayVar(&opts.clusters, "cluster", nil, "Cluster to monitor as id=host:port[,host:port] (repeatable)")
	flags.StringVar(&opts.driver, "driver", kafka.DriverFranz, "Kafka client driver (franz|sarama)")
	flags.StringVar(&opts.authMechanism, "auth-mechanism", "", "SASL mechanism (PLAIN, SCRAM-SHA-256, SCRAM-SHA-512)")
	flags.StringVar(&opts.username, "username", "", "SASL username")
	flags.StringVar(&opts.password, "password", "", "SASL password")
	flags.BoolVar(&opts.tlsEnabled, "tls", false, "Enable TLS")
	flags.StringVar(&opts.tlsCert, "tls-cert", "", "Path to TLS client certificate")
	flags.StringVar(&opts.tlsKey, "tls-key", "", "Path to TLS client private key")
	flags.StringVar(&opts.tlsCA, "tls-ca", "", "Path to TLS CA certificate")
	flags.DurationVar(&opts.fetchTimeout, "fetch-timeout", metadata.DefaultFetchTimeout, "Bound on every individual metadata fetch")
}

// loadConfig returns the auto-discovered config file, or nil when there is
// none.
func loadConfig() (*config.Config, error) {
	cfg, cfgPath, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg != nil {
		slog.Debug("loaded defaults from config", "path", cfgPath)
	}
	return cfg, nil
}

func applyConnectionConfigDefaults(cmd *cobra.Command, opts connectionOptions, cfg *config.Config) connectionOptions {
	if !flagChanged(cmd, "cluster") && len(opts.clusters) == 0 && len(cfg.Clusters) > 0 {
		for _, cluster := range cfg.Clusters {
			opts.clusters = append(opts.clusters, cluster.ID+"="+cluster.Bootstrap)
		}
	}
	if !flagChanged(cmd, "driver") && strings.TrimSpace(cfg.Driver) != "" {
		opts.driver = cfg.Driver
	}
	if !flagChanged(cmd, "auth-mechanism") && strings.TrimSpace(opts.authMechanism) == "" && strings.TrimSpace(cfg.AuthMechanism) != "" {
		opts.authMechanism = cfg.AuthMechanism
	}
	if !flagChanged(cmd, "fetch-timeout") && cfg.HasFetchTimeout {
		opts.fetchTimeout = cfg.FetchTimeout
	}

	return opts
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil {
		return false
	}

	flag := cmd.Flags().Lookup(name)
	if flag == nil {
		return false
	}

	return flag.Changed
}

// validateConnection checks the shared options and returns the parsed
// cluster list.
func validateConnection(opts connectionOptions) ([]config.Cluster, error) {
	if len(opts.clusters) == 0 {
		return nil, errors.New("at least one --cluster is required")
	}

	clusters := make([]config.Cluster, 0, len(opts.clusters))
	seen := make(map[string]bool, len(opts.clusters))
	for _, value := range opts.clusters {
		cluster, err := config.ParseCluster(value)
		if err != nil {
			return nil, err
		}
		if seen[cluster.ID] {
			return nil, fmt.Errorf("invalid --cluster: duplicate id %q", cluster.ID)
		}
		seen[cluster.ID] = true
		clusters = append(clusters, cluster)
	}

	switch strings.ToLower(strings.TrimSpace(opts.driver)) {
	case "", kafka.DriverFranz, kafka.DriverSarama:
	default:
		return nil, fmt.Errorf("invalid driver %q (expected franz or sarama)", opts.driver)
	}
	if opts.authMechanism != "" && (opts.username == "" || opts.password == "") {
		return nil, errors.New("auth-mechanism requires both --username and --password")
	}
	if (opts.tlsCert == "") != (opts.tlsKey == "") {
		return nil, errors.New("--tls-cert and --tls-key must be provided together")
	}
	if opts.fetchTimeout <= 0 {
		return nil, errors.New("fetch-timeout must be greater than zero")
	}

	return clusters, nil
}

func kafkaConfig(opts connectionOptions) kafka.Config {
	return kafka.Config{
		Driver:        strings.ToLower(strings.TrimSpace(opts.driver)),
		AuthMechanism: opts.authMechanism,
		Username:      opts.username,
		Password:      opts.password,
		TLSEnabled:    opts.tlsEnabled,
		TLSCertFile:   opts.tlsCert,
		TLSKeyFile:    opts.tlsKey,
		TLSCAFile:     opts.tlsCA,
	}
}

func clusterIDs(clusters []config.Cluster) []metadata.ClusterID {
	ids := make([]metadata.ClusterID, 0, len(clusters))
	for _, cluster := range clusters {
		ids = append(ids, metadata.ClusterID(cluster.ID))
	}
	return ids
}
