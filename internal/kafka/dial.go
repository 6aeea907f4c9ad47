package kafka

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/twmb/franz-go/pkg/kerr"
)

const defaultDialTimeout = 10 * time.Second

// Dial opens a connection to the cluster described by cfg using the
// configured driver. The returned connection has completed at least one
// round-trip with the cluster.
func Dial(cfg Config) (Connection, error) {
	if strings.TrimSpace(cfg.BootstrapServers) == "" {
		return nil, errors.New("bootstrap servers are required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverFranz:
		return dialFranz(cfg)
	case DriverSarama:
		return dialSarama(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver %q (expected %s or %s)", cfg.Driver, DriverFranz, DriverSarama)
	}
}

// DescribeError renders a partition or group level error reported by the
// cluster as a human-readable description.
func DescribeError(err error) string {
	if err == nil {
		return ""
	}

	var ke *kerr.Error
	if errors.As(err, &ke) {
		if ke.Description != "" {
			return ke.Description
		}
		return ke.Message
	}

	var se sarama.KError
	if errors.As(err, &se) {
		return se.Error()
	}

	return err.Error()
}

func splitSeeds(bootstrap string) []string {
	parts := strings.Split(bootstrap, ",")
	seeds := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		seeds = append(seeds, part)
	}
	return seeds
}

func tlsRequested(cfg Config) bool {
	return cfg.TLSEnabled || cfg.TLSCertFile != "" || cfg.TLSCAFile != ""
}

// buildTLS creates TLS configuration from the provided cert files
func buildTLS(cfg Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if cfg.TLSCAFile != "" {
		caCert, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = caCertPool
	}

	return tlsConfig, nil
}
