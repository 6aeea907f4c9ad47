package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
)

// franzConnection talks to a cluster through franz-go's admin client.
type franzConnection struct {
	client *kgo.Client
	admin  *kadm.Client
}

var _ Connection = (*franzConnection)(nil)

func dialFranz(cfg Config) (*franzConnection, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(splitSeeds(cfg.BootstrapServers)...),
		kgo.RequestTimeoutOverhead(cfg.DialTimeout),
	}

	if cfg.AuthMechanism != "" {
		saslOpt, err := buildSASL(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure SASL: %w", err)
		}
		opts = append(opts, saslOpt)
	}

	if tlsRequested(cfg) {
		tlsConfig, err := buildTLS(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		opts = append(opts, kgo.DialTLSConfig(tlsConfig))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka client: %w", err)
	}

	// kgo connects lazily; ping so that setup errors surface here.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := withRetry(ctx, "ping broker", func() error {
		return client.Ping(ctx)
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Kafka cluster: %w", err)
	}

	return &franzConnection{
		client: client,
		admin:  kadm.NewClient(client),
	}, nil
}

func (c *franzConnection) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

func (c *franzConnection) FetchTopology(ctx context.Context) (*Topology, error) {
	meta, err := c.admin.Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}
	return topologyFromKadm(meta), nil
}

func (c *franzConnection) FetchGroups(ctx context.Context, filter ...string) (*GroupListing, error) {
	names := filter
	if len(names) == 0 {
		listed, err := c.admin.ListGroups(ctx)
		if err != nil {
			return nil, fmt.Errorf("list consumer groups: %w", err)
		}
		names = listed.Groups()
	}

	if len(names) == 0 {
		return &GroupListing{}, nil
	}

	described, err := c.admin.DescribeGroups(ctx, names...)
	if err != nil {
		return nil, fmt.Errorf("describe consumer groups: %w", err)
	}

	return groupsFromKadm(described), nil
}

// topologyFromKadm keeps brokers in response order and topics sorted by
// name. Partition order is left to the caller.
func topologyFromKadm(meta kadm.Metadata) *Topology {
	topology := &Topology{
		Brokers: make([]BrokerTopology, 0, len(meta.Brokers)),
		Topics:  make([]TopicTopology, 0, len(meta.Topics)),
	}

	for _, broker := range meta.Brokers {
		topology.Brokers = append(topology.Brokers, BrokerTopology{
			ID:   broker.NodeID,
			Host: broker.Host,
			Port: broker.Port,
		})
	}

	for _, detail := range meta.Topics.Sorted() {
		partitions := make([]PartitionTopology, 0, len(detail.Partitions))
		for _, p := range detail.Partitions {
			partitions = append(partitions, PartitionTopology{
				ID:       p.Partition,
				Leader:   p.Leader,
				Replicas: append([]int32(nil), p.Replicas...),
				ISR:      append([]int32(nil), p.ISR...),
				Err:      p.Err,
			})
		}
		topology.Topics = append(topology.Topics, TopicTopology{
			Name:       detail.Topic,
			Partitions: partitions,
		})
	}

	return topology
}

func groupsFromKadm(described kadm.DescribedGroups) *GroupListing {
	listing := &GroupListing{
		Groups: make([]ListedGroup, 0, len(described)),
	}

	for _, group := range described.Sorted() {
		if group.Err != nil {
			slog.Warn("consumer group described with error", "group", group.Group, "error", group.Err)
		}

		members := make([]ListedGroupMember, 0, len(group.Members))
		for _, m := range group.Members {
			members = append(members, ListedGroupMember{
				ID:         m.MemberID,
				ClientID:   m.ClientID,
				ClientHost: m.ClientHost,
			})
		}

		listing.Groups = append(listing.Groups, ListedGroup{
			Name:    group.Group,
			State:   group.State,
			Members: members,
		})
	}

	return listing
}

// buildSASL creates SASL authentication options based on the mechanism
func buildSASL(cfg Config) (kgo.Opt, error) {
	switch strings.ToUpper(cfg.AuthMechanism) {
	case "PLAIN":
		return kgo.SASL(plain.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsMechanism()), nil

	case "SCRAM-SHA-256":
		mechanism := scram.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsSha256Mechanism()
		return kgo.SASL(mechanism), nil

	case "SCRAM-SHA-512":
		mechanism := scram.Auth{
			User: cfg.Username,
			Pass: cfg.Password,
		}.AsSha512Mechanism()
		return kgo.SASL(mechanism), nil

	default:
		return nil, fmt.Errorf("unsupported SASL mechanism: %s", cfg.AuthMechanism)
	}
}
