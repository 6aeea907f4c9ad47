package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	"github.com/IBM/sarama"
)

// saramaConnection is the alternative driver for clusters where franz-go
// cannot be used.
type saramaConnection struct {
	conf   *sarama.Config
	client sarama.Client
	admin  sarama.ClusterAdmin
}

var _ Connection = (*saramaConnection)(nil)

func saramaConfig(cfg Config) (*sarama.Config, error) {
	conf := sarama.NewConfig()
	conf.ClientID = "kafkameta"
	conf.Version = sarama.V2_8_0_0
	if cfg.DialTimeout > 0 {
		conf.Net.DialTimeout = cfg.DialTimeout
		conf.Net.ReadTimeout = cfg.DialTimeout
		conf.Net.WriteTimeout = cfg.DialTimeout
	}

	if cfg.AuthMechanism != "" {
		// SCRAM needs a client generator that sarama does not ship.
		if strings.ToUpper(cfg.AuthMechanism) != "PLAIN" {
			return nil, fmt.Errorf("unsupported SASL mechanism for sarama driver: %s", cfg.AuthMechanism)
		}
		conf.Net.SASL.Enable = true
		conf.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		conf.Net.SASL.User = cfg.Username
		conf.Net.SASL.Password = cfg.Password
	}

	if tlsRequested(cfg) {
		tlsConfig, err := buildTLS(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		conf.Net.TLS.Enable = true
		conf.Net.TLS.Config = tlsConfig
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sarama config: %w", err)
	}

	return conf, nil
}

func dialSarama(cfg Config) (*saramaConnection, error) {
	conf, err := saramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	client, err := sarama.NewClient(splitSeeds(cfg.BootstrapServers), conf)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Kafka cluster: %w", err)
	}

	admin, err := sarama.NewClusterAdminFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create cluster admin: %w", err)
	}

	return &saramaConnection{
		conf:   conf,
		client: client,
		admin:  admin,
	}, nil
}

func (c *saramaConnection) Close() {
	// Closing the admin also closes the client it was built from.
	if c.admin != nil {
		_ = c.admin.Close()
	}
}

func (c *saramaConnection) FetchTopology(ctx context.Context) (*Topology, error) {
	var resp *sarama.MetadataResponse
	err := runWithContext(ctx, func() error {
		broker := c.client.LeastLoadedBroker()
		if broker == nil {
			return sarama.ErrOutOfBrokers
		}
		if err := broker.Open(c.conf); err != nil && !errors.Is(err, sarama.ErrAlreadyConnected) {
			return err
		}

		var err error
		resp, err = broker.GetMetadata(sarama.NewMetadataRequest(c.conf.Version, nil))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch metadata: %w", err)
	}

	return topologyFromSarama(resp), nil
}

func (c *saramaConnection) FetchGroups(ctx context.Context, filter ...string) (*GroupListing, error) {
	var descriptions []*sarama.GroupDescription
	err := runWithContext(ctx, func() error {
		names := filter
		if len(names) == 0 {
			listed, err := c.admin.ListConsumerGroups()
			if err != nil {
				return fmt.Errorf("list consumer groups: %w", err)
			}
			names = make([]string, 0, len(listed))
			for name := range listed {
				names = append(names, name)
			}
			sort.Strings(names)
		}
		if len(names) == 0 {
			return nil
		}

		var err error
		descriptions, err = c.admin.DescribeConsumerGroups(names)
		if err != nil {
			return fmt.Errorf("describe consumer groups: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return groupsFromSarama(descriptions), nil
}

func topologyFromSarama(resp *sarama.MetadataResponse) *Topology {
	topology := &Topology{
		Brokers: make([]BrokerTopology, 0, len(resp.Brokers)),
		Topics:  make([]TopicTopology, 0, len(resp.Topics)),
	}

	for _, broker := range resp.Brokers {
		host, port := splitAddr(broker.Addr())
		topology.Brokers = append(topology.Brokers, BrokerTopology{
			ID:   broker.ID(),
			Host: host,
			Port: port,
		})
	}

	for _, topic := range resp.Topics {
		partitions := make([]PartitionTopology, 0, len(topic.Partitions))
		for _, p := range topic.Partitions {
			var perr error
			if p.Err != sarama.ErrNoError {
				perr = p.Err
			}
			partitions = append(partitions, PartitionTopology{
				ID:       p.ID,
				Leader:   p.Leader,
				Replicas: append([]int32(nil), p.Replicas...),
				ISR:      append([]int32(nil), p.Isr...),
				Err:      perr,
			})
		}
		topology.Topics = append(topology.Topics, TopicTopology{
			Name:       topic.Name,
			Partitions: partitions,
		})
	}

	return topology
}

// groupsFromSarama orders members by id; sarama reports them as a map.
func groupsFromSarama(descriptions []*sarama.GroupDescription) *GroupListing {
	listing := &GroupListing{
		Groups: make([]ListedGroup, 0, len(descriptions)),
	}

	for _, desc := range descriptions {
		ids := make([]string, 0, len(desc.Members))
		for id := range desc.Members {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		members := make([]ListedGroupMember, 0, len(ids))
		for _, id := range ids {
			m := desc.Members[id]
			members = append(members, ListedGroupMember{
				ID:         id,
				ClientID:   m.ClientId,
				ClientHost: m.ClientHost,
			})
		}

		listing.Groups = append(listing.Groups, ListedGroup{
			Name:    desc.GroupId,
			State:   desc.State,
			Members: members,
		})
	}

	return listing
}

func splitAddr(addr string) (string, int32) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, -1
	}
	port, err := strconv.ParseInt(portStr, 10, 32)
	if err != nil {
		return host, -1
	}
	return host, int32(port)
}

// runWithContext bounds a blocking sarama call by ctx. The call itself keeps
// running until sarama's own network timeouts fire.
func runWithContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
