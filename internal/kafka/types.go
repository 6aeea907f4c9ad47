package kafka

import (
	"context"
	"time"
)

// Driver names accepted in Config.Driver.
const (
	DriverFranz  = "franz"
	DriverSarama = "sarama"
)

// Connection is a long-lived handle to one Kafka cluster. Implementations
// are not safe for concurrent use by two simultaneous refreshes.
type Connection interface {
	// FetchTopology lists every broker and every topic with its partitions.
	FetchTopology(ctx context.Context) (*Topology, error)

	// FetchGroups lists consumer groups with their state and members. An
	// empty filter means all groups.
	FetchGroups(ctx context.Context, filter ...string) (*GroupListing, error)

	Close()
}

// Topology is the raw cluster metadata as reported by the cluster.
type Topology struct {
	Brokers []BrokerTopology
	Topics  []TopicTopology
}

// BrokerTopology is one broker entry of a metadata response
type BrokerTopology struct {
	ID   int32
	Host string
	Port int32
}

// TopicTopology is one topic entry of a metadata response. Partitions are in
// whatever order the driver received them.
type TopicTopology struct {
	Name       string
	Partitions []PartitionTopology
}

// PartitionTopology is one partition entry. Err carries the partition-level
// error code reported by the cluster, if any.
type PartitionTopology struct {
	ID       int32
	Leader   int32
	Replicas []int32
	ISR      []int32
	Err      error
}

// GroupListing is the raw consumer-group listing.
type GroupListing struct {
	Groups []ListedGroup
}

type ListedGroup struct {
	Name    string
	State   string
	Members []ListedGroupMember
}

type ListedGroupMember struct {
	ID         string
	ClientID   string
	ClientHost string
}

// Config holds the configuration for connecting to Kafka
type Config struct {
	Driver           string // franz (default) or sarama
	BootstrapServers string
	AuthMechanism    string // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username         string
	Password         string
	TLSEnabled       bool // Enable TLS without client certificates
	TLSCertFile      string
	TLSKeyFile       string
	TLSCAFile        string
	DialTimeout      time.Duration
}
