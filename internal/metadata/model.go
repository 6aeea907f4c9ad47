package metadata

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
)

// BrokerID identifies a broker within one cluster snapshot.
type BrokerID = int32

// ClusterID names a monitored cluster. It partitions every cache.
type ClusterID string

func (id ClusterID) String() string { return string(id) }

// Validate rejects ids that would make TopicKey and GroupKey renderings
// ambiguous. Topic and group names may contain "/", so the cluster part must
// not.
func (id ClusterID) Validate() error {
	if id == "" || strings.ContainsFunc(string(id), func(r rune) bool {
		return r == '/' || unicode.IsSpace(r)
	}) {
		return fmt.Errorf("%w: %q", ErrInvalidClusterID, string(id))
	}
	return nil
}

// TopicKey addresses one topic of one cluster in the topic cache.
type TopicKey struct {
	Cluster ClusterID
	Topic   string
}

func (k TopicKey) String() string { return string(k.Cluster) + "/" + k.Topic }

// GroupKey addresses one consumer group of one cluster in the group cache.
type GroupKey struct {
	Cluster ClusterID
	Group   string
}

func (k GroupKey) String() string { return string(k.Cluster) + "/" + k.Group }

type Broker struct {
	ID   BrokerID `json:"id"`
	Host string   `json:"hostname"`
	Port int32    `json:"port"`
}

// Partition is the state of one topic partition. Error is set only when the
// cluster reported a partition-level condition such as an unavailable
// leader.
type Partition struct {
	ID       int32      `json:"id"`
	Leader   BrokerID   `json:"leader"`
	Replicas []BrokerID `json:"replicas"`
	ISR      []BrokerID `json:"isr"`
	Error    string     `json:"error,omitempty"`
}

// Metadata is an immutable snapshot of a cluster's topology. Once published
// it is shared by pointer and must not be modified.
type Metadata struct {
	Brokers     []Broker               `json:"brokers"`
	Topics      map[string][]Partition `json:"topics"`
	RefreshTime time.Time              `json:"refresh_time"`
}

// TopicNames returns the snapshot's topic names in ascending order.
func (m *Metadata) TopicNames() []string {
	names := make([]string, 0, len(m.Topics))
	for name := range m.Topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PartitionCount is the total number of partitions over all topics.
func (m *Metadata) PartitionCount() int {
	n := 0
	for _, partitions := range m.Topics {
		n += len(partitions)
	}
	return n
}

type Group struct {
	Name    string        `json:"name"`
	State   string        `json:"state"`
	Members []GroupMember `json:"members"`
}

type GroupMember struct {
	ID         string `json:"id"`
	ClientID   string `json:"client_id"`
	ClientHost string `json:"client_host"`
}
