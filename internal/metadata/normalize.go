package metadata

import (
	"sort"
	"time"

	"github.com/ppiankov/kafkameta/internal/kafka"
)

// NormalizeBrokers converts the reported brokers, keeping their order.
func NormalizeBrokers(raw []kafka.BrokerTopology) []Broker {
	brokers := make([]Broker, 0, len(raw))
	for _, b := range raw {
		brokers = append(brokers, Broker{
			ID:   b.ID,
			Host: b.Host,
			Port: b.Port,
		})
	}
	return brokers
}

// NormalizePartitions converts one topic's partitions and sorts them by id.
// Partition-level errors become descriptions on the affected entry.
func NormalizePartitions(raw []kafka.PartitionTopology) []Partition {
	partitions := make([]Partition, 0, len(raw))
	for _, p := range raw {
		partitions = append(partitions, Partition{
			ID:       p.ID,
			Leader:   p.Leader,
			Replicas: cloneIDs(p.Replicas),
			ISR:      cloneIDs(p.ISR),
			Error:    kafka.DescribeError(p.Err),
		})
	}
	sort.SliceStable(partitions, func(i, j int) bool {
		return partitions[i].ID < partitions[j].ID
	})
	return partitions
}

// NormalizeTopics converts every reported topic. A topic reported twice
// keeps its last entry.
func NormalizeTopics(raw []kafka.TopicTopology) map[string][]Partition {
	topics := make(map[string][]Partition, len(raw))
	for _, t := range raw {
		topics[t.Name] = NormalizePartitions(t.Partitions)
	}
	return topics
}

// NewMetadata assembles an aggregate snapshot stamped with refreshTime.
func NewMetadata(topology *kafka.Topology, refreshTime time.Time) *Metadata {
	return &Metadata{
		Brokers:     NormalizeBrokers(topology.Brokers),
		Topics:      NormalizeTopics(topology.Topics),
		RefreshTime: refreshTime,
	}
}

// NormalizeGroups converts a group listing, keeping the reported order of
// groups and members.
func NormalizeGroups(listing *kafka.GroupListing) []Group {
	groups := make([]Group, 0, len(listing.Groups))
	for _, g := range listing.Groups {
		members := make([]GroupMember, 0, len(g.Members))
		for _, m := range g.Members {
			members = append(members, GroupMember{
				ID:         m.ID,
				ClientID:   m.ClientID,
				ClientHost: m.ClientHost,
			})
		}
		groups = append(groups, Group{
			Name:    g.Name,
			State:   g.State,
			Members: members,
		})
	}
	return groups
}

// cloneIDs never returns nil so that empty replica sets encode as [].
func cloneIDs(ids []int32) []BrokerID {
	out := make([]BrokerID, len(ids))
	copy(out, ids)
	return out
}
