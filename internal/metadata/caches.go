package metadata

import "github.com/ppiankov/kafkameta/internal/cache"

// Cache names, also used as the replica key namespace.
const (
	MetadataCacheName = "metadata"
	BrokerCacheName   = "brokers"
	TopicCacheName    = "topics"
	GroupCacheName    = "groups"
)

// Caches bundles the four shared caches a refresh publishes to.
type Caches struct {
	Metadata *cache.ReplicatedMap[ClusterID, *Metadata]
	Brokers  *cache.ReplicatedMap[ClusterID, []Broker]
	Topics   *cache.ReplicatedMap[TopicKey, []Partition]
	Groups   *cache.ReplicatedMap[GroupKey, Group]
}

// NewCaches creates four empty caches that all replicate to replicas.
func NewCaches(replicas ...cache.Replica) Caches {
	return Caches{
		Metadata: cache.New[ClusterID, *Metadata](MetadataCacheName, replicas...),
		Brokers:  cache.New[ClusterID, []Broker](BrokerCacheName, replicas...),
		Topics:   cache.New[TopicKey, []Partition](TopicCacheName, replicas...),
		Groups:   cache.New[GroupKey, Group](GroupCacheName, replicas...),
	}
}

// Alias returns handles over the same four stores.
func (c Caches) Alias() Caches {
	return Caches{
		Metadata: c.Metadata.Alias(),
		Brokers:  c.Brokers.Alias(),
		Topics:   c.Topics.Alias(),
		Groups:   c.Groups.Alias(),
	}
}

// TopicsOf returns the cached partition lists of one cluster, keyed by topic
// name.
func (c Caches) TopicsOf(cluster ClusterID) map[string][]Partition {
	topics := make(map[string][]Partition)
	for _, key := range c.Topics.Keys() {
		if key.Cluster != cluster {
			continue
		}
		if partitions, ok := c.Topics.Get(key); ok {
			topics[key.Topic] = partitions
		}
	}
	return topics
}

// GroupsOf returns the cached groups of one cluster ordered by name.
func (c Caches) GroupsOf(cluster ClusterID) []Group {
	var groups []Group
	for _, key := range c.Groups.Keys() {
		if key.Cluster != cluster {
			continue
		}
		if group, ok := c.Groups.Get(key); ok {
			groups = append(groups, group)
		}
	}
	return groups
}
