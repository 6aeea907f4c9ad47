package reporter

import (
	"context"
	"time"

	"github.com/ppiankov/kafkameta/internal/metadata"
)

// Reporter renders a snapshot of the caches.
type Reporter interface {
	Generate(ctx context.Context, snapshot *Snapshot) error
}

// PartitionStatus classifies a cached partition.
type PartitionStatus string

const (
	PartitionStatusOK              PartitionStatus = "OK"
	PartitionStatusUnderReplicated PartitionStatus = "UNDER_REPLICATED"
	PartitionStatusOffline         PartitionStatus = "OFFLINE"
	PartitionStatusError           PartitionStatus = "ERROR"
)

// Snapshot is the cached state of every requested cluster.
type Snapshot struct {
	Tool        string           `json:"tool"`
	Version     string           `json:"version"`
	GeneratedAt time.Time        `json:"generated_at"`
	Clusters    []*ClusterReport `json:"clusters"`
}

// ClusterReport is one cluster's cached state. Error is set when the last
// refresh of the cluster failed; whatever was cached before is still shown.
type ClusterReport struct {
	Cluster     string                          `json:"cluster"`
	RefreshTime *time.Time                      `json:"refresh_time,omitempty"`
	Brokers     []metadata.Broker               `json:"brokers"`
	Topics      map[string][]metadata.Partition `json:"topics"`
	Groups      []metadata.Group                `json:"groups"`
	Summary     ClusterSummary                  `json:"summary"`
	Error       string                          `json:"error,omitempty"`
}

type ClusterSummary struct {
	Brokers                   int `json:"brokers"`
	Topics                    int `json:"topics"`
	Partitions                int `json:"partitions"`
	UnderReplicatedPartitions int `json:"under_replicated_partitions"`
	OfflinePartitions         int `json:"offline_partitions"`
	ErrorPartitions           int `json:"error_partitions"`
	Groups                    int `json:"groups"`
}

// Healthy reports whether every cached partition is OK.
func (s ClusterSummary) Healthy() bool {
	return s.UnderReplicatedPartitions == 0 && s.OfflinePartitions == 0 && s.ErrorPartitions == 0
}

// ClassifyPartition derives a partition's status. A reported error wins over
// the leader and ISR checks.
func ClassifyPartition(p metadata.Partition) PartitionStatus {
	switch {
	case p.Error != "":
		return PartitionStatusError
	case p.Leader < 0:
		return PartitionStatusOffline
	case len(p.ISR) < len(p.Replicas):
		return PartitionStatusUnderReplicated
	default:
		return PartitionStatusOK
	}
}

// BuildSnapshot reads the decomposed caches of each cluster. refreshErrs
// holds the outcome of a refresh that preceded the snapshot, if any.
func BuildSnapshot(caches metadata.Caches, clusters []metadata.ClusterID, refreshErrs map[metadata.ClusterID]error, version string, now time.Time) *Snapshot {
	snapshot := &Snapshot{
		Tool:        "kafkameta",
		Version:     version,
		GeneratedAt: now.UTC(),
		Clusters:    make([]*ClusterReport, 0, len(clusters)),
	}

	for _, id := range clusters {
		report := &ClusterReport{
			Cluster: string(id),
			Brokers: []metadata.Broker{},
			Topics:  caches.TopicsOf(id),
			Groups:  caches.GroupsOf(id),
		}
		if report.Groups == nil {
			report.Groups = []metadata.Group{}
		}
		if brokers, ok := caches.Brokers.Get(id); ok {
			report.Brokers = brokers
		}
		if md, ok := caches.Metadata.Get(id); ok {
			refreshed := md.RefreshTime.UTC()
			report.RefreshTime = &refreshed
		}
		if err := refreshErrs[id]; err != nil {
			report.Error = err.Error()
		}
		report.Summary = summarize(report)
		snapshot.Clusters = append(snapshot.Clusters, report)
	}

	return snapshot
}

func summarize(report *ClusterReport) ClusterSummary {
	summary := ClusterSummary{
		Brokers: len(report.Brokers),
		Topics:  len(report.Topics),
		Groups:  len(report.Groups),
	}
	for _, partitions := range report.Topics {
		summary.Partitions += len(partitions)
		for _, p := range partitions {
			switch ClassifyPartition(p) {
			case PartitionStatusUnderReplicated:
				summary.UnderReplicatedPartitions++
			case PartitionStatusOffline:
				summary.OfflinePartitions++
			case PartitionStatusError:
				summary.ErrorPartitions++
			}
		}
	}
	return summary
}
