package reporter

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/kafkameta/internal/metadata"
)

// TextReporter generates human-readable text reports
type TextReporter struct {
	writer io.Writer
}

// NewTextReporter creates a new text reporter
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{writer: w}
}

// Generate produces a human-readable text report
func (r *TextReporter) Generate(ctx context.Context, snapshot *Snapshot) error {
	var writeErr error
	writef := func(format string, args ...any) {
		if writeErr != nil {
			return
		}
		_, writeErr = fmt.Fprintf(r.writer, format, args...)
	}

	writef("Kafka Metadata Snapshot\n")
	writef("=======================\n\n")

	if len(snapshot.Clusters) == 0 {
		writef("No clusters configured.\n")
		return writeErr
	}

	for _, cluster := range snapshot.Clusters {
		header := fmt.Sprintf("Cluster: %s", cluster.Cluster)
		writef("%s\n%s\n", header, strings.Repeat("-", len(header)))

		if cluster.RefreshTime != nil {
			writef("  Refreshed: %s\n", cluster.RefreshTime.Format(time.RFC3339))
		} else {
			writef("  Refreshed: never\n")
		}
		if cluster.Error != "" {
			writef("  Last Error: %s\n", cluster.Error)
		}

		summary := cluster.Summary
		writef("  Brokers: %d  Topics: %d  Partitions: %d  Groups: %d\n",
			summary.Brokers, summary.Topics, summary.Partitions, summary.Groups)
		writef("  Under-replicated: %d  Offline: %d  Errors: %d\n\n",
			summary.UnderReplicatedPartitions, summary.OfflinePartitions, summary.ErrorPartitions)

		for _, broker := range cluster.Brokers {
			writef("  [Broker] %d %s:%d\n", broker.ID, broker.Host, broker.Port)
		}
		if len(cluster.Brokers) > 0 {
			writef("\n")
		}

		topicNames := make([]string, 0, len(cluster.Topics))
		for name := range cluster.Topics {
			topicNames = append(topicNames, name)
		}
		sort.Strings(topicNames)

		for _, name := range topicNames {
			partitions := cluster.Topics[name]
			writef("  [Topic] %s (%d partitions)\n", name, len(partitions))
			for _, p := range partitions {
				status := ClassifyPartition(p)
				if status == PartitionStatusOK {
					continue
				}
				writef("    - partition %d: %s leader=%d replicas=%s isr=%s", p.ID, status, p.Leader, formatIDs(p.Replicas), formatIDs(p.ISR))
				if p.Error != "" {
					writef(" (%s)", p.Error)
				}
				writef("\n")
			}
		}
		if len(topicNames) > 0 {
			writef("\n")
		}

		for _, group := range cluster.Groups {
			writef("  [Group] %s state=%s members=%d\n", group.Name, group.State, len(group.Members))
		}
		if len(cluster.Groups) > 0 {
			writef("\n")
		}
	}

	return writeErr
}

func formatIDs(ids []metadata.BrokerID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprint(id))
	}
	return "[" + strings.Join(parts, ",") + "]"
}
