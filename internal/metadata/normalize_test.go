package metadata

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"

	"github.com/ppiankov/kafkameta/internal/kafka"
)

func TestNormalizePartitionsSortsByID(t *testing.T) {
	raw := []kafka.PartitionTopology{
		{ID: 2, Leader: 3, Replicas: []int32{3}, ISR: []int32{3}},
		{ID: 0, Leader: 1, Replicas: []int32{1}, ISR: []int32{1}},
		{ID: 1, Leader: 2, Replicas: []int32{2}, ISR: []int32{2}},
	}

	got := NormalizePartitions(raw)
	for i, p := range got {
		if p.ID != int32(i) {
			t.Fatalf("partition %d has id %d, want %d", i, p.ID, i)
		}
	}
	if got[2].Leader != 3 {
		t.Fatalf("partition 2 leader = %d, want 3", got[2].Leader)
	}
}

func TestNormalizePartitionsDescribesErrors(t *testing.T) {
	raw := []kafka.PartitionTopology{
		{ID: 0, Leader: -1, Replicas: []int32{1}, ISR: nil, Err: kerr.LeaderNotAvailable},
		{ID: 1, Leader: 1, Replicas: []int32{1}, ISR: []int32{1}},
	}

	got := NormalizePartitions(raw)
	want := kafka.DescribeError(kerr.LeaderNotAvailable)
	if want == "" {
		t.Fatal("expected a non-empty description for LEADER_NOT_AVAILABLE")
	}
	if got[0].Error != want {
		t.Fatalf("partition 0 error = %q, want %q", got[0].Error, want)
	}
	if got[0].Leader != -1 {
		t.Fatalf("partition 0 leader = %d, want -1", got[0].Leader)
	}
	if got[1].Error != "" {
		t.Fatalf("partition 1 error = %q, want empty", got[1].Error)
	}
}

func TestNormalizePartitionsEncodesEmptySetsAsArrays(t *testing.T) {
	got := NormalizePartitions([]kafka.PartitionTopology{{ID: 0, Leader: -1}})

	data, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"replicas":[]`) || !strings.Contains(string(data), `"isr":[]`) {
		t.Fatalf("expected empty arrays, got %s", data)
	}
	if strings.Contains(string(data), `"error"`) {
		t.Fatalf("error field should be omitted when empty, got %s", data)
	}
}

func TestNormalizePartitionsDoesNotAliasInput(t *testing.T) {
	replicas := []int32{1, 2}
	got := NormalizePartitions([]kafka.PartitionTopology{{ID: 0, Leader: 1, Replicas: replicas, ISR: replicas}})

	replicas[0] = 9
	if got[0].Replicas[0] != 1 || got[0].ISR[0] != 1 {
		t.Fatalf("normalized partition shares memory with input: %+v", got[0])
	}
}

func TestNewMetadata(t *testing.T) {
	refreshed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	topology := &kafka.Topology{
		Brokers: []kafka.BrokerTopology{{ID: 2, Host: "h2", Port: 9093}, {ID: 1, Host: "h1", Port: 9092}},
		Topics: []kafka.TopicTopology{
			{Name: "orders", Partitions: []kafka.PartitionTopology{
				{ID: 1, Leader: 2, Replicas: []int32{2, 1}, ISR: []int32{2}},
				{ID: 0, Leader: 1, Replicas: []int32{1, 2}, ISR: []int32{1, 2}},
			}},
			{Name: "empty"},
		},
	}

	got := NewMetadata(topology, refreshed)

	wantBrokers := []Broker{{ID: 2, Host: "h2", Port: 9093}, {ID: 1, Host: "h1", Port: 9092}}
	if !reflect.DeepEqual(got.Brokers, wantBrokers) {
		t.Fatalf("brokers = %+v, want %+v", got.Brokers, wantBrokers)
	}
	if !reflect.DeepEqual(got.TopicNames(), []string{"empty", "orders"}) {
		t.Fatalf("topic names = %v", got.TopicNames())
	}
	if len(got.Topics["empty"]) != 0 {
		t.Fatalf("expected no partitions for empty topic, got %+v", got.Topics["empty"])
	}
	if got.PartitionCount() != 2 {
		t.Fatalf("partition count = %d, want 2", got.PartitionCount())
	}
	if got.Topics["orders"][0].ID != 0 {
		t.Fatalf("orders partitions not sorted: %+v", got.Topics["orders"])
	}
	if !got.RefreshTime.Equal(refreshed) {
		t.Fatalf("refresh time = %v, want %v", got.RefreshTime, refreshed)
	}
}

func TestNormalizeGroups(t *testing.T) {
	listing := &kafka.GroupListing{Groups: []kafka.ListedGroup{
		{Name: "billing", State: "Stable", Members: []kafka.ListedGroupMember{
			{ID: "m-1", ClientID: "billing-1", ClientHost: "/10.0.0.1"},
		}},
		{Name: "audit", State: "Empty"},
	}}

	got := NormalizeGroups(listing)
	want := []Group{
		{Name: "billing", State: "Stable", Members: []GroupMember{{ID: "m-1", ClientID: "billing-1", ClientHost: "/10.0.0.1"}}},
		{Name: "audit", State: "Empty", Members: []GroupMember{}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("groups = %+v, want %+v", got, want)
	}
}

func TestKeysRenderClusterAndName(t *testing.T) {
	if got := (TopicKey{Cluster: "prod", Topic: "orders"}).String(); got != "prod/orders" {
		t.Fatalf("topic key = %q", got)
	}
	if got := (GroupKey{Cluster: "prod", Group: "billing"}).String(); got != "prod/billing" {
		t.Fatalf("group key = %q", got)
	}
}
