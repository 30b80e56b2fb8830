//go:build integration

package containers

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

type KafkaContainer struct {
	Container testcontainers.Container
	Brokers   string
}

// NewKafkaContainer starts a Redpanda broker speaking the Kafka protocol; the
// audit relay only needs produce and fetch.
func NewKafkaContainer(t *testing.T) *KafkaContainer {
	t.Helper()
	ctx := context.Background()

	container, err := kafka.Run(ctx,
		"redpandadata/redpanda:latest",
		kafka.WithClusterID("iam-test"),
	)
	if err != nil {
		t.Fatalf("failed to start kafka container: %v", err)
	}

	brokers, err := container.Brokers(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get kafka brokers: %v", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(ctx)
	})

	return &KafkaContainer{Container: container, Brokers: brokers[0]}
}

func (k *KafkaContainer) CreateTopic(ctx context.Context, topic string) error {
	client, err := kgo.NewClient(kgo.SeedBrokers(k.Brokers))
	if err != nil {
		return err
	}
	defer client.Close()

	_, err = kadm.NewClient(client).CreateTopics(ctx, 1, 1, nil, topic)
	return err
}

// Consume returns the first record on topic matching match, or nil after timeout.
func (k *KafkaContainer) Consume(ctx context.Context, topic string, timeout time.Duration, match func(*kgo.Record) bool) (*kgo.Record, error) {
	records, err := k.collect(ctx, topic, timeout, func(got []*kgo.Record) bool {
		return slices.ContainsFunc(got, match)
	})
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		if match(r) {
			return r, nil
		}
	}
	return nil, nil
}

// ConsumeN reads topic from the start until n records arrived or timeout.
func (k *KafkaContainer) ConsumeN(ctx context.Context, topic string, n int, timeout time.Duration) ([]*kgo.Record, error) {
	return k.collect(ctx, topic, timeout, func(got []*kgo.Record) bool { return len(got) >= n })
}

func (k *KafkaContainer) collect(ctx context.Context, topic string, timeout time.Duration, done func([]*kgo.Record) bool) ([]*kgo.Record, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(k.Brokers),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var records []*kgo.Record
	for ctx.Err() == nil && !done(records) {
		fetches := client.PollFetches(ctx)
		fetches.EachRecord(func(r *kgo.Record) {
			records = append(records, r)
		})
	}
	return records, nil
}
