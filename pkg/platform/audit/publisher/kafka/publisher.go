// Package kafka publishes sealed audit events to one topic per category.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	audit "stagepass/pkg/platform/audit"
)

// Producer is the subset of *kgo.Client the publisher needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Publisher implements audit.Publisher over Kafka.
type Publisher struct {
	producer    Producer
	topicPrefix string
}

func New(producer Producer, topicPrefix string) *Publisher {
	return &Publisher{producer: producer, topicPrefix: topicPrefix}
}

// Topics lists every topic the publisher writes to, for provisioning.
func Topics(prefix string) []string {
	return []string{
		TopicFor(prefix, audit.CategorySecurity),
		TopicFor(prefix, audit.CategoryCompliance),
		TopicFor(prefix, audit.CategoryOperations),
	}
}

// TopicFor returns the topic for a category, e.g. "stagepass.audit.security".
func TopicFor(prefix string, category audit.EventCategory) string {
	return prefix + "." + string(category)
}

// Publish produces the batch synchronously. Records are keyed by principal
// so one principal's events stay ordered within a partition.
func (p *Publisher) Publish(ctx context.Context, events []audit.Event) error {
	records := make([]*kgo.Record, 0, len(events))
	for _, e := range events {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal audit event %s/%d: %w", e.Stream, e.Sequence, err)
		}
		key := e.PrincipalID
		if key == "" {
			key = string(e.Type)
		}
		records = append(records, &kgo.Record{
			Topic: TopicFor(p.topicPrefix, e.Category()),
			Key:   []byte(key),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "event_type", Value: []byte(e.Type)},
				{Key: "stream", Value: []byte(e.Stream)},
				{Key: "sequence", Value: []byte(strconv.FormatUint(e.Sequence, 10))},
			},
		})
	}
	if err := p.producer.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit events: %w", err)
	}
	return nil
}
