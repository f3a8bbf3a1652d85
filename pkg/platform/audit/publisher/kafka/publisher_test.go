package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "stagepass/pkg/platform/audit"
)

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (f *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		f.records = append(f.records, r)
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func TestPublisher_RoutesByCategory(t *testing.T) {
	producer := &fakeProducer{}
	pub := New(producer, "stagepass.audit")

	err := pub.Publish(context.Background(), []audit.Event{
		{Type: audit.EventAccessDenied, PrincipalID: "p-1", Stream: "api-0", Sequence: 7},
		{Type: audit.EventTokenIssued, Sequence: 8},
		{Type: audit.EventAccessGranted, Sequence: 9},
	})
	require.NoError(t, err)

	require.Len(t, producer.records, 3)
	assert.Equal(t, "stagepass.audit.security", producer.records[0].Topic)
	assert.Equal(t, "p-1", string(producer.records[0].Key))
	assert.Contains(t, producer.records[0].Headers, kgo.RecordHeader{Key: "stream", Value: []byte("api-0")})
	assert.Equal(t, "stagepass.audit.compliance", producer.records[1].Topic)
	assert.Equal(t, string(audit.EventTokenIssued), string(producer.records[1].Key))
	assert.Equal(t, "stagepass.audit.operations", producer.records[2].Topic)

	var decoded audit.Event
	require.NoError(t, json.Unmarshal(producer.records[0].Value, &decoded))
	assert.Equal(t, uint64(7), decoded.Sequence)
	assert.Equal(t, "api-0", decoded.Stream)
	assert.Equal(t, audit.EventAccessDenied, decoded.Type)
}

func TestPublisher_ProduceError(t *testing.T) {
	producer := &fakeProducer{err: errors.New("not enough replicas")}
	pub := New(producer, "stagepass.audit")

	err := pub.Publish(context.Background(), []audit.Event{{Type: audit.EventAuthFailure}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough replicas")
}

func TestTopics(t *testing.T) {
	assert.ElementsMatch(t, []string{
		"x.security", "x.compliance", "x.operations",
	}, Topics("x"))
}
