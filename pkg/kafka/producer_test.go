package kafka

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testMessage struct {
	EventID string `json:"event_id"`
	Total   string `json:"total"`
}

func (m testMessage) Key() string { return m.EventID }

func TestNewRecord(t *testing.T) {
	record, err := NewRecord("closeout.finalized", testMessage{EventID: "evt-1", Total: "120"},
		map[string]string{"event_type": "closeout.finalized"})
	require.NoError(t, err)

	assert.Equal(t, "closeout.finalized", record.Topic)
	assert.Equal(t, []byte("evt-1"), record.Key)

	var decoded testMessage
	require.NoError(t, json.Unmarshal(record.Value, &decoded))
	assert.Equal(t, "120", decoded.Total)

	require.Len(t, record.Headers, 1)
	assert.Equal(t, "event_type", record.Headers[0].Key)
	assert.Equal(t, []byte("closeout.finalized"), record.Headers[0].Value)
}

func TestNewProducer_RequiresBrokers(t *testing.T) {
	_, err := NewProducer(&ProducerConfig{})
	assert.Error(t, err)
}

func TestNoopPublisher(t *testing.T) {
	var p Publisher = NoopPublisher{}
	assert.NoError(t, p.Publish(context.Background(), "topic", testMessage{EventID: "e"}, nil))
	p.Close()
}

func TestProducer_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	brokers := os.Getenv("TEST_KAFKA_BROKERS")
	if brokers == "" {
		brokers = "localhost:9092"
	}

	p, err := NewProducer(&ProducerConfig{
		Brokers:        strings.Split(brokers, ","),
		ClientID:       "closeout-test",
		ProduceTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Ping(ctx))

	err = p.Publish(ctx, "closeout.test", testMessage{EventID: "evt-int", Total: "1"}, nil)
	assert.NoError(t, err)
}
