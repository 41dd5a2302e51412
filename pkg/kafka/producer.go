package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is anything that can be published with a partition key
type Message interface {
	Key() string
}

// Publisher publishes JSON messages to a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message, headers map[string]string) error
	Close()
}

// ProducerConfig holds producer settings
type ProducerConfig struct {
	Brokers        []string
	ClientID       string
	ProduceTimeout time.Duration
	RecordRetries  int
}

// Producer is a franz-go backed Publisher
type Producer struct {
	client  *kgo.Client
	timeout time.Duration
}

// NewProducer builds a producer. The client connects lazily; use Ping to verify brokers.
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer requires at least one broker")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression(), kgo.NoCompression()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.RecordRetries > 0 {
		opts = append(opts, kgo.RecordRetries(cfg.RecordRetries))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	timeout := cfg.ProduceTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Producer{client: client, timeout: timeout}, nil
}

// Ping checks that at least one broker answers
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Publish marshals msg to JSON and waits for the broker ack
func (p *Producer) Publish(ctx context.Context, topic string, msg Message, headers map[string]string) error {
	record, err := NewRecord(topic, msg, headers)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// Close flushes buffered records and closes the client
func (p *Producer) Close() {
	p.client.Close()
}

// NewRecord builds the kgo record published for msg
func NewRecord(topic string, msg Message, headers map[string]string) (*kgo.Record, error) {
	value, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s message: %w", topic, err)
	}

	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(msg.Key()),
		Value: value,
	}
	for k, v := range headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return record, nil
}

// NoopPublisher drops every message. Used when Kafka is disabled.
type NoopPublisher struct{}

// Publish implements Publisher
func (NoopPublisher) Publish(context.Context, string, Message, map[string]string) error {
	return nil
}

// Close implements Publisher
func (NoopPublisher) Close() {}
