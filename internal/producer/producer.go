// Package producer provides Kafka producer functionality for the delivery
// topic.
package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/peytonrunyan/commwatch/internal/events"
	kafkautil "github.com/peytonrunyan/commwatch/internal/kafka"
)

// Producer wraps a Kafka writer and publishes delivery payloads.
type Producer struct {
	writer *kafka.Writer
	topic  string
}

// NewProducer creates a new Kafka producer with the specified brokers and
// topic, configured for at-least-once delivery with synchronous writes.
func NewProducer(brokers string, topic string) (*Producer, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka producer",
		"brokers", brokerList,
		"topic", topic,
	)

	// Hash balancer partitions by tenant_id for tenant locality downstream.
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: kafkautil.WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false, // Synchronous writes for reliability and error handling
	}

	return &Producer{
		writer: writer,
		topic:  topic,
	}, nil
}

// buildMessage creates a Kafka message from a delivery payload, keyed by
// tenant_id. The sent_id travels in a header as well, so consumers can
// de-duplicate without decoding the body.
func buildMessage(delivery *events.Delivery) (kafka.Message, error) {
	payload, err := json.Marshal(delivery)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal delivery payload: %w", err)
	}

	return kafka.Message{
		Key:   []byte(delivery.TenantID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "sent_id", Value: []byte(delivery.SentID)},
			{Key: "rule_id", Value: []byte(delivery.RuleID)},
		},
		Time: time.Now(),
	}, nil
}

// Publish serializes a delivery payload and publishes it to the delivery
// topic, waiting for the broker's ack.
func (p *Producer) Publish(ctx context.Context, delivery *events.Delivery) error {
	msg, err := buildMessage(delivery)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to Kafka: %w", err)
	}

	slog.Info("Published delivery",
		"sent_id", delivery.SentID,
		"rule_id", delivery.RuleID,
		"tenant_id", delivery.TenantID,
		"communication_count", len(delivery.CommunicationIDs),
	)
	return nil
}

// Close gracefully closes the Kafka writer and releases resources.
func (p *Producer) Close() error {
	slog.Info("Closing Kafka producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		slog.Error("Error closing Kafka producer", "error", err)
		return err
	}
	return nil
}
