// Package consumer provides Kafka consumer functionality for the inbound
// communication topics, one consumer per communication category.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/peytonrunyan/commwatch/internal/events"
	kafkautil "github.com/peytonrunyan/commwatch/internal/kafka"
	"github.com/peytonrunyan/commwatch/internal/model"
)

// Consumer wraps a Kafka reader for one communication topic. Offsets are
// committed explicitly, only after a communication is fully processed, so the
// broker redelivers anything a crashed worker left unacknowledged.
type Consumer struct {
	reader *kafka.Reader
	topic  string
}

// NewConsumer creates a new Kafka consumer with the specified brokers, topic,
// and group ID. The consumer is configured for at-least-once delivery.
func NewConsumer(brokers string, topic string, groupID string) (*Consumer, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}

	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	reader := kafka.NewReader(kafkautil.NewReaderConfig(brokerList, topic, groupID))

	return &Consumer{
		reader: reader,
		topic:  topic,
	}, nil
}

// FetchCommunication blocks until the next message arrives (long poll) and
// decodes it. A decode failure returns model.ErrValidation along with the raw
// message so the caller can acknowledge and drop it instead of looping on a
// poison message.
func (c *Consumer) FetchCommunication(ctx context.Context) (*model.Communication, *kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch message from Kafka: %w", err)
	}

	comm, err := events.DecodeCommunication(msg.Value)
	if err != nil {
		return nil, &msg, err
	}

	return comm, &msg, nil
}

// CommitMessage acknowledges a message after its communication has been fully
// processed.
func (c *Consumer) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	return c.reader.CommitMessages(ctx, *msg)
}

// Topic returns the topic this consumer reads.
func (c *Consumer) Topic() string {
	return c.topic
}

// Close gracefully closes the Kafka reader and releases resources.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	return nil
}
