// Package worker drives the communication processing pipeline: poll loops
// feed a bounded buffer, a fixed pool of workers drains it, and each worker
// processes one communication end to end before taking the next.
package worker

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/peytonrunyan/commwatch/internal/evaluator"
	"github.com/peytonrunyan/commwatch/internal/model"
)

// Source fetches communications from one inbound topic. Messages are
// acknowledged explicitly after processing.
type Source interface {
	// FetchCommunication blocks until the next message arrives. A decode
	// failure returns model.ErrValidation with a non-nil message so the
	// caller can acknowledge and drop it.
	FetchCommunication(ctx context.Context) (*model.Communication, *kafka.Message, error)

	// CommitMessage acknowledges a processed message.
	CommitMessage(ctx context.Context, msg *kafka.Message) error

	// Topic returns the topic this source reads, for logging.
	Topic() string
}

// ContentFetcher resolves a communication's content reference to its text.
type ContentFetcher interface {
	Fetch(ctx context.Context, contentRef string) (string, error)
}

// RuleSource loads a tenant's active rules.
type RuleSource interface {
	QueryActiveByTenant(ctx context.Context, tenantID string) ([]*model.RuleDefinition, error)
}

// RuleEvaluator evaluates a communication against a set of rules and returns
// the triggered results.
type RuleEvaluator interface {
	EvaluateAll(ctx context.Context, comm *model.Communication, content string, rules []*model.RuleDefinition) []evaluator.RuleResult
}

// ResultMerger folds a triggered result into the rule's pending notification.
type ResultMerger interface {
	Merge(ctx context.Context, rule *model.RuleDefinition, result *model.EvaluationResult, comm *model.Communication) error
}

// MetricsRecorder defines the metrics operations the pool records.
type MetricsRecorder interface {
	RecordReceived()
	RecordProcessed(latency time.Duration)
	RecordError()
	IncrementCustom(name string)
}

// NoOpMetrics is a null-object implementation of MetricsRecorder.
type NoOpMetrics struct{}

var _ MetricsRecorder = (*NoOpMetrics)(nil)

func (n *NoOpMetrics) RecordReceived()                 {}
func (n *NoOpMetrics) RecordProcessed(_ time.Duration) {}
func (n *NoOpMetrics) RecordError()                    {}
func (n *NoOpMetrics) IncrementCustom(_ string)        {}
