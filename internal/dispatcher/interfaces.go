// Package dispatcher runs the periodic batch dispatch pass: it scans the
// sharded pending index, applies per-category batch windows, publishes ready
// deliveries, writes audit records, and reconciles rule state.
package dispatcher

import (
	"context"
	"time"

	"github.com/peytonrunyan/commwatch/internal/events"
	"github.com/peytonrunyan/commwatch/internal/model"
)

// PendingStore is the sharded pending-notification index the dispatcher scans
// and deletes from.
type PendingStore interface {
	// NumShards returns the shard count of the first_seen_at index.
	NumShards() int

	// QueryShardOlderThan returns a shard's entries with first_seen_at at or
	// before the cutoff.
	QueryShardOlderThan(ctx context.Context, shard int, cutoff time.Time) ([]*model.PendingNotification, error)

	// ConditionalDelete removes an entry if its version is unchanged. A
	// missing entry is a no-op; model.ErrConflict means a merge landed after
	// the entry was read and it must survive to the next pass.
	ConditionalDelete(ctx context.Context, ruleID string, expectedVersion int64) error
}

// DeliveryPublisher publishes dispatched notifications to the delivery topic.
type DeliveryPublisher interface {
	Publish(ctx context.Context, delivery *events.Delivery) error
}

// RuleStore reads rules and conditionally reconciles their state.
type RuleStore interface {
	GetRule(ctx context.Context, ruleID string) (*model.RuleDefinition, error)
	ConditionalUpdateState(ctx context.Context, ruleID string, expectedVersion int64, newState map[string]any) error
}

// SentStore appends dispatch audit records.
type SentStore interface {
	AppendSentRecord(ctx context.Context, rec *model.SentRecord) error
}

// MetricsRecorder defines the metrics operations the dispatcher records.
type MetricsRecorder interface {
	RecordProcessed(latency time.Duration)
	RecordError()
	IncrementCustom(name string)
}

// NoOpMetrics is a null-object implementation of MetricsRecorder.
type NoOpMetrics struct{}

var _ MetricsRecorder = (*NoOpMetrics)(nil)

func (n *NoOpMetrics) RecordProcessed(_ time.Duration) {}
func (n *NoOpMetrics) RecordError()                    {}
func (n *NoOpMetrics) IncrementCustom(_ string)        {}
