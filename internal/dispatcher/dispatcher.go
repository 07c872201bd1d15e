package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/peytonrunyan/commwatch/internal/events"
	"github.com/peytonrunyan/commwatch/internal/model"
	"github.com/peytonrunyan/commwatch/internal/retry"
)

// DefaultInterval is the default period between dispatch passes.
const DefaultInterval = 60 * time.Second

// Dispatcher periodically dispatches pending notifications whose batch
// window has elapsed. Every step is idempotent or version-guarded, so an
// overlapping or interrupted pass never corrupts shared state.
type Dispatcher struct {
	pending   PendingStore
	publisher DeliveryPublisher
	rules     RuleStore
	sent      SentStore
	metrics   MetricsRecorder
	interval  time.Duration
	retryCfg  retry.Config
	now       func() time.Time
	newSentID func() string
}

// New creates a dispatcher. interval values <= 0 use the default.
func New(pending PendingStore, publisher DeliveryPublisher, rules RuleStore, sent SentStore, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Dispatcher{
		pending:   pending,
		publisher: publisher,
		rules:     rules,
		sent:      sent,
		metrics:   &NoOpMetrics{},
		interval:  interval,
		retryCfg:  retry.DefaultConfig(),
		now:       time.Now,
		newSentID: func() string { return uuid.NewString() },
	}
}

// SetMetrics replaces the dispatcher's metrics recorder. Nil restores the no-op.
func (d *Dispatcher) SetMetrics(m MetricsRecorder) {
	if m == nil {
		m = &NoOpMetrics{}
	}
	d.metrics = m
}

// Run executes one pass immediately, then one per interval until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Starting dispatcher", "interval", d.interval)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.RunPass(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher stopped")
			return nil
		case <-ticker.C:
			d.RunPass(ctx)
		}
	}
}

// RunPass scans every shard once and dispatches the eligible entries.
// Per-entry failures are contained; the entry stays pending and the next
// pass retries it.
func (d *Dispatcher) RunPass(ctx context.Context) {
	now := d.now().UTC()
	cutoff := now.Add(-minWindow())

	var dispatched, skipped, failed int
	for shard := 0; shard < d.pending.NumShards(); shard++ {
		entries, err := d.pending.QueryShardOlderThan(ctx, shard, cutoff)
		if err != nil {
			slog.Error("Failed to query shard", "shard", shard, "error", err)
			d.metrics.RecordError()
			continue
		}

		for _, entry := range entries {
			if ctx.Err() != nil {
				// Interrupted between entries; everything left stays pending.
				return
			}
			if now.Sub(entry.FirstSeenAt) < Window(entry.CommunicationType) {
				skipped++
				continue
			}
			if err := d.dispatchEntry(ctx, entry, now); err != nil {
				slog.Error("Failed to dispatch pending notification",
					"rule_id", entry.RuleID,
					"error", err,
				)
				d.metrics.RecordError()
				failed++
				continue
			}
			dispatched++
		}
	}

	if dispatched > 0 || failed > 0 {
		slog.Info("Dispatch pass complete",
			"dispatched", dispatched,
			"not_yet_eligible", skipped,
			"failed", failed,
		)
	}
}

// dispatchEntry performs the four-step dispatch sequence: publish the
// delivery, append the audit record, reconcile rule state, delete the
// pending entry. A failure at any step leaves the entry pending so the next
// pass retries; downstream consumers de-duplicate on sent_id.
func (d *Dispatcher) dispatchEntry(ctx context.Context, entry *model.PendingNotification, now time.Time) error {
	start := time.Now()
	sentID := d.newSentID()

	delivery := events.NewDelivery(entry, sentID, now)
	if err := d.publisher.Publish(ctx, delivery); err != nil {
		return fmt.Errorf("failed to publish delivery: %w", err)
	}

	if err := d.sent.AppendSentRecord(ctx, &model.SentRecord{
		SentID:            sentID,
		RuleID:            entry.RuleID,
		TenantID:          entry.TenantID,
		OwnerID:           entry.OwnerID,
		SentAt:            now,
		CommunicationIDs:  entry.CommunicationIDs,
		CommunicationType: entry.CommunicationType,
		StateAtSend:       entry.LatestState,
	}); err != nil {
		return fmt.Errorf("failed to append sent record: %w", err)
	}

	if err := d.reconcileRuleState(ctx, entry); err != nil {
		return err
	}

	if err := d.pending.ConditionalDelete(ctx, entry.RuleID, entry.Version); err != nil {
		if errors.Is(err, model.ErrConflict) {
			// A merge landed after we read the entry; keep it for the next
			// pass so the new communication is not lost.
			slog.Info("Pending entry updated during dispatch, keeping for next pass",
				"rule_id", entry.RuleID,
			)
			d.metrics.IncrementCustom("deletes_deferred")
			return nil
		}
		return fmt.Errorf("failed to delete pending entry: %w", err)
	}

	d.metrics.RecordProcessed(time.Since(start))
	d.metrics.IncrementCustom("notifications_dispatched")

	slog.Info("Dispatched notification",
		"sent_id", sentID,
		"rule_id", entry.RuleID,
		"tenant_id", entry.TenantID,
		"communication_count", len(entry.CommunicationIDs),
		"first_seen_at", entry.FirstSeenAt,
	)
	return nil
}

// reconcileRuleState writes the dispatched latest_state back onto the rule,
// conditioned on the rule version, re-reading and re-merging on conflict so a
// concurrent writer's fields are not clobbered.
func (d *Dispatcher) reconcileRuleState(ctx context.Context, entry *model.PendingNotification) error {
	return retry.WithRetry(ctx, d.retryCfg, "rule state reconcile", func() (bool, error) {
		rule, err := d.rules.GetRule(ctx, entry.RuleID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				// Rule deleted since the notification accumulated; nothing to
				// reconcile.
				slog.Warn("Rule missing during dispatch", "rule_id", entry.RuleID)
				return false, nil
			}
			return false, err
		}

		merged := make(map[string]any, len(rule.CurrentState)+len(entry.LatestState))
		for k, v := range rule.CurrentState {
			merged[k] = v
		}
		for k, v := range entry.LatestState {
			merged[k] = v
		}

		err = d.rules.ConditionalUpdateState(ctx, entry.RuleID, rule.Version, merged)
		if err != nil {
			return errors.Is(err, model.ErrConflict), err
		}
		return false, nil
	})
}
