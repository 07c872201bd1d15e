// Package aggregator merges triggered evaluation results into the single
// pending notification for each rule. Concurrent writers are resolved with
// version-checked conditional writes plus bounded retry, never locks.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/peytonrunyan/commwatch/internal/model"
	"github.com/peytonrunyan/commwatch/internal/retry"
)

// PendingStore is the conditional-write store the aggregator merges into.
type PendingStore interface {
	// Get reads the pending notification for a rule, model.ErrNotFound if absent.
	Get(ctx context.Context, ruleID string) (*model.PendingNotification, error)

	// ConditionalUpsert writes the record if the stored version still equals
	// expectedVersion (0 = must not exist). Returns model.ErrConflict when
	// another writer won the race.
	ConditionalUpsert(ctx context.Context, p *model.PendingNotification, expectedVersion int64) error
}

// Aggregator applies the merge protocol for triggered rules.
type Aggregator struct {
	store    PendingStore
	retryCfg retry.Config
	now      func() time.Time
}

// New creates an aggregator with the default conflict retry budget.
func New(store PendingStore) *Aggregator {
	return &Aggregator{
		store:    store,
		retryCfg: retry.DefaultConfig(),
		now:      time.Now,
	}
}

// Merge folds a triggered result into the rule's pending notification:
// the communication id joins the set (idempotent on redelivery), the updated
// state lands over the prior state per field, first_seen_at is preserved.
// Exhausting the retry budget returns model.ErrConflict; the caller still
// acknowledges the communication, since the next trigger or dispatcher pass
// corrects the record.
func (a *Aggregator) Merge(ctx context.Context, rule *model.RuleDefinition, result *model.EvaluationResult, comm *model.Communication) error {
	err := retry.WithRetry(ctx, a.retryCfg, "pending merge", func() (bool, error) {
		merged, expectedVersion, err := a.buildMerged(ctx, rule, result, comm)
		if err != nil {
			return false, err
		}

		if err := a.store.ConditionalUpsert(ctx, merged, expectedVersion); err != nil {
			return errors.Is(err, model.ErrConflict), err
		}

		slog.Info("Merged pending notification",
			"rule_id", rule.RuleID,
			"communication_id", comm.CommunicationID,
			"communication_count", len(merged.CommunicationIDs),
			"version", merged.Version,
		)
		return false, nil
	})
	if err != nil && errors.Is(err, model.ErrConflict) {
		return fmt.Errorf("merge retry budget exhausted for rule %s: %w", rule.RuleID, err)
	}
	return err
}

// buildMerged reads the current record (absent on first trigger) and
// constructs the merged successor plus the version the write must be
// conditioned on.
func (a *Aggregator) buildMerged(ctx context.Context, rule *model.RuleDefinition, result *model.EvaluationResult, comm *model.Communication) (*model.PendingNotification, int64, error) {
	now := a.now().UTC()

	existing, err := a.store.Get(ctx, rule.RuleID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, 0, err
	}

	if existing == nil {
		return &model.PendingNotification{
			RuleID:            rule.RuleID,
			TenantID:          rule.TenantID,
			OwnerID:           rule.OwnerID,
			CommunicationType: comm.CommunicationType,
			FirstSeenAt:       now,
			LastUpdatedAt:     now,
			CommunicationIDs:  []string{comm.CommunicationID},
			Reasons:           []string{result.Reason},
			LatestState:       mergeState(rule.CurrentState, result.UpdatedState),
		}, 0, nil
	}

	merged := &model.PendingNotification{
		RuleID:            existing.RuleID,
		TenantID:          existing.TenantID,
		OwnerID:           existing.OwnerID,
		CommunicationType: existing.CommunicationType,
		FirstSeenAt:       existing.FirstSeenAt,
		LastUpdatedAt:     now,
		CommunicationIDs:  existing.CommunicationIDs,
		Reasons:           existing.Reasons,
		LatestState:       mergeState(existing.LatestState, result.UpdatedState),
	}
	if !existing.HasCommunication(comm.CommunicationID) {
		merged.CommunicationIDs = append(append([]string{}, existing.CommunicationIDs...), comm.CommunicationID)
		merged.Reasons = append(append([]string{}, existing.Reasons...), result.Reason)
	}

	return merged, existing.Version, nil
}

// mergeState lays the update over the prior state, last writer wins per field.
func mergeState(prior, update map[string]any) map[string]any {
	merged := make(map[string]any, len(prior)+len(update))
	for k, v := range prior {
		merged[k] = v
	}
	for k, v := range update {
		merged[k] = v
	}
	return merged
}
