package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/peytonrunyan/commwatch/internal/events"
	"github.com/peytonrunyan/commwatch/internal/model"
)

// fakePendingStore is a single-shard in-memory PendingStore.
type fakePendingStore struct {
	entries map[string]*model.PendingNotification

	queryErr   error
	deleteErr  error
	deletes    []string
	conflictOn map[string]bool // rule_id -> force ErrConflict on delete
}

func newFakePendingStore() *fakePendingStore {
	return &fakePendingStore{
		entries:    make(map[string]*model.PendingNotification),
		conflictOn: make(map[string]bool),
	}
}

func (f *fakePendingStore) NumShards() int { return 1 }

func (f *fakePendingStore) QueryShardOlderThan(_ context.Context, _ int, cutoff time.Time) ([]*model.PendingNotification, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var out []*model.PendingNotification
	for _, e := range f.entries {
		if !e.FirstSeenAt.After(cutoff) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePendingStore) ConditionalDelete(_ context.Context, ruleID string, expectedVersion int64) error {
	f.deletes = append(f.deletes, ruleID)
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if f.conflictOn[ruleID] {
		return model.ErrConflict
	}
	e, ok := f.entries[ruleID]
	if !ok {
		return nil
	}
	if e.Version != expectedVersion {
		return model.ErrConflict
	}
	delete(f.entries, ruleID)
	return nil
}

// fakePublisher records published deliveries.
type fakePublisher struct {
	published  []*events.Delivery
	publishErr error
}

func (f *fakePublisher) Publish(_ context.Context, d *events.Delivery) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, d)
	return nil
}

// fakeRuleStore serves rules and records conditional state updates.
type fakeRuleStore struct {
	rules      map[string]*model.RuleDefinition
	updates    []map[string]any
	conflictsN int // force ErrConflict on the first N updates
}

func newFakeRuleStore() *fakeRuleStore {
	return &fakeRuleStore{rules: make(map[string]*model.RuleDefinition)}
}

func (f *fakeRuleStore) GetRule(_ context.Context, ruleID string) (*model.RuleDefinition, error) {
	r, ok := f.rules[ruleID]
	if !ok {
		return nil, model.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRuleStore) ConditionalUpdateState(_ context.Context, ruleID string, expectedVersion int64, newState map[string]any) error {
	if f.conflictsN > 0 {
		f.conflictsN--
		// Simulate the competing writer the conflict implies.
		f.rules[ruleID].Version++
		return model.ErrConflict
	}
	r, ok := f.rules[ruleID]
	if !ok || r.Version != expectedVersion {
		return model.ErrConflict
	}
	r.CurrentState = newState
	r.Version++
	f.updates = append(f.updates, newState)
	return nil
}

// fakeSentStore records appended audit records.
type fakeSentStore struct {
	records   []*model.SentRecord
	appendErr error
}

func (f *fakeSentStore) AppendSentRecord(_ context.Context, rec *model.SentRecord) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.records = append(f.records, rec)
	return nil
}

// countingMetrics tallies IncrementCustom calls by name.
type countingMetrics struct {
	NoOpMetrics
	custom map[string]int
	errors int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{custom: make(map[string]int)}
}

func (c *countingMetrics) RecordError()                { c.errors++ }
func (c *countingMetrics) IncrementCustom(name string) { c.custom[name]++ }

var errBoom = errors.New("boom")
