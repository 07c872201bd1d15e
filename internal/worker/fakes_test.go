package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/peytonrunyan/commwatch/internal/evaluator"
	"github.com/peytonrunyan/commwatch/internal/model"
)

// fakeSource serves a fixed sequence of fetch results, then blocks until ctx
// is cancelled. With persistentErr set, every fetch fails instead.
type fakeSource struct {
	mu            sync.Mutex
	topic         string
	fetches       []fetchResult
	next          int
	commits       []kafka.Message
	persistentErr error
	fetchCalls    int
}

type fetchResult struct {
	comm *model.Communication
	msg  *kafka.Message
	err  error
}

func (f *fakeSource) FetchCommunication(ctx context.Context) (*model.Communication, *kafka.Message, error) {
	f.mu.Lock()
	f.fetchCalls++
	if f.persistentErr != nil {
		f.mu.Unlock()
		return nil, nil, f.persistentErr
	}
	if f.next < len(f.fetches) {
		r := f.fetches[f.next]
		f.next++
		f.mu.Unlock()
		return r.comm, r.msg, r.err
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

func (f *fakeSource) CommitMessage(_ context.Context, msg *kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, *msg)
	return nil
}

func (f *fakeSource) Topic() string { return f.topic }

func (f *fakeSource) committed() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message{}, f.commits...)
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

// fakeContent maps content refs to text.
type fakeContent struct {
	texts map[string]string
	err   error
}

func (f *fakeContent) Fetch(_ context.Context, ref string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	text, ok := f.texts[ref]
	if !ok {
		return "", fmt.Errorf("%w: content %s", model.ErrNotFound, ref)
	}
	return text, nil
}

// fakeRuleSource serves rules per tenant.
type fakeRuleSource struct {
	rules map[string][]*model.RuleDefinition
	err   error
}

func (f *fakeRuleSource) QueryActiveByTenant(_ context.Context, tenantID string) ([]*model.RuleDefinition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rules[tenantID], nil
}

// fakeEvaluator returns canned triggered results and records calls.
type fakeEvaluator struct {
	mu        sync.Mutex
	triggered []evaluator.RuleResult
	calls     int
}

func (f *fakeEvaluator) EvaluateAll(_ context.Context, _ *model.Communication, _ string, _ []*model.RuleDefinition) []evaluator.RuleResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.triggered
}

// fakeMerger records merges and fails on configured rule ids.
type fakeMerger struct {
	mu     sync.Mutex
	merged []string
	errs   map[string]error
}

func (f *fakeMerger) Merge(_ context.Context, rule *model.RuleDefinition, _ *model.EvaluationResult, _ *model.Communication) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[rule.RuleID]; err != nil {
		return err
	}
	f.merged = append(f.merged, rule.RuleID)
	return nil
}

// countingMetrics tallies pool metrics.
type countingMetrics struct {
	mu        sync.Mutex
	received  int
	processed int
	errors    int
	custom    map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{custom: make(map[string]int)}
}

func (c *countingMetrics) RecordReceived() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received++
}

func (c *countingMetrics) RecordProcessed(_ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed++
}

func (c *countingMetrics) RecordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
}

func (c *countingMetrics) IncrementCustom(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.custom[name]++
}

func (c *countingMetrics) customCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.custom[name]
}

var errBoom = errors.New("boom")
