// Package evaluator evaluates one communication against a tenant's active
// rules through the reasoning service. The first rule is evaluated alone to
// establish a shared cache reference, then the remaining rules fan out
// concurrently reusing it.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/peytonrunyan/commwatch/internal/model"
	"github.com/peytonrunyan/commwatch/internal/reasoning"
)

// defaultFanOutLimit caps concurrent reasoning calls within one communication.
const defaultFanOutLimit = 5

// RuleResult pairs a rule with its triggered evaluation result.
type RuleResult struct {
	Rule   *model.RuleDefinition
	Result *model.EvaluationResult
}

// Evaluator runs per-rule evaluations for a communication.
type Evaluator struct {
	service     reasoning.Service
	fanOutLimit int
}

// New creates an evaluator using the given reasoning service.
// fanOutLimit caps in-flight fan-out calls; values <= 0 use the default.
func New(service reasoning.Service, fanOutLimit int) *Evaluator {
	if fanOutLimit <= 0 {
		fanOutLimit = defaultFanOutLimit
	}
	return &Evaluator{
		service:     service,
		fanOutLimit: fanOutLimit,
	}
}

// EvaluateAll evaluates the communication against every rule and returns the
// results that triggered. A failed or invalid result discards only that
// rule; sibling rules are unaffected. The returned order is unspecified.
func (e *Evaluator) EvaluateAll(ctx context.Context, comm *model.Communication, content string, rules []*model.RuleDefinition) []RuleResult {
	if len(rules) == 0 {
		return nil
	}

	var triggered []RuleResult

	// Priming call: evaluated alone so its cache reference can be shared by
	// the fan-out below.
	first := rules[0]
	firstResult, cacheRef, err := e.evaluateOne(ctx, comm, content, first, "")
	if err != nil {
		slog.Error("Rule evaluation failed",
			"rule_id", first.RuleID,
			"communication_id", comm.CommunicationID,
			"error", err,
		)
	} else if firstResult != nil {
		triggered = append(triggered, RuleResult{Rule: first, Result: firstResult})
	}

	if len(rules) == 1 {
		return triggered
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, e.fanOutLimit)
	)

	for _, rule := range rules[1:] {
		wg.Add(1)
		go func(rule *model.RuleDefinition) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			result, _, err := e.evaluateOne(ctx, comm, content, rule, cacheRef)
			if err != nil {
				slog.Error("Rule evaluation failed",
					"rule_id", rule.RuleID,
					"communication_id", comm.CommunicationID,
					"error", err,
				)
				return
			}
			if result != nil {
				mu.Lock()
				triggered = append(triggered, RuleResult{Rule: rule, Result: result})
				mu.Unlock()
			}
		}(rule)
	}
	wg.Wait()

	return triggered
}

// evaluateOne runs a single reasoning call and validates the returned state
// against the rule's schema. Returns (nil, cacheRef, nil) when the rule did
// not trigger.
func (e *Evaluator) evaluateOne(ctx context.Context, comm *model.Communication, content string, rule *model.RuleDefinition, cacheRef string) (*model.EvaluationResult, string, error) {
	result, ref, err := e.service.Evaluate(ctx, reasoning.Request{
		Content:  content,
		Rule:     rule,
		CacheRef: cacheRef,
	})
	if err != nil {
		return nil, ref, err
	}

	// A value outside its field's domain discards this rule's result only.
	normalized, err := rule.StateSchema.NormalizeUpdate(result.UpdatedState)
	if err != nil {
		return nil, ref, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	result.UpdatedState = normalized

	if !result.ShouldAlert {
		slog.Debug("Rule did not trigger",
			"rule_id", rule.RuleID,
			"communication_id", comm.CommunicationID,
		)
		return nil, ref, nil
	}

	slog.Info("Rule triggered",
		"rule_id", rule.RuleID,
		"tenant_id", rule.TenantID,
		"communication_id", comm.CommunicationID,
		"reason", result.Reason,
	)
	return result, ref, nil
}
