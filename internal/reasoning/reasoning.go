// Package reasoning wraps the reasoning-service call that evaluates one
// communication against one rule. The call is non-deterministic and possibly
// slow or failing; every call carries its own timeout and callers discard a
// single rule's result on error rather than retrying here.
package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/peytonrunyan/commwatch/internal/model"
)

// systemInstructions is fixed across all rules and tenants. The instructions
// and the communication text lead the prompt so the provider can reuse its
// prefix cache across the fan-out calls for one communication.
const systemInstructions = `You are evaluating a communication for alert conditions.

You will receive:
1. A communication to analyze
2. An alert rule with a task, a trigger condition, a state schema, and the current state

You MUST respond with valid JSON:
{
  "should_alert": true/false,
  "reason": "explanation if alerting, null otherwise",
  "updated_state": { ... state object with any updates ... }
}

Rules:
- updated_state keys must come from the state schema
- Preserve values that have not changed
- Only modify what is relevant to this communication
- Set should_alert to true only when the trigger condition is met`

// Request carries the inputs for one evaluation call.
type Request struct {
	Content  string
	Rule     *model.RuleDefinition
	CacheRef string // opaque hint from a prior call in the same fan-out group
}

// Service evaluates a communication against a rule. It returns the parsed
// result and a cache reference that later calls for the same communication
// can supply to reduce cost and latency.
type Service interface {
	Evaluate(ctx context.Context, req Request) (*model.EvaluationResult, string, error)
}

// Config holds reasoning client configuration.
type Config struct {
	APIKey      string
	Model       string        // defaults to gpt-4o
	Timeout     time.Duration // per-call timeout, defaults to 30s
	CallsPerSec float64       // rate limit across all workers, 0 disables
	Burst       int
}

// Client is the OpenAI-backed reasoning service.
type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	limiter *rate.Limiter
}

// NewClient creates a reasoning client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("reasoning API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4o
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.CallsPerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 5
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.CallsPerSec), burst)
	}

	return &Client{
		client:  openai.NewClient(cfg.APIKey),
		model:   cfg.Model,
		timeout: cfg.Timeout,
		limiter: limiter,
	}, nil
}

// rawResult is the wire form of the model's JSON response.
type rawResult struct {
	ShouldAlert  bool           `json:"should_alert"`
	Reason       *string        `json:"reason"`
	UpdatedState map[string]any `json:"updated_state"`
}

// Evaluate runs one evaluation call. Errors are wrapped with
// model.ErrReasoning so callers can contain the failure to this rule.
func (c *Client) Evaluate(ctx context.Context, req Request) (*model.EvaluationResult, string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, "", fmt.Errorf("%w: rate limiter: %v", model.ErrReasoning, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: buildMessages(req.Content, req.Rule),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	}
	// Route fan-out calls for the same communication to the same cache.
	if req.CacheRef != "" {
		chatReq.User = req.CacheRef
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", model.ErrReasoning, err)
	}
	if len(resp.Choices) == 0 {
		return nil, "", fmt.Errorf("%w: empty response", model.ErrReasoning)
	}

	cacheRef := req.CacheRef
	if cacheRef == "" {
		cacheRef = resp.ID
	}

	result, err := ParseResult([]byte(resp.Choices[0].Message.Content))
	if err != nil {
		return nil, cacheRef, err
	}

	return result, cacheRef, nil
}

// ParseResult decodes and sanity-checks the model's JSON response.
func ParseResult(raw []byte) (*model.EvaluationResult, error) {
	var r rawResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%w: unparseable response: %v", model.ErrReasoning, err)
	}

	reason := ""
	if r.Reason != nil {
		reason = strings.TrimSpace(*r.Reason)
	}
	if r.ShouldAlert && reason == "" {
		return nil, fmt.Errorf("%w: should_alert without a reason", model.ErrReasoning)
	}
	if r.UpdatedState == nil {
		return nil, fmt.Errorf("%w: response missing updated_state", model.ErrReasoning)
	}

	return &model.EvaluationResult{
		ShouldAlert:  r.ShouldAlert,
		Reason:       reason,
		UpdatedState: r.UpdatedState,
	}, nil
}

// buildMessages structures the prompt for prefix caching: the system
// instructions and communication text are identical across all rules for one
// communication, the rule-specific context comes last.
func buildMessages(communication string, rule *model.RuleDefinition) []openai.ChatCompletionMessage {
	var schema strings.Builder
	for _, f := range rule.StateSchema {
		fmt.Fprintf(&schema, "  - %s (%s): %s\n", f.Name, f.Kind, f.Description)
	}

	stateJSON, err := json.MarshalIndent(rule.CurrentState, "", "  ")
	if err != nil {
		stateJSON = []byte("{}")
	}

	ruleContext := fmt.Sprintf(
		"ALERT TASK: %s\n\nTRIGGER WHEN: %s\n\nSTATE FIELDS:\n%s\nCURRENT STATE:\n%s\n\n"+
			"Evaluate the communication above against this rule and respond with JSON.",
		rule.InstructionText,
		rule.TriggerDescription,
		schema.String(),
		stateJSON,
	)

	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemInstructions},
		{Role: openai.ChatMessageRoleUser, Content: "<communication>\n" + communication + "\n</communication>"},
		{Role: openai.ChatMessageRoleUser, Content: ruleContext},
	}
}
