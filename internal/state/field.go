// Package state defines the typed state fields attached to alert rules.
// Each rule carries an ordered schema of named fields; every state value
// written by the evaluator or merged by the aggregator must conform to its
// field's kind. Values arrive as decoded JSON, so numbers are float64,
// lists are []any, and absent values are nil.
package state

import (
	"fmt"
	"math"
	"regexp"
	"time"
)

// Kind identifies one of the closed set of state field types.
// Adding a new kind means extending the constants below and the validation
// switch in Field.Normalize, never branching on raw strings elsewhere.
type Kind string

const (
	KindSentimentScore   Kind = "sentiment_score"   // float, clamped to [-1, 1]
	KindCategory         Kind = "category"          // string from an allowed set, or null
	KindCounter          Kind = "counter"           // non-negative integer
	KindTimestamp        Kind = "timestamp"         // RFC 3339 string, or null
	KindTextSnapshot     Kind = "text_snapshot"     // string, or null
	KindBooleanFlag      Kind = "boolean_flag"      // bool
	KindNumericThreshold Kind = "numeric_threshold" // float
	KindStringList       Kind = "string_list"       // list of strings, bounded size
)

// MaxStringListItems is the hard upper bound on string_list length,
// regardless of what a schema declares.
const MaxStringListItems = 50

// defaultStringListItems applies when a string_list field declares no limit.
const defaultStringListItems = 10

var fieldNamePattern = regexp.MustCompile(`^[a-z_]+$`)

// Field describes one field in a rule's state schema.
type Field struct {
	Name          string   `json:"name"`
	Kind          Kind     `json:"kind"`
	Description   string   `json:"description,omitempty"`
	AllowedValues []string `json:"allowed_values,omitempty"` // category kinds only
	MaxItems      int      `json:"max_items,omitempty"`      // string_list kinds only
}

// Validate checks that the field declaration itself is well formed.
func (f Field) Validate() error {
	if f.Name == "" || len(f.Name) > 32 || !fieldNamePattern.MatchString(f.Name) {
		return fmt.Errorf("field name %q must match ^[a-z_]+$ and be at most 32 characters", f.Name)
	}
	switch f.Kind {
	case KindSentimentScore, KindCategory, KindCounter, KindTimestamp,
		KindTextSnapshot, KindBooleanFlag, KindNumericThreshold, KindStringList:
	default:
		return fmt.Errorf("field %q has unknown kind %q", f.Name, f.Kind)
	}
	if f.MaxItems < 0 || f.MaxItems > MaxStringListItems {
		return fmt.Errorf("field %q max_items must be between 0 and %d", f.Name, MaxStringListItems)
	}
	return nil
}

// Default returns the initial value for this field's kind.
func (f Field) Default() any {
	switch f.Kind {
	case KindSentimentScore, KindNumericThreshold:
		return 0.0
	case KindCounter:
		return int64(0)
	case KindBooleanFlag:
		return false
	case KindStringList:
		return []string{}
	default:
		// category, timestamp, text_snapshot start unset
		return nil
	}
}

// maxItems returns the effective string_list bound for this field.
func (f Field) maxItems() int {
	if f.MaxItems > 0 {
		return f.MaxItems
	}
	return defaultStringListItems
}

// Normalize validates a decoded JSON value against the field's kind and
// returns its canonical representation. Out-of-domain values are rejected,
// never coerced; the one exception is sentiment_score, whose domain operation
// is clamping into [-1, 1].
func (f Field) Normalize(value any) (any, error) {
	switch f.Kind {
	case KindSentimentScore:
		v, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("field %q expects a number, got %T", f.Name, value)
		}
		return math.Max(-1, math.Min(1, v)), nil

	case KindNumericThreshold:
		v, ok := toFloat(value)
		if !ok {
			return nil, fmt.Errorf("field %q expects a number, got %T", f.Name, value)
		}
		return v, nil

	case KindCounter:
		v, ok := toFloat(value)
		if !ok || v != math.Trunc(v) {
			return nil, fmt.Errorf("field %q expects an integer, got %v", f.Name, value)
		}
		if v < 0 {
			return nil, fmt.Errorf("field %q must be non-negative, got %v", f.Name, v)
		}
		return int64(v), nil

	case KindCategory:
		if value == nil {
			return nil, nil
		}
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field %q expects a string or null, got %T", f.Name, value)
		}
		if len(f.AllowedValues) > 0 && !contains(f.AllowedValues, s) {
			return nil, fmt.Errorf("field %q value %q is not in the allowed set", f.Name, s)
		}
		return s, nil

	case KindTimestamp:
		if value == nil {
			return nil, nil
		}
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field %q expects an RFC 3339 string or null, got %T", f.Name, value)
		}
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			return nil, fmt.Errorf("field %q value %q is not a valid RFC 3339 timestamp", f.Name, s)
		}
		return s, nil

	case KindTextSnapshot:
		if value == nil {
			return nil, nil
		}
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("field %q expects a string or null, got %T", f.Name, value)
		}
		return s, nil

	case KindBooleanFlag:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("field %q expects a bool, got %T", f.Name, value)
		}
		return b, nil

	case KindStringList:
		list, err := toStringList(value)
		if err != nil {
			return nil, fmt.Errorf("field %q %w", f.Name, err)
		}
		if len(list) > f.maxItems() {
			return nil, fmt.Errorf("field %q has %d items, limit is %d", f.Name, len(list), f.maxItems())
		}
		return list, nil

	default:
		return nil, fmt.Errorf("field %q has unknown kind %q", f.Name, f.Kind)
	}
}

// toFloat accepts the numeric types a value can carry after JSON decoding
// or after a prior Normalize pass.
func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func toStringList(value any) ([]string, error) {
	switch v := value.(type) {
	case []string:
		return v, nil
	case []any:
		list := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("expects a list of strings, got %T element", item)
			}
			list = append(list, s)
		}
		return list, nil
	case nil:
		return []string{}, nil
	default:
		return nil, fmt.Errorf("expects a list of strings, got %T", value)
	}
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
