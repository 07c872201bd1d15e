package state

import (
	"reflect"
	"testing"
)

func TestField_Validate(t *testing.T) {
	tests := []struct {
		name    string
		field   Field
		wantErr bool
	}{
		{
			name:  "valid counter",
			field: Field{Name: "complaint_count", Kind: KindCounter},
		},
		{
			name:  "valid string list with limit",
			field: Field{Name: "topics", Kind: KindStringList, MaxItems: 20},
		},
		{
			name:    "uppercase name rejected",
			field:   Field{Name: "ComplaintCount", Kind: KindCounter},
			wantErr: true,
		},
		{
			name:    "empty name rejected",
			field:   Field{Name: "", Kind: KindCounter},
			wantErr: true,
		},
		{
			name:    "name too long",
			field:   Field{Name: "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", Kind: KindCounter},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			field:   Field{Name: "mood", Kind: Kind("vibes")},
			wantErr: true,
		},
		{
			name:    "max items above hard bound",
			field:   Field{Name: "topics", Kind: KindStringList, MaxItems: 51},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.field.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestField_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		field   Field
		value   any
		want    any
		wantErr bool
	}{
		{
			name:  "sentiment in range",
			field: Field{Name: "sentiment", Kind: KindSentimentScore},
			value: 0.5,
			want:  0.5,
		},
		{
			name:  "sentiment clamped high",
			field: Field{Name: "sentiment", Kind: KindSentimentScore},
			value: 3.2,
			want:  1.0,
		},
		{
			name:  "sentiment clamped low",
			field: Field{Name: "sentiment", Kind: KindSentimentScore},
			value: -7.0,
			want:  -1.0,
		},
		{
			name:    "sentiment non-numeric rejected",
			field:   Field{Name: "sentiment", Kind: KindSentimentScore},
			value:   "angry",
			wantErr: true,
		},
		{
			name:  "counter accepts json float",
			field: Field{Name: "count", Kind: KindCounter},
			value: 3.0,
			want:  int64(3),
		},
		{
			name:    "counter rejects negative",
			field:   Field{Name: "count", Kind: KindCounter},
			value:   -1.0,
			wantErr: true,
		},
		{
			name:    "counter rejects fraction",
			field:   Field{Name: "count", Kind: KindCounter},
			value:   1.5,
			wantErr: true,
		},
		{
			name:  "category in allowed set",
			field: Field{Name: "channel", Kind: KindCategory, AllowedValues: []string{"billing", "support"}},
			value: "billing",
			want:  "billing",
		},
		{
			name:    "category outside allowed set",
			field:   Field{Name: "channel", Kind: KindCategory, AllowedValues: []string{"billing", "support"}},
			value:   "sales",
			wantErr: true,
		},
		{
			name:  "category null allowed",
			field: Field{Name: "channel", Kind: KindCategory, AllowedValues: []string{"billing"}},
			value: nil,
			want:  nil,
		},
		{
			name:  "timestamp valid",
			field: Field{Name: "last_seen", Kind: KindTimestamp},
			value: "2025-06-01T12:00:00Z",
			want:  "2025-06-01T12:00:00Z",
		},
		{
			name:    "timestamp malformed",
			field:   Field{Name: "last_seen", Kind: KindTimestamp},
			value:   "yesterday",
			wantErr: true,
		},
		{
			name:  "timestamp null",
			field: Field{Name: "last_seen", Kind: KindTimestamp},
			value: nil,
			want:  nil,
		},
		{
			name:  "boolean flag",
			field: Field{Name: "escalated", Kind: KindBooleanFlag},
			value: true,
			want:  true,
		},
		{
			name:    "boolean flag rejects string",
			field:   Field{Name: "escalated", Kind: KindBooleanFlag},
			value:   "true",
			wantErr: true,
		},
		{
			name:  "numeric threshold",
			field: Field{Name: "limit", Kind: KindNumericThreshold},
			value: 42.5,
			want:  42.5,
		},
		{
			name:  "string list from json",
			field: Field{Name: "topics", Kind: KindStringList, MaxItems: 3},
			value: []any{"refund", "outage"},
			want:  []string{"refund", "outage"},
		},
		{
			name:    "string list over limit",
			field:   Field{Name: "topics", Kind: KindStringList, MaxItems: 2},
			value:   []any{"a", "b", "c"},
			wantErr: true,
		},
		{
			name:    "string list with non-string element",
			field:   Field{Name: "topics", Kind: KindStringList},
			value:   []any{"a", 3.0},
			wantErr: true,
		},
		{
			name:  "text snapshot",
			field: Field{Name: "last_message", Kind: KindTextSnapshot},
			value: "call me back",
			want:  "call me back",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.field.Normalize(tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Normalize() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestField_Normalize_StringListDefaultLimit(t *testing.T) {
	field := Field{Name: "topics", Kind: KindStringList}

	within := make([]any, 10)
	for i := range within {
		within[i] = "x"
	}
	if _, err := field.Normalize(within); err != nil {
		t.Errorf("Normalize() at default limit returned error: %v", err)
	}

	over := append(within, "x")
	if _, err := field.Normalize(over); err == nil {
		t.Error("Normalize() above default limit should fail")
	}
}

func TestField_Default(t *testing.T) {
	tests := []struct {
		kind Kind
		want any
	}{
		{KindSentimentScore, 0.0},
		{KindCategory, nil},
		{KindCounter, int64(0)},
		{KindTimestamp, nil},
		{KindTextSnapshot, nil},
		{KindBooleanFlag, false},
		{KindNumericThreshold, 0.0},
		{KindStringList, []string{}},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got := Field{Name: "f", Kind: tt.kind}.Default()
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Default() = %v, want %v", got, tt.want)
			}
		})
	}
}
