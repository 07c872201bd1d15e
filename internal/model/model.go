// Package model defines the core records flowing through the alerting
// pipeline: inbound communications, alert rules, evaluation results, pending
// notifications, and the sent-record audit trail.
package model

import (
	"time"

	"github.com/peytonrunyan/commwatch/internal/state"
)

// Communication is one unit of inbound content to evaluate. It is immutable
// once received and identified uniquely by CommunicationID.
type Communication struct {
	CommunicationID   string            `json:"communication_id"`
	CommunicationType string            `json:"communication_type"` // call, email, chat, salesforce, ...
	TenantID          string            `json:"tenant_id"`
	ContentRef        string            `json:"content_ref"` // opaque key into the content store
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// RuleDefinition is a tenant-owned alert rule with typed state. The rule
// authoring service owns creation; this pipeline only reads rules and
// conditionally updates CurrentState, guarded by Version.
type RuleDefinition struct {
	RuleID             string         `json:"rule_id"`
	TenantID           string         `json:"tenant_id"`
	OwnerID            string         `json:"owner_id"`
	InstructionText    string         `json:"instruction_text"`    // evaluator-facing task
	TriggerDescription string         `json:"trigger_description"` // human-readable trigger condition
	StateSchema        state.Schema   `json:"state_schema"`
	CurrentState       map[string]any `json:"current_state"`
	Version            int64          `json:"version"`
	IsActive           bool           `json:"is_active"`
}

// EvaluationResult is the outcome of evaluating one communication against one
// rule. UpdatedState may be partial; missing keys keep their prior value.
type EvaluationResult struct {
	ShouldAlert  bool           `json:"should_alert"`
	Reason       string         `json:"reason,omitempty"` // required when ShouldAlert
	UpdatedState map[string]any `json:"updated_state"`
}

// PendingNotification is the single accumulating, not-yet-delivered record
// that a rule has triggered one or more times. At most one live entry exists
// per rule; concurrent writers converge through version-checked upserts.
type PendingNotification struct {
	RuleID            string         `json:"rule_id"`
	TenantID          string         `json:"tenant_id"`
	OwnerID           string         `json:"owner_id"`
	CommunicationType string         `json:"communication_type"`
	FirstSeenAt       time.Time      `json:"first_seen_at"`
	LastUpdatedAt     time.Time      `json:"last_updated_at"`
	CommunicationIDs  []string       `json:"communication_ids"`
	Reasons           []string       `json:"reasons,omitempty"`
	LatestState       map[string]any `json:"latest_state"`
	Version           int64          `json:"version"`
}

// HasCommunication reports whether the given communication already
// contributed to this notification.
func (p *PendingNotification) HasCommunication(communicationID string) bool {
	for _, id := range p.CommunicationIDs {
		if id == communicationID {
			return true
		}
	}
	return false
}

// SentRecord is the append-only audit entry written when a pending
// notification is dispatched. SentID is the downstream de-duplication key.
type SentRecord struct {
	SentID            string         `json:"sent_id"`
	RuleID            string         `json:"rule_id"`
	TenantID          string         `json:"tenant_id"`
	OwnerID           string         `json:"owner_id"`
	SentAt            time.Time      `json:"sent_at"`
	CommunicationIDs  []string       `json:"communication_ids"`
	CommunicationType string         `json:"communication_type"`
	StateAtSend       map[string]any `json:"state_at_send"`
}
