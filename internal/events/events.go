// Package events defines the message structures for the inbound communication
// topics and the outbound delivery topic.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/peytonrunyan/commwatch/internal/model"
)

// envelope is the optional one-level wrapper some transports put around the
// communication payload (a fan-out topic relay, for example).
type envelope struct {
	Message  string `json:"Message"`
	TopicARN string `json:"TopicArn"`
}

// communicationMessage is the wire form of an inbound communication.
type communicationMessage struct {
	CommunicationID   string            `json:"communication_id"`
	CommunicationType string            `json:"communication_type"`
	ContentRef        string            `json:"content_ref"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// DecodeCommunication parses an inbound queue message into a Communication,
// unwrapping one level of envelope if the transport wrapped the payload.
// Malformed messages and messages missing required fields return
// model.ErrValidation so the caller can acknowledge and drop them.
func DecodeCommunication(raw []byte) (*model.Communication, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Message != "" && env.TopicARN != "" {
		raw = []byte(env.Message)
	}

	var msg communicationMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal communication: %v", model.ErrValidation, err)
	}

	if msg.CommunicationID == "" {
		return nil, fmt.Errorf("%w: communication_id is required", model.ErrValidation)
	}
	if msg.CommunicationType == "" {
		return nil, fmt.Errorf("%w: communication_type is required", model.ErrValidation)
	}
	if msg.ContentRef == "" {
		return nil, fmt.Errorf("%w: content_ref is required", model.ErrValidation)
	}
	tenantID := msg.Metadata["tenant_id"]
	if tenantID == "" {
		return nil, fmt.Errorf("%w: metadata.tenant_id is required", model.ErrValidation)
	}

	return &model.Communication{
		CommunicationID:   msg.CommunicationID,
		CommunicationType: msg.CommunicationType,
		TenantID:          tenantID,
		ContentRef:        msg.ContentRef,
		Metadata:          msg.Metadata,
	}, nil
}

// Delivery is the payload published to the delivery topic when a pending
// notification is dispatched. Consumers must de-duplicate on SentID.
type Delivery struct {
	SentID            string         `json:"sent_id"`
	RuleID            string         `json:"rule_id"`
	TenantID          string         `json:"tenant_id"`
	OwnerID           string         `json:"owner_id"`
	Reasons           []string       `json:"reasons,omitempty"`
	CommunicationIDs  []string       `json:"communication_ids"`
	CommunicationType string         `json:"communication_type"`
	LatestState       map[string]any `json:"latest_state"`
	FirstSeenAt       time.Time      `json:"first_seen_at"`
	SentAt            time.Time      `json:"sent_at"`
}

// NewDelivery builds the delivery payload for a pending notification.
func NewDelivery(pending *model.PendingNotification, sentID string, sentAt time.Time) *Delivery {
	return &Delivery{
		SentID:            sentID,
		RuleID:            pending.RuleID,
		TenantID:          pending.TenantID,
		OwnerID:           pending.OwnerID,
		Reasons:           pending.Reasons,
		CommunicationIDs:  pending.CommunicationIDs,
		CommunicationType: pending.CommunicationType,
		LatestState:       pending.LatestState,
		FirstSeenAt:       pending.FirstSeenAt,
		SentAt:            sentAt,
	}
}
