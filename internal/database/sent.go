package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/peytonrunyan/commwatch/internal/model"
)

// AppendSentRecord writes one audit row for a dispatched notification.
// The table is append-only; rows are never mutated or deleted.
func (db *DB) AppendSentRecord(ctx context.Context, rec *model.SentRecord) error {
	stateJSON, err := json.Marshal(rec.StateAtSend)
	if err != nil {
		return fmt.Errorf("failed to encode state for sent record %s: %w", rec.SentID, err)
	}

	query := `
		INSERT INTO sent_records (sent_id, rule_id, tenant_id, owner_id, sent_at,
		                          communication_ids, communication_type, state_at_send)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = db.conn.ExecContext(ctx, query,
		rec.SentID,
		rec.RuleID,
		rec.TenantID,
		rec.OwnerID,
		rec.SentAt,
		pq.Array(rec.CommunicationIDs),
		rec.CommunicationType,
		stateJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to append sent record %s: %w", rec.SentID, err)
	}

	slog.Info("Appended sent record",
		"sent_id", rec.SentID,
		"rule_id", rec.RuleID,
		"communication_count", len(rec.CommunicationIDs),
	)
	return nil
}
