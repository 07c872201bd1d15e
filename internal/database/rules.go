package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/peytonrunyan/commwatch/internal/model"
)

// QueryActiveByTenant fetches all active rules for a tenant. Rules whose
// stored schema or state fails to decode are skipped and logged, never fatal.
func (db *DB) QueryActiveByTenant(ctx context.Context, tenantID string) ([]*model.RuleDefinition, error) {
	query := `
		SELECT rule_id, tenant_id, owner_id, instruction_text, trigger_description,
		       state_schema, current_state, version
		FROM rules
		WHERE tenant_id = $1 AND is_active = TRUE
		ORDER BY rule_id
	`
	rows, err := db.conn.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules for tenant %s: %w", tenantID, err)
	}
	defer rows.Close()

	var rules []*model.RuleDefinition
	for rows.Next() {
		var (
			rule       model.RuleDefinition
			schemaJSON []byte
			stateJSON  []byte
		)
		if err := rows.Scan(
			&rule.RuleID,
			&rule.TenantID,
			&rule.OwnerID,
			&rule.InstructionText,
			&rule.TriggerDescription,
			&schemaJSON,
			&stateJSON,
			&rule.Version,
		); err != nil {
			return nil, fmt.Errorf("failed to scan rule row: %w", err)
		}

		if err := json.Unmarshal(schemaJSON, &rule.StateSchema); err != nil {
			slog.Error("Skipping rule with undecodable state schema", "rule_id", rule.RuleID, "error", err)
			continue
		}
		if err := json.Unmarshal(stateJSON, &rule.CurrentState); err != nil {
			slog.Error("Skipping rule with undecodable current state", "rule_id", rule.RuleID, "error", err)
			continue
		}
		rule.IsActive = true
		rules = append(rules, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rule rows: %w", err)
	}

	return rules, nil
}

// GetRule fetches a single rule by id, model.ErrNotFound if absent.
func (db *DB) GetRule(ctx context.Context, ruleID string) (*model.RuleDefinition, error) {
	query := `
		SELECT rule_id, tenant_id, owner_id, instruction_text, trigger_description,
		       state_schema, current_state, version, is_active
		FROM rules
		WHERE rule_id = $1
	`
	var (
		rule       model.RuleDefinition
		schemaJSON []byte
		stateJSON  []byte
	)
	err := db.conn.QueryRowContext(ctx, query, ruleID).Scan(
		&rule.RuleID,
		&rule.TenantID,
		&rule.OwnerID,
		&rule.InstructionText,
		&rule.TriggerDescription,
		&schemaJSON,
		&stateJSON,
		&rule.Version,
		&rule.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: rule %s", model.ErrNotFound, ruleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule %s: %w", ruleID, err)
	}

	if err := json.Unmarshal(schemaJSON, &rule.StateSchema); err != nil {
		return nil, fmt.Errorf("failed to decode state schema for rule %s: %w", ruleID, err)
	}
	if err := json.Unmarshal(stateJSON, &rule.CurrentState); err != nil {
		return nil, fmt.Errorf("failed to decode current state for rule %s: %w", ruleID, err)
	}

	return &rule, nil
}

// ConditionalUpdateState writes a rule's current_state, conditioned on the
// version the caller read. Returns model.ErrConflict if a concurrent writer
// bumped the version first.
func (db *DB) ConditionalUpdateState(ctx context.Context, ruleID string, expectedVersion int64, newState map[string]any) error {
	stateJSON, err := json.Marshal(newState)
	if err != nil {
		return fmt.Errorf("failed to encode state for rule %s: %w", ruleID, err)
	}

	query := `
		UPDATE rules
		SET current_state = $3, version = version + 1, updated_at = NOW()
		WHERE rule_id = $1 AND version = $2
	`
	result, err := db.conn.ExecContext(ctx, query, ruleID, expectedVersion, stateJSON)
	if err != nil {
		return fmt.Errorf("failed to update state for rule %s: %w", ruleID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: rule %s version %d", model.ErrConflict, ruleID, expectedVersion)
	}

	slog.Debug("Updated rule state", "rule_id", ruleID, "version", expectedVersion+1)
	return nil
}
