package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/refine"
)

// AddReflection records one free-text reflection.
func (s *LocalStore) AddReflection(ctx context.Context, kind, content string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal reflection metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reflections (kind, content, metadata, created_at)
		 VALUES (?, ?, ?, ?)`,
		kind, content, string(metadataJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add reflection (%s): %w", kind, err)
	}
	return nil
}

// ruleTx implements refine.RuleTx over one open transaction.
type ruleTx struct {
	ctx context.Context
	tx  *sql.Tx
}

// InRuleTx runs fn inside one transaction holding the store's write lock, so
// the lock-check-then-insert rule proposal is race-free.
func (s *LocalStore) InRuleTx(ctx context.Context, fn func(refine.RuleTx) error) error {
	timer := logging.StartTimer(logging.CategoryStore, "InRuleTx")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rule transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&ruleTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// LockRuleForTool reads any existing rule for the tool under the
// transaction's lock. Returns (nil, nil) when absent.
func (t *ruleTx) LockRuleForTool(tool string) (*refine.Rule, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT id, tool, target_table, operation, action, metadata, created_at
		 FROM reflection_rules WHERE tool = ? ORDER BY id ASC LIMIT 1`, tool)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock rule for tool %s: %w", tool, err)
	}
	return rule, nil
}

func (t *ruleTx) InsertRule(rule *refine.Rule) error {
	metadata := rule.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal rule metadata: %w", err)
	}

	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO reflection_rules (tool, target_table, operation, action, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rule.Tool, rule.TargetTable, rule.Operation, rule.Action,
		string(metadataJSON), rule.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert rule for tool %s: %w", rule.Tool, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read inserted rule id: %w", err)
	}
	rule.ID = id
	return nil
}

// RulesForTool returns every proposed rule targeting the tool.
func (s *LocalStore) RulesForTool(ctx context.Context, tool string) ([]refine.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tool, target_table, operation, action, metadata, created_at
		 FROM reflection_rules WHERE tool = ? ORDER BY id ASC`, tool)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules for tool %s: %w", tool, err)
	}
	defer rows.Close()

	var rules []refine.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			logging.StoreDebug("Failed to scan rule row: %v", err)
			continue
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func scanRule(row interface{ Scan(...interface{}) error }) (*refine.Rule, error) {
	var (
		rule         refine.Rule
		metadataJSON string
	)
	err := row.Scan(&rule.ID, &rule.Tool, &rule.TargetTable, &rule.Operation,
		&rule.Action, &metadataJSON, &rule.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadataJSON), &rule.Metadata); err != nil {
		logging.StoreDebug("Rule %d has malformed metadata JSON: %v", rule.ID, err)
		rule.Metadata = map[string]interface{}{}
	}
	return &rule, nil
}
