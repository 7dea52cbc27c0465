package store

import (
	"context"
	"fmt"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/refine"
)

// RecordAction appends one entry to the action/outcome log.
func (s *LocalStore) RecordAction(ctx context.Context, tool, status, errText, persona string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_actions (tool, status, error, persona, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		tool, status, errText, persona, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record action for tool %s: %w", tool, err)
	}
	return nil
}

// ActionsSince returns all actions recorded at or after since, oldest first.
func (s *LocalStore) ActionsSince(ctx context.Context, since time.Time) ([]refine.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tool, status, error, persona, created_at
		 FROM agent_actions WHERE created_at >= ? ORDER BY created_at ASC, id ASC`,
		since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query actions since %s: %w", since.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var actions []refine.Action
	for rows.Next() {
		var a refine.Action
		if err := rows.Scan(&a.ID, &a.Tool, &a.Status, &a.Error, &a.Persona, &a.CreatedAt); err != nil {
			logging.StoreDebug("Failed to scan action row: %v", err)
			continue
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// FailureCounts returns per-tool failure counts. An empty persona counts
// failures across all personas.
func (s *LocalStore) FailureCounts(ctx context.Context, persona string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT tool, COUNT(*) FROM agent_actions WHERE status = 'failure'`
	args := []interface{}{}
	if persona != "" {
		query += ` AND persona = ?`
		args = append(args, persona)
	}
	query += ` GROUP BY tool`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query failure counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			tool string
			n    int
		)
		if err := rows.Scan(&tool, &n); err != nil {
			logging.StoreDebug("Failed to scan failure count row: %v", err)
			continue
		}
		counts[tool] = n
	}
	return counts, rows.Err()
}
