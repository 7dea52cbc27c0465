package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"hivemind/internal/logging"
)

// SupportsSelfOptimize declares the lightweight self-optimization capability.
func (s *LocalStore) SupportsSelfOptimize() bool {
	return true
}

// Optimize runs SQLite's built-in optimization pass, refreshing query planner
// statistics.
func (s *LocalStore) Optimize(ctx context.Context) error {
	timer := logging.StartTimer(logging.CategoryStore, "Optimize")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("failed to optimize database: %w", err)
	}
	return nil
}

// TablesWithoutPrimaryKey lists user tables missing a primary key column.
func (s *LocalStore) TablesWithoutPrimaryKey(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			logging.StoreDebug("Failed to scan table name: %v", err)
			continue
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, table := range tables {
		hasPK, err := s.tableHasPrimaryKey(ctx, table)
		if err != nil {
			logging.StoreDebug("Primary key inspection of %s failed: %v", table, err)
			continue
		}
		if !hasPK {
			missing = append(missing, table)
		}
	}
	return missing, nil
}

func (s *LocalStore) tableHasPrimaryKey(ctx context.Context, table string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name, typ string
			notNull   int
			dflt      interface{}
			pk        int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if pk > 0 {
			return true, nil
		}
	}
	return false, rows.Err()
}

// EnsureMessageIndex creates the composite (session, time) index on the
// message table. Idempotent; returns true only when this call created it.
func (s *LocalStore) EnsureMessageIndex(ctx context.Context) (bool, error) {
	timer := logging.StartTimer(logging.CategoryStore, "EnsureMessageIndex")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	var existing string
	err := s.db.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'index' AND name = 'idx_messages_session_time'`).Scan(&existing)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to inspect message index: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_messages_session_time
		 ON agent_messages(session_id, created_at)`)
	if err != nil {
		return false, fmt.Errorf("failed to create message index: %w", err)
	}
	logging.Store("Created index idx_messages_session_time on agent_messages")
	return true, nil
}

// Audit runs SQLite's integrity check. Healthy means the check returned "ok".
func (s *LocalStore) Audit(ctx context.Context) (bool, string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Audit")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return false, "", fmt.Errorf("failed to run integrity check: %w", err)
	}
	return result == "ok", result, nil
}

// AddMessage appends one session transcript message.
func (s *LocalStore) AddMessage(ctx context.Context, sessionID, role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_messages (session_id, role, content, created_at)
		 VALUES (?, ?, ?, ?)`,
		sessionID, role, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to add message for session %s: %w", sessionID, err)
	}
	return nil
}
