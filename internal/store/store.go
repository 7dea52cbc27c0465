// Package store implements hivemind persistence over SQLite. One LocalStore
// backs every subsystem: knowledge items and links, the action/outcome log,
// operational metrics, reflections and refinement rules, and the
// agent_messages table the evolutionary controller may index.
//
// Concurrency model: the connection pool is capped at a single connection and
// every multi-step mutation runs inside one transaction, so a transaction is
// also the pessimistic write lock. WAL mode plus a busy timeout keeps
// concurrent callers queued instead of failing.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"hivemind/internal/logging"

	_ "modernc.org/sqlite"
)

// LocalStore is the SQLite-backed store shared by all hivemind components.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewLocalStore initializes the SQLite database at the given path.
func NewLocalStore(path string) (*LocalStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewLocalStore")
	defer timer.Stop()

	logging.Store("Initializing LocalStore at path: %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.StoreError("Failed to create directory %s: %v", dir, err)
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		logging.StoreError("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Single-writer pool: serializes every statement, which is what makes a
	// transaction equivalent to a row lock here.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	store := &LocalStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		logging.StoreError("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}

	logging.Store("LocalStore initialization complete")
	return store, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	itemsTable := `
	CREATE TABLE IF NOT EXISTS knowledge_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		entity TEXT NOT NULL,
		fact TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 0.5,
		status TEXT NOT NULL DEFAULT 'proposed',
		tags TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		source_session_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_items_entity ON knowledge_items(entity);
	CREATE INDEX IF NOT EXISTS idx_items_entity_fact ON knowledge_items(entity, fact);
	CREATE INDEX IF NOT EXISTS idx_items_confidence ON knowledge_items(confidence);
	CREATE INDEX IF NOT EXISTS idx_items_updated ON knowledge_items(updated_at);
	`

	linksTable := `
	CREATE TABLE IF NOT EXISTS knowledge_links (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL,
		target_id INTEGER NOT NULL,
		relationship TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(source_id, target_id, relationship)
	);
	CREATE INDEX IF NOT EXISTS idx_links_source ON knowledge_links(source_id);
	CREATE INDEX IF NOT EXISTS idx_links_target ON knowledge_links(target_id);
	`

	actionsTable := `
	CREATE TABLE IF NOT EXISTS agent_actions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tool TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT DEFAULT '',
		persona TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_actions_tool ON agent_actions(tool);
	CREATE INDEX IF NOT EXISTS idx_actions_created ON agent_actions(created_at);
	`

	metricsTable := `
	CREATE TABLE IF NOT EXISTS agent_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		value REAL NOT NULL,
		persona TEXT DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_metrics_name ON agent_metrics(name);
	CREATE INDEX IF NOT EXISTS idx_metrics_persona ON agent_metrics(persona);
	CREATE INDEX IF NOT EXISTS idx_metrics_created ON agent_metrics(created_at);
	`

	reflectionsTable := `
	CREATE TABLE IF NOT EXISTS reflections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_reflections_kind ON reflections(kind);
	`

	rulesTable := `
	CREATE TABLE IF NOT EXISTS reflection_rules (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tool TEXT NOT NULL,
		target_table TEXT NOT NULL,
		operation TEXT NOT NULL,
		action TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_rules_tool ON reflection_rules(tool);
	`

	// High-traffic session transcript table. The (session, time) composite
	// index is created by the evolutionary controller when latency warrants
	// it, not here.
	messagesTable := `
	CREATE TABLE IF NOT EXISTS agent_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		role TEXT DEFAULT '',
		content TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	for _, table := range []string{
		itemsTable,
		linksTable,
		actionsTable,
		metricsTable,
		reflectionsTable,
		rulesTable,
		messagesTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *LocalStore) Close() error {
	logging.Store("Closing LocalStore database connection")
	return s.db.Close()
}

// GetDB returns the underlying SQL database connection.
func (s *LocalStore) GetDB() *sql.DB {
	return s.db
}

// GetStats returns row counts per table.
func (s *LocalStore) GetStats() (map[string]int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "GetStats")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{
		"knowledge_items", "knowledge_links", "agent_actions",
		"agent_metrics", "reflections", "reflection_rules", "agent_messages",
	}

	for _, table := range tables {
		var count int64
		err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			logging.StoreDebug("Table %s count failed (may not exist): %v", table, err)
			continue
		}
		stats[table] = count
	}

	return stats, nil
}
