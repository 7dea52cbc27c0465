package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hivemind/internal/knowledge"
	"hivemind/internal/logging"
)

const defaultFindLimit = 100

const itemColumns = `id, entity, fact, confidence, status, tags, metadata,
	COALESCE(source_session_id, ''), created_at, updated_at`

// scanItem reads one knowledge_items row. Malformed tags or metadata JSON is
// logged and replaced with an empty value rather than failing the scan.
func scanItem(row interface{ Scan(...interface{}) error }) (*knowledge.Item, error) {
	var (
		item         knowledge.Item
		tagsJSON     string
		metadataJSON string
		status       string
	)
	err := row.Scan(&item.ID, &item.Entity, &item.Fact, &item.Confidence,
		&status, &tagsJSON, &metadataJSON, &item.SourceSessionID,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.Status = knowledge.Status(status)

	if err := json.Unmarshal([]byte(tagsJSON), &item.Tags); err != nil {
		logging.StoreDebug("Item %d has malformed tags JSON: %v", item.ID, err)
		item.Tags = nil
	}
	if err := json.Unmarshal([]byte(metadataJSON), &item.Metadata); err != nil {
		logging.StoreDebug("Item %d has malformed metadata JSON: %v", item.ID, err)
		item.Metadata = knowledge.Metadata{}
	}
	return &item, nil
}

func marshalItemFields(item *knowledge.Item) (tagsJSON, metadataJSON string, err error) {
	tags := item.Tags
	if tags == nil {
		tags = []string{}
	}
	tb, err := json.Marshal(tags)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal tags: %w", err)
	}
	md := item.Metadata
	if md == nil {
		md = knowledge.Metadata{}
	}
	mb, err := json.Marshal(md)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return string(tb), string(mb), nil
}

// GetItem fetches a single item by id.
func (s *LocalStore) GetItem(ctx context.Context, id int64) (*knowledge.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM knowledge_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, knowledge.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %d: %w", id, err)
	}
	return item, nil
}

// FindByEntity returns items for an entity, most confident first.
func (s *LocalStore) FindByEntity(ctx context.Context, entity string, limit int) ([]knowledge.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = defaultFindLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM knowledge_items
		 WHERE entity = ? ORDER BY confidence DESC, id ASC LIMIT ?`,
		entity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query items for entity %s: %w", entity, err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// FindByEntityFact returns the item with the exact (entity, fact) pair.
func (s *LocalStore) FindByEntityFact(ctx context.Context, entity, fact string) (*knowledge.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM knowledge_items
		 WHERE entity = ? AND fact = ? ORDER BY id ASC LIMIT 1`,
		entity, fact)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, knowledge.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item (%s, %s): %w", entity, fact, err)
	}
	return item, nil
}

// RecentItems returns up to limit items by most recent update, filtered to
// confidence > minConfidence and excluding excludeID.
func (s *LocalStore) RecentItems(ctx context.Context, limit int, minConfidence float64, excludeID int64) ([]knowledge.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = defaultFindLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM knowledge_items
		 WHERE confidence > ? AND id != ?
		 ORDER BY updated_at DESC, id DESC LIMIT ?`,
		minConfidence, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// InsertItem persists a new item and returns its assigned id.
func (s *LocalStore) InsertItem(ctx context.Context, item *knowledge.Item) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertItemExec(ctx, s.db, item)
}

// UpdateItem persists changes to an existing item.
func (s *LocalStore) UpdateItem(ctx context.Context, item *knowledge.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateItemExec(ctx, s.db, item)
}

// DuplicateEntities returns entities owning more than one item, largest
// groups first.
func (s *LocalStore) DuplicateEntities(ctx context.Context, limit int) ([]string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "DuplicateEntities")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = defaultFindLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT entity FROM knowledge_items
		 GROUP BY entity HAVING COUNT(*) > 1
		 ORDER BY COUNT(*) DESC, entity ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicate entities: %w", err)
	}
	defer rows.Close()

	var entities []string
	for rows.Next() {
		var entity string
		if err := rows.Scan(&entity); err != nil {
			logging.StoreDebug("Failed to scan duplicate entity row: %v", err)
			continue
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// MergeItems applies the merged primary and deletes the secondary inside one
// transaction, so a crash never leaves both or neither.
func (s *LocalStore) MergeItems(ctx context.Context, primary *knowledge.Item, secondaryID int64) error {
	timer := logging.StartTimer(logging.CategoryStore, "MergeItems")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin merge transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateItemExec(ctx, tx, primary); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM knowledge_links WHERE source_id = ? OR target_id = ?`,
		secondaryID, secondaryID); err != nil {
		return fmt.Errorf("failed to delete links of item %d: %w", secondaryID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM knowledge_items WHERE id = ?`, secondaryID); err != nil {
		return fmt.Errorf("failed to delete merged item %d: %w", secondaryID, err)
	}

	return tx.Commit()
}

// BoostByTag bulk-increments confidence for every item carrying the tag with
// headroom left, clamped to 1.0. Tags are stored as a JSON array so membership
// is a quoted-substring match.
func (s *LocalStore) BoostByTag(ctx context.Context, tag string, factor float64) (int64, error) {
	timer := logging.StartTimer(logging.CategoryStore, "BoostByTag")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_items
		 SET confidence = MIN(1.0, confidence + ?), updated_at = ?
		 WHERE tags LIKE ? AND confidence < 1.0`,
		factor, time.Now().UTC(), `%"`+tag+`"%`)
	if err != nil {
		return 0, fmt.Errorf("failed to boost tag %s: %w", tag, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count boosted rows: %w", err)
	}
	return affected, nil
}

// execer abstracts *sql.DB and *sql.Tx for shared item writes.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertItemExec(ctx context.Context, db execer, item *knowledge.Item) (int64, error) {
	tagsJSON, metadataJSON, err := marshalItemFields(item)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx,
		`INSERT INTO knowledge_items
		 (entity, fact, confidence, status, tags, metadata, source_session_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Entity, item.Fact, item.Confidence, string(item.Status),
		tagsJSON, metadataJSON, item.SourceSessionID,
		item.CreatedAt.UTC(), item.UpdatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert item (%s): %w", item.Entity, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted item id: %w", err)
	}
	return id, nil
}

func updateItemExec(ctx context.Context, db execer, item *knowledge.Item) error {
	tagsJSON, metadataJSON, err := marshalItemFields(item)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		`UPDATE knowledge_items
		 SET entity = ?, fact = ?, confidence = ?, status = ?, tags = ?,
		     metadata = ?, source_session_id = ?, updated_at = ?
		 WHERE id = ?`,
		item.Entity, item.Fact, item.Confidence, string(item.Status),
		tagsJSON, metadataJSON, item.SourceSessionID, item.UpdatedAt.UTC(),
		item.ID)
	if err != nil {
		return fmt.Errorf("failed to update item %d: %w", item.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count updated rows: %w", err)
	}
	if affected == 0 {
		return knowledge.ErrNotFound
	}
	return nil
}

func collectItems(rows *sql.Rows) ([]knowledge.Item, error) {
	var items []knowledge.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			logging.StoreDebug("Failed to scan item row: %v", err)
			continue
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
