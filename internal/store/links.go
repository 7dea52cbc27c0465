package store

import (
	"context"
	"encoding/json"
	"fmt"

	"hivemind/internal/knowledge"
	"hivemind/internal/logging"
)

// UpsertLink inserts a link, or refreshes its metadata when a link with the
// same (source, target, relationship) already exists.
func (s *LocalStore) UpsertLink(ctx context.Context, link *knowledge.Link) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	md := link.Metadata
	if md == nil {
		md = knowledge.Metadata{}
	}
	metadataJSON, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("failed to marshal link metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO knowledge_links (source_id, target_id, relationship, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, target_id, relationship)
		 DO UPDATE SET metadata = excluded.metadata`,
		link.SourceID, link.TargetID, link.Relationship,
		string(metadataJSON), link.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert link %d -> %d: %w", link.SourceID, link.TargetID, err)
	}
	return nil
}

// LinksForItem returns every link whose source is the given item.
func (s *LocalStore) LinksForItem(ctx context.Context, sourceID int64) ([]knowledge.Link, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, target_id, relationship, metadata, created_at
		 FROM knowledge_links WHERE source_id = ? ORDER BY id ASC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query links for item %d: %w", sourceID, err)
	}
	defer rows.Close()

	var links []knowledge.Link
	for rows.Next() {
		var (
			link         knowledge.Link
			metadataJSON string
		)
		if err := rows.Scan(&link.ID, &link.SourceID, &link.TargetID,
			&link.Relationship, &metadataJSON, &link.CreatedAt); err != nil {
			logging.StoreDebug("Failed to scan link row: %v", err)
			continue
		}
		if err := json.Unmarshal([]byte(metadataJSON), &link.Metadata); err != nil {
			logging.StoreDebug("Link %d has malformed metadata JSON: %v", link.ID, err)
			link.Metadata = knowledge.Metadata{}
		}
		links = append(links, link)
	}
	return links, rows.Err()
}
