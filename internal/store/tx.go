package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"hivemind/internal/knowledge"
	"hivemind/internal/logging"
)

// lockTx implements knowledge.Tx over one open transaction. With a
// single-connection pool the transaction serializes all other writers, which
// is the pessimistic lock the promotion gateway relies on.
type lockTx struct {
	ctx context.Context
	tx  *sql.Tx
}

// InTx runs fn inside one transaction holding the store's write lock.
func (s *LocalStore) InTx(ctx context.Context, fn func(knowledge.Tx) error) error {
	timer := logging.StartTimer(logging.CategoryStore, "InTx")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&lockTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// LockGlobalItem reads the global-scope item for (entity, fact) under the
// transaction's lock. Returns knowledge.ErrNotFound when absent.
func (t *lockTx) LockGlobalItem(entity, fact string) (*knowledge.Item, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+itemColumns+` FROM knowledge_items
		 WHERE entity = ? AND fact = ?
		   AND (source_session_id IS NULL OR source_session_id = '')
		 ORDER BY id ASC LIMIT 1`,
		entity, fact)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, knowledge.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock global item (%s, %s): %w", entity, fact, err)
	}
	return item, nil
}

func (t *lockTx) InsertItem(item *knowledge.Item) (int64, error) {
	return insertItemExec(t.ctx, t.tx, item)
}

func (t *lockTx) UpdateItem(item *knowledge.Item) error {
	return updateItemExec(t.ctx, t.tx, item)
}
