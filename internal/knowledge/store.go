package knowledge

import "context"

// Store is the persistence surface the knowledge components require. The
// SQLite implementation lives in internal/store; tests may substitute mocks.
//
// Absence contract: GetItem and FindByEntityFact return ErrNotFound when no
// row matches. Scan methods return empty slices, never ErrNotFound.
type Store interface {
	// GetItem fetches a single item by id.
	GetItem(ctx context.Context, id int64) (*Item, error)

	// FindByEntity returns items for an entity ordered by descending
	// confidence, bounded by limit (limit <= 0 means the store default).
	FindByEntity(ctx context.Context, entity string, limit int) ([]Item, error)

	// FindByEntityFact returns the item with the exact (entity, fact) pair,
	// regardless of scope.
	FindByEntityFact(ctx context.Context, entity, fact string) (*Item, error)

	// RecentItems returns up to limit items ordered by most recent update,
	// filtered to confidence > minConfidence and excluding excludeID.
	RecentItems(ctx context.Context, limit int, minConfidence float64, excludeID int64) ([]Item, error)

	// InsertItem persists a new item and returns its assigned id.
	InsertItem(ctx context.Context, item *Item) (int64, error)

	// UpdateItem persists changes to an existing item.
	UpdateItem(ctx context.Context, item *Item) error

	// DuplicateEntities returns entities owning more than one item, bounded
	// by limit, largest groups first.
	DuplicateEntities(ctx context.Context, limit int) ([]string, error)

	// MergeItems applies the merged primary and deletes the secondary inside
	// one atomic transaction.
	MergeItems(ctx context.Context, primary *Item, secondaryID int64) error

	// BoostByTag bulk-increments confidence by factor (clamped to 1.0) for
	// every item carrying the tag with confidence < 1.0. Returns the number
	// of rows affected.
	BoostByTag(ctx context.Context, tag string, factor float64) (int64, error)

	// UpsertLink inserts a link, or updates its metadata when a link with the
	// same (source, target, relationship) already exists.
	UpsertLink(ctx context.Context, link *Link) error

	// InTx runs fn inside one atomic transaction holding the store's write
	// lock, so a lock-read followed by insert-or-update is race-free across
	// concurrent callers.
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the transactional surface handed to InTx callbacks. The write lock is
// held for the duration of the callback.
type Tx interface {
	// LockGlobalItem reads the global-scope item for (entity, fact) under the
	// transaction's lock. Returns ErrNotFound when absent.
	LockGlobalItem(entity, fact string) (*Item, error)

	InsertItem(item *Item) (int64, error)
	UpdateItem(item *Item) error
}
