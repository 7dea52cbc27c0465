package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hivemind/internal/logging"
)

const (
	// HiveMindTag marks items living in the promoted, cross-session scope.
	HiveMindTag = "hive_mind"

	// promotedConfidenceCap bounds reinforcement applied when a second
	// session promotes an already-global fact; promotion alone never yields
	// full certainty.
	promotedConfidenceCap  = 0.99
	promotedReinforceBoost = 0.01
)

// Metadata keys recording promotion provenance.
const (
	metaPromotedFrom = "promoted_from"
	metaPromotedAt   = "promoted_at"
)

// Gateway moves session-scoped knowledge into the global scope. The whole
// decision runs inside one transaction holding the store's write lock, so N
// concurrent promotions of the same (entity, fact) produce exactly one
// global insert; the rest reinforce it.
type Gateway struct {
	store Store
	log   *logging.Logger
	now   func() time.Time
}

// NewGateway creates a promotion gateway over the given store.
func NewGateway(store Store, opts ...Option) *Gateway {
	o := applyOptions(logging.CategoryPromote, opts)
	return &Gateway{store: store, log: o.log, now: o.now}
}

// Promote copies a session item into the global scope. Returns true when a
// new global item was created, false when an existing one was reinforced.
func (g *Gateway) Promote(ctx context.Context, item *Item) (bool, error) {
	timer := logging.StartTimer(logging.CategoryPromote, "Gateway.Promote")
	defer timer.Stop()

	if item == nil || item.Entity == "" || item.Fact == "" {
		return false, fmt.Errorf("promote requires an item with entity and fact")
	}

	created := false
	err := g.store.InTx(ctx, func(tx Tx) error {
		existing, err := tx.LockGlobalItem(item.Entity, item.Fact)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("lock global (%s, %s): %w", item.Entity, item.Fact, err)
		}

		if existing != nil {
			confidence := existing.Confidence
			if item.Confidence > confidence {
				confidence = item.Confidence
			}
			confidence += promotedReinforceBoost
			if confidence > promotedConfidenceCap {
				confidence = promotedConfidenceCap
			}
			existing.Confidence = clampConfidence(confidence)
			existing.UpdatedAt = g.now()
			if err := tx.UpdateItem(existing); err != nil {
				return fmt.Errorf("reinforce global item %d: %w", existing.ID, err)
			}
			return nil
		}

		now := g.now()
		md := item.Metadata.Clone()
		md[metaPromotedFrom] = item.SourceSessionID
		md[metaPromotedAt] = now.UTC().Format(time.RFC3339)
		md[metaSchemaVersion] = MetadataSchemaVersion

		global := &Item{
			Entity:          item.Entity,
			Fact:            item.Fact,
			Confidence:      clampConfidence(item.Confidence),
			Status:          item.Status,
			Tags:            unionTags(item.Tags, []string{HiveMindTag}),
			Metadata:        md,
			SourceSessionID: "", // global scope
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if _, err := tx.InsertItem(global); err != nil {
			return fmt.Errorf("insert global item (%s): %w", item.Entity, err)
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if created {
		g.log.Info("Promoted (%s, %q) to global scope from session=%s",
			item.Entity, truncateFact(item.Fact), item.SourceSessionID)
	} else {
		g.log.Debug("Global item for (%s, %q) already existed; reinforced",
			item.Entity, truncateFact(item.Fact))
	}
	return created, nil
}

func truncateFact(s string) string {
	if len(s) <= 60 {
		return s
	}
	return s[:60] + "..."
}
