package knowledge

import (
	"context"
	"fmt"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/similarity"
)

const (
	// mergeThreshold is the similarity score above which two facts for the
	// same entity are considered the same idea.
	mergeThreshold = 0.85

	// Bounds keeping a consolidation pass predictable under load: at most
	// maxEntityGroups entity groups per run, at most maxGroupItems items per
	// group (so worst-case comparisons per group stay O(maxGroupItems^2)).
	maxEntityGroups = 500
	maxGroupItems   = 100
)

// Metadata keys recording merge provenance on the surviving item.
const (
	metaConsolidatedFrom = "consolidated_from"
	metaConsolidatedAt   = "consolidated_at"
)

// Consolidator finds and merges near-duplicate items per entity. Each merge
// runs in its own atomic transaction; a failed merge is logged and the pass
// continues with the next pair.
type Consolidator struct {
	store  Store
	scorer *similarity.Scorer
	log    *logging.Logger
	now    func() time.Time
}

// NewConsolidator creates a consolidation pass over the given store.
func NewConsolidator(store Store, scorer *similarity.Scorer, opts ...Option) *Consolidator {
	o := applyOptions(logging.CategoryConsolidate, opts)
	if scorer == nil {
		scorer = similarity.NewScorer()
	}
	return &Consolidator{store: store, scorer: scorer, log: o.log, now: o.now}
}

// Consolidate runs one bounded consolidation pass and returns the number of
// merges performed.
func (c *Consolidator) Consolidate(ctx context.Context) (int, error) {
	timer := logging.StartTimer(logging.CategoryConsolidate, "Consolidator.Consolidate")
	defer timer.StopWithInfo()

	entities, err := c.store.DuplicateEntities(ctx, maxEntityGroups)
	if err != nil {
		return 0, fmt.Errorf("list duplicate entities: %w", err)
	}

	c.log.Info("Consolidation pass: %d entity groups with duplicates", len(entities))

	merged := 0
	for _, entity := range entities {
		n, err := c.consolidateEntity(ctx, entity)
		if err != nil {
			// Log-and-continue: one entity group's failure must not abort the pass.
			c.log.Error("Consolidation failed for entity=%s: %v", entity, err)
			continue
		}
		merged += n
	}

	c.log.Info("Consolidation pass complete: %d merges", merged)
	return merged, nil
}

// consolidateEntity merges near-duplicates within one entity group.
func (c *Consolidator) consolidateEntity(ctx context.Context, entity string) (int, error) {
	items, err := c.store.FindByEntity(ctx, entity, maxGroupItems)
	if err != nil {
		return 0, fmt.Errorf("load group %s: %w", entity, err)
	}
	if len(items) < 2 {
		return 0, nil
	}

	mergedAway := make(map[int64]bool)
	merged := 0

	for i := range items {
		if mergedAway[items[i].ID] {
			continue
		}
		primary := &items[i]
		for j := i + 1; j < len(items); j++ {
			if mergedAway[items[j].ID] {
				continue
			}
			secondary := &items[j]

			score := c.scorer.Score(primary.Fact, secondary.Fact)
			if score <= mergeThreshold {
				continue
			}

			c.mergePair(primary, secondary)

			if err := c.store.MergeItems(ctx, primary, secondary.ID); err != nil {
				c.log.Error("Merge of item %d into %d (entity=%s) failed: %v",
					secondary.ID, primary.ID, entity, err)
				continue
			}

			mergedAway[secondary.ID] = true
			merged++
			c.log.Debug("Merged item %d into %d (entity=%s, similarity=%.3f)",
				secondary.ID, primary.ID, entity, score)
		}
	}

	return merged, nil
}

// mergePair folds the secondary item into the primary in memory: tags union,
// metadata union with the primary winning conflicts, confidence = max of the
// two, plus merge provenance markers.
func (c *Consolidator) mergePair(primary, secondary *Item) {
	primary.Tags = unionTags(primary.Tags, secondary.Tags)

	md := secondary.Metadata.Clone()
	md.Merge(primary.Metadata)
	md[metaConsolidatedFrom] = secondary.ID
	md[metaConsolidatedAt] = c.now().UTC().Format(time.RFC3339)
	md[metaSchemaVersion] = MetadataSchemaVersion
	primary.Metadata = md

	if secondary.Confidence > primary.Confidence {
		primary.Confidence = clampConfidence(secondary.Confidence)
	}
	primary.UpdatedAt = c.now()
}
