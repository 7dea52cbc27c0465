package knowledge

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"hivemind/internal/logging"
	"hivemind/internal/similarity"
)

const (
	// Semantic pass bounds: scan the semanticScanLimit most recently updated
	// items with confidence above semanticMinConfidence and link every pair
	// scoring above semanticLinkThreshold.
	semanticScanLimit     = 50
	semanticMinConfidence = 0.4
	semanticLinkThreshold = 0.75

	// structuralMatchLimit bounds how many items one extracted candidate can
	// link to.
	structuralMatchLimit = 10
)

// Candidate extraction patterns: capitalized multi-word phrases, quoted
// phrases, and camelCase identifiers are the shapes that tend to name other
// entities inside fact text.
var (
	capitalizedPhraseRe = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`)
	quotedPhraseRe      = regexp.MustCompile(`"([^"]{2,64})"`)
	camelCaseRe         = regexp.MustCompile(`\b[a-z]+(?:[A-Z][a-z0-9]*)+\b`)
)

// Linker discovers and persists typed links between knowledge items. It is
// the only component that writes links.
type Linker struct {
	store  Store
	scorer *similarity.Scorer
	log    *logging.Logger
	now    func() time.Time
}

// NewLinker creates a relationship builder over the given store.
func NewLinker(store Store, scorer *similarity.Scorer, opts ...Option) *Linker {
	o := applyOptions(logging.CategoryLinks, opts)
	if scorer == nil {
		scorer = similarity.NewScorer()
	}
	return &Linker{store: store, scorer: scorer, log: o.log, now: o.now}
}

// AutoLink runs both discovery passes for one item: a structural pass that
// links to entities the fact text mentions, and a semantic pass that links to
// recently updated items whose facts score as related. Returns the number of
// links persisted or refreshed.
func (l *Linker) AutoLink(ctx context.Context, item *Item) (int, error) {
	timer := logging.StartTimer(logging.CategoryLinks, "Linker.AutoLink")
	defer timer.Stop()

	if item == nil || item.ID == 0 {
		return 0, fmt.Errorf("autolink requires a persisted item")
	}

	linked := 0

	// Pass 1: structural mentions.
	for _, candidate := range ExtractEntityCandidates(item.Fact) {
		if candidate == item.Entity {
			continue
		}
		matches, err := l.store.FindByEntity(ctx, candidate, structuralMatchLimit)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return linked, fmt.Errorf("structural lookup %q: %w", candidate, err)
		}
		for i := range matches {
			md := Metadata{
				"auto":   true,
				"source": "structural_extraction",
			}
			if err := l.Link(ctx, item.ID, matches[i].ID, RelMentions, md); err != nil {
				return linked, err
			}
			linked++
			l.log.Debug("Structural link: item %d mentions %d (entity=%s)",
				item.ID, matches[i].ID, candidate)
		}
	}

	// Pass 2: semantic relatedness.
	recent, err := l.store.RecentItems(ctx, semanticScanLimit, semanticMinConfidence, item.ID)
	if err != nil {
		return linked, fmt.Errorf("semantic scan: %w", err)
	}
	for i := range recent {
		score := l.scorer.Score(item.Fact, recent[i].Fact)
		if score <= semanticLinkThreshold {
			continue
		}
		md := Metadata{
			"similarity":      score,
			metaSchemaVersion: MetadataSchemaVersion,
		}
		if err := l.Link(ctx, item.ID, recent[i].ID, RelSemantic, md); err != nil {
			return linked, err
		}
		linked++
		l.log.Debug("Semantic link: item %d ~ %d (score=%.3f)", item.ID, recent[i].ID, score)
	}

	return linked, nil
}

// Link persists one typed link. Self-links are a silent no-op. When a link
// with the same (source, target, relationship) already exists its metadata is
// updated instead of duplicating the row, so repeated calls are idempotent.
func (l *Linker) Link(ctx context.Context, sourceID, targetID int64, relationship string, md Metadata) error {
	if sourceID == targetID {
		return nil
	}
	link := &Link{
		SourceID:     sourceID,
		TargetID:     targetID,
		Relationship: relationship,
		Metadata:     md,
		CreatedAt:    l.now(),
	}
	if err := l.store.UpsertLink(ctx, link); err != nil {
		return fmt.Errorf("link %d -> %d (%s): %w", sourceID, targetID, relationship, err)
	}
	return nil
}

// ExtractEntityCandidates pulls entity-like phrases out of fact text:
// capitalized multi-word phrases, quoted phrases, and camelCase tokens.
// Results are deduplicated, order of first appearance.
func ExtractEntityCandidates(fact string) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(c string) {
		c = strings.TrimSpace(c)
		if len(c) < 3 || seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}

	for _, m := range capitalizedPhraseRe.FindAllString(fact, -1) {
		add(m)
	}
	for _, m := range quotedPhraseRe.FindAllStringSubmatch(fact, -1) {
		add(m[1])
	}
	for _, m := range camelCaseRe.FindAllString(fact, -1) {
		add(m)
	}

	return out
}
