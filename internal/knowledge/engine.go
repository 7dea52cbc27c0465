package knowledge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hivemind/internal/logging"
)

// Confidence mechanics for the lifecycle engine.
const (
	// userConfidenceFloor is the minimum confidence granted to a fact the
	// user asserted directly.
	userConfidenceFloor = 0.8

	// Reinforcement boosts applied when the same (entity, fact) is ingested
	// again.
	userReinforceBoost      = 0.20
	assistantReinforceBoost = 0.05

	// verifiedSessionCount promotes a fact to verified once this many
	// distinct sessions have asserted it.
	verifiedSessionCount = 3

	// hallucinationCeiling caps Verify() confidence for facts that are
	// neither user-sourced nor multi-session. A single assistant session can
	// never verify its own output past this.
	hallucinationCeiling = 0.85

	// DefaultVerifyReinforcement is the confidence added by a Verify call
	// when the caller does not supply one.
	DefaultVerifyReinforcement = 0.10

	// verifyStatusThreshold flips status to verified once confidence
	// reaches it.
	verifyStatusThreshold = 0.9

	// Challenge mechanics: a competing fact only applies contradiction
	// pressure above challengeMinConfidence. Established rivals (above
	// disputeConfidenceFloor) are disputed with a small penalty; weaker ones
	// are deprecated outright with a large one.
	challengeMinConfidence = 0.8
	disputeConfidenceFloor = 0.7
	disputePenalty         = 0.1
	deprecatePenalty       = 0.4

	// challengeScanLimit bounds how many rivals one challenge inspects.
	challengeScanLimit = 100

	// DefaultDomainBoost is the per-item confidence increment applied by
	// BoostDomain when the caller does not supply one.
	DefaultDomainBoost = 0.05
)

// Engine owns the confidence/status state machine for knowledge items.
// All confidence values are clamped to [0, 1] before persistence.
type Engine struct {
	store Store
	log   *logging.Logger
	now   func() time.Time
}

// Option configures an Engine, Consolidator, Linker or Gateway.
type Option func(*options)

type options struct {
	now func() time.Time
	log *logging.Logger
}

// WithClock injects the time source, keeping the engine deterministic in tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger injects the observability sink.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.log = l }
}

func applyOptions(category logging.Category, opts []Option) options {
	o := options{now: time.Now, log: logging.Get(category)}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// NewEngine creates a lifecycle engine over the given store.
func NewEngine(store Store, opts ...Option) *Engine {
	o := applyOptions(logging.CategoryKnowledge, opts)
	return &Engine{store: store, log: o.log, now: o.now}
}

// IngestRequest carries one observed fact into the knowledge base.
type IngestRequest struct {
	Entity          string
	Fact            string
	Confidence      float64
	SourceSessionID string
	Tags            []string
	Metadata        Metadata
	Source          Source
}

// Ingest records a fact. If an item with the identical (entity, fact) pair
// already exists the observation reinforces it; otherwise a new item is
// created. Returns the resulting item and whether it was newly created.
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (*Item, bool, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "Engine.Ingest")
	defer timer.Stop()

	if req.Entity == "" || req.Fact == "" {
		return nil, false, fmt.Errorf("ingest requires entity and fact")
	}
	if req.Source == "" {
		req.Source = SourceAssistant
	}

	existing, err := e.store.FindByEntityFact(ctx, req.Entity, req.Fact)
	switch {
	case err == nil:
		item, rerr := e.reinforce(ctx, existing, req)
		return item, false, rerr
	case errors.Is(err, ErrNotFound):
		item, cerr := e.create(ctx, req)
		return item, true, cerr
	default:
		return nil, false, fmt.Errorf("lookup (%s, %s): %w", req.Entity, req.Fact, err)
	}
}

// create builds a fresh item from an ingest request.
func (e *Engine) create(ctx context.Context, req IngestRequest) (*Item, error) {
	now := e.now()

	status := StatusProposed
	confidence := req.Confidence
	if req.Source == SourceUser {
		status = StatusVerified
		if confidence < userConfidenceFloor {
			confidence = userConfidenceFloor
		}
	}
	confidence = clampConfidence(confidence)

	md := req.Metadata.Clone()
	md[metaSource] = string(req.Source)
	md[metaSchemaVersion] = MetadataSchemaVersion
	md.addSession(req.SourceSessionID)

	item := &Item{
		Entity:          req.Entity,
		Fact:            req.Fact,
		Confidence:      confidence,
		Status:          status,
		Tags:            unionTags(nil, req.Tags),
		Metadata:        md,
		SourceSessionID: req.SourceSessionID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	id, err := e.store.InsertItem(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("insert item (%s): %w", req.Entity, err)
	}
	item.ID = id

	e.log.Info("Created knowledge item: entity=%s status=%s confidence=%.2f session=%s",
		item.Entity, item.Status, item.Confidence, item.SourceSessionID)
	return item, nil
}

// reinforce merges a repeated observation into the existing item.
func (e *Engine) reinforce(ctx context.Context, item *Item, req IngestRequest) (*Item, error) {
	item.Tags = unionTags(item.Tags, req.Tags)

	md := item.Metadata.Clone()
	incoming := req.Metadata.Clone()
	incoming[metaSource] = string(req.Source)
	// User provenance is sticky: once a user vouched for the item, a later
	// assistant sighting must not strip the 1.0 verify ceiling.
	if md.GetString(metaSource) == string(SourceUser) {
		incoming[metaSource] = string(SourceUser)
	}
	md.Merge(incoming) // new values win on conflict
	md[metaSchemaVersion] = MetadataSchemaVersion
	md.addSession(req.SourceSessionID)
	item.Metadata = md

	boost := assistantReinforceBoost
	if req.Source == SourceUser {
		boost = userReinforceBoost
	}
	item.Confidence = clampConfidence(item.Confidence + boost)

	if req.Source == SourceUser || md.SessionCount() >= verifiedSessionCount {
		item.Status = StatusVerified
	}

	if req.SourceSessionID != "" {
		item.SourceSessionID = req.SourceSessionID
	}
	item.UpdatedAt = e.now()

	if err := e.store.UpdateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("reinforce item %d (%s): %w", item.ID, item.Entity, err)
	}

	e.log.Info("Reinforced knowledge item %d: entity=%s confidence=%.2f sessions=%d status=%s",
		item.ID, item.Entity, item.Confidence, md.SessionCount(), item.Status)
	return item, nil
}

// Verify applies a verification pass to an item. Confidence rises by
// reinforcement (DefaultVerifyReinforcement when <= 0) but is capped by the
// hallucination guard: items that are neither user-sourced nor multi-session
// can never exceed hallucinationCeiling. Returns ErrNotFound for missing ids.
func (e *Engine) Verify(ctx context.Context, id int64, reinforcement float64) (*Item, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "Engine.Verify")
	defer timer.Stop()

	if reinforcement <= 0 {
		reinforcement = DefaultVerifyReinforcement
	}

	item, err := e.store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	ceiling := hallucinationCeiling
	sessionCount := item.Metadata.SessionCount()
	if item.Metadata.GetString(metaSource) == string(SourceUser) || sessionCount >= verifiedSessionCount {
		ceiling = 1.0
	}

	confidence := item.Confidence + reinforcement
	if confidence > ceiling {
		confidence = ceiling
	}
	item.Confidence = clampConfidence(confidence)

	if item.Confidence >= verifyStatusThreshold || sessionCount >= verifiedSessionCount {
		item.Status = StatusVerified
	}
	item.UpdatedAt = e.now()

	if err := e.store.UpdateItem(ctx, item); err != nil {
		return nil, fmt.Errorf("verify item %d: %w", id, err)
	}

	e.log.Info("Verified item %d: confidence=%.2f ceiling=%.2f status=%s",
		item.ID, item.Confidence, ceiling, item.Status)
	return item, nil
}

// Challenge applies contradiction pressure from a competing fact against
// every existing item for the entity whose fact differs, most confident
// first. Established rivals are demoted to disputed with a small penalty;
// weaker ones are deprecated with a large one. The competing fact is
// sanitized before it appears in any derived text. Challenges below the
// confidence threshold are ignored. Returns the number of demoted items.
func (e *Engine) Challenge(ctx context.Context, entity, competingFact string, confidence float64) (int, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "Engine.Challenge")
	defer timer.Stop()

	sanitized := SanitizeFact(competingFact)
	if confidence <= challengeMinConfidence {
		e.log.Debug("Challenge ignored for entity=%s: confidence %.2f below threshold", entity, confidence)
		return 0, nil
	}

	items, err := e.store.FindByEntity(ctx, entity, challengeScanLimit)
	if err != nil {
		return 0, fmt.Errorf("challenge scan for %s: %w", entity, err)
	}

	demoted := 0
	for i := range items {
		item := &items[i]
		if item.Fact == competingFact || item.Fact == sanitized {
			continue
		}

		md := item.Metadata.Clone()
		if item.Confidence > disputeConfidenceFloor {
			item.Status = StatusDisputed
			item.Confidence = clampConfidence(item.Confidence - disputePenalty)
			md[metaStatusReason] = fmt.Sprintf("disputed by competing fact: %s", sanitized)
		} else {
			item.Status = StatusDeprecated
			item.Confidence = clampConfidence(item.Confidence - deprecatePenalty)
			md[metaStatusReason] = fmt.Sprintf("superseded by: %s", sanitized)
		}
		item.Metadata = md
		item.UpdatedAt = e.now()

		if err := e.store.UpdateItem(ctx, item); err != nil {
			return demoted, fmt.Errorf("demote item %d (%s): %w", item.ID, entity, err)
		}
		demoted++

		e.log.Info("Demoted item %d (entity=%s) to %s, confidence=%.2f",
			item.ID, entity, item.Status, item.Confidence)
	}

	return demoted, nil
}

// BoostDomain bulk-increments confidence for every item tagged with
// domainTag, clamped to 1.0. A non-positive factor falls back to
// DefaultDomainBoost. Returns the number of items affected.
func (e *Engine) BoostDomain(ctx context.Context, domainTag string, factor float64) (int64, error) {
	timer := logging.StartTimer(logging.CategoryKnowledge, "Engine.BoostDomain")
	defer timer.Stop()

	if domainTag == "" {
		return 0, fmt.Errorf("boost requires a domain tag")
	}
	if factor <= 0 {
		factor = DefaultDomainBoost
	}

	affected, err := e.store.BoostByTag(ctx, domainTag, factor)
	if err != nil {
		return 0, fmt.Errorf("boost domain %s: %w", domainTag, err)
	}

	e.log.Info("Boosted domain %s by %.2f: %d items affected", domainTag, factor, affected)
	return affected, nil
}
