package knowledge_test

import (
	"context"
	"sync"
	"testing"

	"hivemind/internal/knowledge"
)

func TestPromoteCreatesGlobalItem(t *testing.T) {
	s := newTestStore(t)
	engine := knowledge.NewEngine(s)
	ctx := context.Background()

	item, _, err := engine.Ingest(ctx, knowledge.IngestRequest{
		Entity: "Paris", Fact: "is the capital of France",
		Confidence: 0.9, SourceSessionID: "s1", Source: knowledge.SourceAssistant,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	gateway := knowledge.NewGateway(s)
	created, err := gateway.Promote(ctx, item)
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if !created {
		t.Fatal("Promote() created = false, want true on first promotion")
	}

	items, err := s.FindByEntity(ctx, "Paris", 10)
	if err != nil {
		t.Fatalf("FindByEntity() error = %v", err)
	}
	var global *knowledge.Item
	for i := range items {
		if items[i].IsGlobal() {
			global = &items[i]
		}
	}
	if global == nil {
		t.Fatal("no global item after promotion")
	}

	hasTag := false
	for _, tag := range global.Tags {
		if tag == knowledge.HiveMindTag {
			hasTag = true
		}
	}
	if !hasTag {
		t.Errorf("global tags = %v, want %s", global.Tags, knowledge.HiveMindTag)
	}
	if global.Metadata.GetString("promoted_from") != "s1" {
		t.Errorf("promoted_from = %q, want s1", global.Metadata.GetString("promoted_from"))
	}
}

func TestPromoteReinforcesExistingGlobal(t *testing.T) {
	s := newTestStore(t)
	engine := knowledge.NewEngine(s)
	ctx := context.Background()
	gateway := knowledge.NewGateway(s)

	item, _, err := engine.Ingest(ctx, knowledge.IngestRequest{
		Entity: "Paris", Fact: "is the capital of France",
		Confidence: 0.9, SourceSessionID: "s1", Source: knowledge.SourceAssistant,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if _, err := gateway.Promote(ctx, item); err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	created, err := gateway.Promote(ctx, item)
	if err != nil {
		t.Fatalf("Promote() error = %v", err)
	}
	if created {
		t.Fatal("Promote() created = true on second promotion, want reinforcement")
	}

	items, err := s.FindByEntity(ctx, "Paris", 10)
	if err != nil {
		t.Fatalf("FindByEntity() error = %v", err)
	}
	globals := 0
	for i := range items {
		if items[i].IsGlobal() {
			globals++
			// max(0.9, 0.9) + 0.01
			if items[i].Confidence < 0.905 || items[i].Confidence > 0.915 {
				t.Errorf("global confidence = %.3f, want 0.91", items[i].Confidence)
			}
		}
	}
	if globals != 1 {
		t.Errorf("global items = %d, want exactly 1", globals)
	}
}

func TestPromoteConfidenceCap(t *testing.T) {
	s := newTestStore(t)
	engine := knowledge.NewEngine(s)
	ctx := context.Background()
	gateway := knowledge.NewGateway(s)

	item, _, err := engine.Ingest(ctx, knowledge.IngestRequest{
		Entity: "Paris", Fact: "is the capital of France",
		Confidence: 1.0, SourceSessionID: "s1", Source: knowledge.SourceUser,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := gateway.Promote(ctx, item); err != nil {
			t.Fatalf("Promote() #%d error = %v", i, err)
		}
	}

	items, err := s.FindByEntity(ctx, "Paris", 10)
	if err != nil {
		t.Fatalf("FindByEntity() error = %v", err)
	}
	for i := range items {
		if items[i].IsGlobal() && items[i].Confidence > 0.99 {
			t.Errorf("global confidence = %.3f, want capped at 0.99", items[i].Confidence)
		}
	}
}

func TestPromoteConcurrentExactlyOneInsert(t *testing.T) {
	s := newTestStore(t)
	engine := knowledge.NewEngine(s)
	ctx := context.Background()
	gateway := knowledge.NewGateway(s)

	const sessions = 8
	items := make([]*knowledge.Item, sessions)
	for i := 0; i < sessions; i++ {
		item, _, err := engine.Ingest(ctx, knowledge.IngestRequest{
			Entity: "Paris", Fact: "is the capital of France",
			Confidence: 0.9, SourceSessionID: "s1", Source: knowledge.SourceAssistant,
		})
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		items[i] = item
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		creates int
	)
	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func(item *knowledge.Item) {
			defer wg.Done()
			created, err := gateway.Promote(ctx, item)
			if err != nil {
				t.Errorf("Promote() error = %v", err)
				return
			}
			if created {
				mu.Lock()
				creates++
				mu.Unlock()
			}
		}(items[i])
	}
	wg.Wait()

	if creates != 1 {
		t.Errorf("concurrent promotions created %d global items, want exactly 1", creates)
	}

	all, err := s.FindByEntity(ctx, "Paris", 50)
	if err != nil {
		t.Fatalf("FindByEntity() error = %v", err)
	}
	globals := 0
	for i := range all {
		if all[i].IsGlobal() {
			globals++
		}
	}
	if globals != 1 {
		t.Errorf("stored global items = %d, want exactly 1", globals)
	}
}
