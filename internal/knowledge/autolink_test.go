package knowledge_test

import (
	"context"
	"testing"

	"hivemind/internal/knowledge"
	"hivemind/internal/similarity"
)

func TestLinkIdempotent(t *testing.T) {
	s := newTestStore(t)
	engine := knowledge.NewEngine(s)
	ctx := context.Background()

	a, _, err := engine.Ingest(ctx, knowledge.IngestRequest{
		Entity: "a", Fact: "fact a", Confidence: 0.5,
		SourceSessionID: "s1", Source: knowledge.SourceAssistant,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	b, _, err := engine.Ingest(ctx, knowledge.IngestRequest{
		Entity: "b", Fact: "fact b", Confidence: 0.5,
		SourceSessionID: "s1", Source: knowledge.SourceAssistant,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	linker := knowledge.NewLinker(s, similarity.NewScorer())
	for i := 0; i < 2; i++ {
		md := knowledge.Metadata{"pass": i}
		if err := linker.Link(ctx, a.ID, b.ID, knowledge.RelMentions, md); err != nil {
			t.Fatalf("Link() #%d error = %v", i, err)
		}
	}

	links, err := s.LinksForItem(ctx, a.ID)
	if err != nil {
		t.Fatalf("LinksForItem() error = %v", err)
	}
	if len(links) != 1 {
		t.Fatalf("links = %d, want exactly 1 after repeated calls", len(links))
	}
	// Re-discovery refreshes metadata instead of duplicating.
	if got := links[0].Metadata.GetInt("pass"); got != 1 {
		t.Errorf("link metadata pass = %d, want 1", got)
	}
}

func TestLinkSelfIsNoOp(t *testing.T) {
	s := newTestStore(t)
	engine := knowledge.NewEngine(s)
	ctx := context.Background()

	a, _, err := engine.Ingest(ctx, knowledge.IngestRequest{
		Entity: "a", Fact: "fact a", Confidence: 0.5,
		SourceSessionID: "s1", Source: knowledge.SourceAssistant,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	linker := knowledge.NewLinker(s, nil)
	if err := linker.Link(ctx, a.ID, a.ID, knowledge.RelMentions, nil); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	links, err := s.LinksForItem(ctx, a.ID)
	if err != nil {
		t.Fatalf("LinksForItem() error = %v", err)
	}
	if len(links) != 0 {
		t.Errorf("links = %d, want no self-links", len(links))
	}
}

func TestAutoLinkStructuralMentions(t *testing.T) {
	s := newTestStore(t)
	engine := knowledge.NewEngine(s)
	ctx := context.Background()

	_, _, err := engine.Ingest(ctx, knowledge.IngestRequest{
		Entity: "Eiffel Tower", Fact: "stands on the Champ de Mars",
		Confidence: 0.7, SourceSessionID: "s1", Source: knowledge.SourceAssistant,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	item, _, err := engine.Ingest(ctx, knowledge.IngestRequest{
		Entity: "Paris", Fact: "the Eiffel Tower dominates its skyline",
		Confidence: 0.7, SourceSessionID: "s1", Source: knowledge.SourceAssistant,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	linker := knowledge.NewLinker(s, similarity.NewScorer())
	n, err := linker.AutoLink(ctx, item)
	if err != nil {
		t.Fatalf("AutoLink() error = %v", err)
	}
	if n == 0 {
		t.Fatal("AutoLink() = 0 links, want a structural mention")
	}

	links, err := s.LinksForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("LinksForItem() error = %v", err)
	}
	foundMention := false
	for _, link := range links {
		if link.Relationship == knowledge.RelMentions {
			foundMention = true
			if link.Metadata.GetString("source") != "structural_extraction" {
				t.Errorf("mention metadata source = %q, want structural_extraction",
					link.Metadata.GetString("source"))
			}
		}
	}
	if !foundMention {
		t.Errorf("links = %v, want a mentions link", links)
	}
}

func TestAutoLinkSemanticRelatedness(t *testing.T) {
	s := newTestStore(t)
	engine := knowledge.NewEngine(s)
	ctx := context.Background()

	_, _, err := engine.Ingest(ctx, knowledge.IngestRequest{
		Entity: "postgres", Fact: "the database listens on port 5432 by default",
		Confidence: 0.7, SourceSessionID: "s1", Source: knowledge.SourceAssistant,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	item, _, err := engine.Ingest(ctx, knowledge.IngestRequest{
		Entity: "pg", Fact: "the database listens on port 5432 by default.",
		Confidence: 0.7, SourceSessionID: "s1", Source: knowledge.SourceAssistant,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	linker := knowledge.NewLinker(s, similarity.NewScorer())
	if _, err := linker.AutoLink(ctx, item); err != nil {
		t.Fatalf("AutoLink() error = %v", err)
	}

	links, err := s.LinksForItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("LinksForItem() error = %v", err)
	}
	foundSemantic := false
	for _, link := range links {
		if link.Relationship == knowledge.RelSemantic {
			foundSemantic = true
			if score := link.Metadata.GetFloat("similarity"); score <= 0.75 {
				t.Errorf("similarity = %.3f, want above the link threshold", score)
			}
		}
	}
	if !foundSemantic {
		t.Errorf("links = %v, want a semantically_related link", links)
	}
}

func TestExtractEntityCandidates(t *testing.T) {
	fact := `the Eiffel Tower appears in "Midnight in Paris" and the configMap holds settings`
	candidates := knowledge.ExtractEntityCandidates(fact)

	want := map[string]bool{
		"Eiffel Tower":      false,
		"Midnight in Paris": false,
		"configMap":         false,
	}
	for _, c := range candidates {
		if _, ok := want[c]; ok {
			want[c] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("candidates = %v, want %q extracted", candidates, name)
		}
	}
}
