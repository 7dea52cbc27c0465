package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"hivemind/internal/knowledge"
	"hivemind/internal/refine"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// modernc sqlite keeps a background connection reaper alive.
		goleak.IgnoreTopFunction("modernc.org/libc.libcThreadCreate"),
	)
}

func newStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func newItem(entity, fact string, confidence float64) *knowledge.Item {
	now := time.Now().UTC()
	return &knowledge.Item{
		Entity:          entity,
		Fact:            fact,
		Confidence:      confidence,
		Status:          knowledge.StatusProposed,
		Tags:            []string{"test"},
		Metadata:        knowledge.Metadata{"source": "assistant"},
		SourceSessionID: "s1",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestItemRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	item := newItem("Paris", "is the capital of France", 0.5)
	id, err := s.InsertItem(ctx, item)
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := s.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Paris", got.Entity)
	assert.Equal(t, []string{"test"}, got.Tags)
	assert.Equal(t, "assistant", got.Metadata.GetString("source"))
	assert.Equal(t, "s1", got.SourceSessionID)

	got.Confidence = 0.7
	got.Status = knowledge.StatusVerified
	got.UpdatedAt = time.Now().UTC()
	require.NoError(t, s.UpdateItem(ctx, got))

	again, err := s.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 0.7, again.Confidence)
	assert.Equal(t, knowledge.StatusVerified, again.Status)
}

func TestGetItemNotFound(t *testing.T) {
	s := newStore(t)

	_, err := s.GetItem(context.Background(), 42)
	assert.ErrorIs(t, err, knowledge.ErrNotFound)

	err = s.UpdateItem(context.Background(), &knowledge.Item{ID: 42})
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
}

func TestFindByEntityOrdering(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for _, conf := range []float64{0.3, 0.9, 0.6} {
		_, err := s.InsertItem(ctx, newItem("Paris", "fact", conf))
		require.NoError(t, err)
	}

	items, err := s.FindByEntity(ctx, "Paris", 10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, 0.9, items[0].Confidence)
	assert.Equal(t, 0.3, items[2].Confidence)
}

func TestFindByEntityFact(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.InsertItem(ctx, newItem("Paris", "is the capital of France", 0.5))
	require.NoError(t, err)

	got, err := s.FindByEntityFact(ctx, "Paris", "is the capital of France")
	require.NoError(t, err)
	assert.Equal(t, "Paris", got.Entity)

	_, err = s.FindByEntityFact(ctx, "Paris", "other fact")
	assert.ErrorIs(t, err, knowledge.ErrNotFound)
}

func TestRecentItemsFilters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	lowID, err := s.InsertItem(ctx, newItem("a", "low confidence", 0.2))
	require.NoError(t, err)
	selfID, err := s.InsertItem(ctx, newItem("b", "the item itself", 0.8))
	require.NoError(t, err)
	otherID, err := s.InsertItem(ctx, newItem("c", "another item", 0.8))
	require.NoError(t, err)

	items, err := s.RecentItems(ctx, 10, 0.4, selfID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, otherID, items[0].ID)
	assert.NotEqual(t, lowID, items[0].ID)
}

func TestDuplicateEntities(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.InsertItem(ctx, newItem("Paris", "fact", 0.5))
		require.NoError(t, err)
	}
	_, err := s.InsertItem(ctx, newItem("London", "fact", 0.5))
	require.NoError(t, err)

	entities, err := s.DuplicateEntities(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"Paris"}, entities)
}

func TestMergeItemsAtomic(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	primaryID, err := s.InsertItem(ctx, newItem("Paris", "capital of France", 0.6))
	require.NoError(t, err)
	secondaryID, err := s.InsertItem(ctx, newItem("Paris", "capital of Franze", 0.8))
	require.NoError(t, err)

	require.NoError(t, s.UpsertLink(ctx, &knowledge.Link{
		SourceID: secondaryID, TargetID: primaryID,
		Relationship: knowledge.RelSemantic, CreatedAt: time.Now(),
	}))

	primary, err := s.GetItem(ctx, primaryID)
	require.NoError(t, err)
	primary.Confidence = 0.8
	require.NoError(t, s.MergeItems(ctx, primary, secondaryID))

	_, err = s.GetItem(ctx, secondaryID)
	assert.ErrorIs(t, err, knowledge.ErrNotFound)

	kept, err := s.GetItem(ctx, primaryID)
	require.NoError(t, err)
	assert.Equal(t, 0.8, kept.Confidence)

	links, err := s.LinksForItem(ctx, secondaryID)
	require.NoError(t, err)
	assert.Empty(t, links, "merged item's links should be deleted")
}

func TestBoostByTag(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	taggedID, err := s.InsertItem(ctx, newItem("a", "tagged fact", 0.5))
	require.NoError(t, err)

	untagged := newItem("b", "untagged fact", 0.5)
	untagged.Tags = nil
	untaggedID, err := s.InsertItem(ctx, untagged)
	require.NoError(t, err)

	full := newItem("c", "already certain", 1.0)
	_, err = s.InsertItem(ctx, full)
	require.NoError(t, err)

	affected, err := s.BoostByTag(ctx, "test", 0.1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	boosted, err := s.GetItem(ctx, taggedID)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, boosted.Confidence, 0.001)

	unchanged, err := s.GetItem(ctx, untaggedID)
	require.NoError(t, err)
	assert.Equal(t, 0.5, unchanged.Confidence)
}

func TestUpsertLinkRefreshesMetadata(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	link := &knowledge.Link{
		SourceID: 1, TargetID: 2,
		Relationship: knowledge.RelMentions,
		Metadata:     knowledge.Metadata{"similarity": 0.8},
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.UpsertLink(ctx, link))

	link.Metadata = knowledge.Metadata{"similarity": 0.95}
	require.NoError(t, s.UpsertLink(ctx, link))

	links, err := s.LinksForItem(ctx, 1)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.InDelta(t, 0.95, links[0].Metadata.GetFloat("similarity"), 0.001)
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx knowledge.Tx) error {
		_, err := tx.InsertItem(newItem("Paris", "fact", 0.5))
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	_, err = s.FindByEntityFact(ctx, "Paris", "fact")
	assert.ErrorIs(t, err, knowledge.ErrNotFound, "rolled-back insert must not persist")
}

func TestLockGlobalItemScope(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	session := newItem("Paris", "fact", 0.5)
	_, err := s.InsertItem(ctx, session)
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx knowledge.Tx) error {
		_, lockErr := tx.LockGlobalItem("Paris", "fact")
		assert.ErrorIs(t, lockErr, knowledge.ErrNotFound, "session item is not global")
		return nil
	})
	require.NoError(t, err)

	global := newItem("Paris", "fact", 0.9)
	global.SourceSessionID = ""
	_, err = s.InsertItem(ctx, global)
	require.NoError(t, err)

	err = s.InTx(ctx, func(tx knowledge.Tx) error {
		got, lockErr := tx.LockGlobalItem("Paris", "fact")
		require.NoError(t, lockErr)
		assert.True(t, got.IsGlobal())
		return nil
	})
	require.NoError(t, err)
}

func TestActionLog(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordAction(ctx, "grep", "success", "", "p1"))
	require.NoError(t, s.RecordAction(ctx, "grep", "failure", "permission denied", "p1"))

	actions, err := s.ActionsSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "grep", actions[0].Tool)
	assert.Equal(t, "permission denied", actions[1].Error)

	old, err := s.ActionsSince(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, old)
}

func TestFailureCounts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordAction(ctx, "grep", "failure", "boom", "p1"))
	require.NoError(t, s.RecordAction(ctx, "grep", "failure", "boom", "p1"))
	require.NoError(t, s.RecordAction(ctx, "sed", "failure", "boom", "p2"))
	require.NoError(t, s.RecordAction(ctx, "awk", "success", "", "p1"))

	counts, err := s.FailureCounts(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"grep": 2}, counts)

	all, err := s.FailureCounts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"grep": 2, "sed": 1}, all)
}

func TestMetrics(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordMetric(ctx, "latency", 120, "p1"))
	require.NoError(t, s.RecordMetric(ctx, "success_rate", 0.9, "p1"))
	require.NoError(t, s.RecordMetric(ctx, "latency", 300, "p2"))

	persona, err := s.RecentMetrics(ctx, "p1", 10)
	require.NoError(t, err)
	assert.Len(t, persona, 2)

	global, err := s.RecentGlobalMetrics(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, global, 3)

	latencies, err := s.RecentLatencies(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, latencies, 2)
}

func TestRuleTxDeduplicates(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	insert := func() error {
		return s.InRuleTx(ctx, func(tx refine.RuleTx) error {
			existing, err := tx.LockRuleForTool("grep")
			require.NoError(t, err)
			if existing != nil {
				return nil
			}
			return tx.InsertRule(&refine.Rule{
				Tool: "grep", TargetTable: "agent_actions",
				Operation: "review", Action: "reduce failure rate of tool grep",
				CreatedAt: time.Now(),
			})
		})
	}
	require.NoError(t, insert())
	require.NoError(t, insert())

	rules, err := s.RulesForTool(ctx, "grep")
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}

func TestEnsureMessageIndexIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	created, err := s.EnsureMessageIndex(ctx)
	require.NoError(t, err)
	assert.True(t, created)

	again, err := s.EnsureMessageIndex(ctx)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestAuditHealthy(t *testing.T) {
	s := newStore(t)

	healthy, detail, err := s.Audit(context.Background())
	require.NoError(t, err)
	assert.True(t, healthy)
	assert.Equal(t, "ok", detail)
}

func TestTablesWithoutPrimaryKey(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	missing, err := s.TablesWithoutPrimaryKey(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing, "all shipped tables carry primary keys")

	_, err = s.GetDB().ExecContext(ctx, "CREATE TABLE scratch (v TEXT)")
	require.NoError(t, err)

	missing, err = s.TablesWithoutPrimaryKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"scratch"}, missing)
}

func TestGetStats(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.InsertItem(ctx, newItem("Paris", "fact", 0.5))
	require.NoError(t, err)
	require.NoError(t, s.AddMessage(ctx, "s1", "user", "hello"))

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats["knowledge_items"])
	assert.Equal(t, int64(1), stats["agent_messages"])
}
