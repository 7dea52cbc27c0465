package refine

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeActions struct {
	actions []Action
	err     error
}

func (f *fakeActions) ActionsSince(ctx context.Context, since time.Time) ([]Action, error) {
	return f.actions, f.err
}

type fakeRules struct {
	existing map[string]*Rule
	inserted []*Rule
}

func (f *fakeRules) InRuleTx(ctx context.Context, fn func(RuleTx) error) error {
	return fn(f)
}

func (f *fakeRules) LockRuleForTool(tool string) (*Rule, error) {
	return f.existing[tool], nil
}

func (f *fakeRules) InsertRule(rule *Rule) error {
	f.inserted = append(f.inserted, rule)
	return nil
}

type fakeReflections struct {
	added []string
	err   error
}

func (f *fakeReflections) AddReflection(ctx context.Context, kind, content string, metadata map[string]interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.added = append(f.added, kind)
	return nil
}

func action(tool, status, errText string) Action {
	return Action{Tool: tool, Status: status, Error: errText, CreatedAt: time.Now()}
}

func TestRefineProposesRuleForFailingTool(t *testing.T) {
	actions := &fakeActions{actions: []Action{
		action("grep", StatusFailure, "boom"),
		action("grep", StatusFailure, "boom"),
		action("grep", StatusFailure, "boom"),
		action("grep", StatusSuccess, ""),
		action("sed", StatusSuccess, ""),
	}}
	rules := &fakeRules{existing: map[string]*Rule{}}
	refl := &fakeReflections{}

	r := NewRefiner(actions, rules, refl)
	recs, err := r.RefineActions(context.Background())
	if err != nil {
		t.Fatalf("RefineActions() error = %v", err)
	}

	if len(recs) != 1 {
		t.Fatalf("recommendations = %d, want 1", len(recs))
	}
	if recs[0].Tool != "grep" || recs[0].Kind != KindReduceFailures {
		t.Errorf("recommendation = %+v", recs[0])
	}
	if got := recs[0].FailureRate; got != 0.75 {
		t.Errorf("failure rate = %.3f, want 3/4", got)
	}

	if len(rules.inserted) != 1 {
		t.Fatalf("inserted rules = %d, want 1", len(rules.inserted))
	}
	rule := rules.inserted[0]
	if rule.Tool != "grep" || rule.TargetTable != "agent_actions" {
		t.Errorf("rule = %+v", rule)
	}
}

func TestRefineSkipsBelowMinActions(t *testing.T) {
	actions := &fakeActions{actions: []Action{
		action("grep", StatusFailure, "boom"),
		action("grep", StatusFailure, "boom"),
	}}
	rules := &fakeRules{existing: map[string]*Rule{}}

	r := NewRefiner(actions, rules, &fakeReflections{})
	recs, err := r.RefineActions(context.Background())
	if err != nil {
		t.Fatalf("RefineActions() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("recommendations = %v, want none below min actions", recs)
	}
	if len(rules.inserted) != 0 {
		t.Errorf("inserted rules = %d, want 0", len(rules.inserted))
	}
}

func TestRefineSkipsAtExactMinimum(t *testing.T) {
	// The minimum is exclusive: three actions do not clear the default of 3,
	// however bad the failure rate.
	actions := &fakeActions{actions: []Action{
		action("grep", StatusFailure, "boom"),
		action("grep", StatusFailure, "boom"),
		action("grep", StatusSuccess, ""),
	}}
	rules := &fakeRules{existing: map[string]*Rule{}}

	r := NewRefiner(actions, rules, &fakeReflections{})
	recs, err := r.RefineActions(context.Background())
	if err != nil {
		t.Fatalf("RefineActions() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("recommendations = %v, want none at total == minimum", recs)
	}
	if len(rules.inserted) != 0 {
		t.Errorf("inserted rules = %d, want 0", len(rules.inserted))
	}
}

func TestRefineSkipsBelowThreshold(t *testing.T) {
	actions := &fakeActions{actions: []Action{
		action("grep", StatusFailure, "boom"),
		action("grep", StatusSuccess, ""),
		action("grep", StatusSuccess, ""),
		action("grep", StatusSuccess, ""),
	}}
	rules := &fakeRules{existing: map[string]*Rule{}}

	r := NewRefiner(actions, rules, &fakeReflections{})
	recs, err := r.RefineActions(context.Background())
	if err != nil {
		t.Fatalf("RefineActions() error = %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("recommendations = %v, want none at 25%% failure rate", recs)
	}
}

func TestRefineDoesNotDuplicateExistingRule(t *testing.T) {
	actions := &fakeActions{actions: []Action{
		action("grep", StatusFailure, "boom"),
		action("grep", StatusFailure, "boom"),
		action("grep", StatusFailure, "boom"),
		action("grep", StatusFailure, "boom"),
	}}
	rules := &fakeRules{existing: map[string]*Rule{
		"grep": {ID: 7, Tool: "grep"},
	}}

	r := NewRefiner(actions, rules, &fakeReflections{})
	if _, err := r.RefineActions(context.Background()); err != nil {
		t.Fatalf("RefineActions() error = %v", err)
	}
	if len(rules.inserted) != 0 {
		t.Errorf("inserted rules = %d, want 0 when a rule already exists", len(rules.inserted))
	}
}

func TestRefineCapabilityDenials(t *testing.T) {
	actions := &fakeActions{actions: []Action{
		action("browse", StatusFailure, "Permission denied by sandbox"),
		action("browse", StatusSuccess, ""),
		action("spawn", StatusFailure, "unknown tool: spawn"),
	}}
	rules := &fakeRules{existing: map[string]*Rule{}}
	refl := &fakeReflections{}

	r := NewRefiner(actions, rules, refl)
	recs, err := r.RefineActions(context.Background())
	if err != nil {
		t.Fatalf("RefineActions() error = %v", err)
	}

	capability := 0
	for _, rec := range recs {
		if rec.Kind == KindExpandCapabilities {
			capability++
		}
	}
	if capability != 2 {
		t.Errorf("capability recommendations = %d, want 2", capability)
	}
	if len(refl.added) != 2 {
		t.Errorf("reflections = %d, want 2", len(refl.added))
	}
}

func TestRefineCapabilityReflectionBestEffort(t *testing.T) {
	actions := &fakeActions{actions: []Action{
		action("browse", StatusFailure, "not authorized"),
	}}
	refl := &fakeReflections{err: errors.New("sink down")}

	r := NewRefiner(actions, &fakeRules{existing: map[string]*Rule{}}, refl)
	recs, err := r.RefineActions(context.Background())
	if err != nil {
		t.Fatalf("RefineActions() error = %v, reflection sink failures are best-effort", err)
	}
	if len(recs) != 1 {
		t.Errorf("recommendations = %d, want the denial still reported", len(recs))
	}
}

func TestRefinePropagatesActionSourceError(t *testing.T) {
	actions := &fakeActions{err: errors.New("db down")}

	r := NewRefiner(actions, &fakeRules{}, &fakeReflections{})
	if _, err := r.RefineActions(context.Background()); err == nil {
		t.Fatal("RefineActions() error = nil, want store failure propagated")
	}
}

func TestRefineConfigurableThreshold(t *testing.T) {
	actions := &fakeActions{actions: []Action{
		action("grep", StatusFailure, "boom"),
		action("grep", StatusSuccess, ""),
		action("grep", StatusSuccess, ""),
		action("grep", StatusSuccess, ""),
	}}
	rules := &fakeRules{existing: map[string]*Rule{}}

	r := NewRefiner(actions, rules, &fakeReflections{}, WithThreshold(0.2))
	recs, err := r.RefineActions(context.Background())
	if err != nil {
		t.Fatalf("RefineActions() error = %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("recommendations = %d, want 1 at lowered threshold", len(recs))
	}
}
