// Package refine mines the agent action log for tool failure patterns and
// proposes corrective reflection rules.
package refine

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"hivemind/internal/logging"
)

// Action is one entry of the action/outcome log, consumed read-only.
type Action struct {
	ID        int64     `json:"id"`
	Tool      string    `json:"tool"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Persona   string    `json:"persona,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Action statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Rule is a proposed corrective action targeting a tool.
type Rule struct {
	ID          int64                  `json:"id"`
	Tool        string                 `json:"tool"`
	TargetTable string                 `json:"target_table"`
	Operation   string                 `json:"operation"`
	Action      string                 `json:"action"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// Recommendation kinds.
const (
	KindReduceFailures     = "reduce_failure_rate"
	KindExpandCapabilities = "expand_capabilities"
)

// Recommendation is one refinement finding.
type Recommendation struct {
	Tool        string  `json:"tool"`
	Kind        string  `json:"kind"`
	FailureRate float64 `json:"failure_rate"`
	Total       int     `json:"total"`
	Detail      string  `json:"detail"`
}

// ActionSource yields the trailing action log.
type ActionSource interface {
	// ActionsSince returns all actions recorded at or after since.
	ActionsSince(ctx context.Context, since time.Time) ([]Action, error)
}

// RuleStore proposes rules under the store's write lock, so concurrent
// refinement runs never double-propose for the same tool.
type RuleStore interface {
	InRuleTx(ctx context.Context, fn func(RuleTx) error) error
}

// RuleTx is the transactional surface for rule proposal.
type RuleTx interface {
	// LockRuleForTool reads any existing rule for the tool under the
	// transaction's lock. Returns (nil, nil) when absent.
	LockRuleForTool(tool string) (*Rule, error)

	InsertRule(rule *Rule) error
}

// ReflectionSink accepts free-text reflection records. Best-effort sink:
// callers may swallow its errors.
type ReflectionSink interface {
	AddReflection(ctx context.Context, kind, content string, metadata map[string]interface{}) error
}

// Defaults for the refinement pass.
const (
	DefaultFailureThreshold = 0.3
	DefaultMinActions       = 3
	DefaultWindow           = 24 * time.Hour
)

// capabilityDenialRe matches error text indicating the tool call failed for
// access reasons rather than tool bugs.
var capabilityDenialRe = regexp.MustCompile(`(?i)permission denied|unknown tool|missing capability|not authorized`)

// Refiner mines the action log and proposes corrective rules.
type Refiner struct {
	actions     ActionSource
	rules       RuleStore
	reflections ReflectionSink

	threshold  float64
	minActions int
	window     time.Duration

	log *logging.Logger
	now func() time.Time
}

// Option configures a Refiner.
type Option func(*Refiner)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Refiner) { r.now = now }
}

// WithLogger injects the observability sink.
func WithLogger(l *logging.Logger) Option {
	return func(r *Refiner) { r.log = l }
}

// WithThreshold overrides the failure-rate threshold.
func WithThreshold(threshold float64) Option {
	return func(r *Refiner) { r.threshold = threshold }
}

// WithMinActions overrides the minimum action count per tool. Tools with a
// total at or below the minimum are skipped.
func WithMinActions(min int) Option {
	return func(r *Refiner) { r.minActions = min }
}

// WithWindow overrides the trailing analysis window.
func WithWindow(window time.Duration) Option {
	return func(r *Refiner) { r.window = window }
}

// NewRefiner creates a refinement pass over the given log and sinks.
func NewRefiner(actions ActionSource, rules RuleStore, reflections ReflectionSink, opts ...Option) *Refiner {
	r := &Refiner{
		actions:     actions,
		rules:       rules,
		reflections: reflections,
		threshold:   DefaultFailureThreshold,
		minActions:  DefaultMinActions,
		window:      DefaultWindow,
		log:         logging.Get(logging.CategoryRefine),
		now:         time.Now,
	}
	for _, fn := range opts {
		fn(r)
	}
	return r
}

// toolStats aggregates one tool's trailing window.
type toolStats struct {
	total    int
	failures int
	denials  int
}

// RefineActions analyzes the trailing window, proposes a reflection rule per
// failing tool, and emits capability-expansion reflections for tools whose
// failures look like access denials. Rule proposal is transactional and
// deduplicated; capability reflections are best-effort.
func (r *Refiner) RefineActions(ctx context.Context) ([]Recommendation, error) {
	timer := logging.StartTimer(logging.CategoryRefine, "Refiner.RefineActions")
	defer timer.StopWithInfo()

	since := r.now().Add(-r.window)
	actions, err := r.actions.ActionsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("load action window since %s: %w", since.Format(time.RFC3339), err)
	}

	stats := make(map[string]*toolStats)
	var order []string
	for i := range actions {
		a := &actions[i]
		st := stats[a.Tool]
		if st == nil {
			st = &toolStats{}
			stats[a.Tool] = st
			order = append(order, a.Tool)
		}
		st.total++
		if a.Status == StatusFailure {
			st.failures++
			if capabilityDenialRe.MatchString(a.Error) {
				st.denials++
			}
		}
	}

	r.log.Info("Refinement window: %d actions across %d tools", len(actions), len(stats))

	var recs []Recommendation
	for _, tool := range order {
		st := stats[tool]
		if st.total <= r.minActions {
			continue
		}
		rate := float64(st.failures) / float64(st.total)
		if rate <= r.threshold {
			continue
		}

		rec := Recommendation{
			Tool:        tool,
			Kind:        KindReduceFailures,
			FailureRate: rate,
			Total:       st.total,
			Detail: fmt.Sprintf("tool %s failed %d of %d recent actions (%.0f%%)",
				tool, st.failures, st.total, rate*100),
		}
		recs = append(recs, rec)

		if err := r.proposeRule(ctx, tool, rate, st); err != nil {
			return recs, err
		}
	}

	// Capability-denial pass is best-effort: a sink failure degrades to a
	// log line, never an error.
	for _, tool := range order {
		st := stats[tool]
		if st.denials == 0 {
			continue
		}
		recs = append(recs, Recommendation{
			Tool:        tool,
			Kind:        KindExpandCapabilities,
			FailureRate: float64(st.failures) / float64(st.total),
			Total:       st.total,
			Detail: fmt.Sprintf("tool %s hit %d access/capability denials in the window",
				tool, st.denials),
		})
		content := fmt.Sprintf("tool %s was denied %d times; consider expanding its capabilities", tool, st.denials)
		md := map[string]interface{}{"tool": tool, "denials": st.denials}
		if err := r.reflections.AddReflection(ctx, KindExpandCapabilities, content, md); err != nil {
			r.log.Debug("Capability reflection for %s failed (best-effort): %v", tool, err)
		}
	}

	return recs, nil
}

// proposeRule inserts one corrective rule for the tool unless an equivalent
// rule already exists. The lock-check and insert share one transaction.
func (r *Refiner) proposeRule(ctx context.Context, tool string, rate float64, st *toolStats) error {
	return r.rules.InRuleTx(ctx, func(tx RuleTx) error {
		existing, err := tx.LockRuleForTool(tool)
		if err != nil {
			return fmt.Errorf("lock rule for tool %s: %w", tool, err)
		}
		if existing != nil {
			r.log.Debug("Rule for tool %s already proposed (id=%d), skipping", tool, existing.ID)
			return nil
		}

		rule := &Rule{
			Tool:        tool,
			TargetTable: "agent_actions",
			Operation:   "review",
			Action:      fmt.Sprintf("reduce failure rate of tool %s", tool),
			Metadata: map[string]interface{}{
				"failure_rate": rate,
				"failures":     st.failures,
				"total":        st.total,
			},
			CreatedAt: r.now(),
		}
		if err := tx.InsertRule(rule); err != nil {
			return fmt.Errorf("insert rule for tool %s: %w", tool, err)
		}
		r.log.Info("Proposed rule for tool %s (failure rate %.2f over %d actions)", tool, rate, st.total)
		return nil
	})
}
