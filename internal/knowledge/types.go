// Package knowledge implements the self-maintaining knowledge base used by
// agent sessions: fact lifecycle (ingest, reinforce, verify, challenge),
// duplicate consolidation, relationship discovery, domain boosts, and
// promotion of session facts into the global scope.
package knowledge

import (
	"errors"
	"time"
)

// ErrNotFound is returned when an operation references a knowledge item that
// does not exist. Normal absence is signalled with this sentinel, never with
// an ad-hoc error string.
var ErrNotFound = errors.New("knowledge item not found")

// Status is the lifecycle stage of a fact.
// Forward transitions only: proposed -> verified -> disputed/deprecated.
// There is no path back out of disputed or deprecated.
type Status string

const (
	StatusProposed   Status = "proposed"
	StatusVerified   Status = "verified"
	StatusDisputed   Status = "disputed"
	StatusDeprecated Status = "deprecated"
)

// Source identifies who asserted a fact. User-sourced facts are trusted more
// aggressively than assistant- or system-sourced ones.
type Source string

const (
	SourceUser      Source = "user"
	SourceAssistant Source = "assistant"
	SourceSystem    Source = "system"
)

// Relationship types persisted on links. The set is extensible; these two are
// the ones the relationship builder creates itself.
const (
	RelMentions = "mentions"
	RelSemantic = "semantically_related"
)

// MetadataSchemaVersion tags serialized metadata so merge passes can detect
// shape drift across versions instead of silently mixing layouts.
const MetadataSchemaVersion = 1

// Reserved metadata keys maintained by the lifecycle engine.
const (
	metaSource        = "source"
	metaSessions      = "sessions"
	metaSessionCount  = "session_count"
	metaStatusReason  = "status_reason"
	metaSchemaVersion = "schema_version"
)

// Item is a single unit of knowledge about an entity.
// An empty SourceSessionID means the item has been promoted to global scope.
type Item struct {
	ID              int64     `json:"id"`
	Entity          string    `json:"entity"`
	Fact            string    `json:"fact"`
	Confidence      float64   `json:"confidence"` // always within [0, 1]
	Status          Status    `json:"status"`
	Tags            []string  `json:"tags"`
	Metadata        Metadata  `json:"metadata"`
	SourceSessionID string    `json:"source_session_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IsGlobal reports whether the item lives in the promoted, cross-session scope.
func (i *Item) IsGlobal() bool {
	return i.SourceSessionID == ""
}

// Link is a typed, weak (id-based) reference between two items. Links are
// created and updated by the relationship builder only.
type Link struct {
	ID           int64     `json:"id"`
	SourceID     int64     `json:"source_id"`
	TargetID     int64     `json:"target_id"`
	Relationship string    `json:"relationship"`
	Metadata     Metadata  `json:"metadata"`
	CreatedAt    time.Time `json:"created_at"`
}

// clampConfidence forces v into [0, 1]. Applied before persistence so no
// store write can violate the confidence invariant.
func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// unionTags merges two tag sets, preserving first-seen order.
func unionTags(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, set := range [][]string{a, b} {
		for _, tag := range set {
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}

// hasTag reports set membership.
func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
