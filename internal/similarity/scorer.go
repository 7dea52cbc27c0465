// Package similarity provides the deterministic string scorer used to decide
// whether two facts express the same idea. Scores come from the Jaro-Winkler
// metric and always land in [0, 1]; there is no embedding or learned model
// behind this, so results are stable across runs.
package similarity

import (
	"strings"

	"github.com/xrash/smetrics"
)

const (
	// boostThreshold and prefixSize are the standard Winkler parameters:
	// scores above the threshold get a bonus proportional to the length of
	// the common prefix, capped at prefixSize runes.
	boostThreshold = 0.7
	prefixSize     = 4
)

// Scorer computes Jaro-Winkler similarity between two strings.
// The zero value is not usable; construct with NewScorer.
type Scorer struct {
	caseFold bool
}

// NewScorer returns a scorer that folds case and trims surrounding
// whitespace before comparing, so "Paris is big" and "paris is big " score 1.0.
func NewScorer() *Scorer {
	return &Scorer{caseFold: true}
}

// NewCaseSensitiveScorer returns a scorer that compares strings exactly as given.
func NewCaseSensitiveScorer() *Scorer {
	return &Scorer{}
}

// Score returns the similarity of a and b in [0, 1].
// 1.0 means identical (after normalization), 0.0 means nothing in common.
func (s *Scorer) Score(a, b string) float64 {
	a = s.normalize(a)
	b = s.normalize(b)
	if a == "" && b == "" {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}
	score := smetrics.JaroWinkler(a, b, boostThreshold, prefixSize)
	// Guard against float drift from the boost arithmetic.
	if score > 1.0 {
		return 1.0
	}
	if score < 0.0 {
		return 0.0
	}
	return score
}

func (s *Scorer) normalize(v string) string {
	v = strings.TrimSpace(v)
	if s.caseFold {
		v = strings.ToLower(v)
	}
	return v
}
