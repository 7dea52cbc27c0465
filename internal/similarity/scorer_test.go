package similarity

import "testing"

func TestScoreBounds(t *testing.T) {
	s := NewScorer()
	pairs := [][2]string{
		{"", ""},
		{"a", ""},
		{"", "b"},
		{"is the capital of France", "is the capital of France"},
		{"is the capital of France", "is the capital city of France"},
		{"completely unrelated", "zzzzzz qqqq"},
	}
	for _, p := range pairs {
		got := s.Score(p[0], p[1])
		if got < 0.0 || got > 1.0 {
			t.Errorf("Score(%q, %q) = %v, want within [0,1]", p[0], p[1], got)
		}
	}
}

func TestScoreIdentical(t *testing.T) {
	s := NewScorer()
	if got := s.Score("MySQL uses B-tree indexes", "MySQL uses B-tree indexes"); got != 1.0 {
		t.Errorf("identical strings scored %v, want 1.0", got)
	}
	// Case and surrounding whitespace are normalized away.
	if got := s.Score("  Paris is the capital  ", "paris is the capital"); got != 1.0 {
		t.Errorf("normalized-identical strings scored %v, want 1.0", got)
	}
}

func TestScoreNearDuplicates(t *testing.T) {
	s := NewScorer()
	got := s.Score("is the capital of France", "is the capital city of France")
	if got <= 0.85 {
		t.Errorf("near-duplicate facts scored %v, want > 0.85", got)
	}
}

func TestScoreUnrelated(t *testing.T) {
	s := NewScorer()
	got := s.Score("uses PostgreSQL for persistence", "cats sleep sixteen hours a day")
	if got > 0.75 {
		t.Errorf("unrelated facts scored %v, want <= 0.75", got)
	}
}

func TestScoreDeterministicAndSymmetric(t *testing.T) {
	s := NewScorer()
	a, b := "deploy requires two approvals", "deploys require two approvals"
	first := s.Score(a, b)
	for i := 0; i < 10; i++ {
		if got := s.Score(a, b); got != first {
			t.Fatalf("score changed between calls: %v != %v", got, first)
		}
	}
	if s.Score(a, b) != s.Score(b, a) {
		t.Errorf("score is not symmetric for %q / %q", a, b)
	}
}

func TestCaseSensitiveScorer(t *testing.T) {
	s := NewCaseSensitiveScorer()
	if got := s.Score("Paris", "paris"); got == 1.0 {
		t.Errorf("case-sensitive scorer treated distinct-case strings as identical")
	}
}
