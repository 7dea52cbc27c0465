package knowledge

import (
	"strings"
	"testing"
)

func TestSanitizeFactStripsControlTokens(t *testing.T) {
	in := "Paris is <|im_start|>the capital<|im_end|> of France"
	got := SanitizeFact(in)
	if strings.Contains(got, "<|") || strings.Contains(got, "|>") {
		t.Errorf("SanitizeFact() = %q, control tokens survived", got)
	}
	if got != "Paris is the capital of France" {
		t.Errorf("SanitizeFact() = %q", got)
	}
}

func TestSanitizeFactStripsControlChars(t *testing.T) {
	got := SanitizeFact("a\x00b\x1bc\nd")
	if got != "abc d" {
		t.Errorf("SanitizeFact() = %q, want %q", got, "abc d")
	}
}

func TestSanitizeFactCollapsesWhitespace(t *testing.T) {
	got := SanitizeFact("  a \t b \n\n c  ")
	if got != "a b c" {
		t.Errorf("SanitizeFact() = %q, want %q", got, "a b c")
	}
}

func TestSanitizeFactTruncates(t *testing.T) {
	got := SanitizeFact(strings.Repeat("x", 600))
	if len(got) != maxFactLength {
		t.Errorf("SanitizeFact() length = %d, want %d", len(got), maxFactLength)
	}
}

func TestClampConfidence(t *testing.T) {
	cases := []struct {
		in, want float64
	}{
		{-0.5, 0}, {0, 0}, {0.5, 0.5}, {1, 1}, {1.5, 1},
	}
	for _, tc := range cases {
		if got := clampConfidence(tc.in); got != tc.want {
			t.Errorf("clampConfidence(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestUnionTags(t *testing.T) {
	got := unionTags([]string{"a", "b"}, []string{"b", "c", ""})
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("unionTags() = %v, want [a b c]", got)
	}
}

func TestMetadataSessionsRoundTrip(t *testing.T) {
	md := Metadata{}
	md.addSession("s1")
	md.addSession("s2")
	md.addSession("s1")

	if got := md.SessionCount(); got != 2 {
		t.Errorf("SessionCount() = %d, want 2", got)
	}

	// Post-JSON shape: []interface{} instead of []string.
	md[metaSessions] = []interface{}{"s1", "s2"}
	md.addSession("s3")
	if got := md.SessionCount(); got != 3 {
		t.Errorf("SessionCount() after JSON shape = %d, want 3", got)
	}
}

func TestMetadataMergeNewWins(t *testing.T) {
	md := Metadata{"k": "old", "keep": 1}
	md.Merge(Metadata{"k": "new"})
	if md.GetString("k") != "new" {
		t.Errorf("Merge() k = %v, want new value to win", md["k"])
	}
	if md.GetInt("keep") != 1 {
		t.Errorf("Merge() keep = %v, want untouched", md["keep"])
	}
}
