package policy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAddPolicyRejectsOversizedPattern(t *testing.T) {
	e := NewEnforcer()

	err := e.AddPolicy(Policy{Name: "big", Pattern: strings.Repeat("a", 501)})
	if !errors.Is(err, ErrPatternTooLong) {
		t.Fatalf("AddPolicy() error = %v, want ErrPatternTooLong", err)
	}
	if !strings.Contains(err.Error(), "regex pattern too long") {
		t.Errorf("error = %q, want the rejection message", err)
	}
}

func TestAddPolicyAcceptsBoundaryLength(t *testing.T) {
	e := NewEnforcer()

	if err := e.AddPolicy(Policy{Name: "ok", Pattern: strings.Repeat("a", 500)}); err != nil {
		t.Fatalf("AddPolicy() error = %v, want 500 chars accepted", err)
	}
}

func TestAddPolicyRejectsReDoSShapes(t *testing.T) {
	e := NewEnforcer()

	for _, pattern := range []string{`(a+)+$`, `(a*)*`, `(\d+)*suffix`} {
		err := e.AddPolicy(Policy{Name: "redos", Pattern: pattern})
		if !errors.Is(err, ErrDangerousPattern) {
			t.Errorf("AddPolicy(%q) error = %v, want ErrDangerousPattern", pattern, err)
		}
		if err != nil && !strings.Contains(err.Error(), "dangerous ReDoS pattern") {
			t.Errorf("error = %q, want the rejection message", err)
		}
	}
}

func TestAddPolicyRejectsInvalidRegex(t *testing.T) {
	e := NewEnforcer()

	if err := e.AddPolicy(Policy{Name: "broken", Pattern: `([unclosed`}); err == nil {
		t.Fatal("AddPolicy() error = nil, want compile failure")
	}
}

func TestCheckPolicyForbiddenMatch(t *testing.T) {
	e := NewEnforcer()
	if err := e.AddPolicy(Policy{
		Name:    "no-secrets",
		Pattern: `(?i)api[_-]?key`,
	}); err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	if err := e.CheckPolicy("no-secrets", "here is my API_KEY=abc"); err == nil {
		t.Error("CheckPolicy() = nil, want forbidden match denied")
	}
	if err := e.CheckPolicy("no-secrets", "nothing sensitive here"); err != nil {
		t.Errorf("CheckPolicy() error = %v, want clean input allowed", err)
	}
}

func TestCheckPolicyMustMatch(t *testing.T) {
	e := NewEnforcer()
	if err := e.AddPolicy(Policy{
		Name:      "needs-ticket",
		Pattern:   `TICKET-\d+`,
		MustMatch: true,
	}); err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	if err := e.CheckPolicy("needs-ticket", "fix for TICKET-42"); err != nil {
		t.Errorf("CheckPolicy() error = %v, want matching input allowed", err)
	}
	if err := e.CheckPolicy("needs-ticket", "no reference"); err == nil {
		t.Error("CheckPolicy() = nil, want non-matching input denied")
	}
}

func TestCheckPolicyDependenciesEvaluatedFirst(t *testing.T) {
	e := NewEnforcer()
	must := func(p Policy) {
		t.Helper()
		if err := e.AddPolicy(p); err != nil {
			t.Fatalf("AddPolicy(%s) error = %v", p.Name, err)
		}
	}
	must(Policy{Name: "base", Pattern: `forbidden`})
	must(Policy{Name: "outer", Pattern: `TICKET-\d+`, MustMatch: true, DependsOn: []string{"base"}})

	// Dependency denies even though the outer policy would allow.
	if err := e.CheckPolicy("outer", "forbidden TICKET-42"); err == nil {
		t.Error("CheckPolicy() = nil, want dependency denial")
	}
	if err := e.CheckPolicy("outer", "clean TICKET-42"); err != nil {
		t.Errorf("CheckPolicy() error = %v, want allowed", err)
	}
}

func TestCheckPolicyCircularDependency(t *testing.T) {
	e := NewEnforcer()
	must := func(p Policy) {
		t.Helper()
		if err := e.AddPolicy(p); err != nil {
			t.Fatalf("AddPolicy(%s) error = %v", p.Name, err)
		}
	}
	must(Policy{Name: "a", DependsOn: []string{"b"}})
	must(Policy{Name: "b", DependsOn: []string{"a"}})

	err := e.CheckPolicy("a", "anything")
	if !errors.Is(err, ErrCircularDependency) {
		t.Fatalf("CheckPolicy() error = %v, want ErrCircularDependency", err)
	}
	if !strings.Contains(err.Error(), "circular policy dependency detected") {
		t.Errorf("error = %q, want the detection message", err)
	}
}

func TestCheckPolicySharedDependencyIsNotCircular(t *testing.T) {
	e := NewEnforcer()
	must := func(p Policy) {
		t.Helper()
		if err := e.AddPolicy(p); err != nil {
			t.Fatalf("AddPolicy(%s) error = %v", p.Name, err)
		}
	}
	// Diamond shape: both branches depend on the same leaf.
	must(Policy{Name: "leaf"})
	must(Policy{Name: "left", DependsOn: []string{"leaf"}})
	must(Policy{Name: "right", DependsOn: []string{"leaf"}})
	must(Policy{Name: "top", DependsOn: []string{"left", "right"}})

	if err := e.CheckPolicy("top", "anything"); err != nil {
		t.Errorf("CheckPolicy() error = %v, diamond dependencies are legal", err)
	}
}

func TestCheckPolicyUnknownPolicy(t *testing.T) {
	e := NewEnforcer()

	if err := e.CheckPolicy("ghost", "anything"); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("CheckPolicy() error = %v, want ErrPolicyNotFound", err)
	}
}

func TestCheckPolicyDeterministic(t *testing.T) {
	e := NewEnforcer()
	if err := e.AddPolicy(Policy{Name: "p", Pattern: `forbidden`}); err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := e.CheckPolicy("p", "clean input"); err != nil {
			t.Fatalf("CheckPolicy() #%d error = %v, want stable result", i, err)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	doc := `policies:
  - name: no-secrets
    pattern: "(?i)api[_-]?key"
  - name: needs-ticket
    pattern: "TICKET-\\d+"
    must_match: true
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	e := NewEnforcer()
	if err := e.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if got := len(e.Policies()); got != 2 {
		t.Errorf("Policies() = %d, want 2", got)
	}
	if err := e.CheckPolicy("no-secrets", "my api key is hidden"); err != nil {
		t.Errorf("CheckPolicy() error = %v", err)
	}
}

func TestLoadFileRejectsBadPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	doc := `policies:
  - name: bad
    pattern: "(a+)+$"
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	e := NewEnforcer()
	if err := e.LoadFile(path); !errors.Is(err, ErrDangerousPattern) {
		t.Fatalf("LoadFile() error = %v, want ErrDangerousPattern", err)
	}
}
