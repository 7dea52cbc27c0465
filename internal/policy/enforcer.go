// Package policy evaluates named guard policies against agent-authored text.
// Policies are regex-based, may depend on other policies, and fail closed on
// unsafe patterns or circular dependencies.
package policy

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"hivemind/internal/logging"
)

// Validation failures. Policies failing validation are never registered.
var (
	ErrPatternTooLong     = errors.New("regex pattern too long")
	ErrDangerousPattern   = errors.New("dangerous ReDoS pattern")
	ErrCircularDependency = errors.New("circular policy dependency detected")
	ErrPolicyNotFound     = errors.New("policy not found")
)

const maxPatternLength = 500

// dangerousPatternRe statically rejects catastrophic-backtracking shapes:
// a quantified group itself carrying a one-or-more/star quantifier, such as
// (a+)+ or (a*)*.
var dangerousPatternRe = regexp.MustCompile(`\([^)]*[+*]\)[+*]`)

// Policy is one named guard.
type Policy struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Pattern     string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	MustMatch   bool     `yaml:"must_match" json:"must_match"`
	DependsOn   []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

type compiledPolicy struct {
	Policy
	re *regexp.Regexp
}

// Enforcer holds the registered policy set. CheckPolicy is deterministic and
// side-effect-free; registration is guarded for concurrent use.
type Enforcer struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	log      *logging.Logger
}

// NewEnforcer creates an empty enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		policies: make(map[string]*compiledPolicy),
		log:      logging.Get(logging.CategoryPolicy),
	}
}

// AddPolicy validates and registers one policy. Oversized and structurally
// dangerous patterns are rejected before compilation.
func (e *Enforcer) AddPolicy(p Policy) error {
	if p.Name == "" {
		return fmt.Errorf("policy requires a name")
	}

	cp := &compiledPolicy{Policy: p}
	if p.Pattern != "" {
		if len(p.Pattern) > maxPatternLength {
			return fmt.Errorf("policy %s: %w (%d chars)", p.Name, ErrPatternTooLong, len(p.Pattern))
		}
		if dangerousPatternRe.MatchString(p.Pattern) {
			return fmt.Errorf("policy %s: %w", p.Name, ErrDangerousPattern)
		}
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return fmt.Errorf("policy %s: invalid pattern: %w", p.Name, err)
		}
		cp.re = re
	}

	e.mu.Lock()
	e.policies[p.Name] = cp
	e.mu.Unlock()

	e.log.Debug("Registered policy %s (must_match=%t, deps=%d)", p.Name, p.MustMatch, len(p.DependsOn))
	return nil
}

// CheckPolicy evaluates the named policy, dependencies first, against the
// input. A nil return means allowed; any error means denied.
func (e *Enforcer) CheckPolicy(name, input string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.check(name, input, make(map[string]bool))
}

// check walks the dependency graph depth-first. onPath tracks the current
// traversal path; revisiting a policy already on it fails closed.
func (e *Enforcer) check(name, input string, onPath map[string]bool) error {
	if onPath[name] {
		return fmt.Errorf("policy %s: %w", name, ErrCircularDependency)
	}
	p, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy %s: %w", name, ErrPolicyNotFound)
	}

	onPath[name] = true
	defer delete(onPath, name)

	for _, dep := range p.DependsOn {
		if err := e.check(dep, input, onPath); err != nil {
			return err
		}
	}

	if p.re == nil {
		return nil
	}
	matched := p.re.MatchString(input)
	if p.MustMatch && !matched {
		return fmt.Errorf("policy %s: input does not match required pattern", name)
	}
	if !p.MustMatch && matched {
		return fmt.Errorf("policy %s: input matches forbidden pattern", name)
	}
	return nil
}

// Policies returns the registered policy names.
func (e *Enforcer) Policies() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	return names
}

// LoadFile registers every policy from a YAML file. Validation failures abort
// the load; previously registered policies from the same file remain.
func (e *Enforcer) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file %s: %w", path, err)
	}

	var doc struct {
		Policies []Policy `yaml:"policies"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse policy file %s: %w", path, err)
	}

	for _, p := range doc.Policies {
		if err := e.AddPolicy(p); err != nil {
			return err
		}
	}
	e.log.Info("Loaded %d policies from %s", len(doc.Policies), path)
	return nil
}
