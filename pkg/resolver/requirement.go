package resolver

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"

	"github.com/akx/pipimi/pkg/registry/pypi"
)

// reqRE matches the subset of the PEP 508 requirement grammar pipimi
// consumes: name, optional extras, optional version specifier, optional
// environment marker after ";".
var reqRE = regexp.MustCompile(`^([A-Za-z0-9][A-Za-z0-9._-]*)\s*(?:\[([^\]]*)\])?\s*([^;]*?)\s*(?:;\s*(.+?)\s*)?$`)

// Requirement is one dependency declaration: a package name plus an
// optional version specifier and an optional environment marker.
type Requirement struct {
	Name      string   // normalized package name
	Extras    []string // requested extras, normalized, may be nil
	Specifier string   // raw specifier text, "" when unconstrained
	Marker    string   // raw marker text, "" when unconditional
}

// ParseRequirement parses a requirement string such as
// "requests[socks]>=2.25,<3; python_version < '3.8'".
//
// Direct URL references ("name @ https://...") parse with an empty
// specifier. Anything else that doesn't fit the grammar, including a
// specifier that is present but invalid, is a *MalformedRequirementError.
func ParseRequirement(s string) (Requirement, error) {
	m := reqRE.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Requirement{}, &MalformedRequirementError{Input: s, Err: fmt.Errorf("does not match requirement grammar")}
	}

	req := Requirement{
		Name:   pypi.NormalizeName(m[1]),
		Marker: m[4],
	}
	if m[2] != "" {
		for _, extra := range strings.Split(m[2], ",") {
			if extra = strings.TrimSpace(extra); extra != "" {
				req.Extras = append(req.Extras, pypi.NormalizeName(extra))
			}
		}
	}

	spec := strings.TrimSpace(m[3])
	// Specifiers may be parenthesized: "click (>=7.0)".
	spec = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(spec, "("), ")"))
	if spec == "" || strings.HasPrefix(spec, "@") {
		return req, nil
	}

	if _, err := pep440.NewSpecifiers(spec); err != nil {
		return Requirement{}, &MalformedRequirementError{Input: s, Err: err}
	}
	req.Specifier = spec
	return req, nil
}

// Constraint returns the requirement's version constraint, or ok=false for
// an unconstrained requirement.
func (r Requirement) Constraint() (Constraint, bool) {
	if r.Specifier == "" {
		return Constraint{}, false
	}
	// Validated during parsing; re-parsing cannot fail.
	spec, _ := pep440.NewSpecifiers(r.Specifier)
	return Constraint{raw: r.Specifier, spec: spec}, true
}

// Constraint is a version-range predicate (a PEP 440 specifier set).
// The zero Constraint is not valid; construct via ParseConstraint or
// Requirement.Constraint.
type Constraint struct {
	raw  string
	spec pep440.Specifiers
}

// ParseConstraint parses a specifier set such as ">=1.0,<2.0".
func ParseConstraint(s string) (Constraint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Constraint{}, fmt.Errorf("empty specifier")
	}
	spec, err := pep440.NewSpecifiers(s)
	if err != nil {
		return Constraint{}, err
	}
	return Constraint{raw: s, spec: spec}, nil
}

// String returns the constraint's textual form.
func (c Constraint) String() string { return c.raw }

// Check reports whether v satisfies the constraint.
func (c Constraint) Check(v pep440.Version) bool { return c.spec.Check(v) }

// ConstraintSet is a set of constraints on a single package. The semantics
// is conjunction: a version is acceptable only if every member accepts it.
// Membership is keyed by the specifier's textual form, so re-deriving an
// identical constraint is a no-op.
type ConstraintSet struct {
	m map[string]Constraint
}

// NewConstraintSet creates a set holding the given constraints.
func NewConstraintSet(cs ...Constraint) *ConstraintSet {
	s := &ConstraintSet{m: make(map[string]Constraint, len(cs))}
	for _, c := range cs {
		s.Add(c)
	}
	return s
}

// Add inserts a constraint, reporting whether it was not already present.
func (s *ConstraintSet) Add(c Constraint) bool {
	if _, ok := s.m[c.raw]; ok {
		return false
	}
	s.m[c.raw] = c
	return true
}

// AddAll inserts every constraint from other.
func (s *ConstraintSet) AddAll(other *ConstraintSet) {
	for _, c := range other.m {
		s.Add(c)
	}
}

// Len returns the number of distinct constraints.
func (s *ConstraintSet) Len() int { return len(s.m) }

// Check reports whether v satisfies the conjunction of all constraints.
// An empty set accepts every version.
func (s *ConstraintSet) Check(v pep440.Version) bool {
	for _, c := range s.m {
		if !c.Check(v) {
			return false
		}
	}
	return true
}

// Strings returns the sorted textual forms of all constraints.
func (s *ConstraintSet) Strings() []string {
	out := make([]string, 0, len(s.m))
	for raw := range s.m {
		out = append(out, raw)
	}
	sort.Strings(out)
	return out
}

// ConstraintTable maps package names to their accumulated constraint sets.
// It is the engine's mutable working state: entries only grow across
// rounds, constraints are never removed.
type ConstraintTable map[string]*ConstraintSet

// Ensure returns the set for name, creating an empty one if absent.
// An entry with an empty set means the package is known but unconstrained;
// any published version is acceptable.
func (t ConstraintTable) Ensure(name string) *ConstraintSet {
	if s, ok := t[name]; ok {
		return s
	}
	s := NewConstraintSet()
	t[name] = s
	return s
}

// Names returns the sorted package names in the table.
func (t ConstraintTable) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the table.
func (t ConstraintTable) Clone() ConstraintTable {
	out := make(ConstraintTable, len(t))
	for name, set := range t {
		clone := NewConstraintSet()
		clone.AddAll(set)
		out[name] = clone
	}
	return out
}
