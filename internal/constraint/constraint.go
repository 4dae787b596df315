// Package constraint implements the second-stage structural checks applied
// to actions a rule has already allowed.
//
// The framework is generic over the constraint vocabulary: callers supply a
// Kinds table keyed by the constraint "type" discriminator. Constraints run
// in declaration order and the first failure wins.
package constraint

import (
	"fmt"
	"sort"
)

// Constraint is one tagged constraint from a rule file. Type selects the
// Kind that checks it; Params carries the remaining fields verbatim.
type Constraint struct {
	Type   string         `json:"type" yaml:"type"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// FromMap builds a Constraint from a decoded rule-file element.
// The "type" key is required and must be a non-empty string.
func FromMap(m map[string]any) (Constraint, error) {
	raw, ok := m["type"]
	if !ok {
		return Constraint{}, fmt.Errorf("constraint is missing \"type\"")
	}
	typ, ok := raw.(string)
	if !ok || typ == "" {
		return Constraint{}, fmt.Errorf("constraint \"type\" must be a non-empty string")
	}
	params := make(map[string]any, len(m)-1)
	for k, v := range m {
		if k == "type" {
			continue
		}
		params[k] = v
	}
	return Constraint{Type: typ, Params: params}, nil
}

// Context is what a check sees about the action being validated.
type Context struct {
	Input   string // full action text, e.g. the command line
	WorkDir string // directory the action runs in
}

// Result is the outcome of validating a constraint list.
type Result struct {
	Valid     bool   `json:"valid"`
	Violation string `json:"violation,omitempty"`
	Type      string `json:"type,omitempty"` // kind of the failing constraint
}

// Pass is the successful Result.
func Pass() Result {
	return Result{Valid: true}
}

// Fail builds a failing Result with a formatted violation message.
func Fail(format string, args ...any) Result {
	return Result{Valid: false, Violation: fmt.Sprintf(format, args...)}
}

// CheckFunc validates one constraint against an action.
type CheckFunc func(c Constraint, in Context) Result

// Kind is one entry in the dispatch table.
type Kind struct {
	// Check runs at evaluation time.
	Check CheckFunc
	// Shape optionally validates params at rule-load time.
	Shape func(c Constraint) error
}

// Kinds maps a constraint type to its implementation.
type Kinds map[string]Kind

// Names returns the registered type names, sorted.
func (k Kinds) Names() []string {
	names := make([]string, 0, len(k))
	for name := range k {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validator dispatches constraints to their kinds. Safe for concurrent use
// as long as the Kinds table is not modified after construction.
type Validator struct {
	kinds Kinds
}

// NewValidator creates a Validator over the given dispatch table.
func NewValidator(kinds Kinds) *Validator {
	if kinds == nil {
		kinds = Kinds{}
	}
	return &Validator{kinds: kinds}
}

// Validate runs constraints in order and returns the first failure.
// Unknown types and panicking checks count as failures.
func (v *Validator) Validate(constraints []Constraint, in Context) Result {
	for _, c := range constraints {
		r := v.run(c, in)
		if !r.Valid {
			r.Type = c.Type
			return r
		}
	}
	return Pass()
}

func (v *Validator) run(c Constraint, in Context) (result Result) {
	kind, ok := v.kinds[c.Type]
	if !ok || kind.Check == nil {
		return Fail("unknown constraint type %q", c.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			result = Fail("constraint %q failed: %v", c.Type, r)
		}
	}()
	return kind.Check(c, in)
}

// CheckShape validates a constraint at load time. It is the hook the rule
// loader calls for every constraint element.
func (v *Validator) CheckShape(c Constraint) error {
	kind, ok := v.kinds[c.Type]
	if !ok {
		return fmt.Errorf("unknown constraint type %q (known: %v)", c.Type, v.kinds.Names())
	}
	if kind.Shape == nil {
		return nil
	}
	return kind.Shape(c)
}
