package policy

import (
	"fmt"
	"strings"

	"github.com/ppiankov/permguard/internal/constraint"
	"github.com/ppiankov/permguard/internal/model"
)

// ValidationErrors collects every structural problem found in a rule document.
type ValidationErrors []string

func (v ValidationErrors) Error() string {
	if len(v) == 1 {
		return "invalid rules: " + v[0]
	}
	return fmt.Sprintf("invalid rules (%d errors): %s", len(v), strings.Join(v, "; "))
}

// validate checks the decoded document shape and builds the expanded rule
// list. It keeps going after errors so every problem is reported at once.
func validate(doc any, check func(constraint.Constraint) error) ([]Rule, model.Decision, string, ValidationErrors) {
	var errs ValidationErrors

	top, ok := doc.(map[string]any)
	if !ok {
		errs = append(errs, fmt.Sprintf("config must be a mapping, got %s", typeName(doc)))
		return nil, "", "", errs
	}

	def := model.Deny
	if raw, present := top["default"]; present && raw != nil {
		s, isString := raw.(string)
		d, valid := model.ParseDecision(s)
		if !isString || !valid {
			errs = append(errs, fmt.Sprintf("default must be \"allow\" or \"deny\", got %v", raw))
		} else {
			def = d
		}
	}

	reason := ""
	if raw, present := top["default_reason"]; present && raw != nil {
		s, isString := raw.(string)
		if !isString {
			errs = append(errs, fmt.Sprintf("default_reason must be a string, got %s", typeName(raw)))
		} else {
			reason = s
		}
	}

	rawRules, present := top["rules"]
	if !present {
		errs = append(errs, "missing \"rules\" array")
		return nil, def, reason, errs
	}
	list, ok := rawRules.([]any)
	if !ok {
		errs = append(errs, fmt.Sprintf("rules must be an array, got %s", typeName(rawRules)))
		return nil, def, reason, errs
	}

	var rules []Rule
	for i, item := range list {
		expanded, ruleErrs := validateRule(i, item, check)
		errs = append(errs, ruleErrs...)
		rules = append(rules, expanded...)
	}

	return rules, def, reason, errs
}

// validateRule checks one rule element and expands it into one Rule per pattern.
func validateRule(i int, item any, check func(constraint.Constraint) error) ([]Rule, ValidationErrors) {
	var errs ValidationErrors
	at := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf("rules[%d]: ", i)+fmt.Sprintf(format, args...))
	}

	m, ok := item.(map[string]any)
	if !ok {
		at("must be a mapping, got %s", typeName(item))
		return nil, errs
	}

	var patterns []string
	rawPattern, hasPattern := m["pattern"]
	rawPatterns, hasPatterns := m["patterns"]
	switch {
	case hasPattern && hasPatterns:
		at("specify either \"pattern\" or \"patterns\", not both")
	case hasPattern:
		s, ok := rawPattern.(string)
		if !ok {
			at("pattern must be a string, got %s", typeName(rawPattern))
		} else {
			patterns = []string{s}
		}
	case hasPatterns:
		list, ok := rawPatterns.([]any)
		if !ok {
			at("patterns must be an array of strings, got %s", typeName(rawPatterns))
			break
		}
		if len(list) == 0 {
			at("patterns must not be empty")
		}
		for j, p := range list {
			s, ok := p.(string)
			if !ok {
				at("patterns[%d] must be a string, got %s", j, typeName(p))
				continue
			}
			patterns = append(patterns, s)
		}
	default:
		at("missing \"pattern\" or \"patterns\"")
	}

	var decision model.Decision
	if raw, present := m["decision"]; !present {
		at("missing \"decision\"")
	} else {
		s, isString := raw.(string)
		d, valid := model.ParseDecision(s)
		if !isString || !valid {
			at("decision must be \"allow\" or \"deny\", got %v", raw)
		}
		decision = d
	}

	var reason string
	if raw, present := m["reason"]; present && raw != nil {
		s, ok := raw.(string)
		if !ok {
			at("reason must be a string or null, got %s", typeName(raw))
		}
		reason = s
	}

	var constraints []constraint.Constraint
	if raw, present := m["constraints"]; present && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			at("constraints must be an array, got %s", typeName(raw))
		}
		for j, el := range list {
			cm, ok := el.(map[string]any)
			if !ok {
				at("constraints[%d] must be a mapping, got %s", j, typeName(el))
				continue
			}
			c, err := constraint.FromMap(cm)
			if err != nil {
				at("constraints[%d]: %v", j, err)
				continue
			}
			if check != nil {
				if err := check(c); err != nil {
					at("constraints[%d]: %v", j, err)
					continue
				}
			}
			constraints = append(constraints, c)
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	rules := make([]Rule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, Rule{
			Pattern:     p,
			Decision:    decision,
			Reason:      reason,
			Constraints: constraints,
		})
	}
	return rules, nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int64, uint64, float64:
		return "number"
	case []any:
		return "array"
	case map[string]any:
		return "mapping"
	default:
		return fmt.Sprintf("%T", v)
	}
}
