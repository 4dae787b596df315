package policydiff

import (
	"fmt"
	"reflect"

	"github.com/ppiankov/permguard/internal/model"
	"github.com/ppiankov/permguard/internal/policy"
)

// Change represents a scalar field change.
type Change struct {
	Field   string `json:"field"`
	Old     string `json:"old"`
	New     string `json:"new"`
	Comment string `json:"comment,omitempty"`
}

// RuleChange represents a rule addition, removal, modification or move.
type RuleChange struct {
	Type    string `json:"type"` // "added", "removed", "changed", "moved"
	Rule    string `json:"rule"`
	Comment string `json:"comment,omitempty"`
}

// DiffResult holds the comparison of two rule sets.
type DiffResult struct {
	OldPath     string       `json:"old_path"`
	NewPath     string       `json:"new_path"`
	Changes     []Change     `json:"changes"`
	RuleChanges []RuleChange `json:"rule_changes"`
	HasChanges  bool         `json:"has_changes"`
}

// Diff compares two rule sets. Rules are identified by pattern; since the
// first match wins, a rule that changes position is reported as moved.
func Diff(old, new *policy.PermissionsConfig) *DiffResult {
	r := &DiffResult{OldPath: old.Source, NewPath: new.Source}

	if old.Default != new.Default {
		r.Changes = append(r.Changes, Change{
			Field:   "default",
			Old:     string(old.Default),
			New:     string(new.Default),
			Comment: decisionComment(old.Default, new.Default),
		})
	}
	if old.DefaultReason != new.DefaultReason {
		r.Changes = append(r.Changes, Change{
			Field: "default_reason",
			Old:   old.DefaultReason,
			New:   new.DefaultReason,
		})
	}

	diffRules(r, old.Rules, new.Rules)

	r.HasChanges = len(r.Changes) > 0 || len(r.RuleChanges) > 0
	return r
}

func decisionComment(old, new model.Decision) string {
	if old == model.Allow && new == model.Deny {
		return "stricter"
	}
	if old == model.Deny && new == model.Allow {
		return "looser"
	}
	return ""
}

func ruleLabel(r *policy.CompiledRule) string {
	return fmt.Sprintf("%q → %s", r.Pattern, r.Decision)
}

func diffRules(r *DiffResult, oldRules, newRules []*policy.CompiledRule) {
	// Duplicate patterns are shadowed by the first occurrence, so only the
	// first one of each is compared.
	oldIdx := indexRules(oldRules)
	newIdx := indexRules(newRules)

	for i, rule := range newRules {
		if newIdx[rule.Pattern] != i {
			continue
		}
		j, exists := oldIdx[rule.Pattern]
		if !exists {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "added",
				Rule: fmt.Sprintf("[%d] %s", i, ruleLabel(rule)),
			})
			continue
		}

		prev := oldRules[j]
		switch {
		case prev.Decision != rule.Decision:
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type:    "changed",
				Rule:    fmt.Sprintf("[%d] %s (was: %s)", i, ruleLabel(rule), prev.Decision),
				Comment: decisionComment(prev.Decision, rule.Decision),
			})
		case prev.Reason != rule.Reason:
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type:    "changed",
				Rule:    fmt.Sprintf("[%d] %s", i, ruleLabel(rule)),
				Comment: fmt.Sprintf("reason %q → %q", prev.Reason, rule.Reason),
			})
		case !reflect.DeepEqual(prev.Constraints, rule.Constraints):
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type:    "changed",
				Rule:    fmt.Sprintf("[%d] %s", i, ruleLabel(rule)),
				Comment: fmt.Sprintf("constraints %d → %d", len(prev.Constraints), len(rule.Constraints)),
			})
		}
	}

	for j, rule := range oldRules {
		if oldIdx[rule.Pattern] != j {
			continue
		}
		if _, exists := newIdx[rule.Pattern]; !exists {
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type: "removed",
				Rule: fmt.Sprintf("[%d] %s", j, ruleLabel(rule)),
			})
		}
	}

	diffOrder(r, oldRules, newRules, oldIdx, newIdx)
}

// diffOrder reports rules whose position relative to the other surviving
// rules changed. Pure index shifts caused by additions or removals are not
// moves.
func diffOrder(r *DiffResult, oldRules, newRules []*policy.CompiledRule, oldIdx, newIdx map[string]int) {
	var oldSeq, newSeq []string
	for j, rule := range oldRules {
		if _, ok := newIdx[rule.Pattern]; ok && oldIdx[rule.Pattern] == j {
			oldSeq = append(oldSeq, rule.Pattern)
		}
	}
	for i, rule := range newRules {
		if _, ok := oldIdx[rule.Pattern]; ok && newIdx[rule.Pattern] == i {
			newSeq = append(newSeq, rule.Pattern)
		}
	}
	for k := range newSeq {
		if newSeq[k] != oldSeq[k] {
			p := newSeq[k]
			r.RuleChanges = append(r.RuleChanges, RuleChange{
				Type:    "moved",
				Rule:    fmt.Sprintf("%q", p),
				Comment: fmt.Sprintf("position %d → %d", oldIdx[p], newIdx[p]),
			})
		}
	}
}

func indexRules(rules []*policy.CompiledRule) map[string]int {
	idx := make(map[string]int, len(rules))
	for i, rule := range rules {
		if _, seen := idx[rule.Pattern]; !seen {
			idx[rule.Pattern] = i
		}
	}
	return idx
}
