package policy

import (
	"github.com/ppiankov/permguard/internal/model"
)

// MatchResult is the engine's verdict for one input.
// MatchedPattern is nil exactly when IsDefault is true.
type MatchResult struct {
	Decision       model.Decision `json:"decision"`
	MatchedPattern *string        `json:"matched_pattern"`
	Reason         string         `json:"reason,omitempty"`
	IsDefault      bool           `json:"is_default"`
	Rule           *CompiledRule  `json:"-"`
}

// Pattern returns the matched pattern, or "" for the default verdict.
func (r MatchResult) Pattern() string {
	if r.MatchedPattern == nil {
		return ""
	}
	return *r.MatchedPattern
}

// TraceEntry records one rule examined during a traced evaluation.
type TraceEntry struct {
	Index    int            `json:"index"`
	Pattern  string         `json:"pattern"`
	Decision model.Decision `json:"decision"`
	Matched  bool           `json:"matched"`
	Reason   string         `json:"reason,omitempty"`
}

// Evaluate walks the rules in declared order and returns the first match,
// or the configured default. Pure: safe for concurrent use.
func (c *PermissionsConfig) Evaluate(input string) MatchResult {
	for _, rule := range c.Rules {
		if rule.Match(input) {
			return matched(rule)
		}
	}
	return c.defaultResult()
}

// EvaluateWithTrace performs the same walk as Evaluate and also returns one
// entry per rule examined, up to and including the first match.
func (c *PermissionsConfig) EvaluateWithTrace(input string) (MatchResult, []TraceEntry) {
	trace := make([]TraceEntry, 0, len(c.Rules))
	for i, rule := range c.Rules {
		ok := rule.Match(input)
		trace = append(trace, TraceEntry{
			Index:    i,
			Pattern:  rule.Pattern,
			Decision: rule.Decision,
			Matched:  ok,
			Reason:   rule.Reason,
		})
		if ok {
			return matched(rule), trace
		}
	}
	return c.defaultResult(), trace
}

func matched(rule *CompiledRule) MatchResult {
	p := rule.Pattern
	return MatchResult{
		Decision:       rule.Decision,
		MatchedPattern: &p,
		Reason:         rule.Reason,
		Rule:           rule,
	}
}

func (c *PermissionsConfig) defaultResult() MatchResult {
	def := c.Default
	if def == "" {
		def = model.Deny
	}
	return MatchResult{
		Decision:  def,
		Reason:    c.DefaultReason,
		IsDefault: true,
	}
}
