package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/permguard/internal/constraint"
	"github.com/ppiankov/permguard/internal/model"
	"github.com/ppiankov/permguard/internal/pattern"
)

// DefaultReason is reported when no rule matches and the file sets no default_reason.
const DefaultReason = "no matching rule"

// FailSafeReason is the default reason of the deny-all fallback config.
const FailSafeReason = "permission rules failed to load; denying by default"

// Rule is one pattern with its decision. Constraints only apply to allow rules.
type Rule struct {
	Pattern     string                  `json:"pattern"`
	Decision    model.Decision          `json:"decision"`
	Reason      string                  `json:"reason,omitempty"`
	Constraints []constraint.Constraint `json:"constraints,omitempty"`
}

// HasConstraints reports whether the rule carries constraints that take effect.
func (r Rule) HasConstraints() bool {
	return r.Decision == model.Allow && len(r.Constraints) > 0
}

// CompiledRule is a Rule with its compiled matcher. Never mutated after construction.
type CompiledRule struct {
	Rule
	matcher *pattern.Matcher
}

// Compile builds a CompiledRule from r.
func Compile(r Rule) *CompiledRule {
	return &CompiledRule{Rule: r, matcher: pattern.Compile(r.Pattern)}
}

// Match reports whether input matches the rule's pattern in full.
func (r *CompiledRule) Match(input string) bool {
	return r.matcher.Match(input)
}

// PermissionsConfig is an ordered, immutable rule set. First match wins.
type PermissionsConfig struct {
	Rules         []*CompiledRule
	Default       model.Decision
	DefaultReason string

	// Source is the file the config was loaded from, if any.
	Source string
	// Hash is "sha256:<hex>" of the raw file bytes.
	Hash string
	// Errors lists the validation problems that forced the fail-safe config.
	Errors []string
}

// FailSafe reports whether this is the deny-all fallback produced by a failed load.
func (c *PermissionsConfig) FailSafe() bool {
	return len(c.Errors) > 0
}

// NewConfig compiles rules into a config. An empty default means deny.
func NewConfig(rules []Rule, def model.Decision, defaultReason string) *PermissionsConfig {
	if def == "" {
		def = model.Deny
	}
	if defaultReason == "" {
		defaultReason = DefaultReason
	}
	compiled := make([]*CompiledRule, 0, len(rules))
	for _, r := range rules {
		compiled = append(compiled, Compile(r))
	}
	return &PermissionsConfig{
		Rules:         compiled,
		Default:       def,
		DefaultReason: defaultReason,
	}
}

// FailSafeConfig returns the deny-all config carrying the given load errors.
func FailSafeConfig(errs []string) *PermissionsConfig {
	if len(errs) == 0 {
		errs = []string{"unknown load failure"}
	}
	return &PermissionsConfig{
		Default:       model.Deny,
		DefaultReason: FailSafeReason,
		Errors:        errs,
	}
}

// Format is the rule file syntax.
type Format int

const (
	FormatYAML Format = iota
	FormatJSONC
)

// FormatFor picks the syntax from the file extension. YAML is the default.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSONC
	default:
		return FormatYAML
	}
}

// LoadOptions customizes loading.
type LoadOptions struct {
	// CheckConstraint validates each constraint element at load time.
	// Nil accepts any constraint that has a type.
	CheckConstraint func(constraint.Constraint) error
	// Logger receives validation errors. Nil discards.
	Logger *slog.Logger
}

func (o LoadOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// Load reads and validates a rule file. It never fails: an unreadable or
// invalid file yields the deny-all fallback, and every error is logged.
func Load(path string, opts LoadOptions) *PermissionsConfig {
	log := opts.logger()

	data, err := os.ReadFile(path)
	if err != nil {
		msg := fmt.Sprintf("read rules: %v", err)
		log.Error("permission rules unreadable, denying all", "path", path, "error", err)
		cfg := FailSafeConfig([]string{msg})
		cfg.Source = path
		return cfg
	}

	cfg, err := Parse(data, FormatFor(path), opts)
	cfg.Source = path
	if err != nil {
		for _, e := range cfg.Errors {
			log.Error("invalid permission rule file", "path", path, "error", e)
		}
		log.Warn("falling back to deny-all rules", "path", path, "errors", len(cfg.Errors))
		return cfg
	}

	log.Debug("permission rules loaded", "path", path, "rules", len(cfg.Rules), "default", cfg.Default, "hash", cfg.Hash)
	return cfg
}

// Parse decodes and validates a rule document. On failure it returns the
// fail-safe config together with a ValidationErrors error.
func Parse(data []byte, format Format, opts LoadOptions) (*PermissionsConfig, error) {
	hash := HashBytes(data)

	doc, err := decode(data, format)
	if err != nil {
		verr := ValidationErrors{fmt.Sprintf("parse: %v", err)}
		cfg := FailSafeConfig(verr)
		cfg.Hash = hash
		return cfg, verr
	}

	rules, def, reason, verr := validate(doc, opts.CheckConstraint)
	if len(verr) > 0 {
		cfg := FailSafeConfig(verr)
		cfg.Hash = hash
		return cfg, verr
	}

	cfg := NewConfig(rules, def, reason)
	cfg.Hash = hash
	return cfg, nil
}

func decode(data []byte, format Format) (any, error) {
	var doc any
	switch format {
	case FormatJSONC:
		if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// HashBytes returns "sha256:<hex>" of data.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultConfigYAML returns a commented starter rule file for init-rules.
func DefaultConfigYAML() string {
	return `# permguard permission rules
# Generated by: permguard init-rules
#
# Rules are evaluated top to bottom. The first rule whose pattern matches
# the whole command line decides. Put specific rules before general ones.
#
# Patterns: "*" matches anything (including nothing); every other character
# is literal. Matching is case-insensitive and covers the entire input.
#
# Fields:
#   pattern | patterns: one pattern, or a list sharing the same decision
#   decision: allow | deny
#   reason: optional human-readable reason
#   constraints: optional checks applied only to allow rules
#     - type: cwd_only                 paths must stay inside the working directory
#     - type: max_depth                -maxdepth must be present and <= max_depth
#       max_depth: 3
#     - type: excluded_patterns        arguments must not touch these globs
#       excluded_patterns: [node_modules, .git]
#     - type: no_pipe                  no pipes, separators or substitution, even quoted

rules:
  - pattern: "rm -rf /*"
    decision: deny
    reason: "destructive"

  - patterns: ["sudo *", "su *", "chmod 777 *"]
    decision: deny
    reason: "privilege escalation"

  - patterns: ["curl * | sh", "wget * | sh", "curl * | bash"]
    decision: deny
    reason: "pipe-to-shell execution"

  - pattern: "find *"
    decision: allow
    constraints:
      - type: max_depth
        max_depth: 3
      - type: excluded_patterns
        excluded_patterns: [node_modules, .git]

  - patterns: ["ls*", "cat *", "head *", "tail *", "grep *"]
    decision: allow
    constraints:
      - type: cwd_only
      - type: no_pipe

  - patterns: ["echo*", "pwd", "whoami", "git status*", "git diff*", "git log*"]
    decision: allow

default: deny
default_reason: "command not in allowlist"
`
}
