package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/permguard/internal/constraint"
	"github.com/ppiankov/permguard/internal/model"
)

func writeRules(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return path
}

func shellOpts() LoadOptions {
	return LoadOptions{CheckConstraint: constraint.NewValidator(constraint.ShellKinds()).CheckShape}
}

func TestLoadValidYAML(t *testing.T) {
	path := writeRules(t, "rules.yaml", `
rules:
  - pattern: "echo*"
    decision: allow
  - pattern: "rm -rf /"
    decision: deny
    reason: destructive
default: deny
default_reason: "not allowed"
`)
	cfg := Load(path, LoadOptions{})
	if cfg.FailSafe() {
		t.Fatalf("expected valid config, got errors %v", cfg.Errors)
	}
	if len(cfg.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(cfg.Rules))
	}
	if cfg.Default != model.Deny {
		t.Errorf("expected default deny, got %s", cfg.Default)
	}
	if cfg.DefaultReason != "not allowed" {
		t.Errorf("expected default_reason, got %q", cfg.DefaultReason)
	}
	if cfg.Source != path {
		t.Errorf("expected source %s, got %s", path, cfg.Source)
	}
	if !strings.HasPrefix(cfg.Hash, "sha256:") {
		t.Errorf("expected sha256 hash, got %q", cfg.Hash)
	}
}

func TestLoadDefaultsWhenOmitted(t *testing.T) {
	path := writeRules(t, "rules.yaml", "rules: []\n")
	cfg := Load(path, LoadOptions{})
	if cfg.FailSafe() {
		t.Fatalf("unexpected errors: %v", cfg.Errors)
	}
	if cfg.Default != model.Deny {
		t.Errorf("expected omitted default to be deny, got %s", cfg.Default)
	}
	if cfg.DefaultReason != DefaultReason {
		t.Errorf("expected %q, got %q", DefaultReason, cfg.DefaultReason)
	}
}

func TestLoadDefaultAllow(t *testing.T) {
	path := writeRules(t, "rules.yaml", "rules: []\ndefault: allow\n")
	cfg := Load(path, LoadOptions{})
	if cfg.Default != model.Allow {
		t.Errorf("expected default allow, got %s", cfg.Default)
	}
}

func TestPatternsExpandInOrder(t *testing.T) {
	path := writeRules(t, "rules.yaml", `
rules:
  - pattern: "a"
    decision: deny
  - patterns: ["b", "c", "d"]
    decision: allow
    reason: shared
  - pattern: "e"
    decision: allow
`)
	cfg := Load(path, LoadOptions{})
	if cfg.FailSafe() {
		t.Fatalf("unexpected errors: %v", cfg.Errors)
	}
	var got []string
	for _, r := range cfg.Rules {
		got = append(got, r.Pattern)
	}
	if strings.Join(got, ",") != "a,b,c,d,e" {
		t.Fatalf("expected order a,b,c,d,e, got %v", got)
	}
	for _, r := range cfg.Rules[1:4] {
		if r.Reason != "shared" || r.Decision != model.Allow {
			t.Errorf("expected expanded rule to share decision and reason, got %+v", r.Rule)
		}
	}
}

func TestLoadJSONC(t *testing.T) {
	path := writeRules(t, "rules.jsonc", `{
  // comments are allowed
  "rules": [
    {"pattern": "find *", "decision": "allow",
     "constraints": [{"type": "max_depth", "max_depth": 2}]},
  ],
  "default": "deny",
}`)
	cfg := Load(path, shellOpts())
	if cfg.FailSafe() {
		t.Fatalf("unexpected errors: %v", cfg.Errors)
	}
	if len(cfg.Rules) != 1 || len(cfg.Rules[0].Constraints) != 1 {
		t.Fatalf("expected one rule with one constraint, got %+v", cfg.Rules)
	}
	if cfg.Rules[0].Constraints[0].Type != "max_depth" {
		t.Errorf("expected max_depth constraint, got %q", cfg.Rules[0].Constraints[0].Type)
	}
}

func TestFailSafeCases(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"non-object", "- just\n- a list\n", "must be a mapping"},
		{"scalar", "hello\n", "must be a mapping"},
		{"empty", "", "must be a mapping"},
		{"missing rules", "default: deny\n", "missing \"rules\""},
		{"rules not array", "rules: {pattern: x}\n", "rules must be an array"},
		{"rule without pattern", "rules:\n  - decision: allow\n", "missing \"pattern\" or \"patterns\""},
		{"pattern and patterns", "rules:\n  - pattern: a\n    patterns: [b]\n    decision: allow\n", "not both"},
		{"pattern not string", "rules:\n  - pattern: [a]\n    decision: allow\n", "pattern must be a string"},
		{"patterns element", "rules:\n  - patterns: [a, 3]\n    decision: allow\n", "patterns[1] must be a string"},
		{"empty patterns", "rules:\n  - patterns: []\n    decision: allow\n", "must not be empty"},
		{"bad decision", "rules:\n  - pattern: a\n    decision: maybe\n", "decision must be"},
		{"missing decision", "rules:\n  - pattern: a\n", "missing \"decision\""},
		{"bad reason", "rules:\n  - pattern: a\n    decision: deny\n    reason: [x]\n", "reason must be a string"},
		{"bad default", "rules: []\ndefault: ask\n", "default must be"},
		{"bad default_reason", "rules: []\ndefault_reason: 5\n", "default_reason must be a string"},
		{"constraints not array", "rules:\n  - pattern: a\n    decision: allow\n    constraints: cwd_only\n", "constraints must be an array"},
		{"constraint without type", "rules:\n  - pattern: a\n    decision: allow\n    constraints: [{max_depth: 1}]\n", "missing \"type\""},
		{"unknown constraint", "rules:\n  - pattern: a\n    decision: allow\n    constraints: [{type: teleport}]\n", "unknown constraint type"},
		{"bad constraint params", "rules:\n  - pattern: a\n    decision: allow\n    constraints: [{type: max_depth}]\n", "requires \"max_depth\""},
		{"garbage", "{{{not yaml", "parse:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeRules(t, "rules.yaml", tt.content)
			cfg := Load(path, shellOpts())
			if !cfg.FailSafe() {
				t.Fatal("expected fail-safe config")
			}
			if len(cfg.Rules) != 0 || cfg.Default != model.Deny {
				t.Fatalf("expected deny-all config, got %d rules default %s", len(cfg.Rules), cfg.Default)
			}
			joined := strings.Join(cfg.Errors, "\n")
			if !strings.Contains(joined, tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, joined)
			}
		})
	}
}

func TestValidationCollectsAllErrors(t *testing.T) {
	_, err := Parse([]byte(`
rules:
  - decision: allow
  - pattern: x
    decision: maybe
default: sometimes
`), FormatYAML, LoadOptions{})
	verr, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verr) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(verr), verr)
	}
	if !strings.Contains(verr.Error(), "3 errors") {
		t.Errorf("unexpected error text %q", verr.Error())
	}
}

func TestUnreadableFileFailsSafe(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "missing.yaml"), LoadOptions{})
	if !cfg.FailSafe() {
		t.Fatal("expected fail-safe config for missing file")
	}
	result := cfg.Evaluate("echo hi")
	if result.Decision != model.Deny || !result.IsDefault {
		t.Errorf("expected default deny, got %+v", result)
	}
	if result.Reason != FailSafeReason {
		t.Errorf("expected fail-safe reason, got %q", result.Reason)
	}
}

func TestNullReasonAccepted(t *testing.T) {
	cfg, err := Parse([]byte("rules:\n  - pattern: a\n    decision: deny\n    reason: null\n"), FormatYAML, LoadOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Rules[0].Reason != "" {
		t.Errorf("expected empty reason, got %q", cfg.Rules[0].Reason)
	}
}

func TestDefaultConfigYAMLIsValid(t *testing.T) {
	cfg, err := Parse([]byte(DefaultConfigYAML()), FormatYAML, shellOpts())
	if err != nil {
		t.Fatalf("starter rules invalid: %v", err)
	}
	if len(cfg.Rules) == 0 {
		t.Fatal("expected starter rules")
	}
	if r := cfg.Evaluate("rm -rf /"); r.Decision != model.Deny {
		t.Errorf("expected starter rules to deny rm -rf /, got %s", r.Decision)
	}
	if r := cfg.Evaluate("echo hello"); r.Decision != model.Allow {
		t.Errorf("expected starter rules to allow echo, got %s", r.Decision)
	}
}

func TestFormatFor(t *testing.T) {
	tests := map[string]Format{
		"rules.yaml":  FormatYAML,
		"rules.yml":   FormatYAML,
		"rules":       FormatYAML,
		"rules.json":  FormatJSONC,
		"rules.JSONC": FormatJSONC,
	}
	for path, want := range tests {
		if got := FormatFor(path); got != want {
			t.Errorf("FormatFor(%q) = %v, want %v", path, got, want)
		}
	}
}
