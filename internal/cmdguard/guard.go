// Package cmdguard joins the rule store, constraint validator and audit
// store into the permission check a tool host calls before and after each
// action.
package cmdguard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/ppiankov/permguard/internal/alert"
	"github.com/ppiankov/permguard/internal/audit"
	"github.com/ppiankov/permguard/internal/constraint"
	"github.com/ppiankov/permguard/internal/model"
	"github.com/ppiankov/permguard/internal/policy"
)

// Recorder is the audit surface the guard writes to. *audit.Store
// satisfies it. Implementations must not fail the caller.
type Recorder interface {
	RecordToolExecutionStart(ctx context.Context, e audit.ToolStart)
	RecordToolExecutionEnd(ctx context.Context, e audit.ToolEnd)
	RecordSessionEvent(ctx context.Context, e audit.SessionEvent)
	RecordPermissionEvent(ctx context.Context, e audit.PermissionEvent)
}

// Notifier receives permission decisions for alerting. *alert.Dispatcher
// satisfies it, including a nil one.
type Notifier interface {
	Dispatch(event alert.Event)
}

// Config holds command guard configuration.
type Config struct {
	Rules     *policy.Store
	Validator *constraint.Validator // nil uses the shell kinds
	Audit     Recorder              // nil disables auditing
	Alerts    Notifier              // nil disables alerts
	WorkDir   string                // default for calls that carry none
	Logger    *slog.Logger
}

// Verdict is the effective decision for one action. Match is the engine's
// result and is never rewritten; a constraint violation only changes
// Decision and Reason.
type Verdict struct {
	Decision   model.Decision     `json:"decision"`
	Reason     string             `json:"reason"`
	Match      policy.MatchResult `json:"match"`
	Constraint *constraint.Result `json:"constraint,omitempty"`
	RulesHash  string             `json:"rules_hash,omitempty"`
}

// Allowed reports whether the action may proceed.
func (v Verdict) Allowed() bool {
	return v.Decision.Allowed()
}

// Result captures subprocess execution outcome.
type Result struct {
	CallID   string         `json:"call_id"`
	Stdout   string         `json:"stdout"`
	Stderr   string         `json:"stderr"`
	ExitCode int            `json:"exit_code"`
	Decision model.Decision `json:"decision"`
	Redacted int            `json:"redacted,omitempty"`
}

// BlockedError is returned when the guard denies an action.
type BlockedError struct {
	Command  string
	Decision model.Decision
	Reason   string
	Pattern  string // "" when the default decided
}

func (e *BlockedError) Error() string {
	if e.Pattern == "" {
		return fmt.Sprintf("command blocked (%s): %s", e.Decision, e.Reason)
	}
	return fmt.Sprintf("command blocked (%s by %q): %s", e.Decision, e.Pattern, e.Reason)
}

// IsBlocked reports whether err is a BlockedError.
func IsBlocked(err error) bool {
	var b *BlockedError
	return errors.As(err, &b)
}

// Guard evaluates actions against the current rule set. Safe for
// concurrent use.
type Guard struct {
	rules     *policy.Store
	validator *constraint.Validator
	audit     Recorder
	alerts    Notifier
	workDir   string
	logger    *slog.Logger
	now       func() time.Time
}

// NewGuard creates a Guard.
func NewGuard(cfg Config) (*Guard, error) {
	if cfg.Rules == nil {
		return nil, fmt.Errorf("cmdguard: rule store is required")
	}
	if cfg.Validator == nil {
		cfg.Validator = constraint.NewValidator(constraint.ShellKinds())
	}
	if cfg.Audit == nil {
		cfg.Audit = nopRecorder{}
	}
	if cfg.Alerts == nil {
		cfg.Alerts = (*alert.Dispatcher)(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Guard{
		rules:     cfg.Rules,
		validator: cfg.Validator,
		audit:     cfg.Audit,
		alerts:    cfg.Alerts,
		workDir:   cfg.WorkDir,
		logger:    cfg.Logger,
		now:       time.Now,
	}, nil
}

// Check evaluates input without recording anything. Dry-run mode.
func (g *Guard) Check(input, workDir string) Verdict {
	return g.check(g.rules.Config(), input, workDir)
}

// Trace is Check plus the per-rule walk. The trace entries carry each
// rule's own decision; a constraint override shows up only in the Verdict.
func (g *Guard) Trace(input, workDir string) (Verdict, []policy.TraceEntry) {
	cfg := g.rules.Config()
	m, trace := cfg.EvaluateWithTrace(input)
	return g.resolve(cfg, m, input, workDir), trace
}

// check evaluates against one config snapshot so every field of the
// verdict comes from the same rule set.
func (g *Guard) check(cfg *policy.PermissionsConfig, input, workDir string) Verdict {
	return g.resolve(cfg, cfg.Evaluate(input), input, workDir)
}

func (g *Guard) resolve(cfg *policy.PermissionsConfig, m policy.MatchResult, input, workDir string) Verdict {
	v := Verdict{Decision: m.Decision, Reason: m.Reason, Match: m, RulesHash: cfg.Hash}
	if m.Rule == nil || !m.Rule.HasConstraints() {
		return v
	}
	if workDir == "" {
		workDir = g.workDir
	}
	r := g.validator.Validate(m.Rule.Constraints, constraint.Context{Input: input, WorkDir: workDir})
	v.Constraint = &r
	if !r.Valid {
		v.Decision = model.Deny
		v.Reason = fmt.Sprintf("constraint %s violated: %s", r.Type, r.Violation)
	}
	return v
}

// Run evaluates the command, executes it if allowed and audits both ends.
func (g *Guard) Run(ctx context.Context, sessionID, name string, args []string, stdin io.Reader) (*Result, error) {
	input := commandLine(name, args)
	call := ToolCall{
		SessionID: sessionID,
		ToolName:  CommandTool,
		Input:     input,
		Args:      map[string]any{"name": name, "args": args},
	}
	callID, v, err := g.BeforeTool(ctx, call)
	if err != nil {
		return nil, err
	}

	start := g.now()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = sanitizeEnv(os.Environ())
	if g.workDir != "" {
		cmd.Dir = g.workDir
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = stdin
	}

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			g.AfterTool(ctx, ToolOutcome{SessionID: sessionID, CallID: callID, ToolName: CommandTool,
				Failed: true, Output: runErr.Error(), Duration: g.now().Sub(start)})
			return nil, runErr
		}
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			exitCode = status.ExitStatus()
		}
	}

	out, n := ScanOutputFull(stdout.String())
	errOut, m := ScanOutputFull(stderr.String())
	g.AfterTool(ctx, ToolOutcome{
		SessionID: sessionID,
		CallID:    callID,
		ToolName:  CommandTool,
		Failed:    exitCode != 0,
		Output:    out,
		Duration:  g.now().Sub(start),
	})

	return &Result{
		CallID:   callID,
		Stdout:   out,
		Stderr:   errOut,
		ExitCode: exitCode,
		Decision: v.Decision,
		Redacted: n + m,
	}, nil
}

// commandLine renders argv as the shell line that would run it, so the
// rules and constraints see the same words exec will pass.
func commandLine(name string, args []string) string {
	words := make([]string, 0, len(args)+1)
	words = append(words, shellQuote(name))
	for _, a := range args {
		words = append(words, shellQuote(a))
	}
	return strings.Join(words, " ")
}

// shellQuote single-quotes s unless it is made only of characters the
// shell never treats specially.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !isShellSafe(r) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isShellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("-_./=:,+@%", r)
}

type nopRecorder struct{}

func (nopRecorder) RecordToolExecutionStart(context.Context, audit.ToolStart)    {}
func (nopRecorder) RecordToolExecutionEnd(context.Context, audit.ToolEnd)        {}
func (nopRecorder) RecordSessionEvent(context.Context, audit.SessionEvent)       {}
func (nopRecorder) RecordPermissionEvent(context.Context, audit.PermissionEvent) {}
