package cmdguard

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ppiankov/permguard/internal/alert"
	"github.com/ppiankov/permguard/internal/audit"
)

// CommandTool is the tool name used for shell command lines.
const CommandTool = "bash"

// Hooks is the surface a tool host calls around each action.
type Hooks interface {
	BeforeTool(ctx context.Context, call ToolCall) (callID string, v Verdict, err error)
	AfterTool(ctx context.Context, out ToolOutcome)
	PermissionRequested(ctx context.Context, req PermissionRequest) Verdict
	SessionStart(ctx context.Context, sessionID string, details any)
	SessionEnd(ctx context.Context, sessionID string, details any)
}

var _ Hooks = (*Guard)(nil)

// ToolCall describes an action about to run.
type ToolCall struct {
	SessionID string
	CallID    string // generated when empty
	ToolName  string
	Input     string // text the rules match; the tool name when empty
	Args      any
	WorkDir   string
}

// ToolOutcome describes a finished action.
type ToolOutcome struct {
	SessionID string
	CallID    string
	ToolName  string
	Failed    bool
	Output    string
	Duration  time.Duration // zero derives it from the start row
}

// PermissionRequest is a standalone permission query.
type PermissionRequest struct {
	SessionID string
	Type      string // e.g. the tool name
	Resource  string // text the rules match
	WorkDir   string
}

// BeforeTool checks the call and, when allowed, records its start.
// A denied call returns a *BlockedError and is not recorded as started.
func (g *Guard) BeforeTool(ctx context.Context, call ToolCall) (string, Verdict, error) {
	input := call.Input
	if input == "" {
		input = call.ToolName
	}
	v := g.PermissionRequested(ctx, PermissionRequest{
		SessionID: call.SessionID,
		Type:      call.ToolName,
		Resource:  input,
		WorkDir:   call.WorkDir,
	})
	if !v.Allowed() {
		return "", v, &BlockedError{
			Command:  input,
			Decision: v.Decision,
			Reason:   v.Reason,
			Pattern:  v.Match.Pattern(),
		}
	}

	callID := call.CallID
	if callID == "" {
		callID = ulid.Make().String()
	}
	args := call.Args
	if args == nil {
		args = map[string]any{"input": input}
	}
	g.audit.RecordToolExecutionStart(ctx, audit.ToolStart{
		SessionID: call.SessionID,
		CallID:    callID,
		ToolName:  call.ToolName,
		Args:      args,
	})
	return callID, v, nil
}

// AfterTool records the end of a call. Output is redacted before storage.
func (g *Guard) AfterTool(ctx context.Context, out ToolOutcome) {
	summary, _ := ScanOutputFull(out.Output)
	g.audit.RecordToolExecutionEnd(ctx, audit.ToolEnd{
		SessionID:     out.SessionID,
		CallID:        out.CallID,
		ToolName:      out.ToolName,
		Failed:        out.Failed,
		ResultSummary: summary,
		Duration:      out.Duration,
	})
}

// PermissionRequested evaluates the resource and records the decision.
func (g *Guard) PermissionRequested(ctx context.Context, req PermissionRequest) Verdict {
	v := g.check(g.rules.Config(), req.Resource, req.WorkDir)

	sensitivity, tags := classifyCommand(req.Resource)
	details := map[string]any{
		"reason":      v.Reason,
		"is_default":  v.Match.IsDefault,
		"sensitivity": sensitivity,
		"rules_hash":  v.RulesHash,
	}
	if p := v.Match.Pattern(); p != "" {
		details["pattern"] = p
	}
	if len(tags) > 0 {
		details["tags"] = tags
	}
	if v.Constraint != nil && !v.Constraint.Valid {
		details["constraint"] = v.Constraint.Type
		details["violation"] = v.Constraint.Violation
	}

	g.audit.RecordPermissionEvent(ctx, audit.PermissionEvent{
		SessionID:      req.SessionID,
		PermissionType: req.Type,
		Resource:       req.Resource,
		Status:         string(v.Decision),
		Details:        details,
	})
	if !v.Allowed() {
		g.logger.Info("permission denied", "type", req.Type, "resource", req.Resource, "reason", v.Reason)
	}

	event := alert.Event{
		Timestamp:   g.now().UTC().Format(audit.TimestampFormat),
		SessionID:   req.SessionID,
		Tool:        req.Type,
		Resource:    req.Resource,
		Decision:    string(v.Decision),
		Reason:      v.Reason,
		Pattern:     v.Match.Pattern(),
		Sensitivity: sensitivity,
		RulesHash:   v.RulesHash,
	}
	if v.Constraint != nil && !v.Constraint.Valid {
		event.Violation = v.Constraint.Type
	}
	g.alerts.Dispatch(event)
	return v
}

// SessionStart records the start of a session.
func (g *Guard) SessionStart(ctx context.Context, sessionID string, details any) {
	g.audit.RecordSessionEvent(ctx, audit.SessionEvent{SessionID: sessionID, EventType: audit.SessionStart, Details: details})
}

// SessionEnd records the end of a session.
func (g *Guard) SessionEnd(ctx context.Context, sessionID string, details any) {
	g.audit.RecordSessionEvent(ctx, audit.SessionEvent{SessionID: sessionID, EventType: audit.SessionEnd, Details: details})
}

// SessionEvent records any other lifecycle event.
func (g *Guard) SessionEvent(ctx context.Context, sessionID, eventType string, details any) {
	g.audit.RecordSessionEvent(ctx, audit.SessionEvent{SessionID: sessionID, EventType: eventType, Details: details})
}
