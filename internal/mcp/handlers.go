package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/permguard/internal/audit"
	"github.com/ppiankov/permguard/internal/cmdguard"
)

// CheckInput defines parameters for the permission_check tool.
type CheckInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session the request belongs to"`
	Type      string `json:"type" jsonschema:"permission type, usually the tool name"`
	Resource  string `json:"resource" jsonschema:"text matched against the rules, e.g. a command line"`
	WorkDir   string `json:"workdir,omitempty" jsonschema:"working directory for path constraints"`
	DryRun    bool   `json:"dry_run,omitempty" jsonschema:"evaluate without recording"`
}

// CheckOutput contains the effective decision.
type CheckOutput struct {
	Decision   string `json:"decision"`
	Reason     string `json:"reason"`
	Pattern    string `json:"pattern,omitempty"`
	IsDefault  bool   `json:"is_default"`
	Constraint string `json:"constraint,omitempty"`
}

// ToolStartInput defines parameters for the tool_start tool.
type ToolStartInput struct {
	SessionID string `json:"session_id" jsonschema:"session the call belongs to"`
	CallID    string `json:"call_id,omitempty" jsonschema:"caller's id for the call; generated when omitted"`
	ToolName  string `json:"tool_name" jsonschema:"name of the tool being invoked"`
	Input     string `json:"input,omitempty" jsonschema:"text matched against the rules; defaults to tool_name"`
	Args      any    `json:"args,omitempty" jsonschema:"tool arguments, stored as JSON"`
	WorkDir   string `json:"workdir,omitempty" jsonschema:"working directory for path constraints"`
}

// ToolStartOutput returns the call id to pass to tool_end.
type ToolStartOutput struct {
	CallID   string `json:"call_id,omitempty"`
	Blocked  bool   `json:"blocked,omitempty"`
	Decision string `json:"decision"`
	Reason   string `json:"reason,omitempty"`
}

// ToolEndInput defines parameters for the tool_end tool.
type ToolEndInput struct {
	SessionID  string `json:"session_id,omitempty" jsonschema:"session the call belongs to"`
	CallID     string `json:"call_id" jsonschema:"id returned by tool_start"`
	ToolName   string `json:"tool_name,omitempty" jsonschema:"tool name; taken from the start record when omitted"`
	Failed     bool   `json:"failed,omitempty" jsonschema:"whether the call failed"`
	Output     string `json:"output,omitempty" jsonschema:"result summary; secrets are redacted"`
	DurationMs int64  `json:"duration_ms,omitempty" jsonschema:"call duration; derived from the start record when omitted"`
}

// RecordedOutput acknowledges a write.
type RecordedOutput struct {
	Recorded bool `json:"recorded"`
}

// SessionEventInput defines parameters for the session_event tool.
type SessionEventInput struct {
	SessionID string `json:"session_id" jsonschema:"session id"`
	EventType string `json:"event_type" jsonschema:"session_start, session_end or another event type"`
	Details   any    `json:"details,omitempty" jsonschema:"free-form details, stored as JSON"`
}

// StatsInput defines parameters for the audit_stats tool.
type StatsInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"limit to one session"`
	ToolName  string `json:"tool_name,omitempty" jsonschema:"limit to one tool"`
	Since     string `json:"since,omitempty" jsonschema:"lookback window, e.g. 1h or 24h"`
	Top       int    `json:"top,omitempty" jsonschema:"number of tools in the usage ranking (default 10)"`
}

// StatsOutput is the summary plus per-tool usage.
type StatsOutput struct {
	Started       int64             `json:"started"`
	Completed     int64             `json:"completed"`
	Failed        int64             `json:"failed"`
	InProgress    int64             `json:"in_progress"`
	AvgDurationMs float64           `json:"avg_duration_ms"`
	Sessions      int64             `json:"sessions"`
	PermAllowed   int64             `json:"permissions_allowed"`
	PermDenied    int64             `json:"permissions_denied"`
	First         string            `json:"first,omitempty"`
	Last          string            `json:"last,omitempty"`
	Usage         []audit.NameUsage `json:"usage"`
}

// ExecInput defines parameters for the exec tool.
type ExecInput struct {
	SessionID string   `json:"session_id,omitempty" jsonschema:"session the call belongs to"`
	Command   string   `json:"command" jsonschema:"command to execute"`
	Args      []string `json:"args,omitempty" jsonschema:"command arguments"`
}

// ExecOutput contains the result of command execution or block details.
type ExecOutput struct {
	CallID   string `json:"call_id,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode int    `json:"exit_code"`
	Blocked  bool   `json:"blocked,omitempty"`
	Decision string `json:"decision,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handlePermissionCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	if input.Resource == "" {
		return nil, CheckOutput{}, fmt.Errorf("resource is required")
	}
	var v cmdguard.Verdict
	if input.DryRun {
		v = s.guard.Check(input.Resource, input.WorkDir)
	} else {
		v = s.guard.PermissionRequested(ctx, cmdguard.PermissionRequest{
			SessionID: input.SessionID,
			Type:      input.Type,
			Resource:  input.Resource,
			WorkDir:   input.WorkDir,
		})
	}

	out := CheckOutput{
		Decision:  string(v.Decision),
		Reason:    v.Reason,
		Pattern:   v.Match.Pattern(),
		IsDefault: v.Match.IsDefault,
	}
	if v.Constraint != nil && !v.Constraint.Valid {
		out.Constraint = v.Constraint.Type
	}
	return nil, out, nil
}

func (s *Server) handleToolStart(ctx context.Context, req *mcpsdk.CallToolRequest, input ToolStartInput) (*mcpsdk.CallToolResult, ToolStartOutput, error) {
	if input.ToolName == "" {
		return nil, ToolStartOutput{}, fmt.Errorf("tool_name is required")
	}
	callID, v, err := s.guard.BeforeTool(ctx, cmdguard.ToolCall{
		SessionID: input.SessionID,
		CallID:    input.CallID,
		ToolName:  input.ToolName,
		Input:     input.Input,
		Args:      input.Args,
		WorkDir:   input.WorkDir,
	})
	if err != nil {
		var blocked *cmdguard.BlockedError
		if errors.As(err, &blocked) {
			return &mcpsdk.CallToolResult{IsError: true}, ToolStartOutput{
				Blocked:  true,
				Decision: string(blocked.Decision),
				Reason:   blocked.Reason,
			}, nil
		}
		return nil, ToolStartOutput{}, err
	}
	return nil, ToolStartOutput{CallID: callID, Decision: string(v.Decision), Reason: v.Reason}, nil
}

func (s *Server) handleToolEnd(ctx context.Context, req *mcpsdk.CallToolRequest, input ToolEndInput) (*mcpsdk.CallToolResult, RecordedOutput, error) {
	if input.CallID == "" {
		return nil, RecordedOutput{}, fmt.Errorf("call_id is required")
	}
	s.guard.AfterTool(ctx, cmdguard.ToolOutcome{
		SessionID: input.SessionID,
		CallID:    input.CallID,
		ToolName:  input.ToolName,
		Failed:    input.Failed,
		Output:    input.Output,
		Duration:  time.Duration(input.DurationMs) * time.Millisecond,
	})
	return nil, RecordedOutput{Recorded: true}, nil
}

func (s *Server) handleSessionEvent(ctx context.Context, req *mcpsdk.CallToolRequest, input SessionEventInput) (*mcpsdk.CallToolResult, RecordedOutput, error) {
	if input.SessionID == "" || input.EventType == "" {
		return nil, RecordedOutput{}, fmt.Errorf("session_id and event_type are required")
	}
	switch input.EventType {
	case audit.SessionStart:
		s.guard.SessionStart(ctx, input.SessionID, input.Details)
	case audit.SessionEnd:
		s.guard.SessionEnd(ctx, input.SessionID, input.Details)
	default:
		s.guard.SessionEvent(ctx, input.SessionID, input.EventType, input.Details)
	}
	return nil, RecordedOutput{Recorded: true}, nil
}

func (s *Server) handleAuditStats(ctx context.Context, req *mcpsdk.CallToolRequest, input StatsInput) (*mcpsdk.CallToolResult, StatsOutput, error) {
	if s.audit == nil {
		return nil, StatsOutput{}, fmt.Errorf("audit store is not configured")
	}
	f := audit.Filter{SessionID: input.SessionID, Name: input.ToolName}
	if input.Since != "" {
		d, err := time.ParseDuration(input.Since)
		if err != nil {
			return nil, StatsOutput{}, fmt.Errorf("invalid since %q: %w", input.Since, err)
		}
		f.Since = time.Now().Add(-d)
	}
	st := s.audit.Stats(ctx, f)
	out := StatsOutput{
		Started:       st.Started,
		Completed:     st.Completed,
		Failed:        st.Failed,
		InProgress:    st.InProgress,
		AvgDurationMs: st.AvgDurationMs,
		Sessions:      st.Sessions,
		PermAllowed:   st.PermAllowed,
		PermDenied:    st.PermDenied,
		Usage:         s.audit.UsageByName(ctx, f, input.Top),
	}
	if !st.First.IsZero() {
		out.First = st.First.Format(audit.TimestampFormat)
		out.Last = st.Last.Format(audit.TimestampFormat)
	}
	if out.Usage == nil {
		out.Usage = []audit.NameUsage{}
	}
	return nil, out, nil
}

func (s *Server) handleExec(ctx context.Context, req *mcpsdk.CallToolRequest, input ExecInput) (*mcpsdk.CallToolResult, ExecOutput, error) {
	if input.Command == "" {
		return nil, ExecOutput{}, fmt.Errorf("command is required")
	}
	result, err := s.guard.Run(ctx, input.SessionID, input.Command, input.Args, nil)
	if err != nil {
		var blocked *cmdguard.BlockedError
		if errors.As(err, &blocked) {
			return &mcpsdk.CallToolResult{IsError: true}, ExecOutput{
				Blocked:  true,
				Decision: string(blocked.Decision),
				Reason:   blocked.Reason,
			}, nil
		}
		return nil, ExecOutput{}, err
	}
	return nil, ExecOutput{
		CallID:   result.CallID,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		ExitCode: result.ExitCode,
		Decision: string(result.Decision),
	}, nil
}
