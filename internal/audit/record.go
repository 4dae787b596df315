package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// RecordToolExecutionStart inserts a started row. Never fails.
func (s *Store) RecordToolExecutionStart(ctx context.Context, e ToolStart) {
	s.swallow("record tool start", s.insertToolStart(ctx, e))
}

// RecordToolExecutionEnd inserts a completed or failed row correlated with
// the start by call id. Never fails.
func (s *Store) RecordToolExecutionEnd(ctx context.Context, e ToolEnd) {
	s.swallow("record tool end", s.insertToolEnd(ctx, e))
}

// RecordSessionEvent inserts a session lifecycle row. Never fails.
func (s *Store) RecordSessionEvent(ctx context.Context, e SessionEvent) {
	s.swallow("record session event", s.insertSessionEvent(ctx, e))
}

// RecordPermissionEvent inserts a permission decision row. Never fails.
func (s *Store) RecordPermissionEvent(ctx context.Context, e PermissionEvent) {
	s.swallow("record permission event", s.insertPermissionEvent(ctx, e))
}

func (s *Store) insertToolStart(ctx context.Context, e ToolStart) error {
	if e.CallID == "" || e.ToolName == "" {
		return fmt.Errorf("tool start requires call id and tool name")
	}
	args, err := marshalNullable(e.Args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}
	return s.exec(ctx, `
		INSERT INTO tool_execution_log (id, timestamp, session_id, call_id, tool_name, decision, args)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		newID(), s.timestamp(e.Timestamp), e.SessionID, e.CallID, e.ToolName, string(StatusStarted), args)
}

func (s *Store) insertToolEnd(ctx context.Context, e ToolEnd) error {
	if e.CallID == "" {
		return fmt.Errorf("tool end requires call id")
	}
	ts := s.timestamp(e.Timestamp)

	status := StatusCompleted
	if e.Failed {
		status = StatusFailed
	}

	var duration sql.NullInt64
	if e.Duration > 0 {
		duration = sql.NullInt64{Int64: e.Duration.Milliseconds(), Valid: true}
	}

	// Fill whatever the caller left out from the start row.
	if !duration.Valid || e.ToolName == "" || e.SessionID == "" {
		var (
			startTS   int64
			toolName  string
			sessionID string
		)
		err := s.db.QueryRowContext(ctx, `
			SELECT timestamp, tool_name, session_id FROM tool_execution_log
			WHERE call_id = ? AND decision = 'started'
			ORDER BY timestamp DESC LIMIT 1`, e.CallID).Scan(&startTS, &toolName, &sessionID)
		switch {
		case err == nil:
			if !duration.Valid {
				d := ts - startTS
				if d < 0 {
					d = 0
				}
				duration = sql.NullInt64{Int64: d, Valid: true}
			}
			if e.ToolName == "" {
				e.ToolName = toolName
			}
			if e.SessionID == "" {
				e.SessionID = sessionID
			}
		case errors.Is(err, sql.ErrNoRows):
		default:
			return fmt.Errorf("look up start row: %w", err)
		}
	}
	if e.ToolName == "" {
		return fmt.Errorf("tool end for call %s has no tool name and no start row", e.CallID)
	}

	var summary sql.NullString
	if e.ResultSummary != "" {
		summary = sql.NullString{String: truncate(e.ResultSummary, maxSummaryLen), Valid: true}
	}

	return s.exec(ctx, `
		INSERT INTO tool_execution_log (id, timestamp, session_id, call_id, tool_name, decision, result_summary, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		newID(), ts, e.SessionID, e.CallID, e.ToolName, string(status), summary, duration)
}

func (s *Store) insertSessionEvent(ctx context.Context, e SessionEvent) error {
	if e.SessionID == "" || e.EventType == "" {
		return fmt.Errorf("session event requires session id and event type")
	}
	details, err := marshalNullable(e.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	return s.exec(ctx, `
		INSERT INTO session_log (id, timestamp, session_id, event_type, details)
		VALUES (?, ?, ?, ?, ?)`,
		newID(), s.timestamp(e.Timestamp), e.SessionID, e.EventType, details)
}

func (s *Store) insertPermissionEvent(ctx context.Context, e PermissionEvent) error {
	if e.PermissionType == "" || e.Status == "" {
		return fmt.Errorf("permission event requires type and status")
	}
	details, err := marshalNullable(e.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	var resource sql.NullString
	if e.Resource != "" {
		resource = sql.NullString{String: e.Resource, Valid: true}
	}
	return s.exec(ctx, `
		INSERT INTO permission_event (id, timestamp, session_id, permission_type, resource, status, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		newID(), s.timestamp(e.Timestamp), e.SessionID, e.PermissionType, resource, e.Status, details)
}

// marshalNullable encodes v as JSON. Strings that already hold JSON are
// stored as-is; nil becomes NULL.
func marshalNullable(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case json.RawMessage:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
		return sql.NullString{String: string(val), Valid: true}, nil
	case string:
		if json.Valid([]byte(val)) {
			return sql.NullString{String: val, Valid: true}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
