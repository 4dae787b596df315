package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// where builds the conjunctive WHERE clause for f. prefix qualifies column
// names ("t." or ""); nameCol is the column Filter.Name applies to, or "".
func (f Filter) where(prefix, nameCol string, extra ...string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !f.Since.IsZero() {
		conds = append(conds, prefix+"timestamp >= ?")
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		conds = append(conds, prefix+"timestamp <= ?")
		args = append(args, f.Until.UnixMilli())
	}
	if f.SessionID != "" {
		conds = append(conds, prefix+"session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Name != "" && nameCol != "" {
		conds = append(conds, prefix+nameCol+" = ?")
		args = append(args, f.Name)
	}
	conds = append(conds, extra...)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}

// Logs returns tool execution rows matching f, newest first.
// Read failures are reported and yield an empty list.
func (s *Store) Logs(ctx context.Context, f Filter) []ToolExecution {
	out, err := s.queryLogs(ctx, f)
	if err != nil {
		s.swallow("query logs", err)
		return nil
	}
	return out
}

func (s *Store) queryLogs(ctx context.Context, f Filter) ([]ToolExecution, error) {
	where, args := f.where("", "tool_name")
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, session_id, call_id, tool_name, decision, args, result_summary, duration_ms
		FROM tool_execution_log`+where+`
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, append(args, f.limit())...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ToolExecution
	for rows.Next() {
		var (
			e        ToolExecution
			ts       int64
			status   string
			argsJSON sql.NullString
			summary  sql.NullString
			duration sql.NullInt64
		)
		if err := rows.Scan(&e.ID, &ts, &e.SessionID, &e.CallID, &e.ToolName, &status, &argsJSON, &summary, &duration); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		e.Timestamp = fromMillis(ts)
		e.Status = ExecStatus(status)
		e.Args = argsJSON.String
		e.ResultSummary = summary.String
		if duration.Valid {
			d := duration.Int64
			e.DurationMs = &d
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PermissionLog returns permission events matching f, newest first.
// Filter.Name matches the permission type.
func (s *Store) PermissionLog(ctx context.Context, f Filter) []PermissionRecord {
	out, err := s.queryPermissions(ctx, f)
	if err != nil {
		s.swallow("query permissions", err)
		return nil
	}
	return out
}

func (s *Store) queryPermissions(ctx context.Context, f Filter) ([]PermissionRecord, error) {
	where, args := f.where("", "permission_type")
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, session_id, permission_type, resource, status, details
		FROM permission_event`+where+`
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, append(args, f.limit())...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PermissionRecord
	for rows.Next() {
		var (
			p        PermissionRecord
			ts       int64
			resource sql.NullString
			details  sql.NullString
		)
		if err := rows.Scan(&p.ID, &ts, &p.SessionID, &p.PermissionType, &resource, &p.Status, &details); err != nil {
			return nil, fmt.Errorf("scan permission row: %w", err)
		}
		p.Timestamp = fromMillis(ts)
		p.Resource = resource.String
		p.Details = details.String
		out = append(out, p)
	}
	return out, rows.Err()
}

// Stats summarizes tool executions and permission decisions matching f.
// Read failures are reported and yield zero stats.
func (s *Store) Stats(ctx context.Context, f Filter) Stats {
	st, err := s.queryStats(ctx, f)
	if err != nil {
		s.swallow("query stats", err)
		return Stats{}
	}
	return st
}

func (s *Store) queryStats(ctx context.Context, f Filter) (Stats, error) {
	var (
		st       Stats
		avg      sql.NullFloat64
		first    sql.NullInt64
		last     sql.NullInt64
		where, a = f.where("", "tool_name")
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(decision = 'started'), 0),
			COALESCE(SUM(decision = 'completed'), 0),
			COALESCE(SUM(decision = 'failed'), 0),
			AVG(CASE WHEN decision != 'started' THEN duration_ms END),
			COUNT(DISTINCT session_id),
			MIN(timestamp),
			MAX(timestamp)
		FROM tool_execution_log`+where, a...).
		Scan(&st.Started, &st.Completed, &st.Failed, &avg, &st.Sessions, &first, &last)
	if err != nil {
		return Stats{}, fmt.Errorf("execution totals: %w", err)
	}
	st.AvgDurationMs = avg.Float64
	if first.Valid {
		st.First = fromMillis(first.Int64)
	}
	if last.Valid {
		st.Last = fromMillis(last.Int64)
	}

	where, a = f.where("t.", "tool_name", "t.decision = 'started'", inProgressCond)
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tool_execution_log t`+where, a...).Scan(&st.InProgress); err != nil {
		return Stats{}, fmt.Errorf("in-progress count: %w", err)
	}

	where, a = f.where("", "")
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(status = 'allow'), 0), COALESCE(SUM(status = 'deny'), 0)
		FROM permission_event`+where, a...).Scan(&st.PermAllowed, &st.PermDenied)
	if err != nil {
		return Stats{}, fmt.Errorf("permission totals: %w", err)
	}
	return st, nil
}

// inProgressCond selects started rows (aliased t) with no end row yet.
const inProgressCond = `NOT EXISTS (
	SELECT 1 FROM tool_execution_log e
	WHERE e.call_id = t.call_id AND e.decision IN ('completed', 'failed'))`

// UsageByName ranks tools by number of calls, most used first, ties by name.
// topN <= 0 means 10.
func (s *Store) UsageByName(ctx context.Context, f Filter, topN int) []NameUsage {
	out, err := s.queryUsage(ctx, f, topN)
	if err != nil {
		s.swallow("query usage", err)
		return nil
	}
	return out
}

func (s *Store) queryUsage(ctx context.Context, f Filter, topN int) ([]NameUsage, error) {
	if topN <= 0 {
		topN = 10
	}
	where, args := f.where("", "tool_name")
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			tool_name,
			COALESCE(SUM(decision = 'started'), 0) AS calls,
			COALESCE(SUM(decision = 'completed'), 0),
			COALESCE(SUM(decision = 'failed'), 0),
			AVG(CASE WHEN decision != 'started' THEN duration_ms END)
		FROM tool_execution_log`+where+`
		GROUP BY tool_name
		ORDER BY calls DESC, tool_name ASC
		LIMIT ?`, append(args, topN)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NameUsage
	for rows.Next() {
		var (
			u   NameUsage
			avg sql.NullFloat64
		)
		if err := rows.Scan(&u.Name, &u.Calls, &u.Completed, &u.Failed, &avg); err != nil {
			return nil, fmt.Errorf("scan usage row: %w", err)
		}
		u.AvgDurationMs = avg.Float64
		out = append(out, u)
	}
	return out, rows.Err()
}

// SessionTimeline merges the session's tool executions and lifecycle events
// into one sequence, oldest first.
func (s *Store) SessionTimeline(ctx context.Context, sessionID string) []TimelineEvent {
	out, err := s.queryTimeline(ctx, sessionID)
	if err != nil {
		s.swallow("query timeline", err)
		return nil
	}
	return out
}

func (s *Store) queryTimeline(ctx context.Context, sessionID string) ([]TimelineEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, id, 'tool', session_id, tool_name, decision, call_id,
			COALESCE(result_summary, args, ''), duration_ms
		FROM tool_execution_log WHERE session_id = ?
		UNION ALL
		SELECT timestamp, id, 'session', session_id, event_type, '', '',
			COALESCE(details, ''), NULL
		FROM session_log WHERE session_id = ?
		ORDER BY 1 ASC, 2 ASC`, sessionID, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TimelineEvent
	for rows.Next() {
		var (
			e        TimelineEvent
			ts       int64
			id       string
			kind     string
			duration sql.NullInt64
		)
		if err := rows.Scan(&ts, &id, &kind, &e.SessionID, &e.Name, &e.Status, &e.CallID, &e.Detail, &duration); err != nil {
			return nil, fmt.Errorf("scan timeline row: %w", err)
		}
		e.Timestamp = fromMillis(ts)
		e.Kind = TimelineKind(kind)
		if duration.Valid {
			d := duration.Int64
			e.DurationMs = &d
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
