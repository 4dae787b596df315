package audit

import (
	"context"
	"fmt"
	"strings"
)

// The queries below feed the metrics exporter. Each reports its own
// failure and returns zero values, so a scrape always has something to show.

// ExecutionCounts returns row counts grouped by (tool_name, decision),
// sorted by tool then status.
func (s *Store) ExecutionCounts(ctx context.Context) []GroupCount {
	out, err := s.groupCounts(ctx, `
		SELECT tool_name, decision, COUNT(*) FROM tool_execution_log
		GROUP BY tool_name, decision
		ORDER BY tool_name ASC, decision ASC`)
	if err != nil {
		s.swallow("metrics execution counts", err)
		return nil
	}
	return out
}

// PermissionCounts returns permission events grouped by (type, status),
// sorted by type then status.
func (s *Store) PermissionCounts(ctx context.Context) []GroupCount {
	out, err := s.groupCounts(ctx, `
		SELECT permission_type, status, COUNT(*) FROM permission_event
		GROUP BY permission_type, status
		ORDER BY permission_type ASC, status ASC`)
	if err != nil {
		s.swallow("metrics permission counts", err)
		return nil
	}
	return out
}

func (s *Store) groupCounts(ctx context.Context, query string) ([]GroupCount, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupCount
	for rows.Next() {
		var g GroupCount
		if err := rows.Scan(&g.Key, &g.Status, &g.Count); err != nil {
			return nil, fmt.Errorf("scan group count: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DurationHistogram buckets the durations of finished executions.
// bounds must be ascending; counts are cumulative (value <= bound).
func (s *Store) DurationHistogram(ctx context.Context, bounds []float64) Histogram {
	h := Histogram{Bounds: bounds, Counts: make([]uint64, len(bounds))}
	if err := s.queryHistogram(ctx, &h); err != nil {
		s.swallow("metrics duration histogram", err)
		return Histogram{Bounds: bounds, Counts: make([]uint64, len(bounds))}
	}
	return h
}

func (s *Store) queryHistogram(ctx context.Context, h *Histogram) error {
	cols := make([]string, 0, len(h.Bounds)+2)
	args := make([]any, 0, len(h.Bounds))
	cols = append(cols, "COUNT(*)", "COALESCE(SUM(duration_ms), 0)")
	for _, b := range h.Bounds {
		cols = append(cols, "COALESCE(SUM(duration_ms <= ?), 0)")
		args = append(args, b)
	}
	query := "SELECT " + strings.Join(cols, ", ") + `
		FROM tool_execution_log
		WHERE decision IN ('completed', 'failed') AND duration_ms IS NOT NULL`

	var (
		count int64
		sum   float64
	)
	dest := make([]any, 0, len(h.Bounds)+2)
	bucket := make([]int64, len(h.Bounds))
	dest = append(dest, &count, &sum)
	for i := range bucket {
		dest = append(dest, &bucket[i])
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(dest...); err != nil {
		return err
	}
	h.Count = uint64(count)
	h.Sum = sum
	for i, n := range bucket {
		h.Counts[i] = uint64(n)
	}
	return nil
}

// InProgress counts started executions with no completed or failed row
// for the same call id.
func (s *Store) InProgress(ctx context.Context) int64 {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tool_execution_log t
		WHERE t.decision = 'started' AND `+inProgressCond).Scan(&n)
	if err != nil {
		s.swallow("metrics in progress", err)
		return 0
	}
	return n
}

// ActiveSessions counts sessions that have started and not ended.
func (s *Store) ActiveSessions(ctx context.Context) int64 {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT s.session_id) FROM session_log s
		WHERE s.event_type = ? AND NOT EXISTS (
			SELECT 1 FROM session_log e
			WHERE e.session_id = s.session_id AND e.event_type = ?)`,
		SessionStart, SessionEnd).Scan(&n)
	if err != nil {
		s.swallow("metrics active sessions", err)
		return 0
	}
	return n
}
