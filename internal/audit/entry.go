package audit

import (
	"time"
	"unicode/utf8"
)

// TimestampFormat is the layout used when audit timestamps are rendered as text.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// ExecStatus is the lifecycle state recorded for a tool execution row.
type ExecStatus string

const (
	StatusStarted   ExecStatus = "started"
	StatusCompleted ExecStatus = "completed"
	StatusFailed    ExecStatus = "failed"
)

// Session lifecycle event types with special meaning for metrics.
const (
	SessionStart = "session_start"
	SessionEnd   = "session_end"
)

// maxSummaryLen bounds the stored result summary.
const maxSummaryLen = 2000

// ToolStart records the beginning of a tool invocation.
type ToolStart struct {
	Timestamp time.Time // zero = now
	SessionID string
	CallID    string
	ToolName  string
	Args      any // marshaled to JSON; nil stores NULL
}

// ToolEnd records the end of a tool invocation. It is inserted as its own
// row and correlated with the start by CallID.
type ToolEnd struct {
	Timestamp     time.Time // zero = now
	SessionID     string
	CallID        string
	ToolName      string
	Failed        bool
	ResultSummary string
	// Duration of the call. Zero derives it from the matching start row.
	Duration time.Duration
}

// SessionEvent records a session lifecycle event.
type SessionEvent struct {
	Timestamp time.Time
	SessionID string
	EventType string
	Details   any
}

// PermissionEvent records one permission decision.
type PermissionEvent struct {
	Timestamp      time.Time
	SessionID      string
	PermissionType string
	Resource       string
	Status         string
	Details        any
}

// ToolExecution is one stored tool_execution_log row.
type ToolExecution struct {
	ID            string     `json:"id"`
	Timestamp     time.Time  `json:"timestamp"`
	SessionID     string     `json:"session_id"`
	CallID        string     `json:"call_id"`
	ToolName      string     `json:"tool_name"`
	Status        ExecStatus `json:"decision"`
	Args          string     `json:"args,omitempty"`
	ResultSummary string     `json:"result_summary,omitempty"`
	DurationMs    *int64     `json:"duration_ms,omitempty"`
}

// PermissionRecord is one stored permission_event row.
type PermissionRecord struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	SessionID      string    `json:"session_id"`
	PermissionType string    `json:"permission_type"`
	Resource       string    `json:"resource,omitempty"`
	Status         string    `json:"status"`
	Details        string    `json:"details,omitempty"`
}

// TimelineKind distinguishes merged timeline rows.
type TimelineKind string

const (
	KindTool    TimelineKind = "tool"
	KindSession TimelineKind = "session"
)

// TimelineEvent is one row of a reconstructed session timeline.
type TimelineEvent struct {
	Timestamp  time.Time    `json:"timestamp"`
	Kind       TimelineKind `json:"kind"`
	SessionID  string       `json:"session_id"`
	Name       string       `json:"name"` // tool name or session event type
	Status     string       `json:"status,omitempty"`
	CallID     string       `json:"call_id,omitempty"`
	Detail     string       `json:"detail,omitempty"`
	DurationMs *int64       `json:"duration_ms,omitempty"`
}

// Filter narrows reads. All set fields must hold (conjunction).
type Filter struct {
	Since     time.Time // inclusive; zero = unbounded
	Until     time.Time // inclusive; zero = unbounded
	SessionID string
	Name      string // tool name, or permission type for permission reads
	Limit     int    // 0 = DefaultLimit
}

// DefaultLimit caps log reads when Filter.Limit is unset.
const DefaultLimit = 100

// Stats summarizes tool executions matching a filter.
type Stats struct {
	Started       int64     `json:"started"`
	Completed     int64     `json:"completed"`
	Failed        int64     `json:"failed"`
	InProgress    int64     `json:"in_progress"`
	AvgDurationMs float64   `json:"avg_duration_ms"`
	Sessions      int64     `json:"sessions"`
	PermAllowed   int64     `json:"permissions_allowed"`
	PermDenied    int64     `json:"permissions_denied"`
	First         time.Time `json:"first,omitzero"`
	Last          time.Time `json:"last,omitzero"`
}

// NameUsage is one row of the per-tool usage ranking.
type NameUsage struct {
	Name          string  `json:"name"`
	Calls         int64   `json:"calls"`
	Completed     int64   `json:"completed"`
	Failed        int64   `json:"failed"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// GroupCount is a count keyed by two labels, used by the metrics exporter.
type GroupCount struct {
	Key    string
	Status string
	Count  int64
}

// Histogram holds cumulative bucket counts for the given upper bounds.
type Histogram struct {
	Bounds []float64
	Counts []uint64 // cumulative, len(Bounds)
	Count  uint64
	Sum    float64
}

// truncate shortens s to at most max bytes, marking the cut. The cut
// never splits a UTF-8 sequence.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:runeBoundary(s, max)]
	}
	return s[:runeBoundary(s, max-3)] + "..."
}

// runeBoundary steps back from n to the start of the rune containing it.
func runeBoundary(s string, n int) int {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}
