package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a session timeline as human-readable text.
func FormatTimeline(sessionID string, events []TimelineEvent) string {
	if len(events) == 0 {
		return fmt.Sprintf("Session: %s | No events found.\n", sessionID)
	}

	var b strings.Builder

	first := events[0].Timestamp
	last := events[len(events)-1].Timestamp
	b.WriteString(fmt.Sprintf("Session: %s | %s–%s UTC\n", sessionID,
		first.UTC().Format("2006-01-02 15:04:05"), last.UTC().Format("15:04:05")))
	b.WriteString(separator + "\n")

	var tools, failed int
	for _, e := range events {
		ts := e.Timestamp.UTC().Format("15:04:05")
		status := strings.ToUpper(e.Status)
		if e.Kind == KindSession {
			status = "SESSION"
		}
		if e.Kind == KindTool && e.Status == string(StatusStarted) {
			tools++
		}
		if e.Status == string(StatusFailed) {
			failed++
		}

		duration := ""
		if e.DurationMs != nil {
			duration = fmt.Sprintf("%dms", *e.DurationMs)
		}

		b.WriteString(fmt.Sprintf("%-10s %-10s %-20s %-8s %s\n",
			ts, status, truncate(e.Name, 20), duration, truncate(e.Detail, 40)))
	}

	b.WriteString(separator + "\n")
	b.WriteString(fmt.Sprintf("Summary: %d events, %d tool calls, %d failed, spanning %s\n",
		len(events), tools, failed, last.Sub(first).Round(time.Millisecond)))
	return b.String()
}

// FormatLogs renders tool execution rows one per line.
func FormatLogs(rows []ToolExecution) string {
	if len(rows) == 0 {
		return "No tool executions found.\n"
	}
	var b strings.Builder
	for _, r := range rows {
		duration := "-"
		if r.DurationMs != nil {
			duration = fmt.Sprintf("%dms", *r.DurationMs)
		}
		b.WriteString(fmt.Sprintf("%s  %-10s %-20s %-8s session=%s call=%s\n",
			r.Timestamp.UTC().Format(TimestampFormat), strings.ToUpper(string(r.Status)),
			truncate(r.ToolName, 20), duration, r.SessionID, r.CallID))
	}
	return b.String()
}

// FormatStats renders a Stats summary with the database size.
func FormatStats(st Stats, sizeBytes int64) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("Tool executions: %s started, %s completed, %s failed, %s in progress\n",
		humanize.Comma(st.Started), humanize.Comma(st.Completed),
		humanize.Comma(st.Failed), humanize.Comma(st.InProgress)))
	b.WriteString(fmt.Sprintf("Average duration: %.1fms\n", st.AvgDurationMs))
	b.WriteString(fmt.Sprintf("Sessions: %s\n", humanize.Comma(st.Sessions)))
	b.WriteString(fmt.Sprintf("Permission decisions: %s allow, %s deny\n",
		humanize.Comma(st.PermAllowed), humanize.Comma(st.PermDenied)))
	if !st.First.IsZero() {
		b.WriteString(fmt.Sprintf("Window: %s to %s (last activity %s)\n",
			st.First.UTC().Format(TimestampFormat), st.Last.UTC().Format(TimestampFormat),
			humanize.Time(st.Last)))
	}
	b.WriteString(fmt.Sprintf("Database size: %s\n", humanize.IBytes(uint64(sizeBytes))))
	return b.String()
}

// FormatUsage renders a usage ranking as a table.
func FormatUsage(rows []NameUsage) string {
	if len(rows) == 0 {
		return "No tool usage recorded.\n"
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%-24s %8s %10s %8s %10s\n", "TOOL", "CALLS", "COMPLETED", "FAILED", "AVG_MS"))
	for _, r := range rows {
		b.WriteString(fmt.Sprintf("%-24s %8d %10d %8d %10.1f\n",
			truncate(r.Name, 24), r.Calls, r.Completed, r.Failed, r.AvgDurationMs))
	}
	return b.String()
}

// FormatJSON renders any audit result as indented JSON.
func FormatJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal audit result: %w", err)
	}
	return string(data), nil
}
