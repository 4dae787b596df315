package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ppiankov/permguard/internal/audit"
)

// ContentType is the exposition format version served on /metrics.
const ContentType = "text/plain; version=0.0.4; charset=utf-8"

const (
	nameExecutions  = "permguard_tool_executions_total"
	nameDuration    = "permguard_tool_duration_ms"
	nameInProgress  = "permguard_tool_executions_in_progress"
	namePermissions = "permguard_permission_events_total"
	nameSessions    = "permguard_active_sessions"
	nameDBSize      = "permguard_audit_db_size_bytes"
)

// Format renders d as exposition text. Output is deterministic for a given
// Data: grouped series are sorted by their label values.
func Format(d Data) string {
	var b strings.Builder

	header(&b, nameExecutions, "counter", "Tool execution rows by tool and status.")
	for _, g := range sortedGroups(d.Executions) {
		fmt.Fprintf(&b, "%s{tool=\"%s\",status=\"%s\"} %d\n",
			nameExecutions, escapeLabel(g.Key), escapeLabel(g.Status), g.Count)
	}

	header(&b, nameDuration, "histogram", "Duration of finished tool executions in milliseconds.")
	writeHistogram(&b, d.Duration)

	header(&b, nameInProgress, "gauge", "Tool executions started and not yet finished.")
	fmt.Fprintf(&b, "%s %d\n", nameInProgress, d.InProgress)

	header(&b, namePermissions, "counter", "Permission decisions by type and status.")
	for _, g := range sortedGroups(d.Permissions) {
		fmt.Fprintf(&b, "%s{type=\"%s\",status=\"%s\"} %d\n",
			namePermissions, escapeLabel(g.Key), escapeLabel(g.Status), g.Count)
	}

	header(&b, nameSessions, "gauge", "Sessions started and not yet ended.")
	fmt.Fprintf(&b, "%s %d\n", nameSessions, d.ActiveSessions)

	header(&b, nameDBSize, "gauge", "Size of the audit database on disk.")
	fmt.Fprintf(&b, "%s %d\n", nameDBSize, d.DBSizeBytes)

	return b.String()
}

func header(b *strings.Builder, name, typ, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s %s\n", name, typ)
}

// writeHistogram always emits the full bucket ladder, so an empty store
// yields zero-valued buckets rather than a bare header.
func writeHistogram(b *strings.Builder, h audit.Histogram) {
	for i, bound := range DurationBuckets {
		var n uint64
		if i < len(h.Counts) && i < len(h.Bounds) && h.Bounds[i] == bound {
			n = h.Counts[i]
		}
		fmt.Fprintf(b, "%s_bucket{le=\"%s\"} %d\n", nameDuration, formatFloat(bound), n)
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", nameDuration, h.Count)
	fmt.Fprintf(b, "%s_sum %s\n", nameDuration, formatFloat(h.Sum))
	fmt.Fprintf(b, "%s_count %d\n", nameDuration, h.Count)
}

func sortedGroups(in []audit.GroupCount) []audit.GroupCount {
	out := make([]audit.GroupCount, len(in))
	copy(out, in)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Status < out[j].Status
	})
	return out
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(v string) string {
	return labelEscaper.Replace(v)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
