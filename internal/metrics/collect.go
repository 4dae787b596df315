// Package metrics exports audit aggregates in the Prometheus text
// exposition format.
package metrics

import (
	"context"

	"github.com/ppiankov/permguard/internal/audit"
)

// DurationBuckets is the fixed upper-bound ladder, in milliseconds, for the
// tool duration histogram. +Inf is implied.
var DurationBuckets = []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Source is the subset of the audit store the collector reads.
type Source interface {
	ExecutionCounts(ctx context.Context) []audit.GroupCount
	PermissionCounts(ctx context.Context) []audit.GroupCount
	DurationHistogram(ctx context.Context, bounds []float64) audit.Histogram
	InProgress(ctx context.Context) int64
	ActiveSessions(ctx context.Context) int64
	SizeBytes() int64
}

// Data is one snapshot of every exported family.
type Data struct {
	Executions     []audit.GroupCount
	Duration       audit.Histogram
	InProgress     int64
	Permissions    []audit.GroupCount
	ActiveSessions int64
	DBSizeBytes    int64
}

// Collector gathers Data from an audit source.
type Collector struct {
	src Source
}

// NewCollector returns a collector reading from src.
func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

// Collect runs the aggregation queries. Source failures surface as zeros.
func (c *Collector) Collect(ctx context.Context) Data {
	return Data{
		Executions:     c.src.ExecutionCounts(ctx),
		Duration:       c.src.DurationHistogram(ctx, DurationBuckets),
		InProgress:     c.src.InProgress(ctx),
		Permissions:    c.src.PermissionCounts(ctx),
		ActiveSessions: c.src.ActiveSessions(ctx),
		DBSizeBytes:    c.src.SizeBytes(),
	}
}
