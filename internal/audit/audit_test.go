package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type reported struct {
	mu   sync.Mutex
	errs []string
}

func (r *reported) hook(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, op+": "+err.Error())
}

func (r *reported) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func newTestStore(t *testing.T) (*Store, *reported) {
	t.Helper()
	rep := &reported{}
	s, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "nested", "audit.db"),
		Reporter: rep.hook,
	})
	if err != nil {
		t.Fatalf("failed to open audit store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, rep
}

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func TestOpenCreatesDirectoryAndIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "audit.db")
	s, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected database file: %v", err)
	}

	s, err = Open(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen with existing schema: %v", err)
	}
	s.Close()
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestRoundTripStartThenComplete(t *testing.T) {
	s, rep := newTestStore(t)
	ctx := context.Background()

	s.RecordToolExecutionStart(ctx, ToolStart{Timestamp: at(0), SessionID: "s1", CallID: "c1", ToolName: "bash", Args: map[string]any{"command": "ls"}})
	if got := s.InProgress(ctx); got != 1 {
		t.Fatalf("expected 1 in progress, got %d", got)
	}

	s.RecordToolExecutionEnd(ctx, ToolEnd{Timestamp: at(2), CallID: "c1", ResultSummary: "ok"})
	if got := s.InProgress(ctx); got != 0 {
		t.Fatalf("expected 0 in progress after completion, got %d", got)
	}

	st := s.Stats(ctx, Filter{})
	if st.Completed != 1 {
		t.Errorf("expected exactly 1 completed, got %d", st.Completed)
	}
	if st.Started != 1 || st.InProgress != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
	if st.AvgDurationMs != 2000 {
		t.Errorf("expected derived duration 2000ms, got %v", st.AvgDurationMs)
	}
	if rep.count() != 0 {
		t.Errorf("unexpected reported errors: %v", rep.errs)
	}

	logs := s.Logs(ctx, Filter{})
	if len(logs) != 2 {
		t.Fatalf("expected 2 rows (insert-only), got %d", len(logs))
	}
	end := logs[0]
	if end.Status != StatusCompleted || end.ToolName != "bash" || end.SessionID != "s1" {
		t.Errorf("expected end row to inherit tool and session, got %+v", end)
	}
	if end.DurationMs == nil || *end.DurationMs != 2000 {
		t.Errorf("expected duration 2000, got %v", end.DurationMs)
	}
	if logs[1].Args != `{"command":"ls"}` {
		t.Errorf("expected args JSON on start row, got %q", logs[1].Args)
	}
}

func TestExplicitDurationAndFailure(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.RecordToolExecutionStart(ctx, ToolStart{Timestamp: at(0), SessionID: "s1", CallID: "c1", ToolName: "bash"})
	s.RecordToolExecutionEnd(ctx, ToolEnd{Timestamp: at(10), SessionID: "s1", CallID: "c1", ToolName: "bash", Failed: true, Duration: 150 * time.Millisecond})

	st := s.Stats(ctx, Filter{})
	if st.Failed != 1 || st.Completed != 0 {
		t.Errorf("expected 1 failed, got %+v", st)
	}
	if st.AvgDurationMs != 150 {
		t.Errorf("expected explicit duration 150ms, got %v", st.AvgDurationMs)
	}
}

func TestWriteFailuresAreReportedNotReturned(t *testing.T) {
	s, rep := newTestStore(t)
	ctx := context.Background()

	s.RecordToolExecutionStart(ctx, ToolStart{SessionID: "s1"}) // no call id
	s.RecordToolExecutionEnd(ctx, ToolEnd{CallID: "orphan"})    // no start row, no tool name
	s.RecordSessionEvent(ctx, SessionEvent{SessionID: "s1"})    // no type
	s.RecordPermissionEvent(ctx, PermissionEvent{})             // no type

	if rep.count() != 4 {
		t.Fatalf("expected 4 reported errors, got %d: %v", rep.count(), rep.errs)
	}
}

func TestClosedStoreNeverPanics(t *testing.T) {
	rep := &reported{}
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "audit.db"), Reporter: rep.hook})
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	ctx := context.Background()
	s.RecordToolExecutionStart(ctx, ToolStart{SessionID: "s", CallID: "c", ToolName: "t"})
	if rep.count() != 1 {
		t.Errorf("expected write on closed store to be reported, got %d", rep.count())
	}
	if logs := s.Logs(ctx, Filter{}); logs != nil {
		t.Errorf("expected empty logs from closed store, got %v", logs)
	}
	if st := s.Stats(ctx, Filter{}); st != (Stats{}) {
		t.Errorf("expected zero stats from closed store, got %+v", st)
	}
	if s.InProgress(ctx) != 0 || s.ActiveSessions(ctx) != 0 {
		t.Error("expected zero gauges from closed store")
	}
}

func TestLogsFilterAndOrder(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.RecordToolExecutionStart(ctx, ToolStart{Timestamp: at(0), SessionID: "s1", CallID: "c1", ToolName: "bash"})
	s.RecordToolExecutionStart(ctx, ToolStart{Timestamp: at(5), SessionID: "s1", CallID: "c2", ToolName: "read"})
	s.RecordToolExecutionStart(ctx, ToolStart{Timestamp: at(10), SessionID: "s2", CallID: "c3", ToolName: "bash"})
	s.RecordToolExecutionStart(ctx, ToolStart{Timestamp: at(15), SessionID: "s2", CallID: "c4", ToolName: "bash"})

	logs := s.Logs(ctx, Filter{})
	if len(logs) != 4 || logs[0].CallID != "c4" || logs[3].CallID != "c1" {
		t.Fatalf("expected newest first, got %v", callIDs(logs))
	}

	logs = s.Logs(ctx, Filter{Name: "bash", SessionID: "s2"})
	if got := callIDs(logs); got != "c4,c3" {
		t.Errorf("expected c4,c3, got %s", got)
	}

	logs = s.Logs(ctx, Filter{Since: at(5), Until: at(10)})
	if got := callIDs(logs); got != "c3,c2" {
		t.Errorf("expected inclusive range c3,c2, got %s", got)
	}

	logs = s.Logs(ctx, Filter{Limit: 1})
	if got := callIDs(logs); got != "c4" {
		t.Errorf("expected limit 1, got %s", got)
	}
}

func callIDs(rows []ToolExecution) string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.CallID)
	}
	return strings.Join(ids, ",")
}

func TestStatsFilterAndPermissions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.RecordToolExecutionStart(ctx, ToolStart{Timestamp: at(0), SessionID: "s1", CallID: "c1", ToolName: "bash"})
	s.RecordToolExecutionStart(ctx, ToolStart{Timestamp: at(1), SessionID: "s2", CallID: "c2", ToolName: "bash"})
	s.RecordPermissionEvent(ctx, PermissionEvent{Timestamp: at(0), SessionID: "s1", PermissionType: "bash", Resource: "ls", Status: "allow"})
	s.RecordPermissionEvent(ctx, PermissionEvent{Timestamp: at(1), SessionID: "s2", PermissionType: "bash", Resource: "rm -rf /", Status: "deny"})

	st := s.Stats(ctx, Filter{SessionID: "s1"})
	if st.Started != 1 || st.Sessions != 1 || st.InProgress != 1 {
		t.Errorf("unexpected filtered stats %+v", st)
	}
	if st.PermAllowed != 1 || st.PermDenied != 0 {
		t.Errorf("expected permission counts filtered by session, got %+v", st)
	}
	if !st.First.Equal(at(0)) || !st.Last.Equal(at(0)) {
		t.Errorf("unexpected window %v..%v", st.First, st.Last)
	}

	all := s.Stats(ctx, Filter{})
	if all.Sessions != 2 || all.PermDenied != 1 {
		t.Errorf("unexpected totals %+v", all)
	}

	perms := s.PermissionLog(ctx, Filter{Name: "bash"})
	if len(perms) != 2 || perms[0].Status != "deny" || perms[0].Resource != "rm -rf /" {
		t.Errorf("unexpected permission log %+v", perms)
	}
}

func TestUsageByName(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i, tool := range []string{"bash", "bash", "bash", "read", "read", "write"} {
		call := fmt.Sprintf("c%d", i)
		s.RecordToolExecutionStart(ctx, ToolStart{Timestamp: at(i), SessionID: "s", CallID: call, ToolName: tool})
		s.RecordToolExecutionEnd(ctx, ToolEnd{Timestamp: at(i), CallID: call, Failed: tool == "write", Duration: 100 * time.Millisecond})
	}

	usage := s.UsageByName(ctx, Filter{}, 2)
	if len(usage) != 2 {
		t.Fatalf("expected top 2, got %d", len(usage))
	}
	if usage[0].Name != "bash" || usage[0].Calls != 3 || usage[0].Completed != 3 {
		t.Errorf("unexpected first usage row %+v", usage[0])
	}
	if usage[1].Name != "read" || usage[1].Calls != 2 {
		t.Errorf("unexpected second usage row %+v", usage[1])
	}
	if usage[0].AvgDurationMs != 100 {
		t.Errorf("expected avg 100ms, got %v", usage[0].AvgDurationMs)
	}

	usage = s.UsageByName(ctx, Filter{Name: "write"}, 0)
	if len(usage) != 1 || usage[0].Failed != 1 {
		t.Errorf("unexpected filtered usage %+v", usage)
	}
}

func TestSessionTimelineMergesKinds(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.RecordSessionEvent(ctx, SessionEvent{Timestamp: at(0), SessionID: "s1", EventType: SessionStart})
	s.RecordToolExecutionStart(ctx, ToolStart{Timestamp: at(1), SessionID: "s1", CallID: "c1", ToolName: "bash"})
	s.RecordToolExecutionEnd(ctx, ToolEnd{Timestamp: at(3), CallID: "c1", ResultSummary: "done"})
	s.RecordSessionEvent(ctx, SessionEvent{Timestamp: at(4), SessionID: "s1", EventType: SessionEnd, Details: map[string]any{"reason": "user exit"}})
	s.RecordSessionEvent(ctx, SessionEvent{Timestamp: at(2), SessionID: "other", EventType: SessionStart})

	tl := s.SessionTimeline(ctx, "s1")
	if len(tl) != 4 {
		t.Fatalf("expected 4 events, got %d", len(tl))
	}
	want := []struct {
		kind TimelineKind
		name string
	}{
		{KindSession, SessionStart},
		{KindTool, "bash"},
		{KindTool, "bash"},
		{KindSession, SessionEnd},
	}
	for i, w := range want {
		if tl[i].Kind != w.kind || tl[i].Name != w.name {
			t.Errorf("event %d: got %s/%s, want %s/%s", i, tl[i].Kind, tl[i].Name, w.kind, w.name)
		}
		if i > 0 && tl[i].Timestamp.Before(tl[i-1].Timestamp) {
			t.Errorf("timeline not ascending at %d", i)
		}
	}
	if tl[2].Status != string(StatusCompleted) || tl[2].Detail != "done" {
		t.Errorf("unexpected end event %+v", tl[2])
	}
	if tl[3].Detail != `{"reason":"user exit"}` {
		t.Errorf("unexpected session details %q", tl[3].Detail)
	}

	text := FormatTimeline("s1", tl)
	if !strings.Contains(text, "Session: s1") || !strings.Contains(text, "1 tool calls") {
		t.Errorf("unexpected timeline text:\n%s", text)
	}
}

func TestActiveSessions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.RecordSessionEvent(ctx, SessionEvent{SessionID: "a", EventType: SessionStart})
	s.RecordSessionEvent(ctx, SessionEvent{SessionID: "b", EventType: SessionStart})
	s.RecordSessionEvent(ctx, SessionEvent{SessionID: "b", EventType: SessionEnd})
	s.RecordSessionEvent(ctx, SessionEvent{SessionID: "c", EventType: "compaction"})

	if got := s.ActiveSessions(ctx); got != 1 {
		t.Errorf("expected 1 active session, got %d", got)
	}
}

func TestDurationHistogram(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for i, ms := range []int{5, 40, 40, 700, 20000} {
		call := fmt.Sprintf("c%d", i)
		s.RecordToolExecutionStart(ctx, ToolStart{SessionID: "s", CallID: call, ToolName: "bash"})
		s.RecordToolExecutionEnd(ctx, ToolEnd{CallID: call, Duration: time.Duration(ms) * time.Millisecond})
	}

	h := s.DurationHistogram(ctx, []float64{10, 50, 1000})
	if h.Count != 5 || h.Sum != 20785 {
		t.Errorf("unexpected count/sum %d/%v", h.Count, h.Sum)
	}
	want := []uint64{1, 3, 4}
	for i, w := range want {
		if h.Counts[i] != w {
			t.Errorf("bucket %v: got %d, want %d", h.Bounds[i], h.Counts[i], w)
		}
	}
}

func TestGroupCountsSorted(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.RecordToolExecutionStart(ctx, ToolStart{SessionID: "s", CallID: "1", ToolName: "write"})
	s.RecordToolExecutionStart(ctx, ToolStart{SessionID: "s", CallID: "2", ToolName: "bash"})
	s.RecordToolExecutionEnd(ctx, ToolEnd{CallID: "2", Failed: true})

	counts := s.ExecutionCounts(ctx)
	var keys []string
	for _, c := range counts {
		keys = append(keys, c.Key+"/"+c.Status)
	}
	if strings.Join(keys, ",") != "bash/failed,bash/started,write/started" {
		t.Errorf("unexpected grouping %v", keys)
	}

	s.RecordPermissionEvent(ctx, PermissionEvent{SessionID: "s", PermissionType: "bash", Status: "deny"})
	perms := s.PermissionCounts(ctx)
	if len(perms) != 1 || perms[0].Count != 1 {
		t.Errorf("unexpected permission counts %+v", perms)
	}
}

func TestConcurrentWriters(t *testing.T) {
	s, rep := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				call := fmt.Sprintf("w%d-%d", w, i)
				s.RecordToolExecutionStart(ctx, ToolStart{SessionID: "s", CallID: call, ToolName: "bash"})
				s.RecordToolExecutionEnd(ctx, ToolEnd{CallID: call})
			}
		}(w)
	}
	wg.Wait()

	if rep.count() != 0 {
		t.Fatalf("unexpected write errors: %v", rep.errs)
	}
	st := s.Stats(ctx, Filter{})
	if st.Started != 200 || st.Completed != 200 || st.InProgress != 0 {
		t.Errorf("unexpected stats after concurrent writes %+v", st)
	}
}

func TestSizeBytes(t *testing.T) {
	s, _ := newTestStore(t)
	if s.SizeBytes() <= 0 {
		t.Errorf("expected positive database size, got %d", s.SizeBytes())
	}
}

func TestTruncate(t *testing.T) {
	if truncate("short", 10) != "short" {
		t.Error("expected short string unchanged")
	}
	if got := truncate("abcdefghij", 6); got != "abc..." {
		t.Errorf("expected abc..., got %q", got)
	}
	// "é" is two bytes; a cut inside it steps back to the rune start.
	for _, tt := range []struct {
		in   string
		max  int
		want string
	}{
		{"abcé-xyz", 7, "abc..."},
		{"abcé-xyz", 8, "abcé..."},
		{"日本語テキスト", 8, "日..."},
		{"日本語", 2, ""},
	} {
		got := truncate(tt.in, tt.max)
		if got != tt.want || !utf8.ValidString(got) || len(got) > tt.max {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestClockInjection(t *testing.T) {
	s, err := Open(Config{
		Path: filepath.Join(t.TempDir(), "audit.db"),
		Now:  func() time.Time { return at(42) },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	s.RecordToolExecutionStart(ctx, ToolStart{SessionID: "s", CallID: "c", ToolName: "bash"})
	logs := s.Logs(ctx, Filter{})
	if len(logs) != 1 || !logs[0].Timestamp.Equal(at(42)) {
		t.Fatalf("expected injected timestamp, got %+v", logs)
	}
}
