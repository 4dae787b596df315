package policy

import (
	"sync"
	"sync/atomic"
	"time"
)

// FailSafeRetry is how long a deny-all fallback is served before Config
// tries the rule file again.
const FailSafeRetry = 5 * time.Second

// Store owns the compiled rule set for one rule file. The first successful
// load is memoized; Reload and Invalidate are explicit and never triggered
// by the store itself. Readers always see a complete config.
type Store struct {
	path  string
	opts  LoadOptions
	retry time.Duration
	now   func() time.Time

	mu       sync.Mutex // serializes loads
	cur      atomic.Pointer[PermissionsConfig]
	loadedAt atomic.Int64 // unix nanos of the last load
}

// NewStore creates a Store for the rule file at path. Nothing is read until
// the first call to Config.
func NewStore(path string, opts LoadOptions) *Store {
	return &Store{path: path, opts: opts, retry: FailSafeRetry, now: time.Now}
}

// NewStaticStore wraps an already built config. Reload keeps it.
func NewStaticStore(cfg *PermissionsConfig) *Store {
	s := &Store{}
	s.cur.Store(cfg)
	return s
}

// Path returns the rule file path.
func (s *Store) Path() string {
	return s.path
}

// Config returns the current rule set, loading it on first use. A failed
// load is served as the deny-all config and retried once FailSafeRetry
// has passed.
func (s *Store) Config() *PermissionsConfig {
	cfg := s.cur.Load()
	if cfg != nil && (!cfg.FailSafe() || s.path == "" || s.now().UnixNano()-s.loadedAt.Load() < int64(s.retry)) {
		return cfg
	}
	return s.Reload()
}

// Reload reads the rule file again and swaps the result in, even when it
// is the deny-all fallback.
func (s *Store) Reload() *PermissionsConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		if cfg := s.cur.Load(); cfg != nil {
			return cfg
		}
		cfg := FailSafeConfig([]string{"no rule file configured"})
		s.cur.Store(cfg)
		return cfg
	}

	cfg := Load(s.path, s.opts)
	s.loadedAt.Store(s.now().UnixNano())
	s.cur.Store(cfg)
	return cfg
}

// Invalidate drops the cached config; the next Config call reloads.
func (s *Store) Invalidate() {
	if s.path == "" {
		return
	}
	s.cur.Store(nil)
}

// Evaluate is shorthand for s.Config().Evaluate(input).
func (s *Store) Evaluate(input string) MatchResult {
	return s.Config().Evaluate(input)
}

// EvaluateWithTrace is shorthand for s.Config().EvaluateWithTrace(input).
func (s *Store) EvaluateWithTrace(input string) (MatchResult, []TraceEntry) {
	return s.Config().EvaluateWithTrace(input)
}
