// Package server holds long-running helpers for permguard serve.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ppiankov/permguard/internal/policy"
)

// DefaultDebounce is how long the reloader waits after the last change.
const DefaultDebounce = 500 * time.Millisecond

// Reloader watches a rule file and swaps in a fresh config when it changes.
// The parent directory is watched so that editors which replace the file
// by rename are still seen.
type Reloader struct {
	watcher  *fsnotify.Watcher
	store    *policy.Store
	file     string
	logger   *slog.Logger
	debounce time.Duration

	// OnReload, if set, is called after every reload.
	OnReload func(*policy.PermissionsConfig)
}

// NewReloader creates a watcher for the store's rule file.
func NewReloader(store *policy.Store, logger *slog.Logger) (*Reloader, error) {
	if store.Path() == "" {
		return nil, fmt.Errorf("server: rule store has no file to watch")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	file, err := filepath.Abs(store.Path())
	if err != nil {
		return nil, fmt.Errorf("server: resolve %s: %w", store.Path(), err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(file), err)
	}

	return &Reloader{
		watcher:  watcher,
		store:    store,
		file:     file,
		logger:   logger,
		debounce: DefaultDebounce,
	}, nil
}

// SetDebounce overrides the quiet period before a reload.
func (r *Reloader) SetDebounce(d time.Duration) {
	r.debounce = d
}

// Run watches for changes until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var (
		mu       sync.Mutex
		debounce *time.Timer
	)
	defer func() {
		mu.Lock()
		if debounce != nil {
			debounce.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != r.file {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(r.debounce, r.reload)
			mu.Unlock()

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (r *Reloader) reload() {
	cfg := r.store.Reload()
	if cfg.FailSafe() {
		r.logger.Error("rule reload failed; denying all until fixed", "path", r.file, "errors", cfg.Errors)
	} else {
		r.logger.Info("rules reloaded", "path", r.file, "rules", len(cfg.Rules), "hash", cfg.Hash)
	}
	if r.OnReload != nil {
		r.OnReload(cfg)
	}
}
