package alert

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// Dispatcher fans out events to matching webhook configurations.
// A nil *Dispatcher drops everything.
type Dispatcher struct {
	configs []Config
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. Returns nil if configs is empty.
func NewDispatcher(configs []Config, logger *slog.Logger) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{configs: configs, logger: logger}
}

// Dispatch sends the event to every webhook subscribed to one of its
// names. Delivery runs in the background and never blocks the caller.
func (d *Dispatcher) Dispatch(event Event) {
	if d == nil {
		return
	}
	for _, cfg := range d.configs {
		if !matches(cfg.Events, event) {
			continue
		}
		d.wg.Add(1)
		go func(cfg Config) {
			defer d.wg.Done()
			if err := Send(context.Background(), cfg, event); err != nil {
				d.logger.Warn("alert delivery failed", "url", cfg.URL, "error", err)
			}
		}(cfg)
	}
}

// Wait blocks until in-flight deliveries finish.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

func matches(events []string, event Event) bool {
	for _, name := range event.names() {
		if slices.Contains(events, name) {
			return true
		}
	}
	return false
}
