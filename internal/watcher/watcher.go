// Package watcher polls a workspace list file and triggers a sync whenever
// its contents change.
//
// Key features:
//   - Change detection on the parsed list, so edits that only touch
//     whitespace or comments do not trigger a sync
//   - Debouncing for rapid successive edits
//   - Optional periodic resync to pick up CLI upgrades on the deployment
//   - Graceful shutdown with context cancellation
package watcher

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gitlab.bluewillows.net/root/coderlink/internal/config"
	"gitlab.bluewillows.net/root/coderlink/pkg/sshconfig"
)

// SyncFunc is called with the current workspace list when a sync is due.
type SyncFunc func(ctx context.Context, hosts []sshconfig.WorkspaceHost)

// LoadFunc reads a workspace list file.
type LoadFunc func(path string) ([]sshconfig.WorkspaceHost, error)

// Config holds watcher configuration.
type Config struct {
	// PollInterval is how often the file is re-read.
	// Default: 10 seconds
	PollInterval time.Duration

	// DebounceInterval is the time to wait for further changes before
	// triggering a sync. Zero triggers immediately.
	// Default: 2 seconds
	DebounceInterval time.Duration

	// ResyncInterval forces a sync even without changes. Zero disables it.
	// Default: 1 hour
	ResyncInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:     10 * time.Second,
		DebounceInterval: 2 * time.Second,
		ResyncInterval:   time.Hour,
	}
}

// Watcher polls a workspace list file.
type Watcher struct {
	path   string
	load   LoadFunc
	onSync SyncFunc
	config Config
	logger *slog.Logger

	mu          sync.Mutex
	cancel      context.CancelFunc
	running     bool
	seen        bool
	fingerprint string
	current     []sshconfig.WorkspaceHost
	debounce    *time.Timer
}

// Option is a functional option for configuring the Watcher.
type Option func(*Watcher)

// WithConfig sets the watcher configuration.
func WithConfig(cfg Config) Option {
	return func(w *Watcher) {
		w.config = cfg
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithLoader replaces config.LoadWorkspaces.
func WithLoader(load LoadFunc) Option {
	return func(w *Watcher) {
		w.load = load
	}
}

// New creates a watcher for the workspace list at path.
func New(path string, onSync SyncFunc, opts ...Option) *Watcher {
	w := &Watcher{
		path:   path,
		load:   config.LoadWorkspaces,
		onSync: onSync,
		config: DefaultConfig(),
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.config.PollInterval <= 0 {
		w.config.PollInterval = DefaultConfig().PollInterval
	}

	return w
}

// Start reads the file once, triggers the initial sync when it loaded, and
// then polls in a goroutine until ctx is canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.running = true
	w.mu.Unlock()

	if w.PollNow() {
		w.TriggerNow(ctx)
	}

	go w.pollLoop(ctx)

	w.logger.Info("workspace watcher started",
		slog.String("path", w.path),
		slog.Duration("poll", w.config.PollInterval),
		slog.Duration("debounce", w.config.DebounceInterval),
	)

	return nil
}

// Stop halts the watcher and drops any pending debounced sync.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}

	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}

	w.running = false
	w.logger.Info("workspace watcher stopped")
}

// IsRunning returns whether the watcher is currently running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Current returns a copy of the last successfully loaded list.
func (w *Watcher) Current() []sshconfig.WorkspaceHost {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]sshconfig.WorkspaceHost(nil), w.current...)
}

// PollNow re-reads the file and reports whether the list changed. The first
// successful load always counts as a change. Load errors keep the previous
// list.
func (w *Watcher) PollNow() bool {
	hosts, err := w.load(w.path)
	if err != nil {
		w.logger.Warn("reading workspace list failed",
			slog.String("path", w.path),
			slog.String("error", err.Error()),
		)
		return false
	}

	fp := fingerprint(hosts)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.seen && fp == w.fingerprint {
		return false
	}

	w.seen = true
	w.fingerprint = fp
	w.current = hosts

	w.logger.Debug("workspace list changed",
		slog.String("path", w.path),
		slog.Int("hosts", len(hosts)),
	)
	return true
}

// TriggerNow runs a sync immediately, bypassing debounce.
func (w *Watcher) TriggerNow(ctx context.Context) {
	w.mu.Lock()
	if w.debounce != nil {
		w.debounce.Stop()
		w.debounce = nil
	}
	w.mu.Unlock()

	w.trigger(ctx)
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	poll := time.NewTicker(w.config.PollInterval)
	defer poll.Stop()

	var resync <-chan time.Time
	if w.config.ResyncInterval > 0 {
		t := time.NewTicker(w.config.ResyncInterval)
		defer t.Stop()
		resync = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			if w.PollNow() {
				w.schedule(ctx)
			}
		case <-resync:
			w.logger.Debug("periodic resync")
			w.TriggerNow(ctx)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	if w.config.DebounceInterval <= 0 {
		w.trigger(ctx)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(w.config.DebounceInterval, func() {
		w.trigger(ctx)
	})
}

func (w *Watcher) trigger(ctx context.Context) {
	if ctx.Err() != nil || w.onSync == nil {
		return
	}

	hosts := w.Current()
	w.logger.Info("triggering sync", slog.Int("hosts", len(hosts)))
	w.onSync(ctx, hosts)
}

func fingerprint(hosts []sshconfig.WorkspaceHost) string {
	targets := make([]string, len(hosts))
	for i, h := range hosts {
		targets[i] = h.Target()
	}
	return strings.Join(targets, "\n")
}
