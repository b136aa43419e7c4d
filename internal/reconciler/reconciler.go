// Package reconciler brings the local CLI cache and the managed SSH config
// block in line with a desired list of workspace hosts.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gitlab.bluewillows.net/root/coderlink/pkg/sshconfig"
)

// Manager is the part of climanager.Manager a reconciler drives.
type Manager interface {
	EnsureCLI(ctx context.Context, binarySource string) (bool, error)
	ConfigSSH(ctx context.Context, hosts []sshconfig.WorkspaceHost) error
	BinaryPath() string
}

// Config holds reconciler configuration options.
type Config struct {
	// BinarySource overrides where the CLI is downloaded from.
	BinarySource string

	// SkipDownload leaves the cached CLI alone and only rewrites SSH config.
	SkipDownload bool
}

// Reconciler runs sync passes one at a time and remembers the last result.
type Reconciler struct {
	manager Manager
	config  Config
	logger  *slog.Logger

	// run serializes Reconcile; climanager only collapses EnsureCLI.
	run sync.Mutex

	mu   sync.RWMutex
	last *Result
}

// Option is a functional option for configuring the Reconciler.
type Option func(*Reconciler)

// WithLogger sets a custom logger for the reconciler.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithConfig sets the reconciler configuration.
func WithConfig(cfg Config) Option {
	return func(r *Reconciler) {
		r.config = cfg
	}
}

// New creates a Reconciler for manager.
func New(manager Manager, opts ...Option) *Reconciler {
	r := &Reconciler{
		manager: manager,
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Reconcile ensures the CLI is current and writes hosts to the SSH config.
// A failed download does not stop the SSH config step. The returned error
// joins every failed step; the Result is always non-nil.
func (r *Reconciler) Reconcile(ctx context.Context, hosts []sshconfig.WorkspaceHost) (*Result, error) {
	r.run.Lock()
	defer r.run.Unlock()

	result := NewResult()
	result.Hosts = len(hosts)
	var errs []error

	r.logger.Debug("starting sync", slog.Int("hosts", len(hosts)))

	if r.config.SkipDownload {
		result.AddAction(Action{Type: ActionEnsureCLI, Status: StatusSkipped})
	} else {
		downloaded, err := r.manager.EnsureCLI(ctx, r.config.BinarySource)
		switch {
		case err != nil:
			result.AddAction(Action{Type: ActionEnsureCLI, Status: StatusFailed, Error: err.Error()})
			errs = append(errs, fmt.Errorf("ensuring CLI: %w", err))
		case downloaded:
			result.AddAction(Action{Type: ActionEnsureCLI, Status: StatusSuccess, Detail: "downloaded " + r.manager.BinaryPath()})
		default:
			result.AddAction(Action{Type: ActionEnsureCLI, Status: StatusUnchanged})
		}
	}

	if err := ctx.Err(); err != nil {
		result.AddAction(Action{Type: ActionConfigSSH, Status: StatusSkipped, Error: err.Error()})
		errs = append(errs, err)
	} else if err := r.manager.ConfigSSH(ctx, hosts); err != nil {
		result.AddAction(Action{Type: ActionConfigSSH, Status: StatusFailed, Error: err.Error()})
		errs = append(errs, fmt.Errorf("configuring ssh: %w", err))
	} else {
		result.AddAction(Action{Type: ActionConfigSSH, Status: StatusSuccess, Detail: fmt.Sprintf("%d host(s)", len(hosts))})
	}

	result.Complete()
	r.setLast(result)

	attrs := []any{
		slog.Int("hosts", result.Hosts),
		slog.Bool("downloaded", result.Downloaded()),
		slog.Int("errors", len(result.Failed())),
		slog.Duration("duration", result.Duration()),
	}
	if len(errs) > 0 {
		r.logger.Warn("sync finished with errors", attrs...)
	} else {
		r.logger.Info("sync complete", attrs...)
	}

	return result, errors.Join(errs...)
}

// LastResult returns the most recent result, or nil before the first run.
func (r *Reconciler) LastResult() *Result {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

func (r *Reconciler) setLast(result *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = result
}

// CheckReady fails until a sync has run and while the CLI binary is absent.
func (r *Reconciler) CheckReady(_ context.Context) error {
	if r.LastResult() == nil {
		return errors.New("no sync has completed yet")
	}
	if _, err := os.Stat(r.manager.BinaryPath()); err != nil {
		return fmt.Errorf("cli binary unavailable: %w", err)
	}
	return nil
}

// CheckDegraded reports the failures of the last sync, if any.
func (r *Reconciler) CheckDegraded(_ context.Context) (bool, string) {
	last := r.LastResult()
	if last == nil || !last.HasErrors() {
		return false, ""
	}
	return true, last.Failed()[0].String()
}
