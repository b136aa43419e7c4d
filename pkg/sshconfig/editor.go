// Package sshconfig maintains a machine-generated block of Host stanzas
// inside a user-owned OpenSSH client config file.
//
// Everything outside the block delimited by this deployment's markers is
// passed through byte for byte, including blocks written for other
// deployments.
package sshconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/moby/sys/atomicwriter"
)

const (
	// DirPermissions is used when the config directory has to be created.
	DirPermissions = 0o700

	// FilePermissions is used when the config file has to be created.
	FilePermissions = 0o600
)

// DefaultPath returns ~/.ssh/config for the current user.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".ssh", "config"), nil
}

// Target describes the deployment whose block the editor owns.
type Target struct {
	// SafeHost is the normalized deployment host used in markers and aliases.
	SafeHost string

	// BinaryPath is the coder CLI invoked by every ProxyCommand.
	BinaryPath string

	// ConfigDir is passed to the CLI as --global-config.
	ConfigDir string
}

// Editor rewrites the managed block for one deployment.
type Editor struct {
	path          string
	target        Target
	headerCommand string
	extraOptions  []string
	lineEnding    string
	logger        *slog.Logger
}

// Option is a functional option for configuring the Editor.
type Option func(*Editor)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Editor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithHeaderCommand adds --header-command to every ProxyCommand.
func WithHeaderCommand(cmd string) Option {
	return func(e *Editor) {
		e.headerCommand = cmd
	}
}

// WithExtraOptions appends option lines such as "ServerAliveInterval 30" to
// every stanza.
func WithExtraOptions(lines ...string) Option {
	return func(e *Editor) {
		e.extraOptions = append(e.extraOptions, lines...)
	}
}

// WithLineEnding sets the line terminator used when the file is absent or
// empty. Existing content always keeps its own convention.
func WithLineEnding(eol string) Option {
	return func(e *Editor) {
		if eol == "\n" || eol == "\r\n" {
			e.lineEnding = eol
		}
	}
}

// NewEditor creates an Editor for the config file at path.
func NewEditor(path string, target Target, opts ...Option) *Editor {
	e := &Editor{
		path:       path,
		target:     target,
		lineEnding: platformLineEnding(runtime.GOOS),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Path returns the config file the editor writes.
func (e *Editor) Path() string {
	return e.path
}

// Apply reconciles the managed block with hosts, in the given order. An empty
// hosts list removes the block. It reports whether the file was written; a
// result identical to the current content is not written. Hosts or option
// lines that would break the block's structure are rejected with an
// InvalidHostError before the file is read.
func (e *Editor) Apply(ctx context.Context, hosts []WorkspaceHost) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := e.validateHosts(hosts); err != nil {
		return false, err
	}

	path, err := e.resolvePath()
	if err != nil {
		return false, err
	}

	original, info, err := readConfig(path)
	if err != nil {
		return false, err
	}

	doc, err := Parse(original, StartMarker(e.target.SafeHost), EndMarker(e.target.SafeHost))
	if err != nil {
		var malformed *MalformedConfigError
		if errors.As(err, &malformed) {
			malformed.Path = path
		}
		return false, err
	}

	eol := doc.LineEnding
	if eol == "" {
		eol = e.lineEnding
	}

	var updated string
	if len(hosts) == 0 {
		updated = doc.WithoutBlock(eol)
	} else {
		updated = doc.WithBlock(e.renderBlock(hosts, eol), eol)
	}

	if updated == original {
		e.logger.Debug("ssh config unchanged",
			slog.String("path", path),
			slog.String("deployment", e.target.SafeHost),
			slog.Int("hosts", len(hosts)),
		)
		return false, nil
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}

	if err := writeConfig(path, updated, info); err != nil {
		return false, err
	}

	e.logger.Info("ssh config updated",
		slog.String("path", path),
		slog.String("deployment", e.target.SafeHost),
		slog.Int("hosts", len(hosts)),
		slog.Bool("had_block", doc.HasBlock),
	)

	return true, nil
}

// resolvePath follows a symlinked config so the rename replaces the real
// file instead of the link.
func (e *Editor) resolvePath() (string, error) {
	if e.path == "" {
		return "", errors.New("ssh config path is empty")
	}

	resolved, err := filepath.EvalSymlinks(e.path)
	switch {
	case err == nil:
		return resolved, nil
	case errors.Is(err, fs.ErrNotExist):
		return e.path, nil
	default:
		return "", fmt.Errorf("resolving ssh config path %s: %w", e.path, err)
	}
}

// readConfig returns the file content and its info; an absent file is empty
// with nil info.
func readConfig(path string) (string, fs.FileInfo, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("stat ssh config %s: %w", path, err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("reading ssh config %s: %w", path, err)
	}

	return string(data), info, nil
}

func writeConfig(path, content string, info fs.FileInfo) error {
	perm := fs.FileMode(FilePermissions)
	if info != nil {
		perm = info.Mode().Perm()
	}

	if err := os.MkdirAll(filepath.Dir(path), DirPermissions); err != nil {
		return fmt.Errorf("creating ssh config directory: %w", err)
	}

	if err := atomicwriter.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing ssh config %s: %w", path, err)
	}

	return nil
}

func platformLineEnding(goos string) string {
	if goos == "windows" {
		return "\r\n"
	}
	return "\n"
}
