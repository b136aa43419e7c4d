// Package climanager keeps a deployment's coder CLI cached locally and drives
// it: conditional downloads, version discovery, login and SSH config
// reconciliation.
package climanager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"runtime"

	"golang.org/x/sync/singleflight"

	"gitlab.bluewillows.net/root/coderlink/internal/metrics"
	"gitlab.bluewillows.net/root/coderlink/pkg/cliversion"
	"gitlab.bluewillows.net/root/coderlink/pkg/deployment"
	"gitlab.bluewillows.net/root/coderlink/pkg/dirs"
	"gitlab.bluewillows.net/root/coderlink/pkg/httputil"
	"gitlab.bluewillows.net/root/coderlink/pkg/process"
	"gitlab.bluewillows.net/root/coderlink/pkg/sshconfig"
)

// Manager owns the cache directory of a single deployment.
//
// EnsureCLI is safe to call concurrently; concurrent calls share one request.
// The other methods expect callers to serialize them per deployment.
type Manager struct {
	deploymentURL *url.URL
	safeHost      string
	cacheDir      string
	binaryPath    string
	configDir     string

	client        *http.Client
	runner        process.Runner
	env           dirs.Env
	sshConfigPath string
	headerCommand string
	sshOptions    []string
	logger        *slog.Logger

	group singleflight.Group
}

// Option is a functional option for configuring the Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithHTTPClient sets the client used for binary downloads.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		if client != nil {
			m.client = client
		}
	}
}

// WithRunner sets the process runner used to invoke the CLI.
func WithRunner(runner process.Runner) Option {
	return func(m *Manager) {
		if runner != nil {
			m.runner = runner
		}
	}
}

// WithEnv sets the environment used to resolve the default cache root.
func WithEnv(env dirs.Env) Option {
	return func(m *Manager) {
		if env != nil {
			m.env = env
		}
	}
}

// WithSSHConfigPath overrides the SSH config file. Defaults to ~/.ssh/config.
func WithSSHConfigPath(path string) Option {
	return func(m *Manager) {
		m.sshConfigPath = path
	}
}

// WithHeaderCommand passes --header-command to the CLI in every ProxyCommand.
func WithHeaderCommand(cmd string) Option {
	return func(m *Manager) {
		m.headerCommand = cmd
	}
}

// WithSSHOptions appends option lines to every generated Host stanza.
func WithSSHOptions(lines ...string) Option {
	return func(m *Manager) {
		m.sshOptions = append(m.sshOptions, lines...)
	}
}

// New creates a Manager for the deployment at u. An empty cacheRoot uses the
// platform data directory.
func New(u *url.URL, cacheRoot string, opts ...Option) (*Manager, error) {
	if u == nil {
		return nil, errors.New("deployment URL is required")
	}

	m := &Manager{
		deploymentURL: u,
		env:           dirs.OSEnv{},
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.client == nil {
		m.client = httputil.NewClient(&httputil.ClientConfig{Logger: m.logger})
	}
	if m.runner == nil {
		m.runner = process.NewExecRunner(process.WithLogger(m.logger))
	}

	if cacheRoot == "" {
		cacheRoot = dirs.DataDir(m.env, runtime.GOOS)
		if cacheRoot == "" {
			return nil, errors.New("cache root is empty and no data directory could be resolved")
		}
	}

	safeHost, err := deployment.SafeHost(u)
	if err != nil {
		return nil, fmt.Errorf("resolving cache directory: %w", err)
	}

	m.safeHost = safeHost
	if m.cacheDir, err = deployment.CacheDir(u, cacheRoot); err != nil {
		return nil, err
	}
	if m.binaryPath, err = deployment.BinaryPath(u, cacheRoot); err != nil {
		return nil, err
	}
	if m.configDir, err = deployment.ConfigDir(u, cacheRoot); err != nil {
		return nil, err
	}
	m.logger = m.logger.With(slog.String("deployment", safeHost))

	return m, nil
}

// DeploymentURL returns the deployment the manager is bound to.
func (m *Manager) DeploymentURL() *url.URL {
	u := *m.deploymentURL
	return &u
}

// CacheDir returns the deployment's cache directory.
func (m *Manager) CacheDir() string {
	return m.cacheDir
}

// BinaryPath returns where the CLI is cached.
func (m *Manager) BinaryPath() string {
	return m.binaryPath
}

// ConfigDir returns the directory passed to the CLI as --global-config.
func (m *Manager) ConfigDir() string {
	return m.configDir
}

// Version runs `<bin> version --output json` and parses the result.
func (m *Manager) Version(ctx context.Context) (cliversion.Version, error) {
	res, err := m.run(ctx, "version", "--output", "json")
	if err != nil {
		return cliversion.Version{}, err
	}

	if !res.Success() {
		return cliversion.Version{}, &ExitError{Code: res.ExitCode, Stderr: res.Message()}
	}

	v, err := cliversion.Parse([]byte(res.Stdout))
	if err != nil {
		return cliversion.Version{}, fmt.Errorf("reading version of %s: %w", m.binaryPath, err)
	}

	return v, nil
}

// IsCompatible reports whether the cached CLI's major.minor.patch matches
// build. Any failure to determine the local version counts as incompatible.
func (m *Manager) IsCompatible(ctx context.Context, build string) bool {
	v, err := m.Version(ctx)
	if err != nil {
		metrics.VersionChecksTotal.WithLabelValues(metrics.ResultError).Inc()
		m.logger.Debug("cannot determine CLI version",
			slog.String("binary", m.binaryPath),
			slog.String("error", err.Error()),
		)
		return false
	}

	ok := v.Matches(build)
	result := metrics.ResultIncompatible
	if ok {
		result = metrics.ResultCompatible
	}
	metrics.VersionChecksTotal.WithLabelValues(result).Inc()

	m.logger.Debug("checked CLI compatibility",
		slog.String("cli_version", v.String()),
		slog.String("build", build),
		slog.Bool("compatible", ok),
	)

	return ok
}

// Login runs `<bin> login <url> --token <token> --global-config <dir>`.
func (m *Manager) Login(ctx context.Context, token string) error {
	res, err := m.run(ctx, "login", m.deploymentURL.String(),
		"--token", token,
		"--global-config", m.configDir,
	)
	if err != nil {
		return err
	}

	if !res.Success() {
		return &LoginError{Code: res.ExitCode, Stderr: res.Message()}
	}

	m.logger.Info("logged in", slog.String("config_dir", m.configDir))
	return nil
}

// ConfigSSH reconciles this deployment's block in the SSH config with hosts.
// An empty list removes the block.
func (m *Manager) ConfigSSH(ctx context.Context, hosts []sshconfig.WorkspaceHost) error {
	path := m.sshConfigPath
	if path == "" {
		var err error
		if path, err = sshconfig.DefaultPath(); err != nil {
			metrics.SSHConfigWritesTotal.WithLabelValues(metrics.ResultError).Inc()
			return err
		}
	}

	editor := sshconfig.NewEditor(path,
		sshconfig.Target{
			SafeHost:   m.safeHost,
			BinaryPath: m.binaryPath,
			ConfigDir:  m.configDir,
		},
		sshconfig.WithLogger(m.logger),
		sshconfig.WithHeaderCommand(m.headerCommand),
		sshconfig.WithExtraOptions(m.sshOptions...),
	)

	written, err := editor.Apply(ctx, hosts)
	if err != nil {
		metrics.SSHConfigWritesTotal.WithLabelValues(metrics.ResultError).Inc()
		return err
	}

	if written {
		metrics.SSHConfigWritesTotal.WithLabelValues(metrics.ResultWritten).Inc()
	} else {
		metrics.SSHConfigWritesTotal.WithLabelValues(metrics.ResultUnchanged).Inc()
	}

	return nil
}

// run invokes the cached CLI after checking that it exists and is executable.
func (m *Manager) run(ctx context.Context, args ...string) (*process.Result, error) {
	if err := checkExecutable(m.binaryPath); err != nil {
		return nil, err
	}

	res, err := m.runner.Run(ctx, m.binaryPath, args...)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, m.binaryPath, err)
		}
		return nil, err
	}

	return res, nil
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrBinaryNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrBinaryNotFound, path)
	}
	if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		return fmt.Errorf("%w: %s is not executable", ErrBinaryNotFound, path)
	}

	return nil
}
