// coderlink links a workstation to a Coder deployment. It keeps a cached copy
// of the deployment's CLI up to date, logs it in, and maintains the managed
// block of Host stanzas in the user's SSH config.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"gitlab.bluewillows.net/root/coderlink/internal/climanager"
	"gitlab.bluewillows.net/root/coderlink/internal/config"
	"gitlab.bluewillows.net/root/coderlink/internal/metrics"
	"gitlab.bluewillows.net/root/coderlink/pkg/httputil"
)

// Version and BuildDate are set via ldflags during build.
// Example: -ldflags="-X main.Version=v1.0.0 -X main.BuildDate=2026-01-03"
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if ferr := a.finish(); ferr != nil && err == nil {
		err = ferr
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return 0
}

// exitCode maps errors to process exit codes. Incompatible CLIs exit 2 so
// scripts can tell them apart from failures.
func exitCode(err error) int {
	if errors.Is(err, errIncompatible) {
		return 2
	}
	return 1
}

// globalFlags holds the persistent flags shared by every subcommand.
type globalFlags struct {
	configFile    string
	url           string
	logLevel      string
	logFormat     string
	cacheRoot     string
	metricsFile   string
	tlsSkipVerify bool
}

// app carries state resolved once per invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	flags  globalFlags
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "coderlink",
		Short:         "Keep a Coder CLI, its login and SSH config in sync with a deployment",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.configFile, "config", "", "Config file (YAML or TOML), overrides "+config.EnvConfigFile)
	pf.StringVar(&a.flags.url, "url", "", "Deployment URL")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&a.flags.logFormat, "log-format", "", "Log format: text or json")
	pf.StringVar(&a.flags.cacheRoot, "cache-root", "", "Directory holding per-deployment CLI caches")
	pf.StringVar(&a.flags.metricsFile, "metrics-file", "", "Write Prometheus metrics to this file on exit")
	pf.BoolVar(&a.flags.tlsSkipVerify, "tls-skip-verify", false, "Skip TLS certificate verification")

	root.AddCommand(
		newEnsureCommand(a),
		newVersionCommand(a),
		newCompatibleCommand(a),
		newLoginCommand(a),
		newConfigSSHCommand(a),
		newPathsCommand(a),
		newWatchCommand(a),
		newEnvCommand(a),
	)

	return root
}

// init loads configuration, applies flags on top and sets up logging.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: a.flags.configFile})
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.URL = a.flags.url
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = a.flags.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = a.flags.logFormat
	}
	if flags.Changed("cache-root") {
		cfg.CacheRoot = a.flags.cacheRoot
	}
	if flags.Changed("tls-skip-verify") {
		cfg.TLSSkipVerify = a.flags.tlsSkipVerify
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = setupLogger(cfg.LogLevel, cfg.LogFormat, a.stderr)
	slog.SetDefault(a.logger)

	metrics.SetBuildInfo(Version, runtime.Version())

	a.logger.Debug("coderlink starting",
		slog.String("version", Version),
		slog.String("build_date", BuildDate),
		slog.String("go_version", runtime.Version()),
		slog.String("command", cmd.CommandPath()),
	)

	return nil
}

// finish runs after every command, including failed ones.
func (a *app) finish() error {
	if a.flags.metricsFile == "" {
		return nil
	}
	if err := metrics.WriteFile(a.flags.metricsFile); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}

// manager builds a CLI manager for the configured deployment.
func (a *app) manager(opts ...climanager.Option) (*climanager.Manager, error) {
	u, err := a.cfg.DeploymentURL()
	if err != nil {
		return nil, err
	}

	client := httputil.NewClient(&httputil.ClientConfig{
		Timeout:       a.cfg.HTTPTimeout,
		TLSSkipVerify: a.cfg.TLSSkipVerify,
		UserAgent:     a.cfg.UserAgent,
		Logger:        a.logger,
	})

	base := []climanager.Option{
		climanager.WithLogger(a.logger),
		climanager.WithHTTPClient(client),
		climanager.WithSSHConfigPath(a.cfg.SSHConfigPath),
		climanager.WithHeaderCommand(a.cfg.HeaderCommand),
		climanager.WithSSHOptions(a.cfg.SSHOptions...),
	}

	return climanager.New(u, a.cfg.CacheRoot, append(base, opts...)...)
}

// setupLogger creates a logger with the specified level and format.
func setupLogger(level, format string, w io.Writer) *slog.Logger {
	logLevel := parseLogLevel(level)

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	}

	return slog.New(handler)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
