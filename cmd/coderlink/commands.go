package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"gitlab.bluewillows.net/root/coderlink/internal/climanager"
	"gitlab.bluewillows.net/root/coderlink/internal/config"
	"gitlab.bluewillows.net/root/coderlink/internal/matcher"
	"gitlab.bluewillows.net/root/coderlink/pkg/sshconfig"
)

// errIncompatible is returned by the compatible command when the cached CLI
// does not match the requested build.
var errIncompatible = errors.New("cached CLI is not compatible")

func newEnsureCommand(a *app) *cobra.Command {
	var binarySource string

	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Download the deployment's CLI if the cached copy is missing or stale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}

			if !cmd.Flags().Changed("binary-source") {
				binarySource = a.cfg.BinarySource
			}

			downloaded, err := m.EnsureCLI(cmd.Context(), binarySource)
			if err != nil {
				return err
			}

			status := "up to date"
			if downloaded {
				status = "downloaded"
			}
			fmt.Fprintf(a.stdout, "%s: %s\n", m.BinaryPath(), status)
			return nil
		},
	}

	cmd.Flags().StringVar(&binarySource, "binary-source", "", "Override the download location (absolute URL or path relative to the deployment; may use {{url}} and {{binary}})")
	return cmd
}

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the coderlink version and the cached CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(a.stdout, "coderlink %s (built %s)\n", Version, BuildDate)

			if a.cfg.URL == "" {
				return nil
			}

			m, err := a.manager()
			if err != nil {
				return err
			}

			v, err := m.Version(cmd.Context())
			switch {
			case climanager.IsBinaryNotFound(err):
				fmt.Fprintf(a.stdout, "cli: not installed (%s)\n", m.BinaryPath())
			case err != nil:
				return err
			default:
				fmt.Fprintf(a.stdout, "cli: %s (%s)\n", v.String(), m.BinaryPath())
			}
			return nil
		},
	}
}

func newCompatibleCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "compatible <build>",
		Short: "Exit 0 if the cached CLI's major.minor.patch matches build, 2 otherwise",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}

			if !m.IsCompatible(cmd.Context(), args[0]) {
				return fmt.Errorf("%w with %s", errIncompatible, args[0])
			}
			fmt.Fprintln(a.stdout, "compatible")
			return nil
		},
	}
}

func newLoginCommand(a *app) *cobra.Command {
	var (
		token      string
		noDownload bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log the cached CLI in to the deployment",
		Long: "Log the cached CLI in to the deployment using a session token.\n\n" +
			"The token is read from --token, " + config.EnvToken + " or the file named by " + config.EnvTokenFile + ".",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				token = a.cfg.Token
			}
			if token == "" {
				return fmt.Errorf("a session token is required (--token or %s)", config.EnvToken)
			}

			m, err := a.manager()
			if err != nil {
				return err
			}

			if !noDownload {
				if _, err := m.EnsureCLI(cmd.Context(), a.cfg.BinarySource); err != nil {
					return err
				}
			}

			if err := m.Login(cmd.Context(), token); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "logged in to %s\n", m.DeploymentURL())
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Session token")
	cmd.Flags().BoolVar(&noDownload, "no-download", false, "Use the cached CLI without checking for updates")
	return cmd
}

// filterFlags selects a subset of workspaces by pattern.
type filterFlags struct {
	includes []string
	excludes []string
	regex    bool
}

func (f *filterFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringArrayVar(&f.includes, "include", nil, "Only keep workspaces matching this pattern (repeatable)")
	flags.StringArrayVar(&f.excludes, "exclude", nil, "Drop workspaces matching this pattern (repeatable)")
	flags.BoolVar(&f.regex, "regex", false, "Treat --include/--exclude as regular expressions instead of globs")
}

func (f *filterFlags) matcher() (*matcher.Matcher, error) {
	return matcher.New(matcher.Config{Includes: f.includes, Excludes: f.excludes, UseRegex: f.regex})
}

func newConfigSSHCommand(a *app) *cobra.Command {
	var (
		filter         filterFlags
		workspacesFile string
		headerCommand  string
		sshOptions     []string
		sshConfigPath  string
	)

	cmd := &cobra.Command{
		Use:   "config-ssh [workspace[.agent]...]",
		Short: "Write Host stanzas for workspaces into the SSH config",
		Long: "Replace this deployment's managed block in the SSH config with one Host\n" +
			"stanza per workspace. With no workspaces the block is removed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			hosts, err := parseWorkspaceArgs(args)
			if err != nil {
				return err
			}

			if workspacesFile != "" {
				fromFile, err := config.LoadWorkspaces(workspacesFile)
				if err != nil {
					return err
				}
				hosts = append(hosts, fromFile...)
			}

			match, err := filter.matcher()
			if err != nil {
				return err
			}
			if !match.IsEmpty() {
				hosts = match.Filter(hosts)
				a.logger.Debug("filtered workspaces", slog.String("filter", match.String()), slog.Int("hosts", len(hosts)))
			}

			flags := cmd.Flags()
			if flags.Changed("header-command") {
				a.cfg.HeaderCommand = headerCommand
			}
			if flags.Changed("ssh-option") {
				a.cfg.SSHOptions = sshOptions
			}
			if flags.Changed("ssh-config") {
				a.cfg.SSHConfigPath = sshConfigPath
			}

			m, err := a.manager()
			if err != nil {
				return err
			}

			if err := m.ConfigSSH(cmd.Context(), hosts); err != nil {
				return err
			}

			if len(hosts) == 0 {
				fmt.Fprintln(a.stdout, "removed managed SSH config block")
			} else {
				fmt.Fprintf(a.stdout, "configured %d SSH host(s)\n", len(hosts))
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&workspacesFile, "workspaces", "w", "", "YAML, TOML or JSON file listing workspaces")
	flags.StringVar(&headerCommand, "header-command", "", "Command passed to the CLI as --header-command")
	flags.StringArrayVar(&sshOptions, "ssh-option", nil, "Extra option line for every Host stanza (repeatable)")
	flags.StringVar(&sshConfigPath, "ssh-config", "", "SSH config file to edit")
	filter.register(cmd)
	return cmd
}

// parseWorkspaceArgs turns "workspace" or "workspace.agent" arguments into
// hosts, preserving order.
func parseWorkspaceArgs(args []string) ([]sshconfig.WorkspaceHost, error) {
	hosts := make([]sshconfig.WorkspaceHost, 0, len(args))
	for _, arg := range args {
		ws, agent, _ := strings.Cut(arg, ".")
		if ws == "" || strings.ContainsAny(arg, " \t\r\n\"'#") || strings.Contains(agent, ".") {
			return nil, fmt.Errorf("invalid workspace %q (want workspace or workspace.agent)", arg)
		}
		hosts = append(hosts, sshconfig.WorkspaceHost{Workspace: ws, Agent: agent})
	}
	return hosts, nil
}

func newPathsCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show the cache, binary, CLI config and SSH config paths for the deployment",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			m, err := a.manager()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "deployment\t%s\n", m.DeploymentURL())
			fmt.Fprintf(w, "cache\t%s\n", m.CacheDir())
			fmt.Fprintf(w, "binary\t%s\n", m.BinaryPath())
			fmt.Fprintf(w, "cli config\t%s\n", m.ConfigDir())
			fmt.Fprintf(w, "ssh config\t%s\n", a.cfg.SSHConfigPath)
			return w.Flush()
		},
	}
}

func newEnvCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables coderlink reads",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return nil
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Fprintf(a.stdout, "  %s\tString\n  %s\tString\n  %s\tString\n", config.EnvConfigFile, config.EnvToken, config.EnvTokenFile)
			fmt.Fprint(a.stdout, config.Usage())
			return nil
		},
	}
}
