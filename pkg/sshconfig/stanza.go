package sshconfig

import (
	"strings"
)

const (
	markerPrefix = "# --- "
	markerTag    = "CODER JETBRAINS"

	// HostPrefix starts every generated Host alias.
	HostPrefix = "coder-jetbrains"

	// SessionType is advertised to the server for every proxied session.
	SessionType = "JetBrains"

	indent = "  "
)

// baseOptions follow the ProxyCommand line in every stanza.
var baseOptions = []string{
	"ConnectTimeout 0",
	"StrictHostKeyChecking no",
	"UserKnownHostsFile /dev/null",
	"LogLevel ERROR",
	"SetEnv CODER_SSH_SESSION_TYPE=" + SessionType,
}

// WorkspaceHost is one workspace agent that should be reachable over SSH.
type WorkspaceHost struct {
	Workspace string `json:"workspace" yaml:"workspace" toml:"workspace"`
	Agent     string `json:"agent,omitempty" yaml:"agent,omitempty" toml:"agent,omitempty"`
}

// Target returns the name the coder CLI uses to address the host:
// "<workspace>" or "<workspace>.<agent>".
func (h WorkspaceHost) Target() string {
	if h.Agent == "" {
		return h.Workspace
	}
	return h.Workspace + "." + h.Agent
}

// Alias returns the Host alias written to the SSH config for safeHost.
func (h WorkspaceHost) Alias(safeHost string) string {
	return HostPrefix + "--" + h.Target() + "--" + safeHost
}

// StartMarker returns the line that opens the managed block for safeHost.
func StartMarker(safeHost string) string {
	return markerPrefix + "START " + markerTag + " " + safeHost
}

// EndMarker returns the line that closes the managed block for safeHost.
func EndMarker(safeHost string) string {
	return markerPrefix + "END " + markerTag + " " + safeHost
}

// nameForbidden lists characters that would split an alias or a target, or
// let a name start a comment or a marker line.
const nameForbidden = " \t\r\n\"'.#"

// validateHosts rejects names and option lines that would corrupt the block.
func (e *Editor) validateHosts(hosts []WorkspaceHost) error {
	for _, h := range hosts {
		if h.Workspace == "" {
			return &InvalidHostError{Field: "workspace", Value: h.Workspace, Reason: "must not be empty"}
		}
		fields := []struct{ name, value string }{
			{"workspace", h.Workspace},
			{"agent", h.Agent},
		}
		for _, f := range fields {
			if strings.ContainsAny(f.value, nameForbidden) {
				return &InvalidHostError{Field: f.name, Value: f.value, Reason: "must not contain whitespace, quotes, dots or #"}
			}
		}
	}
	for _, opt := range e.extraOptions {
		if strings.ContainsAny(opt, "\r\n") {
			return &InvalidHostError{Field: "option", Value: opt, Reason: "must be a single line"}
		}
	}
	if strings.ContainsAny(e.headerCommand, "\r\n") {
		return &InvalidHostError{Field: "header command", Value: e.headerCommand, Reason: "must be a single line"}
	}
	return nil
}

// renderBlock returns the managed block for hosts without a trailing line
// terminator.
func (e *Editor) renderBlock(hosts []WorkspaceHost, eol string) string {
	lines := []string{StartMarker(e.target.SafeHost)}
	for _, h := range hosts {
		lines = append(lines, e.renderStanza(h)...)
	}
	lines = append(lines, EndMarker(e.target.SafeHost))
	return strings.Join(lines, eol)
}

func (e *Editor) renderStanza(h WorkspaceHost) []string {
	args := []string{
		quoteArg(e.target.BinaryPath),
		"--global-config", quoteArg(e.target.ConfigDir),
	}
	if e.headerCommand != "" {
		args = append(args, "--header-command", quoteArg(e.headerCommand))
	}
	args = append(args, "ssh", "--stdio", quoteArg(h.Target()))

	lines := []string{
		"Host " + h.Alias(e.target.SafeHost),
		indent + "ProxyCommand " + strings.Join(args, " "),
	}
	for _, opt := range baseOptions {
		lines = append(lines, indent+opt)
	}
	for _, opt := range e.extraOptions {
		if opt = strings.TrimSpace(opt); opt != "" {
			lines = append(lines, indent+opt)
		}
	}
	return lines
}

// quoteArg double-quotes s when it holds whitespace or quotes, escaping any
// embedded double quotes.
func quoteArg(s string) string {
	if s == "" {
		return `""`
	}
	if !strings.ContainsAny(s, " \t\"'") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}
