package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"gitlab.bluewillows.net/root/coderlink/pkg/sshconfig"
)

// workspaceFile is the object form of a workspace list. TOML only supports
// this form; YAML and JSON also accept a bare list.
type workspaceFile struct {
	Workspaces []sshconfig.WorkspaceHost `json:"workspaces" yaml:"workspaces" toml:"workspaces"`
}

// LoadWorkspaces reads an ordered list of workspace/agent pairs from a YAML,
// TOML or JSON file, chosen by extension (YAML by default). Order is
// preserved and duplicates are kept.
func LoadWorkspaces(path string) ([]sshconfig.WorkspaceHost, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workspace list: %w", err)
	}

	hosts, err := parseWorkspaces(strings.ToLower(filepath.Ext(path)), data)
	if err != nil {
		return nil, fmt.Errorf("parsing workspace list %s: %w", path, err)
	}

	var errs []string
	for i, h := range hosts {
		hosts[i].Workspace = strings.TrimSpace(h.Workspace)
		hosts[i].Agent = strings.TrimSpace(h.Agent)
		errs = append(errs, validateWorkspace(i, hosts[i])...)
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return hosts, nil
}

func parseWorkspaces(ext string, data []byte) ([]sshconfig.WorkspaceHost, error) {
	switch ext {
	case ".toml":
		var f workspaceFile
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, err
		}
		return f.Workspaces, nil

	case ".json":
		trimmed := bytes.TrimSpace(data)
		if bytes.HasPrefix(trimmed, []byte("[")) {
			var hosts []sshconfig.WorkspaceHost
			if err := json.Unmarshal(trimmed, &hosts); err != nil {
				return nil, err
			}
			return hosts, nil
		}
		var f workspaceFile
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return nil, err
		}
		return f.Workspaces, nil

	default:
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, err
		}
		if len(node.Content) == 0 {
			return nil, nil
		}
		if node.Content[0].Kind == yaml.SequenceNode {
			var hosts []sshconfig.WorkspaceHost
			if err := node.Content[0].Decode(&hosts); err != nil {
				return nil, err
			}
			return hosts, nil
		}
		var f workspaceFile
		if err := node.Content[0].Decode(&f); err != nil {
			return nil, err
		}
		return f.Workspaces, nil
	}
}

func validateWorkspace(i int, h sshconfig.WorkspaceHost) []string {
	var errs []string

	if h.Workspace == "" {
		errs = append(errs, fmt.Sprintf("workspaces[%d]: workspace is required", i))
	}
	fields := []struct{ name, value string }{
		{"workspace", h.Workspace},
		{"agent", h.Agent},
	}
	for _, f := range fields {
		if strings.ContainsAny(f.value, " \t\r\n\"'.#") {
			errs = append(errs, fmt.Sprintf("workspaces[%d]: %s %q contains whitespace, quotes, dots or #", i, f.name, f.value))
		}
	}

	return errs
}
