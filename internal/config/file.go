package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FileConfig represents the configuration file structure. The same shape is
// accepted as YAML or TOML.
type FileConfig struct {
	// Deployment base URL
	URL string `yaml:"url,omitempty" toml:"url,omitempty"`

	Logging *FileLoggingConfig `yaml:"logging,omitempty" toml:"logging,omitempty"`
	Cache   *FileCacheConfig   `yaml:"cache,omitempty" toml:"cache,omitempty"`
	SSH     *FileSSHConfig     `yaml:"ssh,omitempty" toml:"ssh,omitempty"`
	HTTP    *FileHTTPConfig    `yaml:"http,omitempty" toml:"http,omitempty"`
}

// FileLoggingConfig holds logging settings.
type FileLoggingConfig struct {
	Level  string `yaml:"level,omitempty" toml:"level,omitempty"`   // debug, info, warn, error
	Format string `yaml:"format,omitempty" toml:"format,omitempty"` // json, text
}

// FileCacheConfig holds CLI cache settings.
type FileCacheConfig struct {
	Root         string `yaml:"root,omitempty" toml:"root,omitempty"`
	BinarySource string `yaml:"binary_source,omitempty" toml:"binary_source,omitempty"` // may use {{url}} and {{binary}}
}

// FileSSHConfig holds SSH config management settings.
type FileSSHConfig struct {
	ConfigPath    string   `yaml:"config_path,omitempty" toml:"config_path,omitempty"`
	HeaderCommand string   `yaml:"header_command,omitempty" toml:"header_command,omitempty"`
	Options       []string `yaml:"options,omitempty" toml:"options,omitempty"` // extra lines per Host stanza
}

// FileHTTPConfig holds HTTP client settings.
type FileHTTPConfig struct {
	Timeout       string `yaml:"timeout,omitempty" toml:"timeout,omitempty"`                 // Go duration format (e.g., "30s", "5m")
	TLSSkipVerify *bool  `yaml:"tls_skip_verify,omitempty" toml:"tls_skip_verify,omitempty"` // Pointer to distinguish unset from false
	UserAgent     string `yaml:"user_agent,omitempty" toml:"user_agent,omitempty"`
}

// envVarPattern matches ${VAR} or ${VAR:-default} syntax.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// InterpolateEnvVars replaces ${VAR} patterns with environment variable values.
// Supports ${VAR:-default} syntax for default values.
func InterpolateEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}

		if value := os.Getenv(groups[1]); value != "" {
			return value
		}
		if len(groups) >= 3 {
			return groups[2]
		}
		return ""
	})
}

func (c *FileConfig) interpolateEnvVars() {
	c.URL = InterpolateEnvVars(c.URL)

	if c.Logging != nil {
		c.Logging.Level = InterpolateEnvVars(c.Logging.Level)
		c.Logging.Format = InterpolateEnvVars(c.Logging.Format)
	}

	if c.Cache != nil {
		c.Cache.Root = InterpolateEnvVars(c.Cache.Root)
		c.Cache.BinarySource = InterpolateEnvVars(c.Cache.BinarySource)
	}

	if c.SSH != nil {
		c.SSH.ConfigPath = InterpolateEnvVars(c.SSH.ConfigPath)
		c.SSH.HeaderCommand = InterpolateEnvVars(c.SSH.HeaderCommand)
		for i := range c.SSH.Options {
			c.SSH.Options[i] = InterpolateEnvVars(c.SSH.Options[i])
		}
	}

	if c.HTTP != nil {
		c.HTTP.Timeout = InterpolateEnvVars(c.HTTP.Timeout)
		c.HTTP.UserAgent = InterpolateEnvVars(c.HTTP.UserAgent)
	}
}

// LoadFile reads and parses a configuration file. Files ending in .toml are
// parsed as TOML, everything else as YAML. Environment variables in ${VAR}
// format are interpolated.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg FileConfig
	if isTOML(path) {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing TOML config: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	}

	cfg.interpolateEnvVars()

	return &cfg, nil
}

// applyTo copies every value set in the file onto cfg and returns any
// conversion errors.
func (c *FileConfig) applyTo(cfg *Config) []string {
	var errs []string

	if c.URL != "" {
		cfg.URL = c.URL
	}

	if c.Logging != nil {
		if c.Logging.Level != "" {
			cfg.LogLevel = strings.ToLower(c.Logging.Level)
		}
		if c.Logging.Format != "" {
			cfg.LogFormat = strings.ToLower(c.Logging.Format)
		}
	}

	if c.Cache != nil {
		if c.Cache.Root != "" {
			cfg.CacheRoot = expandHome(c.Cache.Root)
		}
		if c.Cache.BinarySource != "" {
			cfg.BinarySource = c.Cache.BinarySource
		}
	}

	if c.SSH != nil {
		if c.SSH.ConfigPath != "" {
			cfg.SSHConfigPath = expandHome(c.SSH.ConfigPath)
		}
		if c.SSH.HeaderCommand != "" {
			cfg.HeaderCommand = c.SSH.HeaderCommand
		}
		if len(c.SSH.Options) > 0 {
			cfg.SSHOptions = append([]string(nil), c.SSH.Options...)
		}
	}

	if c.HTTP != nil {
		if c.HTTP.Timeout != "" {
			d, err := time.ParseDuration(c.HTTP.Timeout)
			if err != nil {
				errs = append(errs, fmt.Sprintf("http.timeout: invalid duration %q", c.HTTP.Timeout))
			} else {
				cfg.HTTPTimeout = d
			}
		}
		if c.HTTP.TLSSkipVerify != nil {
			cfg.TLSSkipVerify = *c.HTTP.TLSSkipVerify
		}
		if c.HTTP.UserAgent != "" {
			cfg.UserAgent = c.HTTP.UserAgent
		}
	}

	return errs
}

// GetConfigFilePath returns the config file path from CODERLINK_CONFIG.
// Returns empty string if no config file is specified.
func GetConfigFilePath() string {
	return os.Getenv(EnvConfigFile)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
