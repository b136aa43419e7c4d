// Package config handles loading and validation of coderlink configuration.
//
// Values are layered, lowest precedence first: built-in defaults, an optional
// YAML or TOML file, CODERLINK_* environment variables, and finally
// command-line flags applied by the caller.
package config

import (
	"fmt"
	"net/url"
	"runtime"
	"strings"
	"time"

	"gitlab.bluewillows.net/root/coderlink/pkg/dirs"
	"gitlab.bluewillows.net/root/coderlink/pkg/httputil"
	"gitlab.bluewillows.net/root/coderlink/pkg/sshconfig"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CODERLINK"

// Environment variables read outside the override set.
const (
	EnvConfigFile = EnvPrefix + "_CONFIG"
	EnvToken      = EnvPrefix + "_TOKEN"
	EnvTokenFile  = EnvPrefix + "_TOKEN_FILE"
)

// Configuration defaults.
const (
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultHTTPTimeout = httputil.DefaultTimeout
)

// Config holds the resolved coderlink configuration.
type Config struct {
	// URL is the deployment base URL.
	URL string

	// Logging configuration
	LogLevel  string // debug, info, warn, error
	LogFormat string // json, text

	// CacheRoot holds one subdirectory per deployment.
	CacheRoot string

	// SSH config management
	SSHConfigPath string
	HeaderCommand string
	SSHOptions    []string

	// BinarySource overrides where the CLI is downloaded from.
	BinarySource string

	// HTTP client settings
	HTTPTimeout   time.Duration
	TLSSkipVerify bool
	UserAgent     string

	// Token is the session token for login. It is only read from the
	// environment or a secret file, never from the config file.
	Token string
}

// Defaults returns a Config with every default applied. env resolves the
// platform data directory; nil means the process environment.
func Defaults(env dirs.Env) *Config {
	if env == nil {
		env = dirs.OSEnv{}
	}

	sshPath, err := sshconfig.DefaultPath()
	if err != nil {
		sshPath = ""
	}

	return &Config{
		LogLevel:      DefaultLogLevel,
		LogFormat:     DefaultLogFormat,
		CacheRoot:     dirs.DataDir(env, runtime.GOOS),
		SSHConfigPath: sshPath,
		HTTPTimeout:   DefaultHTTPTimeout,
		UserAgent:     httputil.DefaultUserAgent,
	}
}

// DeploymentURL parses URL.
func (c *Config) DeploymentURL() (*url.URL, error) {
	if strings.TrimSpace(c.URL) == "" {
		return nil, &ValidationError{Errors: []string{"url: deployment URL is required"}}
	}

	u, err := url.Parse(strings.TrimSpace(c.URL))
	if err != nil {
		return nil, &ValidationError{Errors: []string{fmt.Sprintf("url: %v", err)}}
	}

	if errs := validateURL(u); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return u, nil
}
