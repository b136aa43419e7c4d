package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration error: %s", e.Errors[0])
	}
	return fmt.Sprintf("configuration errors:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// Validate checks the complete configuration and fails fast with every
// problem found. An empty URL is allowed; commands that need a deployment
// check it through DeploymentURL.
func (c *Config) Validate() error {
	var errs []string

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log level: invalid value %q (must be debug, info, warn, or error)", c.LogLevel))
	}

	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log format: invalid value %q (must be json or text)", c.LogFormat))
	}

	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil {
			errs = append(errs, fmt.Sprintf("url: %v", err))
		} else {
			errs = append(errs, validateURL(u)...)
		}
	}

	if c.CacheRoot == "" {
		errs = append(errs, "cache root: could not be determined, set "+EnvPrefix+"_CACHE_ROOT")
	}

	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("http timeout: must be positive, got %s", c.HTTPTimeout))
	}

	for _, opt := range c.SSHOptions {
		if strings.ContainsAny(opt, "\r\n") {
			errs = append(errs, fmt.Sprintf("ssh options: %q must be a single line", opt))
		}
	}

	if strings.ContainsAny(c.HeaderCommand, "\r\n") {
		errs = append(errs, "header command: must be a single line")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func validateURL(u *url.URL) []string {
	var errs []string

	switch u.Scheme {
	case "http", "https":
	default:
		errs = append(errs, fmt.Sprintf("url: scheme must be http or https, got %q", u.Scheme))
	}

	if u.Hostname() == "" {
		errs = append(errs, "url: host is required")
	}

	return errs
}
