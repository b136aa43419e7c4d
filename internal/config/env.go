package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides lists every CODERLINK_* variable. Nil fields were not set.
type envOverrides struct {
	URL           *string        `split_words:"true"`
	LogLevel      *string        `split_words:"true"`
	LogFormat     *string        `split_words:"true"`
	CacheRoot     *string        `split_words:"true"`
	SSHConfigPath *string        `split_words:"true"`
	HeaderCommand *string        `split_words:"true"`
	SSHOptions    []string       `split_words:"true"`
	BinarySource  *string        `split_words:"true"`
	HTTPTimeout   *time.Duration `split_words:"true"`
	TLSSkipVerify *bool          `split_words:"true"`
	UserAgent     *string        `split_words:"true"`
}

// applyEnv overlays CODERLINK_* environment variables onto cfg. Environment
// variables always take precedence over file config.
func applyEnv(cfg *Config) []string {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return []string{fmt.Sprintf("environment: %v", err)}
	}

	setString(&cfg.URL, env.URL, nil)
	setString(&cfg.LogLevel, env.LogLevel, strings.ToLower)
	setString(&cfg.LogFormat, env.LogFormat, strings.ToLower)
	setString(&cfg.CacheRoot, env.CacheRoot, expandHome)
	setString(&cfg.SSHConfigPath, env.SSHConfigPath, expandHome)
	setString(&cfg.HeaderCommand, env.HeaderCommand, nil)
	setString(&cfg.BinarySource, env.BinarySource, nil)
	setString(&cfg.UserAgent, env.UserAgent, nil)

	if len(env.SSHOptions) > 0 {
		cfg.SSHOptions = env.SSHOptions
	}
	if env.HTTPTimeout != nil {
		cfg.HTTPTimeout = *env.HTTPTimeout
	}
	if env.TLSSkipVerify != nil {
		cfg.TLSSkipVerify = *env.TLSSkipVerify
	}

	return nil
}

// setString copies v onto dst when it is set and non-empty. An empty
// variable is treated as unset.
func setString(dst, v *string, transform func(string) string) {
	if v == nil || *v == "" {
		return
	}
	if transform != nil {
		*dst = transform(*v)
		return
	}
	*dst = *v
}

// Usage returns the table of supported environment variables.
func Usage() string {
	var b strings.Builder
	_ = envconfig.Usagef(EnvPrefix, &envOverrides{}, &b, "{{range .}}  {{usage_key .}}\t{{usage_type .}}\n{{end}}")
	return b.String()
}
