package config

import (
	"log/slog"

	"gitlab.bluewillows.net/root/coderlink/pkg/dirs"
)

// LoadOptions controls where Load looks for configuration.
type LoadOptions struct {
	// ConfigFile overrides CODERLINK_CONFIG when set.
	ConfigFile string

	// Env resolves the default cache root. Nil means the process environment.
	Env dirs.Env
}

// Load builds a Config from defaults, the optional config file and
// CODERLINK_* environment variables. All problems are collected into a
// single ValidationError. The result is not validated; callers apply flags
// first and then call Validate.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Defaults(opts.Env)
	var errs []string

	path := opts.ConfigFile
	if path == "" {
		path = GetConfigFilePath()
	}

	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			errs = append(errs, "config file: "+err.Error())
		} else {
			slog.Debug("loaded configuration from file", slog.String("path", path))
			errs = append(errs, fileCfg.applyTo(cfg)...)
		}
	}

	errs = append(errs, applyEnv(cfg)...)

	token, err := getEnvOrFile(EnvToken, EnvTokenFile)
	if err != nil {
		errs = append(errs, EnvTokenFile+": "+err.Error())
	}
	cfg.Token = token

	if len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	return cfg, nil
}
