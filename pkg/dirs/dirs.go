// Package dirs resolves the platform base directories used by the coder CLI
// and by coderlink's own cache.
//
// Resolution is a pure function over an Env lookup so that callers and tests
// can supply their own environment without touching the process environment.
package dirs

import (
	"os"
	"path/filepath"
	"runtime"
)

// Directory names under the platform base directories.
const (
	// CLIConfigDirName is the coder CLI's own config directory name.
	CLIConfigDirName = "coderv2"

	// DataDirName is the directory name for downloaded binaries and state.
	DataDirName = "coder-gateway"
)

// Environment variable names consulted during resolution.
const (
	EnvCoderConfigDir = "CODER_CONFIG_DIR"
	EnvXDGConfigHome  = "XDG_CONFIG_HOME"
	EnvXDGDataHome    = "XDG_DATA_HOME"
	EnvHome           = "HOME"
	EnvAppData        = "APPDATA"
	EnvLocalAppData   = "LOCALAPPDATA"
)

// Env looks up environment variables. An empty result means unset.
type Env interface {
	Get(key string) string
}

// OSEnv reads the real process environment.
type OSEnv struct{}

// Get implements Env.
func (OSEnv) Get(key string) string {
	return os.Getenv(key)
}

// MapEnv is an Env backed by a map.
type MapEnv map[string]string

// Get implements Env.
func (m MapEnv) Get(key string) string {
	return m[key]
}

// ConfigDir returns the coder CLI config directory for goos.
//
// CODER_CONFIG_DIR wins on every platform when it is non-empty.
func ConfigDir(env Env, goos string) string {
	if dir := env.Get(EnvCoderConfigDir); dir != "" {
		return dir
	}

	switch goos {
	case "windows":
		return filepath.Join(env.Get(EnvAppData), CLIConfigDirName)
	case "darwin":
		return filepath.Join(env.Get(EnvHome), "Library", "Application Support", CLIConfigDirName)
	default:
		if xdg := env.Get(EnvXDGConfigHome); xdg != "" {
			return filepath.Join(xdg, CLIConfigDirName)
		}
		return filepath.Join(env.Get(EnvHome), ".config", CLIConfigDirName)
	}
}

// DataDir returns the directory under which deployment caches live for goos.
func DataDir(env Env, goos string) string {
	switch goos {
	case "windows":
		return filepath.Join(env.Get(EnvLocalAppData), DataDirName)
	case "darwin":
		return filepath.Join(env.Get(EnvHome), "Library", "Application Support", DataDirName)
	default:
		if xdg := env.Get(EnvXDGDataHome); xdg != "" {
			return filepath.Join(xdg, DataDirName)
		}
		return filepath.Join(env.Get(EnvHome), ".local", "share", DataDirName)
	}
}

// Resolver binds an Env to the running platform.
type Resolver struct {
	env  Env
	goos string
}

// NewResolver returns a Resolver for the running OS. A nil env means OSEnv.
func NewResolver(env Env) *Resolver {
	if env == nil {
		env = OSEnv{}
	}
	return &Resolver{env: env, goos: runtime.GOOS}
}

// ConfigDir returns ConfigDir for the running platform.
func (r *Resolver) ConfigDir() string {
	return ConfigDir(r.env, r.goos)
}

// DataDir returns DataDir for the running platform.
func (r *Resolver) DataDir() string {
	return DataDir(r.env, r.goos)
}
