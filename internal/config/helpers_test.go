package config

import (
	"os"
	"path/filepath"
	"testing"
)

var coderlinkEnvKeys = []string{
	EnvConfigFile,
	EnvToken,
	EnvTokenFile,
	"CODERLINK_URL",
	"CODERLINK_LOG_LEVEL",
	"CODERLINK_LOG_FORMAT",
	"CODERLINK_CACHE_ROOT",
	"CODERLINK_SSH_CONFIG_PATH",
	"CODERLINK_HEADER_COMMAND",
	"CODERLINK_SSH_OPTIONS",
	"CODERLINK_BINARY_SOURCE",
	"CODERLINK_HTTP_TIMEOUT",
	"CODERLINK_TLS_SKIP_VERIFY",
	"CODERLINK_USER_AGENT",
}

// clearEnv unsets every CODERLINK_* variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range coderlinkEnvKeys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}
