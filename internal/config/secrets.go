package config

import (
	"os"
	"strings"
)

// getEnvOrFile retrieves a value from either a direct environment variable
// or a file path specified by the file key (Docker secrets pattern).
//
// If both are set, the file takes precedence. The file contents are trimmed
// of leading/trailing whitespace.
func getEnvOrFile(directKey, fileKey string) (string, error) {
	if filePath := os.Getenv(fileKey); filePath != "" {
		content, err := os.ReadFile(filePath)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(content)), nil
	}

	return os.Getenv(directKey), nil
}
