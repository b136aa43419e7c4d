package climanager

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrBinaryNotFound indicates the cached CLI is missing or not executable.
// Callers should run EnsureCLI and retry.
var ErrBinaryNotFound = errors.New("coder binary not found")

// DownloadError is returned when the deployment answers a binary request with
// anything other than 200 or 304.
type DownloadError struct {
	StatusCode int
	URL        string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("downloading %s: unexpected status %d %s",
		e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// ExitError is returned when the CLI exits non-zero while reporting its
// version.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("coder exited with status %d", e.Code)
	}
	return fmt.Sprintf("coder exited with status %d: %s", e.Code, e.Stderr)
}

// LoginError is returned when `coder login` exits non-zero.
type LoginError struct {
	Code   int
	Stderr string
}

func (e *LoginError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("login failed with status %d", e.Code)
	}
	return fmt.Sprintf("login failed with status %d: %s", e.Code, e.Stderr)
}

// IsDownloadError returns true if err is a DownloadError.
func IsDownloadError(err error) bool {
	var e *DownloadError
	return errors.As(err, &e)
}

// IsBinaryNotFound returns true if the cached CLI is missing or not executable.
func IsBinaryNotFound(err error) bool {
	return errors.Is(err, ErrBinaryNotFound)
}

// IsLoginError returns true if err is a LoginError.
func IsLoginError(err error) bool {
	var e *LoginError
	return errors.As(err, &e)
}
