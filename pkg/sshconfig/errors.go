package sshconfig

import (
	"errors"
	"fmt"
)

// MalformedConfigError is returned when the managed block markers in an SSH
// config file are not arranged as exactly one start line followed by exactly
// one end line. The file is never written when this error is returned.
type MalformedConfigError struct {
	// Path is the config file, if known.
	Path string

	// Reason describes the marker arrangement that was found.
	Reason string
}

// Error implements the error interface.
func (e *MalformedConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("malformed ssh config: %s", e.Reason)
	}
	return fmt.Sprintf("malformed ssh config %s: %s", e.Path, e.Reason)
}

// IsMalformed reports whether err is a MalformedConfigError.
func IsMalformed(err error) bool {
	var e *MalformedConfigError
	return errors.As(err, &e)
}

// InvalidHostError is returned when a workspace host or an option line cannot
// be rendered into the managed block without changing its structure. The
// file is never written when this error is returned.
type InvalidHostError struct {
	// Field names the rejected input, for example "workspace" or "option".
	Field string

	// Value is the rejected input.
	Value string

	// Reason describes what is not allowed.
	Reason string
}

// Error implements the error interface.
func (e *InvalidHostError) Error() string {
	return fmt.Sprintf("invalid ssh host %s %q: %s", e.Field, e.Value, e.Reason)
}

// IsInvalidHost reports whether err is an InvalidHostError.
func IsInvalidHost(err error) bool {
	var e *InvalidHostError
	return errors.As(err, &e)
}
