// Package cliversion decodes the coder CLI's self-reported version and decides
// whether a cached CLI can talk to a given server build.
package cliversion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

var (
	// ErrMalformedPayload is returned when the version output is not valid JSON.
	ErrMalformedPayload = errors.New("malformed version payload")

	// ErrInvalidVersion is returned when the version field is missing, empty
	// or not a semantic version.
	ErrInvalidVersion = errors.New("invalid version")
)

// Version is a parsed semantic version.
type Version struct {
	raw       string
	canonical string
}

// String returns the version exactly as reported.
func (v Version) String() string {
	return v.raw
}

// Triple returns the vMAJOR.MINOR.PATCH part of the version.
func (v Version) Triple() string {
	return strings.TrimSuffix(v.canonical, semver.Prerelease(v.canonical))
}

// Prerelease returns the pre-release label including the leading "-", or "".
func (v Version) Prerelease() string {
	return semver.Prerelease(v.canonical)
}

// Build returns the build metadata including the leading "+", or "".
func (v Version) Build() string {
	return semver.Build(v.withPrefix())
}

func (v Version) withPrefix() string {
	if strings.HasPrefix(v.raw, "v") {
		return v.raw
	}
	return "v" + v.raw
}

// Matches reports whether v and target share the same major.minor.patch.
func (v Version) Matches(target string) bool {
	t, err := ParseVersion(target)
	if err != nil {
		return false
	}
	return v.Triple() == t.Triple()
}

// ParseVersion parses a semantic version with or without the leading "v".
// All three numeric components are required.
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("%w: empty version", ErrInvalidVersion)
	}

	prefixed := s
	if !strings.HasPrefix(prefixed, "v") {
		prefixed = "v" + prefixed
	}

	if !semver.IsValid(prefixed) {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}

	// x/mod/semver accepts "v1" and "v1.2" shorthands; a CLI always reports
	// the full triple.
	core := prefixed
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	if strings.Count(core, ".") != 2 {
		return Version{}, fmt.Errorf("%w: %q is missing components", ErrInvalidVersion, s)
	}

	return Version{raw: s, canonical: semver.Canonical(prefixed)}, nil
}

// Parse decodes the JSON printed by `coder version --output json`. Output
// that is not JSON is ErrMalformedPayload; valid JSON without a string
// "version" field is ErrInvalidVersion.
func Parse(data []byte) (Version, error) {
	data = bytes.TrimSpace(data)
	if !json.Valid(data) {
		return Version{}, fmt.Errorf("%w: not valid JSON", ErrMalformedPayload)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Version{}, fmt.Errorf("%w: output is not a JSON object", ErrInvalidVersion)
	}

	raw, ok := fields["version"]
	if !ok {
		return Version{}, fmt.Errorf("%w: version field is missing", ErrInvalidVersion)
	}

	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return Version{}, fmt.Errorf("%w: version field %s is not a string", ErrInvalidVersion, raw)
	}
	if v == "" {
		return Version{}, fmt.Errorf("%w: version field is empty", ErrInvalidVersion)
	}

	return ParseVersion(v)
}

// Matches reports whether two version strings share the same
// major.minor.patch, ignoring pre-release labels and build metadata. It
// returns false if either side does not parse.
func Matches(cached, target string) bool {
	c, err := ParseVersion(cached)
	if err != nil {
		return false
	}
	return c.Matches(target)
}
