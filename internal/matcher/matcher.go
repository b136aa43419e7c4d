// Package matcher filters workspace hosts by include and exclude patterns.
// Supports both glob patterns (default, filepath.Match syntax) and regex
// (opt-in).
package matcher

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"gitlab.bluewillows.net/root/coderlink/pkg/sshconfig"
)

// Config holds the patterns for a Matcher.
type Config struct {
	// Includes selects targets. Empty means every target is included.
	Includes []string

	// Excludes removes targets even when an include matched.
	Excludes []string

	// UseRegex treats patterns as regular expressions instead of globs.
	UseRegex bool
}

// Matcher decides whether a workspace target ("workspace" or
// "workspace.agent") is selected. Matching is case-insensitive and anchored.
type Matcher struct {
	config   Config
	includes []pattern
	excludes []pattern
}

// pattern is either a lowercased glob for filepath.Match or a compiled regex.
type pattern struct {
	glob string
	re   *regexp.Regexp
}

func (p pattern) match(target string) bool {
	if p.re != nil {
		return p.re.MatchString(target)
	}
	matched, _ := filepath.Match(p.glob, strings.ToLower(target))
	return matched
}

// New compiles cfg.
func New(cfg Config) (*Matcher, error) {
	includes, err := compileAll(cfg.Includes, cfg.UseRegex)
	if err != nil {
		return nil, fmt.Errorf("include pattern: %w", err)
	}

	excludes, err := compileAll(cfg.Excludes, cfg.UseRegex)
	if err != nil {
		return nil, fmt.Errorf("exclude pattern: %w", err)
	}

	return &Matcher{config: cfg, includes: includes, excludes: excludes}, nil
}

// Matches reports whether target is selected.
func (m *Matcher) Matches(target string) bool {
	for _, p := range m.excludes {
		if p.match(target) {
			return false
		}
	}

	if len(m.includes) == 0 {
		return true
	}
	for _, p := range m.includes {
		if p.match(target) {
			return true
		}
	}
	return false
}

// Filter returns the selected hosts in their original order.
func (m *Matcher) Filter(hosts []sshconfig.WorkspaceHost) []sshconfig.WorkspaceHost {
	out := make([]sshconfig.WorkspaceHost, 0, len(hosts))
	for _, h := range hosts {
		if m.Matches(h.Target()) {
			out = append(out, h)
		}
	}
	return out
}

// IsEmpty reports whether the matcher selects everything.
func (m *Matcher) IsEmpty() bool {
	return len(m.includes) == 0 && len(m.excludes) == 0
}

// String describes the patterns for logging.
func (m *Matcher) String() string {
	kind := "glob"
	if m.config.UseRegex {
		kind = "regex"
	}
	return fmt.Sprintf("%s include=[%s] exclude=[%s]",
		kind, strings.Join(m.config.Includes, ","), strings.Join(m.config.Excludes, ","))
}

func compileAll(patterns []string, useRegex bool) ([]pattern, error) {
	out := make([]pattern, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		if !useRegex {
			glob := strings.ToLower(p)
			if _, err := filepath.Match(glob, ""); err != nil {
				return nil, fmt.Errorf("%q: %w", p, err)
			}
			out = append(out, pattern{glob: glob})
			continue
		}

		re, err := regexp.Compile("(?i)^(?:" + p + ")$")
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		out = append(out, pattern{re: re})
	}
	return out, nil
}
