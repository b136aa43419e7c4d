// Package deployment derives deployment-scoped locations for the coder CLI.
//
// Every function in this package is pure: it only looks at the deployment URL
// and its arguments and never touches the filesystem or the network. Two
// deployment URLs share a cache directory if and only if their normalized
// host[-port] strings are equal.
package deployment

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/net/idna"
)

const (
	// BinaryPrefix is the file name prefix of every CLI binary the server publishes.
	BinaryPrefix = "coder"

	// ConfigDirName is the per-deployment directory handed to the CLI as --global-config.
	ConfigDirName = "config"

	// binPath is the server route serving CLI binaries.
	binPath = "/bin/"
)

// Binary source template placeholders.
const (
	PlaceholderURL    = "{{url}}"
	PlaceholderBinary = "{{binary}}"
)

// ErrNoHost is returned when a deployment URL has no host component.
var ErrNoHost = errors.New("deployment URL has no host")

// hostProfile maps and punycodes hostnames. Underscores and other characters
// outside STD3 are let through so that real-world internal hostnames are not
// rejected.
var hostProfile = idna.New(
	idna.MapForLookup(),
	idna.StrictDomainName(false),
	idna.Transitional(false),
)

// SafeHost returns the normalized host[-port] string for a deployment URL.
//
// The host is lowercased and converted to ASCII (punycode). A port is only
// appended when it is explicit and differs from the scheme's default port.
func SafeHost(u *url.URL) (string, error) {
	if u == nil {
		return "", ErrNoHost
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", ErrNoHost
	}

	if net.ParseIP(host) == nil {
		ascii, err := hostProfile.ToASCII(host)
		if err != nil {
			return "", fmt.Errorf("converting host %q to ASCII: %w", host, err)
		}
		host = ascii
	} else {
		// Colons from IPv6 literals are not valid in Windows file names.
		host = strings.ReplaceAll(host, ":", "_")
	}

	if port := u.Port(); port != "" && port != defaultPort(u.Scheme) {
		host += "-" + port
	}

	return host, nil
}

// defaultPort returns the implicit port for a URL scheme.
func defaultPort(scheme string) string {
	switch strings.ToLower(scheme) {
	case "http":
		return "80"
	case "https":
		return "443"
	default:
		return ""
	}
}

// CacheDir returns the directory holding everything cached for a deployment.
func CacheDir(u *url.URL, cacheRoot string) (string, error) {
	host, err := SafeHost(u)
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheRoot, host), nil
}

// BinaryPath returns the cached CLI path for a deployment on the running platform.
func BinaryPath(u *url.URL, cacheRoot string) (string, error) {
	dir, err := CacheDir(u, cacheRoot)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultBinaryName()), nil
}

// ConfigDir returns the CLI --global-config directory for a deployment.
func ConfigDir(u *url.URL, cacheRoot string) (string, error) {
	dir, err := CacheDir(u, cacheRoot)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigDirName), nil
}

// BinaryName returns the published binary name for an OS/architecture pair,
// for example "coder-linux-amd64" or "coder-windows-arm64.exe".
func BinaryName(goos, goarch string) string {
	name := fmt.Sprintf("%s-%s-%s", BinaryPrefix, osName(goos), archName(goarch))
	if goos == "windows" {
		name += ".exe"
	}
	return name
}

// DefaultBinaryName returns BinaryName for the running platform.
func DefaultBinaryName() string {
	return BinaryName(runtime.GOOS, runtime.GOARCH)
}

func osName(goos string) string {
	switch goos {
	case "windows", "linux", "darwin":
		return goos
	default:
		// The server only publishes the three desktop platforms; other
		// unixes are closest to linux.
		return "linux"
	}
}

func archName(goarch string) string {
	switch goarch {
	case "arm":
		return "armv7"
	default:
		return goarch
	}
}

// root returns a copy of u pointing at the deployment root with no query or fragment.
func root(u *url.URL) *url.URL {
	r := *u
	r.Path = "/"
	r.RawPath = ""
	r.RawQuery = ""
	r.Fragment = ""
	r.RawFragment = ""
	r.User = nil
	return &r
}

// BinaryURL returns the canonical download URL for the running platform's CLI.
func BinaryURL(u *url.URL) *url.URL {
	r := root(u)
	r.Path = binPath + DefaultBinaryName()
	return r
}

// ResolveBinarySource resolves a binary source override against a deployment.
//
// An empty template yields BinaryURL. Otherwise {{url}} is replaced with the
// deployment URL (without trailing slash) and {{binary}} with the binary name.
// An absolute result is used as is; a relative one ("/path", "path" or a bare
// "?query") is resolved as a URL reference against the deployment root.
func ResolveBinarySource(u *url.URL, template string) (*url.URL, error) {
	template = strings.TrimSpace(template)
	if template == "" {
		return BinaryURL(u), nil
	}

	base := root(u)
	expanded := strings.ReplaceAll(template, PlaceholderURL, strings.TrimSuffix(base.String(), "/"))
	expanded = strings.ReplaceAll(expanded, PlaceholderBinary, DefaultBinaryName())

	ref, err := url.Parse(expanded)
	if err != nil {
		return nil, fmt.Errorf("parsing binary source %q: %w", expanded, err)
	}

	if ref.IsAbs() {
		if ref.Host == "" {
			return nil, fmt.Errorf("binary source %q has no host", expanded)
		}
		return ref, nil
	}

	return base.ResolveReference(ref), nil
}
