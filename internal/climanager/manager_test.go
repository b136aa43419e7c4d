package climanager

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha1" //nolint:gosec // Matches the deployment's ETag scheme.
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"gitlab.bluewillows.net/root/coderlink/internal/metrics"
	"gitlab.bluewillows.net/root/coderlink/pkg/cliversion"
	"gitlab.bluewillows.net/root/coderlink/pkg/deployment"
	"gitlab.bluewillows.net/root/coderlink/pkg/dirs"
	"gitlab.bluewillows.net/root/coderlink/pkg/process"
	"gitlab.bluewillows.net/root/coderlink/pkg/sshconfig"
)

// fakeDeployment serves a CLI binary the way a deployment does: the ETag is
// the SHA-1 of the body and a matching If-None-Match gets a 304.
type fakeDeployment struct {
	mu           sync.Mutex
	body         []byte
	gzip         bool
	status       int
	requests     int
	bodiesServed int
	paths        []string
	ifNoneMatch  []string
}

func (f *fakeDeployment) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests++
	f.paths = append(f.paths, r.URL.RequestURI())
	f.ifNoneMatch = append(f.ifNoneMatch, r.Header.Get("If-None-Match"))

	if f.status != 0 {
		http.Error(w, "boom", f.status)
		return
	}

	etag := `"` + sha1Hex(f.body) + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	f.bodiesServed++

	if f.gzip && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write(f.body)
		_ = gz.Close()
		return
	}

	_, _ = w.Write(f.body)
}

func (f *fakeDeployment) setBody(body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.body = body
}

func (f *fakeDeployment) stats() (requests, bodies int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests, f.bodiesServed
}

func (f *fakeDeployment) requestLog() (paths, ifNoneMatch []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...), append([]string(nil), f.ifNoneMatch...)
}

func sha1Hex(b []byte) string {
	sum := sha1.Sum(b) //nolint:gosec // See import.
	return hex.EncodeToString(sum[:])
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startDeployment(t *testing.T, body string) (*fakeDeployment, *url.URL) {
	t.Helper()

	fake := &fakeDeployment{body: []byte(body)}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	return fake, u
}

func newTestManager(t *testing.T, u *url.URL, root string, opts ...Option) *Manager {
	t.Helper()

	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	m, err := New(u, root, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func writeExecutable(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatal(err)
	}
}

func TestNew(t *testing.T) {
	u, _ := url.Parse("https://Dev.Coder.Example:8443/some/path")
	root := t.TempDir()

	m := newTestManager(t, u, root)

	wantCache := filepath.Join(root, "dev.coder.example-8443")
	if m.CacheDir() != wantCache {
		t.Errorf("CacheDir() = %q, want %q", m.CacheDir(), wantCache)
	}
	if want := filepath.Join(wantCache, deployment.DefaultBinaryName()); m.BinaryPath() != want {
		t.Errorf("BinaryPath() = %q, want %q", m.BinaryPath(), want)
	}
	if want := filepath.Join(wantCache, "config"); m.ConfigDir() != want {
		t.Errorf("ConfigDir() = %q, want %q", m.ConfigDir(), want)
	}
	if m.DeploymentURL().String() != u.String() {
		t.Errorf("DeploymentURL() = %q, want %q", m.DeploymentURL(), u)
	}

	if _, err := os.Stat(wantCache); !os.IsNotExist(err) {
		t.Error("New() should not create the cache directory")
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(nil, t.TempDir()); err == nil {
		t.Error("New(nil) should fail")
	}

	u, _ := url.Parse("/no/host")
	if _, err := New(u, t.TempDir()); !errors.Is(err, deployment.ErrNoHost) {
		t.Errorf("New() error = %v, want ErrNoHost", err)
	}
}

func TestNew_DefaultCacheRoot(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG resolution")
	}

	data := t.TempDir()
	u, _ := url.Parse("https://coder.example")
	m := newTestManager(t, u, "", WithEnv(dirs.MapEnv{dirs.EnvXDGDataHome: data}))

	want := filepath.Join(data, dirs.DataDirName, "coder.example")
	if m.CacheDir() != want {
		t.Errorf("CacheDir() = %q, want %q", m.CacheDir(), want)
	}
}

func TestEnsureCLI_DownloadThenNotModified(t *testing.T) {
	fake, u := startDeployment(t, "binary-v1")
	m := newTestManager(t, u, t.TempDir())
	ctx := context.Background()

	downloaded, err := m.EnsureCLI(ctx, "")
	if err != nil {
		t.Fatalf("first EnsureCLI() error = %v", err)
	}
	if !downloaded {
		t.Error("first EnsureCLI() = false, want true")
	}
	if got := readFile(t, m.BinaryPath()); got != "binary-v1" {
		t.Errorf("binary content = %q", got)
	}
	if runtime.GOOS != "windows" {
		info, err := os.Stat(m.BinaryPath())
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != BinaryPermissions {
			t.Errorf("binary perm = %o, want %o", perm, BinaryPermissions)
		}
	}

	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(m.BinaryPath(), past, past); err != nil {
		t.Fatal(err)
	}

	downloaded, err = m.EnsureCLI(ctx, "")
	if err != nil {
		t.Fatalf("second EnsureCLI() error = %v", err)
	}
	if downloaded {
		t.Error("second EnsureCLI() = true, want false")
	}

	info, err := os.Stat(m.BinaryPath())
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(past) {
		t.Errorf("mtime changed on 304: %v, want %v", info.ModTime(), past)
	}

	requests, bodies := fake.stats()
	if requests != 2 || bodies != 1 {
		t.Fatalf("requests = %d, bodies = %d, want 2 and 1", requests, bodies)
	}
	paths, ifNoneMatch := fake.requestLog()
	if paths[0] != "/bin/"+deployment.DefaultBinaryName() {
		t.Errorf("request path = %q", paths[0])
	}
	if ifNoneMatch[0] != "" {
		t.Errorf("first request sent If-None-Match %q", ifNoneMatch[0])
	}
	if want := `"` + sha1Hex([]byte("binary-v1")) + `"`; ifNoneMatch[1] != want {
		t.Errorf("If-None-Match = %q, want %q", ifNoneMatch[1], want)
	}
}

func TestEnsureCLI_OverwritesMismatch(t *testing.T) {
	fake, u := startDeployment(t, "binary-v2")
	m := newTestManager(t, u, t.TempDir())

	writeExecutable(t, m.BinaryPath(), "binary-v1")
	future := time.Now().Add(24 * time.Hour)
	if err := os.Chtimes(m.BinaryPath(), future, future); err != nil {
		t.Fatal(err)
	}

	downloaded, err := m.EnsureCLI(context.Background(), "")
	if err != nil {
		t.Fatalf("EnsureCLI() error = %v", err)
	}
	if !downloaded {
		t.Error("EnsureCLI() = false, want true")
	}
	if got := readFile(t, m.BinaryPath()); got != "binary-v2" {
		t.Errorf("binary content = %q, want server content", got)
	}

	fake.setBody([]byte("binary-v3"))
	if downloaded, err := m.EnsureCLI(context.Background(), ""); err != nil || !downloaded {
		t.Fatalf("EnsureCLI() after server update = %v, %v", downloaded, err)
	}
	if got := readFile(t, m.BinaryPath()); got != "binary-v3" {
		t.Errorf("binary content = %q, want updated server content", got)
	}
}

func TestEnsureCLI_Gzip(t *testing.T) {
	fake, u := startDeployment(t, strings.Repeat("compressible ", 1000))
	fake.gzip = true
	m := newTestManager(t, u, t.TempDir())

	if _, err := m.EnsureCLI(context.Background(), ""); err != nil {
		t.Fatalf("EnsureCLI() error = %v", err)
	}
	if got := readFile(t, m.BinaryPath()); got != strings.Repeat("compressible ", 1000) {
		t.Errorf("binary not decompressed, got %d bytes", len(got))
	}

	downloaded, err := m.EnsureCLI(context.Background(), "")
	if err != nil || downloaded {
		t.Errorf("second EnsureCLI() = %v, %v, want false, nil", downloaded, err)
	}
}

func TestEnsureCLI_DownloadError(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{name: "server error", status: http.StatusInternalServerError},
		{name: "not found", status: http.StatusNotFound},
		{name: "forbidden", status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, u := startDeployment(t, "binary")
			fake.status = tt.status
			m := newTestManager(t, u, t.TempDir())
			writeExecutable(t, m.BinaryPath(), "cached")

			downloaded, err := m.EnsureCLI(context.Background(), "")
			if downloaded {
				t.Error("EnsureCLI() = true on error")
			}
			var dlErr *DownloadError
			if !errors.As(err, &dlErr) {
				t.Fatalf("EnsureCLI() error = %v, want DownloadError", err)
			}
			if dlErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", dlErr.StatusCode, tt.status)
			}
			if !IsDownloadError(err) {
				t.Error("IsDownloadError() = false")
			}
			if got := readFile(t, m.BinaryPath()); got != "cached" {
				t.Errorf("cached binary modified: %q", got)
			}
		})
	}
}

func TestEnsureCLI_DoesNotClobberOtherDeployments(t *testing.T) {
	_, u1 := startDeployment(t, "binary-one")
	_, u2 := startDeployment(t, "binary-two")
	root := t.TempDir()

	m1 := newTestManager(t, u1, root)
	m2 := newTestManager(t, u2, root)

	if m1.CacheDir() == m2.CacheDir() {
		t.Fatalf("deployments share cache dir %q", m1.CacheDir())
	}

	unrelated := filepath.Join(m1.CacheDir(), "notes.txt")
	if err := os.MkdirAll(m1.CacheDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(unrelated, []byte("keep me"), 0o600); err != nil {
		t.Fatal(err)
	}

	for _, m := range []*Manager{m1, m2} {
		if _, err := m.EnsureCLI(context.Background(), ""); err != nil {
			t.Fatalf("EnsureCLI() error = %v", err)
		}
	}

	if got := readFile(t, m1.BinaryPath()); got != "binary-one" {
		t.Errorf("deployment one binary = %q", got)
	}
	if got := readFile(t, m2.BinaryPath()); got != "binary-two" {
		t.Errorf("deployment two binary = %q", got)
	}
	if got := readFile(t, unrelated); got != "keep me" {
		t.Errorf("unrelated file = %q", got)
	}

	entries, err := os.ReadDir(m1.CacheDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestEnsureCLI_BinarySource(t *testing.T) {
	tests := []struct {
		name     string
		template string
		wantPath string
	}{
		{name: "default", template: "", wantPath: "/bin/" + deployment.DefaultBinaryName()},
		{name: "url placeholder", template: "{{url}}/mirror/{{binary}}", wantPath: "/mirror/" + deployment.DefaultBinaryName()},
		{name: "relative path", template: "/downloads/coder", wantPath: "/downloads/coder"},
		{name: "bare query", template: "?arch=amd64", wantPath: "/?arch=amd64"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake, u := startDeployment(t, "binary")
			m := newTestManager(t, u, t.TempDir())

			if _, err := m.EnsureCLI(context.Background(), tt.template); err != nil {
				t.Fatalf("EnsureCLI() error = %v", err)
			}
			paths, _ := fake.requestLog()
			if len(paths) != 1 || paths[0] != tt.wantPath {
				t.Errorf("request paths = %q, want [%q]", paths, tt.wantPath)
			}
		})
	}
}

func TestEnsureCLI_Concurrent(t *testing.T) {
	fake, u := startDeployment(t, "binary")
	m := newTestManager(t, u, t.TempDir())

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.EnsureCLI(context.Background(), ""); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("EnsureCLI() error = %v", err)
	}
	if got := readFile(t, m.BinaryPath()); got != "binary" {
		t.Errorf("binary content = %q", got)
	}
	if _, bodies := fake.stats(); bodies < 1 || bodies > n {
		t.Errorf("bodies served = %d", bodies)
	}
}

func TestEnsureCLI_CanceledCallerDoesNotAbortShared(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var startOnce, releaseOnce sync.Once
	var requests int
	var mu sync.Mutex

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		startOnce.Do(func() { close(started) })
		select {
		case <-release:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte("binary"))
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { releaseOnce.Do(func() { close(release) }) })

	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	m := newTestManager(t, u, t.TempDir())

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	go func() {
		_, err := m.EnsureCLI(ctxA, "")
		errA <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("download never started")
	}

	type result struct {
		downloaded bool
		err        error
	}
	resB := make(chan result, 1)
	go func() {
		downloaded, err := m.EnsureCLI(context.Background(), "")
		resB <- result{downloaded, err}
	}()

	// Let the second caller join the in-flight download.
	time.Sleep(50 * time.Millisecond)
	cancelA()

	select {
	case err := <-errA:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("canceled caller error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("canceled caller did not return")
	}

	releaseOnce.Do(func() { close(release) })

	select {
	case res := <-resB:
		if res.err != nil {
			t.Fatalf("joined caller error = %v", res.err)
		}
		if !res.downloaded {
			t.Error("joined caller downloaded = false, want true")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("joined caller did not return")
	}

	if got := readFile(t, m.BinaryPath()); got != "binary" {
		t.Errorf("binary content = %q", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if requests != 1 {
		t.Errorf("requests = %d, want 1", requests)
	}
}

func TestEnsureCLI_CanceledContext(t *testing.T) {
	fake, u := startDeployment(t, "binary")
	m := newTestManager(t, u, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.EnsureCLI(ctx, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("EnsureCLI() error = %v, want context.Canceled", err)
	}
	if requests, _ := fake.stats(); requests != 0 {
		t.Errorf("requests = %d, want 0", requests)
	}
}

func TestEnsureCLI_Metrics(t *testing.T) {
	_, u := startDeployment(t, "binary")
	m := newTestManager(t, u, t.TempDir())

	downloaded := testutil.ToFloat64(metrics.CLIDownloadsTotal.WithLabelValues(metrics.ResultDownloaded))
	notModified := testutil.ToFloat64(metrics.CLIDownloadsTotal.WithLabelValues(metrics.ResultNotModified))

	for i := 0; i < 2; i++ {
		if _, err := m.EnsureCLI(context.Background(), ""); err != nil {
			t.Fatal(err)
		}
	}

	if got := testutil.ToFloat64(metrics.CLIDownloadsTotal.WithLabelValues(metrics.ResultDownloaded)); got != downloaded+1 {
		t.Errorf("downloaded counter = %f, want %f", got, downloaded+1)
	}
	if got := testutil.ToFloat64(metrics.CLIDownloadsTotal.WithLabelValues(metrics.ResultNotModified)); got != notModified+1 {
		t.Errorf("not_modified counter = %f, want %f", got, notModified+1)
	}
}

func TestVersion(t *testing.T) {
	tests := []struct {
		name      string
		result    process.Result
		want      string
		wantErrIs error
		wantExit  int
	}{
		{
			name:   "release",
			result: process.Result{Stdout: `{"version":"v2.3.4","external_url":"https://github.com/coder/coder"}` + "\n"},
			want:   "v2.3.4",
		},
		{
			name:      "malformed",
			result:    process.Result{Stdout: "Coder v2.3.4"},
			wantErrIs: cliversion.ErrMalformedPayload,
		},
		{
			name:      "invalid version",
			result:    process.Result{Stdout: `{"version":"dev"}`},
			wantErrIs: cliversion.ErrInvalidVersion,
		},
		{
			name:     "non-zero exit",
			result:   process.Result{ExitCode: 2, Stderr: "unknown flag: --output\n"},
			wantExit: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := process.NewFakeRunner(tt.result)
			u, _ := url.Parse("https://coder.example")
			m := newTestManager(t, u, t.TempDir(), WithRunner(runner))
			writeExecutable(t, m.BinaryPath(), "#!/bin/sh\n")

			v, err := m.Version(context.Background())

			switch {
			case tt.wantExit != 0:
				var exitErr *ExitError
				if !errors.As(err, &exitErr) {
					t.Fatalf("Version() error = %v, want ExitError", err)
				}
				if exitErr.Code != tt.wantExit {
					t.Errorf("Code = %d, want %d", exitErr.Code, tt.wantExit)
				}
				if exitErr.Stderr != "unknown flag: --output" {
					t.Errorf("Stderr = %q", exitErr.Stderr)
				}
			case tt.wantErrIs != nil:
				if !errors.Is(err, tt.wantErrIs) {
					t.Fatalf("Version() error = %v, want %v", err, tt.wantErrIs)
				}
			default:
				if err != nil {
					t.Fatalf("Version() error = %v", err)
				}
				if v.String() != tt.want {
					t.Errorf("Version() = %q, want %q", v.String(), tt.want)
				}
			}

			calls := runner.Calls()
			if len(calls) != 1 {
				t.Fatalf("runner called %d times, want 1", len(calls))
			}
			if calls[0].Name != m.BinaryPath() {
				t.Errorf("ran %q, want %q", calls[0].Name, m.BinaryPath())
			}
			if got := strings.Join(calls[0].Args, " "); got != "version --output json" {
				t.Errorf("args = %q", got)
			}
		})
	}
}

func TestVersion_BinaryNotFound(t *testing.T) {
	runner := process.NewFakeRunner(process.Result{Stdout: `{"version":"v1.0.0"}`})
	u, _ := url.Parse("https://coder.example")
	m := newTestManager(t, u, t.TempDir(), WithRunner(runner))

	if _, err := m.Version(context.Background()); !IsBinaryNotFound(err) {
		t.Errorf("Version() error = %v, want ErrBinaryNotFound", err)
	}
	if len(runner.Calls()) != 0 {
		t.Error("runner invoked for a missing binary")
	}

	if runtime.GOOS == "windows" {
		return
	}
	if err := os.MkdirAll(m.CacheDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(m.BinaryPath(), []byte("not executable"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Version(context.Background()); !IsBinaryNotFound(err) {
		t.Errorf("Version() on non-executable file error = %v, want ErrBinaryNotFound", err)
	}
}

func TestIsCompatible(t *testing.T) {
	tests := []struct {
		name   string
		result process.Result
		build  string
		want   bool
	}{
		{name: "same triple with devel suffix", result: process.Result{Stdout: `{"version":"v1.0.0"}`}, build: "v1.0.0-devel+abcdef", want: true},
		{name: "patch mismatch", result: process.Result{Stdout: `{"version":"v1.0.0"}`}, build: "v1.0.1", want: false},
		{name: "empty build", result: process.Result{Stdout: `{"version":"v1.0.0"}`}, build: "", want: false},
		{name: "malformed output", result: process.Result{Stdout: "garbage"}, build: "v1.0.0", want: false},
		{name: "cli failure", result: process.Result{ExitCode: 1}, build: "v1.0.0", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, _ := url.Parse("https://coder.example")
			m := newTestManager(t, u, t.TempDir(), WithRunner(process.NewFakeRunner(tt.result)))
			writeExecutable(t, m.BinaryPath(), "#!/bin/sh\n")

			if got := m.IsCompatible(context.Background(), tt.build); got != tt.want {
				t.Errorf("IsCompatible(%q) = %v, want %v", tt.build, got, tt.want)
			}
		})
	}
}

func TestIsCompatible_MissingBinary(t *testing.T) {
	u, _ := url.Parse("https://coder.example")
	m := newTestManager(t, u, t.TempDir(), WithRunner(process.NewFailingRunner(errors.New("should not run"))))

	before := testutil.ToFloat64(metrics.VersionChecksTotal.WithLabelValues(metrics.ResultError))
	if m.IsCompatible(context.Background(), "v1.0.0") {
		t.Error("IsCompatible() = true for a missing binary")
	}
	if got := testutil.ToFloat64(metrics.VersionChecksTotal.WithLabelValues(metrics.ResultError)); got != before+1 {
		t.Errorf("error counter = %f, want %f", got, before+1)
	}
}

func TestLogin(t *testing.T) {
	runner := process.NewFakeRunner(process.Result{})
	u, _ := url.Parse("https://coder.example")
	m := newTestManager(t, u, t.TempDir(), WithRunner(runner))
	writeExecutable(t, m.BinaryPath(), "#!/bin/sh\n")

	if err := m.Login(context.Background(), "s3cr3t"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	calls := runner.Calls()
	if len(calls) != 1 {
		t.Fatalf("runner called %d times, want 1", len(calls))
	}
	want := []string{"login", "https://coder.example", "--token", "s3cr3t", "--global-config", m.ConfigDir()}
	if strings.Join(calls[0].Args, "\x00") != strings.Join(want, "\x00") {
		t.Errorf("args = %q, want %q", calls[0].Args, want)
	}
}

func TestLogin_Errors(t *testing.T) {
	u, _ := url.Parse("https://coder.example")

	t.Run("non-zero exit", func(t *testing.T) {
		runner := process.NewFakeRunner(process.Result{ExitCode: 1, Stderr: "invalid token"})
		m := newTestManager(t, u, t.TempDir(), WithRunner(runner))
		writeExecutable(t, m.BinaryPath(), "#!/bin/sh\n")

		err := m.Login(context.Background(), "bad")
		var loginErr *LoginError
		if !errors.As(err, &loginErr) {
			t.Fatalf("Login() error = %v, want LoginError", err)
		}
		if loginErr.Code != 1 || loginErr.Stderr != "invalid token" {
			t.Errorf("LoginError = %+v", loginErr)
		}
		if !IsLoginError(err) {
			t.Error("IsLoginError() = false")
		}
	})

	t.Run("missing binary", func(t *testing.T) {
		m := newTestManager(t, u, t.TempDir(), WithRunner(process.NewFakeRunner(process.Result{})))
		if err := m.Login(context.Background(), "tok"); !IsBinaryNotFound(err) {
			t.Errorf("Login() error = %v, want ErrBinaryNotFound", err)
		}
	})

	t.Run("runner cannot start binary", func(t *testing.T) {
		m := newTestManager(t, u, t.TempDir(), WithRunner(process.NewFailingRunner(os.ErrPermission)))
		writeExecutable(t, m.BinaryPath(), "#!/bin/sh\n")
		if err := m.Login(context.Background(), "tok"); !IsBinaryNotFound(err) {
			t.Errorf("Login() error = %v, want ErrBinaryNotFound", err)
		}
	})
}

func TestConfigSSH(t *testing.T) {
	u, _ := url.Parse("https://coder.example")
	sshPath := filepath.Join(t.TempDir(), ".ssh", "config")
	m := newTestManager(t, u, t.TempDir(),
		WithSSHConfigPath(sshPath),
		WithSSHOptions("ServerAliveInterval 30"),
	)

	written := testutil.ToFloat64(metrics.SSHConfigWritesTotal.WithLabelValues(metrics.ResultWritten))
	unchanged := testutil.ToFloat64(metrics.SSHConfigWritesTotal.WithLabelValues(metrics.ResultUnchanged))

	hosts := []sshconfig.WorkspaceHost{{Workspace: "foo"}, {Workspace: "bar", Agent: "dev"}}
	if err := m.ConfigSSH(context.Background(), hosts); err != nil {
		t.Fatalf("ConfigSSH() error = %v", err)
	}
	if err := m.ConfigSSH(context.Background(), hosts); err != nil {
		t.Fatalf("second ConfigSSH() error = %v", err)
	}

	got := readFile(t, sshPath)
	for _, want := range []string{
		sshconfig.StartMarker("coder.example"),
		"Host coder-jetbrains--foo--coder.example",
		"Host coder-jetbrains--bar.dev--coder.example",
		"ProxyCommand " + m.BinaryPath() + " --global-config " + m.ConfigDir() + " ssh --stdio foo",
		"ServerAliveInterval 30",
		sshconfig.EndMarker("coder.example"),
	} {
		if !strings.Contains(got, want) {
			t.Errorf("ssh config missing %q:\n%s", want, got)
		}
	}
	if strings.Index(got, "--foo--") > strings.Index(got, "--bar.dev--") {
		t.Error("hosts out of order")
	}

	if v := testutil.ToFloat64(metrics.SSHConfigWritesTotal.WithLabelValues(metrics.ResultWritten)); v != written+1 {
		t.Errorf("written counter = %f, want %f", v, written+1)
	}
	if v := testutil.ToFloat64(metrics.SSHConfigWritesTotal.WithLabelValues(metrics.ResultUnchanged)); v != unchanged+1 {
		t.Errorf("unchanged counter = %f, want %f", v, unchanged+1)
	}

	if err := m.ConfigSSH(context.Background(), nil); err != nil {
		t.Fatalf("ConfigSSH(nil) error = %v", err)
	}
	if got := readFile(t, sshPath); got != "" {
		t.Errorf("ssh config after removal = %q, want empty", got)
	}
}

func TestConfigSSH_Malformed(t *testing.T) {
	u, _ := url.Parse("https://coder.example")
	sshPath := filepath.Join(t.TempDir(), "config")
	before := sshconfig.StartMarker("coder.example") + "\nHost stale\n"
	if err := os.WriteFile(sshPath, []byte(before), 0o600); err != nil {
		t.Fatal(err)
	}

	m := newTestManager(t, u, t.TempDir(), WithSSHConfigPath(sshPath))
	err := m.ConfigSSH(context.Background(), []sshconfig.WorkspaceHost{{Workspace: "foo"}})
	if !sshconfig.IsMalformed(err) {
		t.Fatalf("ConfigSSH() error = %v, want MalformedConfigError", err)
	}
	if got := readFile(t, sshPath); got != before {
		t.Errorf("ssh config modified: %q", got)
	}
}

// TestEndToEnd downloads a real script, runs it through the exec runner and
// checks compatibility against a devel build string.
func TestEndToEnd(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script binary")
	}

	script := "#!/bin/sh\n" +
		`if [ "$1" = "version" ]; then echo '{"version":"v2.3.4"}'; exit 0; fi` + "\n" +
		"exit 1\n"
	_, u := startDeployment(t, script)

	var logs bytes.Buffer
	m, err := New(u, t.TempDir(), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.EnsureCLI(context.Background(), ""); err != nil {
		t.Fatalf("EnsureCLI() error = %v", err)
	}
	if !m.IsCompatible(context.Background(), "v2.3.4-devel+0123abcd") {
		t.Error("IsCompatible() = false, want true")
	}
	if m.IsCompatible(context.Background(), "v2.4.0") {
		t.Error("IsCompatible() = true for a different minor version")
	}

	err = m.Login(context.Background(), "s3cr3t")
	if !IsLoginError(err) {
		t.Errorf("Login() error = %v, want LoginError", err)
	}
	if strings.Contains(logs.String(), "s3cr3t") {
		t.Error("token written to logs")
	}
}
