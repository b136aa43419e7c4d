package climanager

import (
	"compress/gzip"
	"context"
	"crypto/sha1" //nolint:gosec // The deployment's ETag is a SHA-1 of the binary.
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gitlab.bluewillows.net/root/coderlink/internal/metrics"
	"gitlab.bluewillows.net/root/coderlink/pkg/deployment"
)

const (
	// BinaryPermissions is applied to every downloaded CLI.
	BinaryPermissions = 0o755

	cacheDirPermissions = 0o755
)

// EnsureCLI makes sure the cached CLI matches the one served by the
// deployment. binarySource optionally overrides where the binary is fetched
// from; see deployment.ResolveBinarySource. It reports whether a new binary
// was downloaded.
//
// The request carries If-None-Match with the SHA-1 of the cached file, so an
// up-to-date binary costs a 304 and no body transfer. The file's modification
// time is never consulted.
func (m *Manager) EnsureCLI(ctx context.Context, binarySource string) (bool, error) {
	src, err := deployment.ResolveBinarySource(m.deploymentURL, binarySource)
	if err != nil {
		metrics.CLIDownloadsTotal.WithLabelValues(metrics.ResultError).Inc()
		return false, err
	}

	if err := ctx.Err(); err != nil {
		return false, err
	}

	// The shared download outlives any single caller; each caller stops
	// waiting when its own context ends.
	dlCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(src.String(), func() (any, error) {
		return m.download(dlCtx, src)
	})

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-ch:
		if res.Shared {
			m.logger.Debug("joined in-flight CLI download", slog.String("url", src.Redacted()))
		}
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	}
}

func (m *Manager) download(ctx context.Context, src *url.URL) (bool, error) {
	start := time.Now()

	downloaded, err := m.fetch(ctx, src)

	switch {
	case err != nil:
		metrics.CLIDownloadsTotal.WithLabelValues(metrics.ResultError).Inc()
		m.logger.Warn("CLI download failed",
			slog.String("url", src.Redacted()),
			slog.String("error", err.Error()),
		)
	case downloaded:
		metrics.CLIDownloadsTotal.WithLabelValues(metrics.ResultDownloaded).Inc()
		metrics.CLIDownloadDuration.Observe(time.Since(start).Seconds())
		m.logger.Info("downloaded CLI",
			slog.String("url", src.Redacted()),
			slog.String("path", m.binaryPath),
			slog.Duration("duration", time.Since(start)),
		)
	default:
		metrics.CLIDownloadsTotal.WithLabelValues(metrics.ResultNotModified).Inc()
		m.logger.Debug("cached CLI is up to date", slog.String("path", m.binaryPath))
	}

	return downloaded, err
}

func (m *Manager) fetch(ctx context.Context, src *url.URL) (bool, error) {
	etag, err := fileETag(m.binaryPath)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.String(), nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "gzip")
	if etag != "" {
		req.Header.Set("If-None-Match", `"`+etag+`"`)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("downloading %s: %w", src.Redacted(), err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		return false, nil
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return false, &DownloadError{StatusCode: resp.StatusCode, URL: src.Redacted()}
	}

	body := io.Reader(resp.Body)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return false, fmt.Errorf("decompressing %s: %w", src.Redacted(), err)
		}
		defer gz.Close()
		body = gz
	}

	if err := m.writeBinary(body); err != nil {
		return false, err
	}

	return true, nil
}

// writeBinary streams r into a temp file next to the binary and renames it
// into place, so the binary path never holds a partial download.
func (m *Manager) writeBinary(r io.Reader) error {
	if err := os.MkdirAll(m.cacheDir, cacheDirPermissions); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(m.cacheDir, "."+filepath.Base(m.binaryPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := io.Copy(tmp, r); err != nil {
		cleanup()
		return fmt.Errorf("writing CLI: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, BinaryPermissions); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("setting CLI permissions: %w", err)
	}
	if err := os.Rename(tmpPath, m.binaryPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing CLI: %w", err)
	}

	return nil
}

// fileETag returns the hex SHA-1 of the file at path, or "" if it does not
// exist.
func fileETag(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("opening cached CLI: %w", err)
	}
	defer f.Close()

	h := sha1.New() //nolint:gosec // See import.
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing cached CLI: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
