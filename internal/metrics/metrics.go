// Package metrics provides Prometheus metrics for coderlink.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names use the coderlink_ prefix.
const (
	Namespace = "coderlink"
)

// Result label values.
const (
	ResultDownloaded   = "downloaded"
	ResultNotModified  = "not_modified"
	ResultCompatible   = "compatible"
	ResultIncompatible = "incompatible"
	ResultWritten      = "written"
	ResultUnchanged    = "unchanged"
	ResultError        = "error"
)

// Registry holds every coderlink metric. It is separate from the default
// registry so a dump contains only our series.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// BuildInfo exposes build information.
	BuildInfo = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "build_info",
			Help:      "Build information about coderlink.",
		},
		[]string{"version", "go_version"},
	)

	// CLIDownloadsTotal counts EnsureCLI outcomes.
	CLIDownloadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cli_downloads_total",
			Help:      "CLI download attempts by result (downloaded, not_modified, error).",
		},
		[]string{"result"},
	)

	// CLIDownloadDuration observes the wall time of a CLI download request
	// including the body transfer.
	CLIDownloadDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "cli_download_duration_seconds",
			Help:      "Duration of CLI download requests in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// VersionChecksTotal counts compatibility checks.
	VersionChecksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "version_checks_total",
			Help:      "CLI compatibility checks by result (compatible, incompatible, error).",
		},
		[]string{"result"},
	)

	// SSHConfigWritesTotal counts SSH config reconciliations.
	SSHConfigWritesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ssh_config_writes_total",
			Help:      "SSH config reconciliations by result (written, unchanged, error).",
		},
		[]string{"result"},
	)
)

// SetBuildInfo sets the build info gauge.
func SetBuildInfo(version, goVersion string) {
	BuildInfo.WithLabelValues(version, goVersion).Set(1)
}

// WriteFile writes every registered metric to path in the text exposition
// format.
func WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry); err != nil {
		return fmt.Errorf("writing metrics to %s: %w", path, err)
	}
	return nil
}
