// Package scan runs vulnerability scanners against a local image tag and
// aggregates their findings into a severity histogram. Scanners are
// external binaries (trivy, grype) invoked per image; their raw JSON is
// parsed into typed reports.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phiberoptick/dockhand/api"
	"github.com/phiberoptick/dockhand/config"
	"github.com/phiberoptick/dockhand/logger"
)

var scanLog = logger.WithSubsystem("scan")

// ErrScanFailed wraps any scanner invocation failure.
var ErrScanFailed = errors.New("scan failed")

// Scanner runs one tool against a local image reference. onLog receives
// the tool's progress output line by line.
type Scanner interface {
	Name() string
	Available() bool
	Scan(ctx context.Context, imageRef string, onLog func(string)) (api.ScannerReport, error)
}

// Runner executes the configured scanner set sequentially and merges the
// per-scanner summaries (maximum per severity, never summed).
type Runner struct {
	scanners []Scanner
	enabled  bool
	timeout  time.Duration
}

// NewRunner builds a Runner from config. Unavailable scanners are dropped
// with a warning at startup rather than failing every update.
func NewRunner(cfg *config.Config) *Runner {
	r := &Runner{
		enabled: cfg.Scan.Enabled,
		timeout: cfg.ScanTimeoutDuration(),
	}
	if !r.enabled {
		return r
	}

	for _, name := range cfg.Scan.Scanners {
		var s Scanner
		switch name {
		case "trivy":
			s = NewTrivyScanner(cfg.Scan.TrivyPath)
		case "grype":
			s = NewGrypeScanner(cfg.Scan.GrypePath)
		default:
			scanLog.Warn("Unknown scanner in config, ignoring", logger.String("scanner", name))
			continue
		}
		if !s.Available() {
			scanLog.Warn("Scanner binary not found in PATH, ignoring", logger.String("scanner", name))
			continue
		}
		r.scanners = append(r.scanners, s)
	}

	if len(r.scanners) == 0 {
		scanLog.Warn("Scanning enabled but no usable scanners; updates will not be scanned")
		r.enabled = false
	}
	return r
}

// NewRunnerWithScanners is a constructor for tests and embedders.
func NewRunnerWithScanners(timeout time.Duration, scanners ...Scanner) *Runner {
	return &Runner{scanners: scanners, enabled: len(scanners) > 0, timeout: timeout}
}

// Enabled reports whether at least one scanner is configured and usable.
func (r *Runner) Enabled() bool {
	return r != nil && r.enabled
}

// ScanImage runs every configured scanner against imageRef. All reports
// are returned, including failed ones, so callers can persist the full
// record; the error is non-nil when any scanner failed.
func (r *Runner) ScanImage(ctx context.Context, imageRef string, onLog func(string)) ([]api.ScannerReport, api.ScanSummary, error) {
	var (
		reports []api.ScannerReport
		summary api.ScanSummary
		failed  []string
	)

	for _, s := range r.scanners {
		scanCtx, cancel := context.WithTimeout(ctx, r.timeout)
		report, err := s.Scan(scanCtx, imageRef, onLog)
		cancel()

		report.Scanner = s.Name()
		if err != nil {
			report.Error = err.Error()
			failed = append(failed, s.Name())
			scanLog.Error("Scanner failed",
				logger.String("scanner", s.Name()),
				logger.String("image", imageRef),
				logger.Err(err),
			)
		} else {
			summary = summary.Merge(report.Summary)
		}
		reports = append(reports, report)
	}

	if len(failed) > 0 {
		return reports, summary, fmt.Errorf("%w: %v", ErrScanFailed, failed)
	}
	return reports, summary, nil
}
