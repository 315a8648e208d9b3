package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phiberoptick/dockhand/api"
)

// TrivyScanner shells out to the trivy binary and parses its JSON report.
type TrivyScanner struct {
	path string
}

func NewTrivyScanner(path string) *TrivyScanner {
	if path == "" {
		path = "trivy"
	}
	return &TrivyScanner{path: path}
}

func (t *TrivyScanner) Name() string { return "trivy" }

func (t *TrivyScanner) Available() bool { return binaryAvailable(t.path) }

// trivyReport is the subset of trivy's JSON output we consume.
type trivyReport struct {
	Results []struct {
		Vulnerabilities []struct {
			VulnerabilityID  string `json:"VulnerabilityID"`
			PkgName          string `json:"PkgName"`
			InstalledVersion string `json:"InstalledVersion"`
			FixedVersion     string `json:"FixedVersion"`
			Severity         string `json:"Severity"`
		} `json:"Vulnerabilities"`
	} `json:"Results"`
}

func (t *TrivyScanner) Scan(ctx context.Context, imageRef string, onLog func(string)) (api.ScannerReport, error) {
	started := time.Now()
	report := api.ScannerReport{Scanner: t.Name(), ScannedAt: started}

	out, err := runJSON(ctx, onLog, t.path, "image",
		"--format", "json",
		"--quiet",
		"--scanners", "vuln",
		imageRef,
	)
	report.Duration = time.Since(started)
	if err != nil {
		return report, err
	}

	var parsed trivyReport
	if err := json.Unmarshal(out, &parsed); err != nil {
		return report, fmt.Errorf("trivy output was not valid JSON: %w", err)
	}

	for _, res := range parsed.Results {
		for _, v := range res.Vulnerabilities {
			report.Summary.Count(v.Severity)
			report.Vulnerabilities = append(report.Vulnerabilities, api.Vulnerability{
				ID:           v.VulnerabilityID,
				Severity:     v.Severity,
				Package:      v.PkgName,
				Installed:    v.InstalledVersion,
				FixedVersion: v.FixedVersion,
			})
		}
	}

	return report, nil
}
