package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phiberoptick/dockhand/api"
)

// GrypeScanner shells out to the grype binary and parses its JSON document.
type GrypeScanner struct {
	path string
}

func NewGrypeScanner(path string) *GrypeScanner {
	if path == "" {
		path = "grype"
	}
	return &GrypeScanner{path: path}
}

func (g *GrypeScanner) Name() string { return "grype" }

func (g *GrypeScanner) Available() bool { return binaryAvailable(g.path) }

// grypeDocument is the subset of grype's JSON output we consume. The
// descriptor name is checked because grype's unmarshal accepts documents
// of the wrong shape without error.
type grypeDocument struct {
	Matches []struct {
		Vulnerability struct {
			ID       string `json:"id"`
			Severity string `json:"severity"`
			Fix      struct {
				Versions []string `json:"versions"`
			} `json:"fix"`
		} `json:"vulnerability"`
		Artifact struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"artifact"`
	} `json:"matches"`
	Descriptor struct {
		Name string `json:"name"`
	} `json:"descriptor"`
}

func (g *GrypeScanner) Scan(ctx context.Context, imageRef string, onLog func(string)) (api.ScannerReport, error) {
	started := time.Now()
	report := api.ScannerReport{Scanner: g.Name(), ScannedAt: started}

	out, err := runJSON(ctx, onLog, g.path, "-o", "json", "docker:"+imageRef)
	report.Duration = time.Since(started)
	if err != nil {
		return report, err
	}

	var parsed grypeDocument
	if err := json.Unmarshal(out, &parsed); err != nil {
		return report, fmt.Errorf("grype output was not valid JSON: %w", err)
	}
	if parsed.Descriptor.Name != "grype" {
		return report, fmt.Errorf("grype output descriptor is %q, not a grype document", parsed.Descriptor.Name)
	}

	for _, m := range parsed.Matches {
		report.Summary.Count(m.Vulnerability.Severity)
		vuln := api.Vulnerability{
			ID:        m.Vulnerability.ID,
			Severity:  m.Vulnerability.Severity,
			Package:   m.Artifact.Name,
			Installed: m.Artifact.Version,
		}
		if len(m.Vulnerability.Fix.Versions) > 0 {
			vuln.FixedVersion = m.Vulnerability.Fix.Versions[0]
		}
		report.Vulnerabilities = append(report.Vulnerabilities, vuln)
	}

	return report, nil
}
