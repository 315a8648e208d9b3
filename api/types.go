package api

import (
	"fmt"
	"strings"
	"time"
)

// VulnerabilityCriteria controls whether a scan result blocks a container
// swap. "never" still allows scanning to run for history purposes.
type VulnerabilityCriteria string

const (
	CriteriaNever           VulnerabilityCriteria = "never"
	CriteriaAny             VulnerabilityCriteria = "any"
	CriteriaCriticalHigh    VulnerabilityCriteria = "critical_high"
	CriteriaCritical        VulnerabilityCriteria = "critical"
	CriteriaMoreThanCurrent VulnerabilityCriteria = "more_than_current"
)

// ParseCriteria validates a criteria string from config or a request body.
// The empty string maps to CriteriaNever.
func ParseCriteria(s string) (VulnerabilityCriteria, error) {
	switch c := VulnerabilityCriteria(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CriteriaNever, nil
	case CriteriaNever, CriteriaAny, CriteriaCriticalHigh, CriteriaCritical, CriteriaMoreThanCurrent:
		return c, nil
	default:
		return "", fmt.Errorf("unknown vulnerability criteria %q", s)
	}
}

// ScanSummary is a severity histogram. When several scanners run against
// the same image the per-severity maximum is kept, never the sum, so the
// same vulnerability class reported by two tools is not double-counted.
type ScanSummary struct {
	Critical   int `json:"critical"`
	High       int `json:"high"`
	Medium     int `json:"medium"`
	Low        int `json:"low"`
	Negligible int `json:"negligible"`
	Unknown    int `json:"unknown"`
}

// Total returns the sum of all severity buckets.
func (s ScanSummary) Total() int {
	return s.Critical + s.High + s.Medium + s.Low + s.Negligible + s.Unknown
}

// Merge folds another summary in, keeping the maximum of each bucket.
func (s ScanSummary) Merge(o ScanSummary) ScanSummary {
	return ScanSummary{
		Critical:   max(s.Critical, o.Critical),
		High:       max(s.High, o.High),
		Medium:     max(s.Medium, o.Medium),
		Low:        max(s.Low, o.Low),
		Negligible: max(s.Negligible, o.Negligible),
		Unknown:    max(s.Unknown, o.Unknown),
	}
}

// Count increments the bucket matching a scanner-reported severity string.
func (s *ScanSummary) Count(severity string) {
	switch strings.ToLower(severity) {
	case "critical":
		s.Critical++
	case "high":
		s.High++
	case "medium":
		s.Medium++
	case "low":
		s.Low++
	case "negligible":
		s.Negligible++
	default:
		s.Unknown++
	}
}

// Vulnerability is a single finding from one scanner.
type Vulnerability struct {
	ID           string `json:"id"`
	Severity     string `json:"severity"`
	Package      string `json:"package,omitempty"`
	Installed    string `json:"installed,omitempty"`
	FixedVersion string `json:"fixed_version,omitempty"`
}

// ScannerReport is the result of a single scanner run against one image.
type ScannerReport struct {
	Scanner         string          `json:"scanner"`
	Summary         ScanSummary     `json:"summary"`
	Vulnerabilities []Vulnerability `json:"vulnerabilities,omitempty"`
	ScannedAt       time.Time       `json:"scanned_at"`
	Duration        time.Duration   `json:"duration"`
	Error           string          `json:"error,omitempty"`
}

// UpdateOutcome is the terminal result of one container's update pipeline.
type UpdateOutcome string

const (
	OutcomeSuccess UpdateOutcome = "success"
	OutcomeFailed  UpdateOutcome = "failed"
	OutcomeBlocked UpdateOutcome = "blocked"
	OutcomeSkipped UpdateOutcome = "skipped"
)

// Step names the pipeline stage a progress event belongs to, for UI state.
type Step string

const (
	StepPulling  Step = "pulling"
	StepScanning Step = "scanning"
	StepStopping Step = "stopping"
	StepRemoving Step = "removing"
	StepCreating Step = "creating"
	StepStarting Step = "starting"
	StepDone     Step = "done"
	StepFailed   Step = "failed"
	StepBlocked  Step = "blocked"
	StepSkipped  Step = "skipped"
)

// Event type discriminators for ProgressEvent.
const (
	EventStart        = "start"
	EventProgress     = "progress"
	EventPullLog      = "pull_log"
	EventScanStart    = "scan_start"
	EventScanLog      = "scan_log"
	EventScanComplete = "scan_complete"
	EventBlocked      = "blocked"
	EventComplete     = "complete"
	EventError        = "error"
)

// BatchSummary is the outcome multiset for one batch. The four counters
// always sum to the number of input container ids.
type BatchSummary struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Blocked int `json:"blocked"`
	Skipped int `json:"skipped"`
}

// Total returns the number of containers the summary accounts for.
func (b BatchSummary) Total() int {
	return b.Success + b.Failed + b.Blocked + b.Skipped
}

// ScanPayload carries scan data on scan_complete and blocked events.
type ScanPayload struct {
	Summary ScanSummary     `json:"summary"`
	Reports []ScannerReport `json:"reports,omitempty"`
}

// ProgressEvent is one frame on the update stream. Type selects which of
// the optional fields are populated.
type ProgressEvent struct {
	Type        string        `json:"type"`
	Step        Step          `json:"step,omitempty"`
	ContainerID string        `json:"container_id,omitempty"`
	Container   string        `json:"container,omitempty"`
	Current     int           `json:"current,omitempty"`
	Total       int           `json:"total,omitempty"`
	Message     string        `json:"message,omitempty"`
	Percent     float64       `json:"percent,omitempty"`
	Scan        *ScanPayload  `json:"scan,omitempty"`
	BlockReason string        `json:"block_reason,omitempty"`
	Error       string        `json:"error,omitempty"`
	Summary     *BatchSummary `json:"summary,omitempty"`
}

// PullProgress is a single progress update forwarded from the image pull.
type PullProgress struct {
	Status  string  `json:"status"`
	Layer   string  `json:"layer,omitempty"`
	Percent float64 `json:"percent,omitempty"`
}

// ContainerTarget identifies one container to update.
type ContainerTarget struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// UpdateRequest is the JSON body of POST /api/update/stream.
type UpdateRequest struct {
	ContainerIDs          []string `json:"containerIds"`
	VulnerabilityCriteria string   `json:"vulnerabilityCriteria,omitempty"`
}

// ContainerCheck is one row of an update-availability check.
type ContainerCheck struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Image           string `json:"image"`
	LocalDigest     string `json:"local_digest,omitempty"`
	RemoteDigest    string `json:"remote_digest,omitempty"`
	UpdateAvailable bool   `json:"update_available"`
	// "checked" or "error"
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// CheckReport is the aggregate result of an update-availability check.
type CheckReport struct {
	Containers []ContainerCheck `json:"containers"`
}
