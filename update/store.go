package update

import (
	"context"
	"time"

	"github.com/phiberoptick/dockhand/api"
)

// ScanRecord is one persisted vulnerability scan, saved whether or not
// the scan blocked the update.
type ScanRecord struct {
	ContainerID   string                    `json:"container_id"`
	ContainerName string                    `json:"container_name"`
	ImageRef      string                    `json:"image_ref"`
	ImageID       string                    `json:"image_id"`
	Reports       []api.ScannerReport       `json:"reports"`
	Summary       api.ScanSummary           `json:"summary"`
	Criteria      api.VulnerabilityCriteria `json:"criteria"`
	Blocked       bool                      `json:"blocked"`
	Reason        string                    `json:"reason,omitempty"`
	ScannedAt     time.Time                 `json:"scanned_at"`
}

// AuditEvent records a mutating action against an entity.
type AuditEvent struct {
	Action     string            `json:"action"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	EntityName string            `json:"entity_name,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Time       time.Time         `json:"time"`
}

// Store is the persistence collaborator the pipeline depends on: scan
// history (which also provides the baseline for more_than_current),
// pending-update markers set by the availability check and cleared on a
// successful update, and the audit log.
type Store interface {
	SaveVulnerabilityScan(ctx context.Context, rec ScanRecord) error
	LatestScanForImage(ctx context.Context, imageID string) (*ScanRecord, error)
	SetPendingUpdate(ctx context.Context, containerID string) error
	RemovePendingUpdate(ctx context.Context, containerID string) error
	PendingUpdates(ctx context.Context) (map[string]time.Time, error)
	RecordAuditEvent(ctx context.Context, ev AuditEvent) error
}
