package update

import (
	"context"
	"errors"

	"github.com/phiberoptick/dockhand/api"
	"github.com/phiberoptick/dockhand/engine"
)

// Error taxonomy for the pipeline. Everything is caught at the
// single-container boundary and converted into a terminal event plus an
// outcome counter; nothing aborts the batch.
var (
	ErrPullFailed   = errors.New("failed to pull image")
	ErrImageResolve = errors.New("new image id not found after pull")
	ErrSwapFailed   = errors.New("failed to swap container")
)

// Runtime is the capability surface the pipeline needs from the container
// engine. *engine.DockerEngine implements it; tests substitute fakes.
type Runtime interface {
	Snapshot(ctx context.Context, containerID string, preserveNetwork bool) (*engine.ContainerSnapshot, error)
	PullImage(ctx context.Context, imageRef string, onProgress func(api.PullProgress)) error
	ImageIDByRef(ctx context.Context, imageRef string) (string, error)
	TagImage(ctx context.Context, imageID, imageRef string) error
	RemoveImage(ctx context.Context, imageRef string) error
	StopContainer(ctx context.Context, containerID string, timeoutSeconds int) error
	RemoveContainer(ctx context.Context, containerID string) error
	CreateContainer(ctx context.Context, snap *engine.ContainerSnapshot) (string, error)
	StartContainer(ctx context.Context, containerID string) error
}

// ScanService runs the configured scanner set against an image reference.
// *scan.Runner implements it.
type ScanService interface {
	Enabled() bool
	ScanImage(ctx context.Context, imageRef string, onLog func(string)) ([]api.ScannerReport, api.ScanSummary, error)
}
