package update

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/phiberoptick/dockhand/api"
	"github.com/phiberoptick/dockhand/engine"
)

// fakeRuntime is an in-memory container engine. It tracks tag state the
// way the daemon does (ref -> image id) so the temp-tag protocol can be
// verified end to end.
type fakeRuntime struct {
	mu    sync.Mutex
	snaps map[string]*engine.ContainerSnapshot
	// ref -> image id the next pull of that ref resolves to
	pulls map[string]string
	tags  map[string]string

	calls         []string
	removedImages []string

	pullErr    error
	tagErr     error
	stopErr    error
	removeErr  error
	createErr  error
	startErr   error
	resolveErr error
	panicOn    string
}

func newFakeRuntime(snaps ...*engine.ContainerSnapshot) *fakeRuntime {
	rt := &fakeRuntime{
		snaps: make(map[string]*engine.ContainerSnapshot),
		pulls: make(map[string]string),
		tags:  make(map[string]string),
	}
	for _, s := range snaps {
		rt.snaps[s.ID] = s
		rt.tags[s.ImageRef] = s.ImageID
	}
	return rt
}

func (f *fakeRuntime) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.panicOn == call {
		panic("injected panic at " + call)
	}
}

func (f *fakeRuntime) callNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeRuntime) Snapshot(ctx context.Context, containerID string, preserveNetwork bool) (*engine.ContainerSnapshot, error) {
	f.record("snapshot")
	snap, ok := f.snaps[containerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", engine.ErrNotFound, containerID)
	}
	copied := *snap
	return &copied, nil
}

func (f *fakeRuntime) PullImage(ctx context.Context, imageRef string, onProgress func(api.PullProgress)) error {
	f.record("pull")
	if f.pullErr != nil {
		return f.pullErr
	}
	if onProgress != nil {
		onProgress(api.PullProgress{Status: "Pulling from library", Layer: "a1b2c3"})
		onProgress(api.PullProgress{Status: "Download complete", Layer: "a1b2c3", Percent: 100})
	}
	if newID, ok := f.pulls[imageRef]; ok {
		f.mu.Lock()
		f.tags[imageRef] = newID
		f.mu.Unlock()
	}
	return nil
}

func (f *fakeRuntime) ImageIDByRef(ctx context.Context, imageRef string) (string, error) {
	f.record("resolve")
	if f.resolveErr != nil {
		return "", f.resolveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.tags[imageRef]
	if !ok {
		return "", fmt.Errorf("%w: %s", engine.ErrNotFound, imageRef)
	}
	return id, nil
}

func (f *fakeRuntime) TagImage(ctx context.Context, imageID, imageRef string) error {
	f.record("tag " + imageRef)
	if f.tagErr != nil {
		return f.tagErr
	}
	f.mu.Lock()
	f.tags[imageRef] = imageID
	f.mu.Unlock()
	return nil
}

func (f *fakeRuntime) RemoveImage(ctx context.Context, imageRef string) error {
	f.record("rmi " + imageRef)
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tags[imageRef]; !ok {
		return errors.New("no such image: " + imageRef)
	}
	delete(f.tags, imageRef)
	f.removedImages = append(f.removedImages, imageRef)
	return nil
}

func (f *fakeRuntime) StopContainer(ctx context.Context, containerID string, timeoutSeconds int) error {
	f.record("stop")
	return f.stopErr
}

func (f *fakeRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	f.record("rm")
	return f.removeErr
}

func (f *fakeRuntime) CreateContainer(ctx context.Context, snap *engine.ContainerSnapshot) (string, error) {
	f.record("create")
	if f.createErr != nil {
		return "", f.createErr
	}
	return snap.ID + "-new", nil
}

func (f *fakeRuntime) StartContainer(ctx context.Context, containerID string) error {
	f.record("start")
	return f.startErr
}

// fakeScanService returns a canned result for every image.
type fakeScanService struct {
	enabled bool
	summary api.ScanSummary
	reports []api.ScannerReport
	err     error
	logs    []string

	mu      sync.Mutex
	scanned []string
}

func (f *fakeScanService) Enabled() bool { return f.enabled }

func (f *fakeScanService) ScanImage(ctx context.Context, imageRef string, onLog func(string)) ([]api.ScannerReport, api.ScanSummary, error) {
	f.mu.Lock()
	f.scanned = append(f.scanned, imageRef)
	f.mu.Unlock()
	if onLog != nil {
		for _, l := range f.logs {
			onLog(l)
		}
	}
	return f.reports, f.summary, f.err
}

func (f *fakeScanService) scannedRefs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.scanned))
	copy(out, f.scanned)
	return out
}

func runningSnap(id, name, ref, imageID string) *engine.ContainerSnapshot {
	return &engine.ContainerSnapshot{
		ID:       id,
		Name:     name,
		Running:  true,
		ImageRef: ref,
		ImageID:  imageID,
	}
}

func collectEvents(emit *[]api.ProgressEvent) func(api.ProgressEvent) {
	return func(e api.ProgressEvent) {
		*emit = append(*emit, e)
	}
}

func eventSteps(events []api.ProgressEvent) []api.Step {
	var steps []api.Step
	for _, e := range events {
		if e.Type == api.EventProgress {
			steps = append(steps, e.Step)
		}
	}
	return steps
}
