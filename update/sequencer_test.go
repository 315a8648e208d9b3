package update

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phiberoptick/dockhand/api"
)

func newTestSequencer(rt Runtime, scans ScanService) *Sequencer {
	return NewSequencer(rt, scans, NewFileStore(""), SequencerOptions{
		SelfContainerID: "self-container",
	})
}

func TestUpdateSuccessWithoutScanning(t *testing.T) {
	rt := newFakeRuntime(runningSnap("c1", "web", "nginx:1.25", "sha256:old"))
	rt.pulls["nginx:1.25"] = "sha256:new"
	seq := newTestSequencer(rt, nil)

	var events []api.ProgressEvent
	outcome := seq.Update(context.Background(), api.ContainerTarget{ID: "c1"}, api.CriteriaNever, collectEvents(&events))

	assert.Equal(t, api.OutcomeSuccess, outcome)
	assert.Equal(t,
		[]api.Step{api.StepPulling, api.StepStopping, api.StepRemoving, api.StepCreating, api.StepStarting, api.StepDone},
		eventSteps(events))
	assert.Equal(t,
		[]string{"snapshot", "pull", "stop", "rm", "create", "start"},
		rt.callNames())

	// Pull progress is forwarded as pull_log events.
	var pullLogs int
	for _, e := range events {
		if e.Type == api.EventPullLog {
			pullLogs++
			assert.Equal(t, "web", e.Container)
		}
	}
	assert.Equal(t, 2, pullLogs)
}

func TestUpdateStoppedContainerStaysStopped(t *testing.T) {
	snap := runningSnap("c1", "web", "nginx:1.25", "sha256:old")
	snap.Running = false
	rt := newFakeRuntime(snap)
	seq := newTestSequencer(rt, nil)

	outcome := seq.Update(context.Background(), api.ContainerTarget{ID: "c1"}, api.CriteriaNever, nil)

	assert.Equal(t, api.OutcomeSuccess, outcome)
	assert.Equal(t, []string{"snapshot", "pull", "rm", "create"}, rt.callNames())
}

func TestUpdateContainerNotFound(t *testing.T) {
	rt := newFakeRuntime()
	seq := newTestSequencer(rt, nil)

	var events []api.ProgressEvent
	outcome := seq.Update(context.Background(), api.ContainerTarget{ID: "ghost"}, api.CriteriaNever, collectEvents(&events))

	assert.Equal(t, api.OutcomeFailed, outcome)
	require.Len(t, events, 1)
	assert.Equal(t, api.StepFailed, events[0].Step)
	assert.Equal(t, "Container not found", events[0].Error)
}

func TestUpdateRefusesSelf(t *testing.T) {
	rt := newFakeRuntime(runningSnap("self-container-abcdef", "dockhand", "dockhand:latest", "sha256:me"))
	seq := newTestSequencer(rt, &fakeScanService{enabled: true})

	var events []api.ProgressEvent
	outcome := seq.Update(context.Background(), api.ContainerTarget{ID: "self-container-abcdef"}, api.CriteriaAny, collectEvents(&events))

	assert.Equal(t, api.OutcomeSkipped, outcome)
	require.Len(t, events, 1)
	assert.Equal(t, api.StepSkipped, events[0].Step)
	// Nothing beyond the inspect: no pull, no scan, no swap.
	assert.Equal(t, []string{"snapshot"}, rt.callNames())
}

func TestUpdatePullFailure(t *testing.T) {
	rt := newFakeRuntime(runningSnap("c1", "web", "nginx:1.25", "sha256:old"))
	rt.pullErr = errors.New("registry unreachable")
	seq := newTestSequencer(rt, nil)

	var events []api.ProgressEvent
	outcome := seq.Update(context.Background(), api.ContainerTarget{ID: "c1"}, api.CriteriaNever, collectEvents(&events))

	assert.Equal(t, api.OutcomeFailed, outcome)
	last := events[len(events)-1]
	assert.Equal(t, api.StepFailed, last.Step)
	assert.Contains(t, last.Error, "registry unreachable")
	// The running container was never touched.
	assert.NotContains(t, rt.callNames(), "stop")
}

func TestUpdateScanAllowedPromotesAndSwaps(t *testing.T) {
	rt := newFakeRuntime(runningSnap("c1", "web", "nginx:1.25", "sha256:old"))
	rt.pulls["nginx:1.25"] = "sha256:new"
	scans := &fakeScanService{enabled: true, summary: api.ScanSummary{Medium: 3}, logs: []string{"scanning layers"}}
	seq := newTestSequencer(rt, scans)

	var events []api.ProgressEvent
	outcome := seq.Update(context.Background(), api.ContainerTarget{ID: "c1"}, api.CriteriaCriticalHigh, collectEvents(&events))

	assert.Equal(t, api.OutcomeSuccess, outcome)
	// The scan ran against the temp tag, never the original reference.
	assert.Equal(t, []string{"nginx:1.25-dockhand-scan"}, scans.scannedRefs())
	// Promotion left the original tag on the new image, temp tag gone.
	assert.Equal(t, "sha256:new", rt.tags["nginx:1.25"])
	assert.NotContains(t, rt.tags, "nginx:1.25-dockhand-scan")

	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, api.EventScanStart)
	assert.Contains(t, types, api.EventScanLog)
	assert.Contains(t, types, api.EventScanComplete)
}

func TestUpdateScanBlocked(t *testing.T) {
	rt := newFakeRuntime(runningSnap("c1", "web", "nginx:1.25", "sha256:old"))
	rt.pulls["nginx:1.25"] = "sha256:new"
	scans := &fakeScanService{enabled: true, summary: api.ScanSummary{Critical: 2}}
	store := NewFileStore("")
	seq := NewSequencer(rt, scans, store, SequencerOptions{})

	var events []api.ProgressEvent
	outcome := seq.Update(context.Background(), api.ContainerTarget{ID: "c1"}, api.CriteriaCritical, collectEvents(&events))

	assert.Equal(t, api.OutcomeBlocked, outcome)

	last := events[len(events)-1]
	assert.Equal(t, api.EventBlocked, last.Type)
	assert.Contains(t, last.BlockReason, "2 critical")
	require.NotNil(t, last.Scan)
	assert.Equal(t, 2, last.Scan.Summary.Critical)

	// The swap never started and the tag state is fully rolled back.
	calls := rt.callNames()
	assert.NotContains(t, calls, "stop")
	assert.NotContains(t, calls, "rm")
	assert.NotContains(t, calls, "create")
	assert.Equal(t, "sha256:old", rt.tags["nginx:1.25"])
	assert.NotContains(t, rt.tags, "nginx:1.25-dockhand-scan")

	// The blocked decision is persisted with the scan record.
	rec, err := store.LatestScanForImage(context.Background(), "sha256:new")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.Blocked)
	assert.Equal(t, api.CriteriaCritical, rec.Criteria)
}

func TestUpdateScanFailureFailsContainer(t *testing.T) {
	rt := newFakeRuntime(runningSnap("c1", "web", "nginx:1.25", "sha256:old"))
	rt.pulls["nginx:1.25"] = "sha256:new"
	scans := &fakeScanService{enabled: true, err: errors.New("trivy exploded")}
	seq := newTestSequencer(rt, scans)

	var events []api.ProgressEvent
	outcome := seq.Update(context.Background(), api.ContainerTarget{ID: "c1"}, api.CriteriaAny, collectEvents(&events))

	assert.Equal(t, api.OutcomeFailed, outcome)
	last := events[len(events)-1]
	assert.Contains(t, last.Error, "trivy exploded")
	// Failure still rolls the tags back.
	assert.Equal(t, "sha256:old", rt.tags["nginx:1.25"])
	assert.NotContains(t, rt.tags, "nginx:1.25-dockhand-scan")
}

func TestUpdateDigestPinnedSkipsScan(t *testing.T) {
	ref := "nginx@sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	rt := newFakeRuntime(runningSnap("c1", "web", ref, "sha256:old"))
	scans := &fakeScanService{enabled: true, summary: api.ScanSummary{Critical: 99}}
	seq := newTestSequencer(rt, scans)

	outcome := seq.Update(context.Background(), api.ContainerTarget{ID: "c1"}, api.CriteriaAny, nil)

	// Pinned images are immutable; even 'any' cannot block them because
	// no scan runs.
	assert.Equal(t, api.OutcomeSuccess, outcome)
	assert.Empty(t, scans.scannedRefs())
}

func TestUpdateScanDisabledSkipsScan(t *testing.T) {
	rt := newFakeRuntime(runningSnap("c1", "web", "nginx:1.25", "sha256:old"))
	scans := &fakeScanService{enabled: false, summary: api.ScanSummary{Critical: 99}}
	seq := newTestSequencer(rt, scans)

	outcome := seq.Update(context.Background(), api.ContainerTarget{ID: "c1"}, api.CriteriaAny, nil)

	assert.Equal(t, api.OutcomeSuccess, outcome)
	assert.Empty(t, scans.scannedRefs())
}

func TestUpdateMoreThanCurrentUsesBaseline(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, store Store) (api.UpdateOutcome, *fakeRuntime) {
		rt := newFakeRuntime(runningSnap("c1", "web", "nginx:1.25", "sha256:old"))
		rt.pulls["nginx:1.25"] = "sha256:new"
		scans := &fakeScanService{enabled: true, summary: api.ScanSummary{High: 5}}
		seq := NewSequencer(rt, scans, store, SequencerOptions{})
		return seq.Update(ctx, api.ContainerTarget{ID: "c1"}, api.CriteriaMoreThanCurrent, nil), rt
	}

	t.Run("no baseline allows", func(t *testing.T) {
		outcome, _ := run(t, NewFileStore(""))
		assert.Equal(t, api.OutcomeSuccess, outcome)
	})

	t.Run("worse than baseline blocks", func(t *testing.T) {
		store := NewFileStore("")
		require.NoError(t, store.SaveVulnerabilityScan(ctx, ScanRecord{
			ImageID: "sha256:old",
			Summary: api.ScanSummary{High: 2},
		}))
		outcome, _ := run(t, store)
		assert.Equal(t, api.OutcomeBlocked, outcome)
	})

	t.Run("equal to baseline allows", func(t *testing.T) {
		store := NewFileStore("")
		require.NoError(t, store.SaveVulnerabilityScan(ctx, ScanRecord{
			ImageID: "sha256:old",
			Summary: api.ScanSummary{High: 5},
		}))
		outcome, _ := run(t, store)
		assert.Equal(t, api.OutcomeSuccess, outcome)
	})
}

func TestUpdateSwapFailure(t *testing.T) {
	rt := newFakeRuntime(runningSnap("c1", "web", "nginx:1.25", "sha256:old"))
	rt.createErr = errors.New("port already allocated")
	seq := newTestSequencer(rt, nil)

	var events []api.ProgressEvent
	outcome := seq.Update(context.Background(), api.ContainerTarget{ID: "c1"}, api.CriteriaNever, collectEvents(&events))

	assert.Equal(t, api.OutcomeFailed, outcome)
	last := events[len(events)-1]
	assert.Contains(t, last.Error, "create")
	assert.Contains(t, last.Error, "port already allocated")
	assert.NotContains(t, rt.callNames(), "start")
}
