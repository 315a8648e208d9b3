package update

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/phiberoptick/dockhand/api"
	"github.com/phiberoptick/dockhand/engine"
	"github.com/phiberoptick/dockhand/logger"
	"github.com/phiberoptick/dockhand/policy"
)

// SequencerOptions tune one pipeline instance.
type SequencerOptions struct {
	// Container id (or name) of the process's own container. Detected
	// from the hostname when empty. Self-updates are always refused.
	SelfContainerID    string
	StopTimeoutSeconds int
	PreserveNetwork    bool
}

// Sequencer drives one container through the update pipeline:
// pull -> (scan ->) stop -> remove -> create -> start, emitting one
// progress event per state transition. Step order is fixed; later steps
// observe the effects of earlier ones.
type Sequencer struct {
	rt    Runtime
	scans ScanService
	store Store
	tags  *TagManager
	opts  SequencerOptions
	self  string
	log   *logger.SubsystemLogger
}

func NewSequencer(rt Runtime, scans ScanService, store Store, opts SequencerOptions) *Sequencer {
	self := opts.SelfContainerID
	if self == "" {
		// Inside a container the hostname defaults to the short id.
		if h, err := os.Hostname(); err == nil {
			self = h
		}
	}
	return &Sequencer{
		rt:    rt,
		scans: scans,
		store: store,
		tags:  NewTagManager(rt),
		opts:  opts,
		self:  self,
		log:   logger.WithSubsystem("update"),
	}
}

// Update runs the full pipeline for one container and returns its
// terminal outcome. Every failure is converted into a terminal event;
// nothing escapes to abort the batch.
func (s *Sequencer) Update(ctx context.Context, target api.ContainerTarget, criteria api.VulnerabilityCriteria, emit func(api.ProgressEvent)) api.UpdateOutcome {
	if emit == nil {
		emit = func(api.ProgressEvent) {}
	}

	snap, err := s.rt.Snapshot(ctx, target.ID, s.opts.PreserveNetwork)
	if err != nil {
		msg := fmt.Sprintf("inspect failed: %v", err)
		if errors.Is(err, engine.ErrNotFound) {
			msg = "Container not found"
		}
		return s.fail(ctx, emit, target.ID, target.Name, msg)
	}

	name := snap.Name

	// Self-update is refused unconditionally: no pull, no scan.
	if s.isSelf(snap) {
		s.log.InfoContext(ctx, "Refusing to update own container", logger.String("container", name))
		emit(api.ProgressEvent{
			Type:        api.EventProgress,
			Step:        api.StepSkipped,
			ContainerID: snap.ID,
			Container:   name,
			Message:     "Refusing self-update of the container running this service",
		})
		return api.OutcomeSkipped
	}

	emit(api.ProgressEvent{
		Type:        api.EventProgress,
		Step:        api.StepPulling,
		ContainerID: snap.ID,
		Container:   name,
		Message:     fmt.Sprintf("Pulling image %s", snap.ImageRef),
	})

	err = s.rt.PullImage(ctx, snap.ImageRef, func(p api.PullProgress) {
		msg := p.Status
		if p.Layer != "" {
			msg = p.Layer + ": " + p.Status
		}
		emit(api.ProgressEvent{
			Type:        api.EventPullLog,
			Step:        api.StepPulling,
			ContainerID: snap.ID,
			Container:   name,
			Message:     msg,
			Percent:     p.Percent,
		})
	})
	if err != nil {
		return s.fail(ctx, emit, snap.ID, name, fmt.Sprintf("%v: %v", ErrPullFailed, err))
	}

	// Scanning is skipped for digest-pinned references: the image is
	// immutable, the pull cannot have moved anything.
	if s.scans != nil && s.scans.Enabled() && !DigestPinned(snap.ImageRef) {
		outcome, ok := s.scanAndDecide(ctx, snap, criteria, emit)
		if !ok {
			return outcome
		}
	}

	if outcome := s.swap(ctx, snap, emit); outcome != api.OutcomeSuccess {
		return outcome
	}

	// Bookkeeping collaborators; their failure never fails the update.
	if err := s.store.RemovePendingUpdate(ctx, snap.ID); err != nil {
		s.log.WarnContext(ctx, "Failed to clear pending update marker",
			logger.String("container", name), logger.Err(err))
	}
	if err := s.store.RecordAuditEvent(ctx, AuditEvent{
		Action:     "update",
		EntityType: "container",
		EntityID:   snap.ID,
		EntityName: name,
		Metadata:   map[string]string{"image": snap.ImageRef},
	}); err != nil {
		s.log.WarnContext(ctx, "Failed to record audit event",
			logger.String("container", name), logger.Err(err))
	}

	emit(api.ProgressEvent{
		Type:        api.EventProgress,
		Step:        api.StepDone,
		ContainerID: snap.ID,
		Container:   name,
		Message:     fmt.Sprintf("Successfully updated %s", name),
	})
	return api.OutcomeSuccess
}

// scanAndDecide runs the temp-tag protocol, the scanners and the policy.
// ok is true when the pipeline should continue to the swap.
func (s *Sequencer) scanAndDecide(ctx context.Context, snap *engine.ContainerSnapshot, criteria api.VulnerabilityCriteria, emit func(api.ProgressEvent)) (outcome api.UpdateOutcome, ok bool) {
	emit(api.ProgressEvent{
		Type:        api.EventScanStart,
		Step:        api.StepScanning,
		ContainerID: snap.ID,
		Container:   snap.Name,
		Message:     fmt.Sprintf("Scanning image %s for vulnerabilities", snap.ImageRef),
	})

	session, err := s.tags.Begin(ctx, snap.ImageRef, snap.ImageID)
	if err != nil {
		return s.fail(ctx, emit, snap.ID, snap.Name, err.Error()), false
	}

	// The temp tag must be removed on every exit path, including panics
	// inside a scanner; cleanup survives context cancellation.
	cleanupCtx := context.WithoutCancel(ctx)
	defer session.Discard(cleanupCtx)

	reports, summary, scanErr := s.scans.ScanImage(ctx, session.TempRef, func(line string) {
		emit(api.ProgressEvent{
			Type:        api.EventScanLog,
			Step:        api.StepScanning,
			ContainerID: snap.ID,
			Container:   snap.Name,
			Message:     line,
		})
	})

	// Baseline is the most recent persisted scan of the image currently
	// running, looked up before the new record is saved.
	var baseline *api.ScanSummary
	if criteria == api.CriteriaMoreThanCurrent {
		if rec, err := s.store.LatestScanForImage(ctx, snap.ImageID); err == nil && rec != nil {
			baseline = &rec.Summary
		}
	}

	var decision policy.Decision
	if scanErr == nil {
		decision = policy.Evaluate(criteria, summary, baseline)
	}

	// Scan results are persisted regardless of outcome.
	rec := ScanRecord{
		ContainerID:   snap.ID,
		ContainerName: snap.Name,
		ImageRef:      snap.ImageRef,
		ImageID:       session.NewImageID,
		Reports:       reports,
		Summary:       summary,
		Criteria:      criteria,
		Blocked:       decision.Blocked,
		Reason:        decision.Reason,
		ScannedAt:     timeNow(),
	}
	if err := s.store.SaveVulnerabilityScan(ctx, rec); err != nil {
		s.log.WarnContext(ctx, "Failed to persist scan record",
			logger.String("container", snap.Name), logger.Err(err))
	}

	if scanErr != nil {
		return s.fail(ctx, emit, snap.ID, snap.Name, fmt.Sprintf("vulnerability scan failed: %v", scanErr)), false
	}

	emit(api.ProgressEvent{
		Type:        api.EventScanComplete,
		Step:        api.StepScanning,
		ContainerID: snap.ID,
		Container:   snap.Name,
		Scan:        &api.ScanPayload{Summary: summary, Reports: reports},
	})

	if decision.Blocked {
		s.log.InfoContext(ctx, "Update blocked by vulnerability policy",
			logger.String("container", snap.Name),
			logger.String("reason", decision.Reason),
		)
		emit(api.ProgressEvent{
			Type:        api.EventBlocked,
			Step:        api.StepBlocked,
			ContainerID: snap.ID,
			Container:   snap.Name,
			BlockReason: decision.Reason,
			Scan:        &api.ScanPayload{Summary: summary},
		})
		return api.OutcomeBlocked, false
	}

	if err := session.Promote(ctx); err != nil {
		return s.fail(ctx, emit, snap.ID, snap.Name, err.Error()), false
	}
	return api.OutcomeSuccess, true
}

// swap replaces the running container with one built from the snapshot.
// The replacement is started only if the original was running, so a
// deliberately stopped container stays stopped.
func (s *Sequencer) swap(ctx context.Context, snap *engine.ContainerSnapshot, emit func(api.ProgressEvent)) api.UpdateOutcome {
	step := func(st api.Step, msg string) {
		emit(api.ProgressEvent{
			Type:        api.EventProgress,
			Step:        st,
			ContainerID: snap.ID,
			Container:   snap.Name,
			Message:     msg,
		})
	}

	if snap.Running {
		step(api.StepStopping, fmt.Sprintf("Stopping %s", snap.Name))
		if err := s.rt.StopContainer(ctx, snap.ID, s.opts.StopTimeoutSeconds); err != nil {
			return s.fail(ctx, emit, snap.ID, snap.Name, fmt.Sprintf("%v: stop: %v", ErrSwapFailed, err))
		}
	}

	step(api.StepRemoving, fmt.Sprintf("Removing old container %s", snap.Name))
	if err := s.rt.RemoveContainer(ctx, snap.ID); err != nil {
		return s.fail(ctx, emit, snap.ID, snap.Name, fmt.Sprintf("%v: remove: %v", ErrSwapFailed, err))
	}

	step(api.StepCreating, fmt.Sprintf("Creating new container %s from %s", snap.Name, snap.ImageRef))
	newID, err := s.rt.CreateContainer(ctx, snap)
	if err != nil {
		return s.fail(ctx, emit, snap.ID, snap.Name, fmt.Sprintf("%v: create: %v", ErrSwapFailed, err))
	}

	if snap.Running {
		step(api.StepStarting, fmt.Sprintf("Starting %s", snap.Name))
		if err := s.rt.StartContainer(ctx, newID); err != nil {
			return s.fail(ctx, emit, snap.ID, snap.Name, fmt.Sprintf("%v: start: %v", ErrSwapFailed, err))
		}
	}

	return api.OutcomeSuccess
}

func (s *Sequencer) fail(ctx context.Context, emit func(api.ProgressEvent), id, name, msg string) api.UpdateOutcome {
	s.log.ErrorContext(ctx, "Container update failed",
		logger.String("container", name),
		logger.String("error", msg),
	)
	emit(api.ProgressEvent{
		Type:        api.EventProgress,
		Step:        api.StepFailed,
		ContainerID: id,
		Container:   name,
		Error:       msg,
	})
	return api.OutcomeFailed
}

func (s *Sequencer) isSelf(snap *engine.ContainerSnapshot) bool {
	if s.self == "" {
		return false
	}
	return strings.HasPrefix(snap.ID, s.self) || snap.Name == s.self
}
