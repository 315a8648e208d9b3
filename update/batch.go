package update

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phiberoptick/dockhand/api"
	"github.com/phiberoptick/dockhand/logger"
)

// timeNow is a test seam.
var timeNow = time.Now

// ErrNoTargets rejects a batch with an empty container id list before the
// stream opens; it is the only fatal input condition.
var ErrNoTargets = errors.New("no container ids provided")

// Orchestrator processes a batch of containers strictly sequentially:
// container i+1 never starts before container i reached a terminal
// outcome. Sequential processing keeps the temp-tag protocol race-free
// and avoids contending pulls against the same daemon and scanner.
type Orchestrator struct {
	seq *Sequencer
	log *logger.SubsystemLogger
}

func NewOrchestrator(seq *Sequencer) *Orchestrator {
	return &Orchestrator{seq: seq, log: logger.WithSubsystem("batch")}
}

// Run starts the batch and returns its event stream. The stream carries
// one start event, all per-container events in order, and ends with a
// complete event whose counters sum to len(containerIDs); the channel is
// closed after the complete event. Events for container i are never
// interleaved with events for container i+1.
func (o *Orchestrator) Run(ctx context.Context, containerIDs []string, criteria api.VulnerabilityCriteria) (<-chan api.ProgressEvent, error) {
	if len(containerIDs) == 0 {
		return nil, ErrNoTargets
	}

	events := make(chan api.ProgressEvent, 16)

	go func() {
		defer close(events)

		batchID := uuid.New().String()
		bctx := logger.WithBatchID(ctx, batchID)
		total := len(containerIDs)

		o.log.InfoContext(bctx, "Starting update batch",
			logger.Int("containers", total),
			logger.String("criteria", string(criteria)),
		)

		send := func(e api.ProgressEvent) {
			select {
			case events <- e:
			case <-ctx.Done():
				// Consumer is gone and the batch deadline passed; drop.
			}
		}

		send(api.ProgressEvent{
			Type:    api.EventStart,
			Total:   total,
			Message: fmt.Sprintf("Updating %d containers", total),
		})

		var summary api.BatchSummary
		for i, id := range containerIDs {
			current := i + 1
			emit := func(e api.ProgressEvent) {
				e.Current = current
				e.Total = total
				if e.ContainerID == "" {
					e.ContainerID = id
				}
				send(e)
			}

			outcome := o.runOne(bctx, api.ContainerTarget{ID: id}, criteria, emit)
			switch outcome {
			case api.OutcomeSuccess:
				summary.Success++
			case api.OutcomeBlocked:
				summary.Blocked++
			case api.OutcomeSkipped:
				summary.Skipped++
			default:
				summary.Failed++
			}
		}

		o.log.InfoContext(bctx, "Update batch finished",
			logger.Int("success", summary.Success),
			logger.Int("failed", summary.Failed),
			logger.Int("blocked", summary.Blocked),
			logger.Int("skipped", summary.Skipped),
		)

		// Guaranteed to be the last event on the stream.
		send(api.ProgressEvent{
			Type:    api.EventComplete,
			Total:   total,
			Summary: &summary,
			Message: fmt.Sprintf("Batch complete: %d updated, %d failed, %d blocked, %d skipped",
				summary.Success, summary.Failed, summary.Blocked, summary.Skipped),
		})
	}()

	return events, nil
}

// runOne shields the batch from anything escaping the sequencer: a panic
// becomes a failed outcome for that container, and the batch continues.
func (o *Orchestrator) runOne(ctx context.Context, target api.ContainerTarget, criteria api.VulnerabilityCriteria, emit func(api.ProgressEvent)) (outcome api.UpdateOutcome) {
	defer func() {
		if r := recover(); r != nil {
			o.log.ErrorContext(ctx, "PANIC during container update",
				logger.String("container_id", target.ID),
				logger.Any("panic", r),
			)
			emit(api.ProgressEvent{
				Type:        api.EventProgress,
				Step:        api.StepFailed,
				ContainerID: target.ID,
				Error:       fmt.Sprintf("internal error: %v", r),
			})
			outcome = api.OutcomeFailed
		}
	}()

	return o.seq.Update(ctx, target, criteria, emit)
}
