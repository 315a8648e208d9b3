package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/phiberoptick/dockhand/api"
	"github.com/phiberoptick/dockhand/logger"
	"github.com/phiberoptick/dockhand/notify"
)

var validContainerID = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,128}$`)

// POST /api/update/stream
//
// Validates the request fully before the stream opens, so malformed
// input gets a plain 400 instead of an SSE error frame. Once streaming
// starts, the batch runs on a context detached from the connection: a
// client that disconnects mid-batch never interrupts a container that
// is between remove and create.
func (s *Server) handleUpdateStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.ContainerIDs) == 0 {
		http.Error(w, "containerIds must not be empty", http.StatusBadRequest)
		return
	}
	for _, id := range req.ContainerIDs {
		if !validContainerID.MatchString(id) {
			http.Error(w, fmt.Sprintf("invalid container id %q", id), http.StatusBadRequest)
			return
		}
	}

	criteriaStr := req.VulnerabilityCriteria
	if criteriaStr == "" {
		criteriaStr = s.cfg.Updates.VulnerabilityCriteria
	}
	criteria, err := api.ParseCriteria(criteriaStr)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stream, err := newSSEStream(w, r)
	if err != nil {
		return
	}
	defer stream.Close()
	stream.StartKeepalive()

	defer func() {
		if rec := recover(); rec != nil {
			serverLog.Error("PANIC in handleUpdateStream", logger.Any("panic", rec))
		}
	}()

	serverLog.Info("Starting update batch",
		logger.Int("containers", len(req.ContainerIDs)),
		logger.String("criteria", string(criteria)),
	)

	// Detached from the connection: the batch outlives a disconnecting
	// client, bounded only by the configured batch timeout.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.cfg.BatchTimeoutDuration())
	defer cancel()

	events, err := s.Orchestrator.Run(ctx, req.ContainerIDs, criteria)
	if err != nil {
		stream.WriteEvent(api.ProgressEvent{Type: api.EventError, Error: err.Error()})
		return
	}

	// Drain the whole stream even after a disconnect, otherwise the
	// batch goroutine would stall against a full channel.
	var summary *api.BatchSummary
	for ev := range events {
		stream.WriteEvent(ev)
		if ev.Type == api.EventComplete {
			summary = ev.Summary
		}
	}

	if summary != nil {
		s.notifyBatchResult(*summary)
	}
}

func (s *Server) notifyBatchResult(summary api.BatchSummary) {
	body := fmt.Sprintf("%d updated, %d failed, %d blocked, %d skipped",
		summary.Success, summary.Failed, summary.Blocked, summary.Skipped)

	switch {
	case summary.Failed > 0:
		s.Notifier.Notify("Dockhand Update Failed", body, notify.TypeFailure)
	case summary.Blocked > 0:
		s.Notifier.Notify("Dockhand Update Blocked", body, notify.TypeWarning)
	case summary.Success > 0:
		s.Notifier.Notify("Dockhand Update Complete", body, notify.TypeSuccess)
	}
}
