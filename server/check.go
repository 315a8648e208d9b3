package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/phiberoptick/dockhand/api"
	"github.com/phiberoptick/dockhand/engine"
	"github.com/phiberoptick/dockhand/logger"
	"github.com/phiberoptick/dockhand/notify"

	"github.com/google/uuid"
)

// GET /api/check/stream
//
// Streams one progress event per inspected container, then a done
// event. Results are persisted as pending-update markers so
// /api/containers reflects them on the next fetch.
func (s *Server) handleCheckStream(w http.ResponseWriter, r *http.Request) {
	serverLog.Debug("Check stream started")

	stream, err := newSSEStream(w, r)
	if err != nil {
		return
	}
	defer stream.Close()
	stream.StartKeepalive()

	defer func() {
		if rec := recover(); rec != nil {
			serverLog.Error("PANIC in handleCheckStream", logger.Any("panic", rec))
		}
		serverLog.Debug("Check stream ended")
	}()

	stream.WriteEvent(api.ProgressEvent{Type: api.EventStart})

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Minute)
	defer cancel()

	force := r.URL.Query().Get("force") == "true"

	onProgress := func(c api.ContainerCheck, current, total int) {
		stream.WriteEvent(api.ProgressEvent{
			Type:        api.EventProgress,
			Current:     current,
			Total:       total,
			ContainerID: c.ID,
			Container:   c.Name,
			Message:     c.Status,
		})
	}

	checks, err := engine.CheckUpdates(ctx, s.Docker, s.Registry, "", force, onProgress)
	if err != nil {
		s.mu.Lock()
		s.lastCheckStat = "error"
		s.mu.Unlock()
		stream.WriteEvent(api.ProgressEvent{Type: api.EventError, Error: err.Error()})
		return
	}

	s.recordCheckResults(ctx, checks)

	s.mu.Lock()
	s.lastCheckTime = time.Now()
	s.lastCheckStat = "success"
	s.mu.Unlock()

	stream.WriteEvent(api.ProgressEvent{
		Type:    api.EventComplete,
		Total:   len(checks),
		Message: "Check complete",
	})
}

// recordCheckResults syncs pending-update markers with a fresh check.
func (s *Server) recordCheckResults(ctx context.Context, checks []api.ContainerCheck) {
	for _, c := range checks {
		var err error
		if c.UpdateAvailable {
			err = s.Store.SetPendingUpdate(ctx, c.ID)
		} else {
			err = s.Store.RemovePendingUpdate(ctx, c.ID)
		}
		if err != nil {
			serverLog.Warn("Failed to record pending update marker",
				logger.String("container", c.Name), logger.Err(err))
		}
	}
}

// StartScheduler polls the registries on a fixed interval and issues
// notifications for newly available updates. It is the single source of
// update alerts, decoupled from the UI-triggered check stream.
func (s *Server) StartScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	serverLog.Info("Starting background update scheduler",
		logger.String("interval", interval.String()),
	)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Immediate scan on startup, delayed slightly so the Docker API is ready
	go func() {
		time.Sleep(30 * time.Second)
		s.runScheduledCheck(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			serverLog.Info("Stopping background update scheduler")
			return
		case <-ticker.C:
			s.runScheduledCheck(ctx)
		}
	}
}

func (s *Server) runScheduledCheck(ctx context.Context) {
	batchCtx := logger.WithBatchID(ctx, uuid.New().String())
	serverLog.DebugContext(batchCtx, "Scheduler: Running background update check")

	checks, err := engine.CheckUpdates(batchCtx, s.Docker, s.Registry, "", true, nil)
	if err != nil {
		serverLog.ErrorContext(batchCtx, "Scheduler: Update check failed", logger.Err(err))
		s.mu.Lock()
		s.lastCheckStat = "error"
		s.mu.Unlock()
		return
	}

	known, err := s.Store.PendingUpdates(batchCtx)
	if err != nil {
		serverLog.WarnContext(batchCtx, "Scheduler: Failed to read pending updates", logger.Err(err))
		known = nil
	}

	var newNames []string
	for _, c := range checks {
		if !c.UpdateAvailable {
			continue
		}
		if _, seen := known[c.ID]; !seen {
			newNames = append(newNames, c.Name)
		}
	}

	s.recordCheckResults(batchCtx, checks)

	s.mu.Lock()
	s.lastCheckTime = time.Now()
	s.lastCheckStat = "success"
	s.mu.Unlock()

	if len(newNames) == 0 {
		return
	}

	title := "Dockhand Update Available"
	body := fmt.Sprintf("%s has an update available", newNames[0])
	if len(newNames) > 1 {
		title = "Dockhand Updates Available"
		body = fmt.Sprintf("Updates are available for: %s", strings.Join(newNames, ", "))
	}
	s.Notifier.Notify(title, body, notify.TypeInfo)
}
