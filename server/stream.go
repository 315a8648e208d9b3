package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/phiberoptick/dockhand/logger"
)

const keepaliveInterval = 5 * time.Second

// sseStream serializes writes to a Server-Sent Events response. Writes
// after the client disconnected become no-ops instead of errors, so
// producers can keep emitting while in-flight work drains.
type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
	ctx     context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// newSSEStream sets the event-stream headers and verifies the
// ResponseWriter can flush. ctx is the connection context; its
// cancellation marks the stream dead.
func newSSEStream(w http.ResponseWriter, r *http.Request) (*sseStream, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no") // Disable Nginx buffering

	ctx, cancel := context.WithCancel(r.Context())
	return &sseStream{
		w:       w,
		flusher: flusher,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}, nil
}

// WriteEvent marshals v and writes it as one SSE data frame.
func (s *sseStream) WriteEvent(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		serverLog.Error("Failed to marshal stream event", logger.Err(err))
		return
	}
	s.write(fmt.Sprintf("data: %s\n\n", b))
}

// WriteComment writes an SSE comment frame. Comments are ignored by
// clients and serve as keepalives.
func (s *sseStream) WriteComment(c string) {
	s.write(fmt.Sprintf(": %s\n\n", c))
}

func (s *sseStream) write(frame string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.ctx.Err() != nil {
		s.closed = true
		return
	}
	if _, err := fmt.Fprint(s.w, frame); err != nil {
		s.closed = true
		s.cancel()
		return
	}
	s.flusher.Flush()
}

// StartKeepalive emits a comment frame every keepaliveInterval until
// Close is called or the client disconnects.
func (s *sseStream) StartKeepalive() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(keepaliveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.WriteComment("keepalive")
			}
		}
	}()
}

// Close stops the keepalive goroutine and waits for it to finish.
func (s *sseStream) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.wg.Wait()
	s.cancel()
}
