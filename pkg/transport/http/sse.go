package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/stapel-ai/stapel/pkg/api"
	"github.com/stapel-ai/stapel/pkg/stream"
	"github.com/stapel-ai/stapel/pkg/transport"
)

// sseFrameWriter implements stream.FrameWriter over an HTTP connection.
// Every frame is a bare data line:
//
//	data: {json}\n
//	\n
//
// There are no event-type lines and no [DONE] marker; the consumer stops
// at the {"type":"end"} frame the translator emits.
type sseFrameWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController

	mu      sync.Mutex
	started bool
}

var _ stream.FrameWriter = (*sseFrameWriter)(nil)

func newSSEFrameWriter(w http.ResponseWriter) *sseFrameWriter {
	return &sseFrameWriter{
		w:  w,
		rc: http.NewResponseController(w),
	}
}

// WriteFrame serializes the frame as JSON and flushes it to the client.
// Headers are sent on the first frame.
func (s *sseFrameWriter) WriteFrame(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.w.Header().Set("Content-Type", "text/event-stream")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("Connection", "keep-alive")
		s.started = true
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}

	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := s.rc.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return nil
}

// hasStarted reports whether any frame has been sent. Once true, errors
// can no longer be delivered as an HTTP status and must go in-band.
func (s *sseFrameWriter) hasStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// jsonRunWriter implements transport.RunWriter by encoding the finished
// run as a single JSON response body.
type jsonRunWriter struct {
	w       http.ResponseWriter
	written bool
}

var _ transport.RunWriter = (*jsonRunWriter)(nil)

func (j *jsonRunWriter) WriteRun(_ context.Context, run *api.Run) error {
	if j.written {
		return errors.New("run already written")
	}
	j.written = true

	j.w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(j.w).Encode(run); err != nil {
		return fmt.Errorf("failed to encode run: %w", err)
	}
	return nil
}
