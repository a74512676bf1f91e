package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// SSEWriter helps write Server-Sent Events
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewSSEWriter creates a new SSE writer
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteEvent sends an SSE event
func (s *SSEWriter) WriteEvent(event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// WriteError sends an error event
func (s *SSEWriter) WriteError(message string) {
	s.WriteEvent("error", map[string]string{"error": message}) //nolint:errcheck
}

// runEventSink adapts an SSE connection to the broadcaster's sink
// interface. The broadcaster writes from the orchestration goroutine and
// the heartbeat goroutine concurrently, so writes are serialized here.
type runEventSink struct {
	mu     sync.Mutex
	writer *SSEWriter
	done   chan struct{}
	once   sync.Once
}

func newRunEventSink(writer *SSEWriter) *runEventSink {
	return &runEventSink{writer: writer, done: make(chan struct{})}
}

// Write implements events.Sink.
func (s *runEventSink) Write(event string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writer.WriteEvent(event, payload)
}

// Close implements events.Sink. It unblocks the handler goroutine holding
// the connection open.
func (s *runEventSink) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Done reports when the sink has been closed by the broadcaster.
func (s *runEventSink) Done() <-chan struct{} {
	return s.done
}
