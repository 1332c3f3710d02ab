package server

import (
	"net/http"

	"github.com/codesage/codesage/internal/relay"
)

// sseWriter writes relay event frames to an HTTP response, flushing after
// every frame so tokens reach the client as they arrive.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newSSEWriter prepares the response for event streaming. It returns false
// when the underlying writer cannot flush.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &sseWriter{w: w, flusher: flusher}, true
}

func (s *sseWriter) write(ev relay.Event) error {
	if _, err := s.w.Write(relay.Frame(ev)); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// sentinel writes the closing [DONE] line after the final frame.
func (s *sseWriter) sentinel() {
	_, _ = s.w.Write([]byte(relay.Sentinel))
	s.flusher.Flush()
}
