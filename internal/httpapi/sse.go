package httpapi

import (
	"fmt"
	"net/http"
	"strings"
)

// sseWriter writes Server-Sent Events to an http.ResponseWriter,
// flushing after each event for real-time delivery. mlxd never reads an
// SSE stream, only ever writes one.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

// writeData writes a single "data: <payload>" SSE frame terminated by a
// blank line, matching the OpenAI streaming wire format (no event: or
// id: lines).
func (s *sseWriter) writeData(payload string) error {
	for _, line := range strings.Split(payload, "\n") {
		if _, err := fmt.Fprintf(s.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(s.w, "\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

// writeDone writes the "[DONE]" sentinel OpenAI-compatible clients look
// for to know the stream has ended.
func (s *sseWriter) writeDone() error {
	return s.writeData("[DONE]")
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
