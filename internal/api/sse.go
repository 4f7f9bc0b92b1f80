package api

import (
	"fmt"
	"net/http"
	"time"
)

var sseKeepaliveInterval = 30 * time.Second

// handleEventStream streams bus events as server-sent events. The
// subscription is seeded with a connected event and the last scan state, so
// late subscribers see where things stand. Quiet streams get a keepalive
// event; any real event pushes the next keepalive out by a full interval.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	keepalive := time.NewTimer(sseKeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
			if !keepalive.Stop() {
				select {
				case <-keepalive.C:
				default:
				}
			}
			keepalive.Reset(sseKeepaliveInterval)
		case <-keepalive.C:
			fmt.Fprint(w, "data: {\"type\": \"keepalive\"}\n\n")
			flusher.Flush()
			keepalive.Reset(sseKeepaliveInterval)
		}
	}
}
