package api

import (
	"log"
	"net/http"

	"nhooyr.io/websocket"
)

// handleWebSocket bridges the event bus onto a WebSocket connection. Each
// client gets its own bus subscription; slow clients drop events rather
// than stalling publishers.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("WebSocket accept error: %v", err)
		return
	}

	ch := s.bus.Subscribe()
	defer s.bus.Unsubscribe(ch)

	log.Printf("WebSocket client connected (%d active)", s.bus.SubscriberCount())

	ctx := r.Context()

	// Writer goroutine
	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "")
		for msg := range ch {
			if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}()

	// Reader loop keeps the connection alive and notices disconnects
	for {
		_, _, err := conn.Read(ctx)
		if err != nil {
			break
		}
	}

	log.Printf("WebSocket client disconnected")
}
