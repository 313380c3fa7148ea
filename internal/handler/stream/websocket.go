package stream

import (
	"log"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleWebSocket serves the same relay over a WebSocket connection: each
// inbound JSON turn payload runs one turn, events use the same JSON shapes
// as the SSE transport.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.chatSvc.GetSession(r.Context(), sessionID); err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[stream] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sink := &wsSink{conn: conn}
	for {
		var req turnRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[stream] websocket read failed: %v", err)
			}
			return
		}
		if err := req.validate(); err != nil {
			_ = sink.Send(Event{Type: EventError, SessionID: sessionID, Error: err.Error()})
			continue
		}

		h.relay.Run(r.Context(), sink, sessionID, req.Content, req.locality(r))
	}
}

// wsSink serializes relay events onto a WebSocket connection. gorilla
// connections allow one concurrent writer, hence the mutex.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(event)
}
