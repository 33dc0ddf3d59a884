package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Snapshots carry no credentials and the API is same-host, so any
	// origin may subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleSubscribe upgrades the connection and streams queue snapshots
// until the client disconnects or stops draining them.
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id, ch, err := s.store.Subscribe()
	if err != nil {
		s.logger.Error("Failed to subscribe listener", "error", err)
		return
	}
	defer s.store.Unsubscribe(id)
	s.logger.Debug("Listener subscribed", "subscription_id", id)

	// Reads only serve to detect the peer going away; unsubscribing
	// closes the snapshot channel, which ends the write loop below.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.store.Unsubscribe(id)
				return
			}
		}
	}()

	for data := range ch {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			s.logger.Debug("Listener write failed", "subscription_id", id, "error", err)
			return
		}
	}

	// Channel closed: the peer unsubscribed, fell behind, or the store
	// shut down. Tell the client before hanging up.
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(time.Second))
}
