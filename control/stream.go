package control

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control page is served from the panel host itself.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStatusStream sends the current status, then one status object per
// change of the active-task record.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Watcher == nil {
		http.NotFound(w, r)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	changes, err := s.cfg.Watcher.Watch(ctx, s.cfg.StatusKey)
	if err != nil {
		s.logger.Warn("status_watch_failed", map[string]interface{}{"error": err.Error()})
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "watch unavailable"),
			time.Now().Add(time.Second))
		return
	}

	// The client never sends anything; reading detects that it went away.
	conn.SetReadLimit(512)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := s.writeStatus(conn); err != nil {
		return
	}

	ping := time.NewTicker(s.cfg.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(time.Second))
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := s.writeStatus(conn); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeStatus(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteJSON(s.cfg.Supervisor.Status())
}
