package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/lox/gaspvt/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// handleEvents streams session notifications over a websocket, starting
// with the ones already recorded.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("api: websocket upgrade: %v", err)
		return
	}
	defer conn.Close()

	live, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	for _, n := range sess.Notifications() {
		if err := writeEvent(conn, n); err != nil {
			return
		}
	}

	// The client sends nothing; reading only detects the close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case n, ok := <-live:
			if !ok {
				return
			}
			if err := writeEvent(conn, n); err != nil {
				log.Debugf("api: websocket write: %v", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, n session.Notification) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(n)
}
