package node

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"tododapp.mini/tdm/internal/rpcapi"
	"tododapp.mini/tdm/internal/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

const (
	subscribeTimeout = 10 * time.Second
	pingInterval     = 30 * time.Second
	writeTimeout     = 5 * time.Second
)

// @Method: GET /ws/events
// @Description: Websocket feed of notifications; send {"package_id": "..."} first, then receive one envelope per notification. 404 when push is disabled
// @Params: {"package_id": "<deployed package id>"}
// @Result: {"seq": 4, "package_id": "...", "type": "TaskCompleted", "data": {...}}
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if !s.opts.EnablePush {
		http.NotFound(w, r)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(subscribeTimeout))
	var sub rpcapi.SubscribeRequest
	if err := conn.ReadJSON(&sub); err != nil {
		log.Printf("Warning: websocket subscribe frame: %v", err)
		return
	}
	conn.SetReadDeadline(time.Time{})

	packageID := s.node.App().Ledger().PackageID()
	if sub.PackageID != packageID {
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown package "+sub.PackageID)
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		return
	}

	bus := s.node.Events()
	ch := bus.Subscribe(64)
	defer bus.Unsubscribe(ch)

	// Reads only serve to notice the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case n, ok := <-ch:
			if !ok {
				return
			}
			if err := writeNotification(conn, n); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func writeNotification(conn *websocket.Conn, n types.Notification) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(n)
}
