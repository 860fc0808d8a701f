package server

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// registerWSRoute exposes the dashboard event feed. Each connection gets a
// hello frame, then every hub event until the client goes away.
func registerWSRoute(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("ws upgrade error: %v", err)
			return
		}
		serveWS(conn, hub)
	})
}

func serveWS(conn *websocket.Conn, hub *Hub) {
	defer func() { _ = conn.Close() }()

	hello := ConnectionEvent{
		Event:     newEvent("connection", time.Now().UTC()),
		Connected: true,
	}
	if payload, err := json.Marshal(hello); err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}

	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	for msg := range ch {
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
