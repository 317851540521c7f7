package routes

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Viewer is loopback-only; the middleware already gates the origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// handleWS streams derived-state changes to the UI shell. The shell
// re-fetches the relevant snapshot endpoint on each notification instead
// of diffing payloads.
func (d Deps) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("VIEWER: ws upgrade: %v", err)
		return
	}
	defer conn.Close()

	chatCh, cancelChat := d.Chat.SubscribeUpdates()
	defer cancelChat()
	stateCh, cancelState := d.Transport.SubscribeState()
	defer cancelState()
	routeCh, cancelRoutes := d.Session.SubscribeRoutes()
	defer cancelRoutes()
	membershipCh, cancelMembership := d.Game.Members.Subscribe()
	defer cancelMembership()
	presenceCh := d.Presence.Subscribe()
	defer d.Presence.Unsubscribe(presenceCh)

	// Reader drains client frames so pings and close are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(f wsFrame) bool {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(f); err != nil {
			return false
		}
		return true
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case u, ok := <-chatCh:
			if !ok || !write(wsFrame{Event: "chat_update", Data: u}) {
				return
			}
		case s, ok := <-stateCh:
			if !ok || !write(wsFrame{Event: "connection_state", Data: s}) {
				return
			}
		case route, ok := <-routeCh:
			if !ok || !write(wsFrame{Event: "route", Data: route}) {
				return
			}
		case c, ok := <-membershipCh:
			if !ok || !write(wsFrame{Event: "game_membership", Data: c}) {
				return
			}
		case e, ok := <-presenceCh:
			if !ok || !write(wsFrame{Event: "user_status", Data: e}) {
				return
			}
		case <-d.Game.Updates():
			if !write(wsFrame{Event: "game_update", Data: nil}) {
				return
			}
		}
	}
}
