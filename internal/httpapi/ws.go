// v1
// internal/httpapi/ws.go
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Rlpzx/auto-riego/internal/bus"
)

const (
	wsSendBuffer   = 64
	wsWriteTimeout = 5 * time.Second
	wsReadLimit    = 512
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsFrame is what dashboard clients receive: the bus envelope flattened to
// topic plus event payload.
type wsFrame struct {
	ID    string    `json:"id"`
	Topic string    `json:"topic"`
	At    time.Time `json:"at"`
	Event any       `json:"event"`
}

// ServeWS upgrades the connection and streams bus events to it. Each client
// gets its own subscription; a client that cannot keep up misses events
// rather than slowing the publishers down.
func (h *Handlers) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		h.Log.Warn("ws_upgrade_err", slog.Any("err", err))
		return
	}
	sub := h.Hub.Subscribe(wsSendBuffer)
	h.Log.Info("ws_client_connected", slog.String("remote", r.RemoteAddr))
	go h.wsWritePump(conn, sub)
	h.wsReadPump(conn, sub, r.RemoteAddr)
}

// wsReadPump discards client frames and detaches the subscription when the
// peer goes away. The feed is one-way; reads only exist to notice the close.
func (h *Handlers) wsReadPump(conn *websocket.Conn, sub *bus.Subscription, remote string) {
	defer sub.Close()
	conn.SetReadLimit(wsReadLimit)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.Log.Info("ws_client_disconnected", slog.String("remote", remote))
			return
		}
	}
}

func (h *Handlers) wsWritePump(conn *websocket.Conn, sub *bus.Subscription) {
	defer conn.Close()
	for env := range sub.C {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(frameFrom(env)); err != nil {
			// Closing the conn makes the read pump detach the subscription.
			return
		}
	}
	// Feed closed under the client: the hub is shutting down.
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(wsWriteTimeout))
}

func frameFrom(env bus.Envelope) wsFrame {
	return wsFrame{ID: env.ID, Topic: env.Topic, At: env.At, Event: env.Payload}
}
