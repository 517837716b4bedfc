package control

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"project-tachyon/internal/eventbus"
)

// hub bridges the Event Bus to connected WebSocket clients (spec §4.H,
// §6 "Bidirectional channel"). Grounded on
// other_examples/a3e76911_eljojo-low-tide's handleStateWS: one
// upgrader, one subscribe-and-forward loop per connection. Generalized
// from that example's single state-subscription channel to the Event
// Bus's multi-topic Subscribe, and from a write-only relay to a
// genuinely bidirectional connection that also reads client heartbeat
// frames (spec §6: "Client sends only heartbeats").
type hub struct {
	bus      *eventbus.Bus
	upgrader websocket.Upgrader
}

func newHub(bus *eventbus.Bus) *hub {
	return &hub{
		bus: bus,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// wireEvent is the JSON shape emitted over the socket: the topic name
// plus its payload, so a client can dispatch on `topic` without
// separate per-topic framing.
type wireEvent struct {
	Topic   string      `json:"topic"`
	Payload interface{} `json:"payload"`
}

const pongWait = 60 * time.Second

// serveWS upgrades the connection, subscribes it to every Event Bus
// topic with no replay (spec §6), and relays events until the client
// disconnects. A second goroutine drains client frames (heartbeats)
// so the read side of the TCP connection is serviced and a closed
// connection is detected promptly.
func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	events, unsubscribe := h.bus.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(wireEvent{Topic: evt.Topic, Payload: evt.Payload}); err != nil {
				return
			}
		}
	}
}
