package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	defaults "github.com/xtxerr/catwatch/config"
	"github.com/xtxerr/catwatch/internal/types"
)

// Event names of the live feed.
const (
	EventConnect    = "connect"
	EventSensorData = "sensor_data"
)

// pongWait is how long a client may stay silent, pongs included.
const pongWait = 2 * defaults.DefaultWSPingInterval

// Event is one WebSocket frame.
type Event struct {
	Event string         `json:"event"`
	Data  *types.Reading `json:"data,omitempty"`
}

// GET /ws
func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	if a.deps.Broadcaster == nil {
		writeError(w, http.StatusServiceUnavailable, "live feed unavailable")
		return
	}

	// The session is counted under wsMu so Close cannot slip between the
	// shutdown check and the Add.
	a.wsMu.Lock()
	select {
	case <-a.shutdown:
		a.wsMu.Unlock()
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	default:
	}
	a.wsWG.Add(1)
	a.wsMu.Unlock()

	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.wsWG.Done()
		// Upgrade already replied to the client.
		a.log.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	go a.serveWS(conn, r.RemoteAddr)
}

// serveWS pushes readings to one client until it leaves, a write fails or
// the API closes. The client's own messages are read and discarded.
func (a *API) serveWS(conn *websocket.Conn, remote string) {
	defer a.wsWG.Done()

	sub := a.deps.Broadcaster.Subscribe("ws")
	log := a.log.With("subscriber", sub.ID(), "remote", remote)

	a.wsActive.Add(1)
	a.wsTotal.Add(1)
	log.Info("websocket client connected")

	defer func() {
		a.deps.Broadcaster.Unsubscribe(sub)
		conn.Close()
		a.wsActive.Add(-1)
		log.Info("websocket client disconnected", "dropped", sub.Dropped())
	}()

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := a.writeEvent(conn, Event{Event: EventConnect}); err != nil {
		return
	}

	ping := time.NewTicker(defaults.DefaultWSPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-a.shutdown:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(defaults.DefaultWSWriteTimeout)); err != nil {
				return
			}
		case r, ok := <-sub.C():
			if !ok {
				return
			}
			if err := a.writeEvent(conn, Event{Event: EventSensorData, Data: &r}); err != nil {
				log.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}

func (a *API) writeEvent(conn *websocket.Conn, ev Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(defaults.DefaultWSWriteTimeout))
	return conn.WriteJSON(ev)
}

// WebSocketStats returns the active and total WebSocket session counts.
func (a *API) WebSocketStats() (active, total int64) {
	return a.wsActive.Load(), a.wsTotal.Load()
}
