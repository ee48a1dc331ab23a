package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-dashboard/internal/service"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = (eventsPongWait * 9) / 10
)

// stateEvent is the message pushed to event stream clients.
type stateEvent struct {
	Type string        `json:"type"`
	Data stateResponse `json:"data"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// GetEvents handles GET /api/events. The connection receives the current state and then
// every subsequent state change. Intermediate states may be dropped in favor of the latest.
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	logger := loggerFromRequest(r)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, unsubscribe := h.sync.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	go readEvents(conn, closed)

	if err := h.sendState(conn, h.sync.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(eventsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case st, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(eventsWriteWait))
				return
			}
			if err := h.sendState(conn, st); err != nil {
				logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) sendState(conn *websocket.Conn, st service.State) error {
	_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
	return conn.WriteJSON(stateEvent{Type: "state", Data: h.buildState(st)})
}

// readEvents discards client messages and closes done when the peer goes away.
func readEvents(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
