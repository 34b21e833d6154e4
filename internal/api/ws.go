package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"courieropt/internal/model"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
	wsWriteWait  = 10 * time.Second
)

type wsMessage struct {
	Type    string               `json:"type"`
	OrderID string               `json:"orderId,omitempty"`
	Event   *model.LocationEvent `json:"event,omitempty"`
}

// LocationWSHandler handles GET /v1/orders/{id}/location/ws: it streams the
// order's partner location events until the client goes away.
func (s *Server) LocationWSHandler(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("id")
	if _, err := s.Store.GetOrder(r.Context(), orderID); err != nil {
		writeError(w, r, "Order not found", err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	events, cancel := s.Tracker.Subscribe(orderID)
	defer cancel()

	// The read loop only serves pongs and notices the close.
	closed := make(chan struct{})
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(m wsMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(m)
	}
	if err := write(wsMessage{Type: "subscribed", OrderID: orderID}); err != nil {
		return
	}
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case evt, ok := <-events:
			if !ok {
				_ = write(wsMessage{Type: "complete", OrderID: orderID})
				return
			}
			if err := write(wsMessage{Type: "location", OrderID: orderID, Event: &evt}); err != nil {
				s.log.Debug("ws write", zap.String("order", orderID), zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
