package realtime

import (
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Serve runs a connection over ws until either side closes it. It blocks
// until the read side is done.
func (h *Hub) Serve(ws *websocket.Conn) {
	c := h.Connect()
	go h.writePump(ws, c)
	h.readPump(ws, c)
}

func (h *Hub) readPump(ws *websocket.Conn, c *Connection) {
	defer func() {
		h.Disconnect(c)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", zap.String("conn_id", c.ID().String()), zap.Error(err))
			}
			return
		}
		ws.SetReadDeadline(time.Now().Add(pongWait))
		h.HandleFrame(c, frame)
	}
}

// writePump is the only writer on ws. Each queued frame goes out as its
// own text message.
func (h *Hub) writePump(ws *websocket.Conn, c *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case frame := <-c.Outbound():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.Disconnect(c)
				return
			}

		case <-c.Done():
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.Disconnect(c)
				return
			}
		}
	}
}
