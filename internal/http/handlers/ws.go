package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"partner_portal/internal/auth"
	"partner_portal/internal/realtime"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  8192,
	WriteBufferSize: 8192,
	CheckOrigin: func(r *http.Request) bool {
		return true // same-origin deploy behind the portal proxy
	},
}

type wsClientMsg struct {
	Op     string `json:"op"`     // "set_active_chat", "clear_active_chat", "ping"
	ChatID string `json:"chatId"` // for set_active_chat
}

// ChatWS upgrades the connection and bridges it to the realtime hub. The
// client reports which chat it is looking at so the fanout can skip
// notifications for open chats.
func ChatWS(hub *realtime.Hub, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := auth.MustClaims(c)
		if !ok {
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}

		client := hub.Register(claims.UserID)
		log.Info("websocket connected", zap.String("userId", claims.UserID))

		// writer: hub frames out to the socket
		done := make(chan struct{})
		go func() {
			defer close(done)
			for raw := range client.Outbox() {
				if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
					return
				}
			}
		}()

		// reader: client state updates in
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				break
			}
			client.Touch()

			var msg wsClientMsg
			if err := json.Unmarshal(raw, &msg); err != nil {
				continue
			}
			switch msg.Op {
			case "set_active_chat":
				hub.SetActiveChat(client, msg.ChatID)
			case "clear_active_chat":
				hub.SetActiveChat(client, "")
			case "ping":
				// Touch above already refreshed the idle timer
			}
		}

		hub.Unregister(client)
		conn.Close()
		<-done
		log.Info("websocket disconnected", zap.String("userId", claims.UserID))
	}
}
