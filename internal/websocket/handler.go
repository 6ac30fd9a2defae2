package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaWS "github.com/gorilla/websocket"
)

// TokenValidator 解析访问令牌得到用户 ID
type TokenValidator interface {
	UserIDFromToken(token string) (string, error)
}

// Upgrader 可替换的连接升级器,allowedOrigins 为空或包含 "*" 时不检查 Origin
func Upgrader(allowedOrigins []string) *gorillaWS.Upgrader {
	allowAll := len(allowedOrigins) == 0
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return &gorillaWS.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return allowAll || origin == "" || allowed[origin]
		},
	}
}

// WebSocketHandler WebSocket 处理器
// 令牌缺失或无效时按匿名客户端处理,匿名客户端只能加入公开查询房间
func WebSocketHandler(hub *Hub, validator TokenValidator, upgrader *gorillaWS.Upgrader) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := ""
		if token := c.Query("token"); token != "" && validator != nil {
			if id, err := validator.UserIDFromToken(token); err == nil {
				userID = id
			} else {
				hub.logger.WithError(err).Debug("websocket token rejected, connecting as guest")
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			hub.logger.WithError(err).Warn("failed to upgrade websocket connection")
			return
		}

		client := NewClient(uuid.New().String(), userID, hub, conn)
		if tracking := c.Query("tracking"); tracking != "" {
			client.rooms[PublicRoom(tracking)] = true
		}

		if hello, err := encodeMessage(EventConnected, gin.H{"ok": true, "id": client.ID}); err == nil {
			client.Send <- hello
		}

		hub.Register <- client

		go client.WritePump()
		go client.ReadPump()
	}
}
