package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// 写超时时间
	writeWait = 10 * time.Second

	// 读超时时间
	pongWait = 60 * time.Second

	// ping 周期 (必须小于 pongWait)
	pingPeriod = (pongWait * 9) / 10

	// 最大消息大小
	maxMessageSize = 4 * 1024
)

// Client WebSocket 客户端
type Client struct {
	// ID 客户端 ID
	ID string

	// UserID 用户 ID,匿名客户端为空
	UserID string

	// Hub Hub 实例
	Hub *Hub

	// Conn WebSocket 连接
	Conn *websocket.Conn

	// Send 发送消息的 channel
	Send chan []byte

	rooms map[string]bool
}

// command 客户端发来的房间指令
type command struct {
	Action string `json:"action"` // join, leave
	Room   string `json:"room"`
}

// NewClient 创建新的客户端,已登录用户自动加入自己的房间
func NewClient(id string, userID string, hub *Hub, conn *websocket.Conn) *Client {
	c := &Client{
		ID:     id,
		UserID: userID,
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan []byte, 256),
		rooms:  make(map[string]bool),
	}
	if userID != "" {
		c.rooms[UserRoom(userID)] = true
	}
	return c
}

// ReadPump 从 WebSocket 连接读取房间指令
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister <- c
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.WithError(err).WithField("client_id", c.ID).Debug("websocket read error")
			}
			break
		}
		c.handle(data)
	}
}

// handle 只允许加入公开查询房间,用户房间由连接身份决定
func (c *Client) handle(data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return
	}
	if !IsPublicRoom(cmd.Room) {
		return
	}
	switch cmd.Action {
	case "join":
		c.Hub.Join(c, cmd.Room)
	case "leave":
		c.Hub.Leave(c, cmd.Room)
	}
}

// WritePump 向 WebSocket 连接写入消息
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了 channel
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// 每条消息单独成帧,客户端按 JSON 解析
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
