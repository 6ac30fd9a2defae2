package websocket

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// 房间前缀
const (
	userRoomPrefix   = "user:"
	publicRoomPrefix = "public:"
)

// 推送事件名
const (
	EventConnected       = "connected"
	EventNotificationNew = "notification:new"
	EventRepairUpdate    = "repair:update"
)

// UserRoom 用户房间名
func UserRoom(userID string) string {
	return userRoomPrefix + userID
}

// PublicRoom 公开查询房间名
func PublicRoom(token string) string {
	return publicRoomPrefix + token
}

// IsPublicRoom 匿名客户端只能加入公开查询房间
func IsPublicRoom(room string) bool {
	return strings.HasPrefix(room, publicRoomPrefix) && len(room) > len(publicRoomPrefix)
}

// Message 推送给客户端的消息
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// Hub 管理所有 WebSocket 连接和房间
type Hub struct {
	// 已注册的客户端
	clients map[*Client]bool

	// 房间到客户端的索引
	rooms map[string]map[*Client]bool

	// 广播消息到所有客户端
	Broadcast chan []byte

	// 注册新客户端
	Register chan *Client

	// 注销客户端
	Unregister chan *Client

	logger logrus.FieldLogger
	mu     sync.RWMutex
	done   chan struct{}
	once   sync.Once
}

// NewHub 创建新的 Hub
func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan []byte),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Run 运行 Hub,直到 Stop 被调用
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return

		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client] = true
			for room := range client.rooms {
				h.joinLocked(client, room)
			}
			h.mu.Unlock()

		case client := <-h.Unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()

		case message := <-h.Broadcast:
			h.mu.Lock()
			for client := range h.clients {
				h.sendLocked(client, message)
			}
			h.mu.Unlock()
		}
	}
}

// Stop 停止 Hub
func (h *Hub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// Join 客户端加入房间
func (h *Hub) Join(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	h.joinLocked(client, room)
}

// Leave 客户端离开房间
func (h *Hub) Leave(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(client.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Emit 向房间内的客户端推送事件,返回送达的客户端数
func (h *Hub) Emit(room, event string, data interface{}) int {
	payload, err := encodeMessage(event, data)
	if err != nil {
		h.logger.WithError(err).WithField("event", event).Error("failed to encode realtime message")
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for client := range h.rooms[room] {
		if h.sendLocked(client, payload) {
			delivered++
		}
	}
	return delivered
}

// EmitToUser 向用户的所有连接推送事件
func (h *Hub) EmitToUser(userID, event string, data interface{}) int {
	return h.Emit(UserRoom(userID), event, data)
}

// EmitToTracking 向公开查询房间推送事件
func (h *Hub) EmitToTracking(token, event string, data interface{}) int {
	if token == "" {
		return 0
	}
	return h.Emit(PublicRoom(token), event, data)
}

// HasClient 检查客户端是否存在
func (h *Hub) HasClient(clientID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if client.ID == clientID {
			return true
		}
	}
	return false
}

// GetClientCount 获取客户端数量
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// RoomSize 房间内客户端数量
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[room])
}

func (h *Hub) joinLocked(client *Client, room string) {
	client.rooms[room] = true
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]bool)
		h.rooms[room] = members
	}
	members[client] = true
}

// sendLocked 发送队列满的客户端直接断开
func (h *Hub) sendLocked(client *Client, message []byte) bool {
	select {
	case client.Send <- message:
		return true
	default:
		h.logger.WithField("client_id", client.ID).Warn("websocket client too slow, disconnecting")
		h.removeLocked(client)
		return false
	}
}

func (h *Hub) removeLocked(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for room := range client.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	close(client.Send)
}

func encodeMessage(event string, data interface{}) ([]byte, error) {
	return json.Marshal(Message{Event: event, Data: data})
}
