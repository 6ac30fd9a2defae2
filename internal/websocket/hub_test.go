package websocket

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaWS "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func register(t *testing.T, hub *Hub, id, userID string, rooms ...string) *Client {
	t.Helper()
	client := NewClient(id, userID, hub, nil)
	for _, room := range rooms {
		client.rooms[room] = true
	}
	hub.Register <- client
	require.Eventually(t, func() bool { return hub.HasClient(id) }, time.Second, 5*time.Millisecond)
	return client
}

func receive(t *testing.T, client *Client) Message {
	t.Helper()
	select {
	case raw := <-client.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func TestRoomNames(t *testing.T) {
	assert.Equal(t, "user:u1", UserRoom("u1"))
	assert.Equal(t, "public:abc", PublicRoom("abc"))
	assert.True(t, IsPublicRoom("public:abc"))
	assert.False(t, IsPublicRoom("public:"))
	assert.False(t, IsPublicRoom("user:u1"))
}

func TestHub_EmitToUser(t *testing.T) {
	hub := newTestHub(t)
	alice := register(t, hub, "c1", "alice")
	bob := register(t, hub, "c2", "bob")

	assert.Equal(t, 1, hub.EmitToUser("alice", EventNotificationNew, map[string]string{"message": "hi"}))
	msg := receive(t, alice)
	assert.Equal(t, EventNotificationNew, msg.Event)
	assert.Len(t, bob.Send, 0)

	assert.Equal(t, 0, hub.EmitToUser("nobody", EventNotificationNew, nil))
}

func TestHub_PublicRooms(t *testing.T) {
	hub := newTestHub(t)
	guest := register(t, hub, "g1", "")
	assert.Equal(t, 0, hub.RoomSize(UserRoom("")))

	guest.handle([]byte(`{"action":"join","room":"public:tok"}`))
	// 匿名客户端不能加入用户房间
	guest.handle([]byte(`{"action":"join","room":"user:alice"}`))
	guest.handle([]byte(`not json`))
	assert.Equal(t, 1, hub.RoomSize(PublicRoom("tok")))
	assert.Equal(t, 0, hub.RoomSize(UserRoom("alice")))

	assert.Equal(t, 1, hub.EmitToTracking("tok", EventRepairUpdate, map[string]string{"status": "completed"}))
	assert.Equal(t, EventRepairUpdate, receive(t, guest).Event)
	assert.Equal(t, 0, hub.EmitToTracking("", EventRepairUpdate, nil))

	guest.handle([]byte(`{"action":"leave","room":"public:tok"}`))
	assert.Equal(t, 0, hub.RoomSize(PublicRoom("tok")))
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	hub := newTestHub(t)
	client := register(t, hub, "c1", "alice", PublicRoom("tok"))
	assert.Equal(t, 1, hub.GetClientCount())

	hub.Unregister <- client
	require.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-client.Send
	assert.False(t, ok)
	assert.Equal(t, 0, hub.RoomSize(PublicRoom("tok")))
	assert.Equal(t, 0, hub.RoomSize(UserRoom("alice")))
}

func TestHub_SlowClientDisconnected(t *testing.T) {
	hub := newTestHub(t)
	client := register(t, hub, "c1", "alice")
	for i := 0; i < cap(client.Send); i++ {
		client.Send <- []byte("{}")
	}

	assert.Equal(t, 0, hub.EmitToUser("alice", EventNotificationNew, nil))
	assert.False(t, hub.HasClient("c1"))
}

func TestHub_Broadcast(t *testing.T) {
	hub := newTestHub(t)
	a := register(t, hub, "c1", "alice")
	b := register(t, hub, "c2", "")

	hub.Broadcast <- []byte(`{"event":"ping"}`)
	assert.Equal(t, "ping", receive(t, a).Event)
	assert.Equal(t, "ping", receive(t, b).Event)
}

type stubValidator map[string]string

func (s stubValidator) UserIDFromToken(token string) (string, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return "", errors.New("invalid token")
}

func TestWebSocketHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := newTestHub(t)
	router := gin.New()
	router.GET("/ws", WebSocketHandler(hub, stubValidator{"good": "alice"}, Upgrader(nil)))
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=good"
	conn, _, err := gorillaWS.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var hello Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, EventConnected, hello.Event)

	require.Eventually(t, func() bool { return hub.RoomSize(UserRoom("alice")) == 1 }, time.Second, 10*time.Millisecond)
	hub.EmitToUser("alice", EventNotificationNew, map[string]string{"message": "New repair #1"})

	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventNotificationNew, msg.Event)

	// 无效令牌降级为匿名连接
	guestURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?token=bad&tracking=tok"
	guest, _, err := gorillaWS.DefaultDialer.Dial(guestURL, nil)
	require.NoError(t, err)
	defer guest.Close()
	require.Eventually(t, func() bool { return hub.RoomSize(PublicRoom("tok")) == 1 }, time.Second, 10*time.Millisecond)
}

func TestUpgrader_CheckOrigin(t *testing.T) {
	up := Upgrader([]string{"https://shop.example"})
	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, up.CheckOrigin(req))
	req.Header.Set("Origin", "https://shop.example")
	assert.True(t, up.CheckOrigin(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, up.CheckOrigin(req))
	assert.True(t, Upgrader([]string{"*"}).CheckOrigin(req))
}
