package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialTestHub(t *testing.T, hub *Hub) *gws.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		HandleWebSocket(hub, w, r)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := gws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestBroadcastJobUpdateReachesClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	conn := dialTestHub(t, hub)

	// Registration races the broadcast; give the hub a moment.
	time.Sleep(50 * time.Millisecond)

	BroadcastJobUpdate(hub, map[string]string{"id": "AB12CD34", "state": "running"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "job_update", msg.Type)
	assert.Equal(t, "AB12CD34", msg.Data["id"])
	assert.Equal(t, "running", msg.Data["state"])
}

func TestBroadcastToMultipleClients(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	a := dialTestHub(t, hub)
	b := dialTestHub(t, hub)
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast([]byte(`{"type":"job_update"}`))

	for _, conn := range []*gws.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"job_update"}`, string(data))
	}
}
