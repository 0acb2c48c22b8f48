//go:build unit

package wsfeed

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/emergingrobotics/go-vpipe/pkg/meta"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(4, zaptest.NewLogger(t).Sugar())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	summary := NewSummary("run-1", 0, 42, []meta.DetectionTarget{
		{Left: 1, Top: 2, Width: 3, Height: 4, Label: "uav", Score: 0.75},
	})
	msg, err := summary.Encode()
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Broadcast(msg))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)

	var got Summary
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, summary, got)
	assert.Equal(t, uint64(1), hub.Sent())
}

func TestHubForgetsDisconnectedClients(t *testing.T) {
	hub := NewHub(4, zaptest.NewLogger(t).Sugar())
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubDropsForSlowClients(t *testing.T) {
	hub := NewHub(1, nil)
	slow := &client{send: make(chan []byte, 1)}
	require.True(t, hub.register(slow))

	assert.Equal(t, 1, hub.Broadcast([]byte("a")))
	assert.Equal(t, 0, hub.Broadcast([]byte("b")))
	assert.Equal(t, uint64(1), hub.Dropped())
	assert.Equal(t, []byte("a"), <-slow.send)
}

func TestHubCloseRefusesClients(t *testing.T) {
	hub := NewHub(1, nil)
	c := &client{send: make(chan []byte, 1)}
	require.True(t, hub.register(c))
	require.NoError(t, hub.Close())

	_, open := <-c.send
	assert.False(t, open)
	assert.False(t, hub.register(&client{send: make(chan []byte)}))
	assert.Equal(t, 0, hub.Broadcast([]byte("x")))
}

func TestSummaryOfNoTargets(t *testing.T) {
	msg, err := NewSummary("r", 2, 7, nil).Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"run_id":"r","channel":2,"frame":7,"targets":[]}`, string(msg))
}
