package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/mutulens/pkg/logger"
)

func TestHub(t *testing.T) {
	hub := NewHub(logger.NewTestLogger())
	go hub.Run()
	defer hub.Stop()

	client := &Client{hub: hub, send: make(chan []byte, 1)}
	hub.register <- client
	assert.Equal(t, 1, hub.Clients())

	hub.Broadcast([]byte("hello"))
	select {
	case received := <-client.send:
		assert.Equal(t, "hello", string(received))
	case <-time.After(time.Second):
		t.Fatal("client did not receive broadcast")
	}

	hub.unregister <- client
	assert.Equal(t, 0, hub.Clients())
	_, open := <-client.send
	assert.False(t, open)
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := NewHub(logger.NewTestLogger())
	go hub.Run()
	defer hub.Stop()

	client := &Client{hub: hub, send: make(chan []byte)}
	hub.register <- client
	hub.Broadcast([]byte("nobody is reading"))

	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServeWS(t *testing.T) {
	hub := NewHub(logger.NewTestLogger())
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)
	hub.Broadcast([]byte(`{"type":"cleared"}`))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"cleared"}`, string(msg))
}
