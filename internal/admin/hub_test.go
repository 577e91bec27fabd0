package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_BroadcastsToConnectedClient(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// give the registration goroutine time to run
	time.Sleep(20 * time.Millisecond)

	hub.Broadcast(Event{Type: "telemetry", Data: map[string]any{"total_hlt": 3}})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var got Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "telemetry", got.Type)
}

func TestHub_BroadcastNonBlockingWhenQueueFull(t *testing.T) {
	hub := NewHub(nil) // Run() not started: nothing drains the channel
	for i := 0; i < cap(hub.broadcast); i++ {
		hub.Broadcast(Event{Type: "telemetry"})
	}
	// one more must not block
	done := make(chan struct{})
	go func() {
		hub.Broadcast(Event{Type: "telemetry"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a full queue")
	}
}
