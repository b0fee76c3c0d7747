package websocket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/metavida/wellness-automation/internal/engine"
)

func setupTestHub(t *testing.T) *Hub {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	hub := NewHub(logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func connectWS(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to connect WebSocket: %v", err)
	}

	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", want, hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readActivity(t *testing.T, conn *websocket.Conn) engine.Activity {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read message: %v", err)
	}
	var a engine.Activity
	if err := json.Unmarshal(message, &a); err != nil {
		t.Fatalf("decoding activity %s: %v", message, err)
	}
	return a
}

func TestHub_ClientConnects(t *testing.T) {
	hub := setupTestHub(t)

	conn, cleanup := connectWS(t, hub)
	defer cleanup()
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_NotifyReachesClient(t *testing.T) {
	hub := setupTestHub(t)

	conn, cleanup := connectWS(t, hub)
	defer cleanup()
	waitForClients(t, hub, 1)

	hub.Notify(engine.Activity{
		Type:       engine.ActivityStepExecuted,
		EventID:    42,
		EventType:  "USUARIO_CRIADO",
		JourneyID:  3,
		UserID:     7,
		ActionType: "SEND_EMAIL",
	})

	a := readActivity(t, conn)
	if a.Type != engine.ActivityStepExecuted || a.EventID != 42 || a.UserID != 7 {
		t.Errorf("unexpected activity %+v", a)
	}
	if a.Timestamp.IsZero() {
		t.Error("activity should be timestamped")
	}
}

func TestHub_MultipleClients(t *testing.T) {
	hub := setupTestHub(t)

	conn1, cleanup1 := connectWS(t, hub)
	defer cleanup1()
	conn2, cleanup2 := connectWS(t, hub)
	defer cleanup2()
	waitForClients(t, hub, 2)

	hub.Notify(engine.Activity{Type: engine.ActivityDispatchCompleted})

	for i, conn := range []*websocket.Conn{conn1, conn2} {
		if a := readActivity(t, conn); a.Type != engine.ActivityDispatchCompleted {
			t.Errorf("client %d got %q", i+1, a.Type)
		}
	}
}

func TestHub_NotifyWithoutClientsDoesNotBlock(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	hub := NewHub(logger)

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*2; i++ {
			hub.Notify(engine.Activity{Type: engine.ActivityEventProcessed})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked with no hub loop running")
	}
}

func TestHub_StopDisconnectsClients(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	conn, cleanup := connectWS(t, hub)
	defer cleanup()
	waitForClients(t, hub, 1)

	cancel()
	waitForClients(t, hub, 0)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}
}
