package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/robotpi-teleop/internal/logging"
)

func TestHubRoutesAndBroadcasts(t *testing.T) {
	hub := NewHub(func(c *Client, msg []byte) {
		if string(msg) == "login" {
			c.SetAuthenticated(true)
			c.SendJSON(map[string]string{"type": "ok"})
		}
	}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	authed, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer authed.Close()
	guest, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer guest.Close()

	if err := authed.WriteMessage(websocket.TextMessage, []byte("login")); err != nil {
		t.Fatal(err)
	}
	_ = authed.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, msg, err := authed.ReadMessage(); err != nil || !strings.Contains(string(msg), "ok") {
		t.Fatalf("expected ok reply, got %q %v", msg, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 clients, got %d", hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.BroadcastJSON(map[string]string{"type": "battery"})
	if _, msg, err := authed.ReadMessage(); err != nil || !strings.Contains(string(msg), "battery") {
		t.Fatalf("expected broadcast, got %q %v", msg, err)
	}

	_ = guest.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, msg, err := guest.ReadMessage(); err == nil {
		t.Errorf("guest should not receive broadcasts, got %q", msg)
	}
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub(nil, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
}
