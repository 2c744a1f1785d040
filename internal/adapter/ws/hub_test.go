package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func dial(t *testing.T, srv *httptest.Server, hub *Hub, query string) *websocket.Conn {
	t.Helper()
	before := hub.ConnectionCount()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.CloseNow() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() == before {
		if time.Now().After(deadline) {
			t.Fatal("connection was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return c
}

func read(t *testing.T, c *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func TestHubProjectFilter(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()
	defer hub.Close()

	scoped := dial(t, srv, hub, "?project_id=p1")
	all := dial(t, srv, hub, "")

	ctx := context.Background()
	hub.BroadcastEvent(ctx, "hitl.created", map[string]string{"project_id": "p2", "id": "r2"})
	hub.BroadcastEvent(ctx, "hitl.created", map[string]string{"project_id": "p1", "id": "r1"})

	// The scoped client skips p2 and sees p1 first.
	msg := read(t, scoped)
	if msg.Type != "hitl.created" || !strings.Contains(string(msg.Payload), `"r1"`) {
		t.Errorf("scoped client got %s %s", msg.Type, msg.Payload)
	}
	first, second := read(t, all), read(t, all)
	if !strings.Contains(string(first.Payload), `"r2"`) || !strings.Contains(string(second.Payload), `"r1"`) {
		t.Errorf("unscoped client got %s then %s", first.Payload, second.Payload)
	}
}

func TestHubDropsClosedConnections(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	c := dial(t, srv, hub, "")
	_ = c.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("closed connection was not removed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastWithoutClients(t *testing.T) {
	hub := NewHub(nil)
	hub.BroadcastEvent(context.Background(), "gate.evaluated", map[string]string{"gate_id": "g1"})
	hub.BroadcastEvent(context.Background(), "bad", make(chan int))
}
