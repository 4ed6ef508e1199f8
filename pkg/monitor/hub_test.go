package monitor

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harunnryd/callscribe/pkg/metrics"
)

func dial(t *testing.T, h *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(h)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if h.Clients() != 1 {
		t.Fatalf("client did not register")
	}
	return conn, func() {
		_ = conn.Close()
		srv.Close()
	}
}

func TestHubStreamsTransitions(t *testing.T) {
	h := NewHub(Config{})
	defer h.Close()
	conn, cleanup := dial(t, h)
	defer cleanup()

	h.RecordEvent(metrics.Transition("c1", "initiated", "answered", time.Now()))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Name != metrics.EventSessionTransition || msg.Tags["call_id"] != "c1" || msg.Tags["to"] != "answered" {
		t.Fatalf("unexpected message %+v", msg)
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	h := NewHub(Config{})
	conn, cleanup := dial(t, h)
	defer cleanup()

	h.Close()
	if h.Clients() != 0 {
		t.Fatalf("expected no clients after close")
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected connection to be closed")
	}
	h.RecordEvent(metrics.Transition("c1", "initiated", "answered", time.Now()))
}
