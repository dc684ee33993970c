package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	b := NewBroadcaster(nil, "test:events")
	upgrader := websocket.Upgrader{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade error: %v", err)
			return
		}
		b.Add(conn)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()

	waitForSubscribers(t, b, 1)

	b.Publish(context.Background(), AttendanceUpdated, map[string]any{
		"studentId": "abc",
		"date":      "2026-02-10",
		"status":    "absent",
		"hour":      3,
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	var event struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.Type != AttendanceUpdated {
		t.Fatalf("expected %s, got %s", AttendanceUpdated, event.Type)
	}
	if event.Data["studentId"] != "abc" {
		t.Fatalf("unexpected payload: %v", event.Data)
	}
}

func TestRemoveDropsSubscriber(t *testing.T) {
	b := NewBroadcaster(nil, "test:events")
	upgrader := websocket.Upgrader{}

	var serverConn *websocket.Conn
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade error: %v", err)
			return
		}
		serverConn = conn
		b.Add(conn)
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()

	waitForSubscribers(t, b, 1)
	b.Remove(serverConn)
	if b.Subscribers() != 0 {
		t.Fatalf("expected 0 subscribers, got %d", b.Subscribers())
	}
	// Publishing with no subscribers must not panic or block.
	b.Publish(context.Background(), DaySaved, map[string]string{"date": "2026-02-10"})
}

func waitForSubscribers(t *testing.T, b *Broadcaster, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.Subscribers() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d subscribers, got %d", want, b.Subscribers())
}
