package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestStatusPushBroadcastReachesSubscriber(t *testing.T) {
	hub := NewStatusPushService(nil)
	server := httptest.NewServer(http.HandlerFunc(hub.HandleConnection))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	// Wait for the hub to register the connection.
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Broadcast(StatusEvent{Kind: "mint", ID: "r1", Status: "minted", TxHash: "0xabc"})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var event StatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("event is not JSON: %v", err)
	}
	if event.Kind != "mint" || event.ID != "r1" || event.Status != "minted" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Timestamp.IsZero() {
		t.Fatal("timestamp not stamped on broadcast")
	}
}

func TestStatusPushDropsDisconnectedSubscriber(t *testing.T) {
	hub := NewStatusPushService(nil)
	server := httptest.NewServer(http.HandlerFunc(hub.HandleConnection))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()

	deadline = time.Now().Add(2 * time.Second)
	for hub.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("disconnected subscriber never dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStatusPushBroadcastWithoutSubscribers(t *testing.T) {
	hub := NewStatusPushService(nil)
	// Must not block or panic.
	hub.Broadcast(StatusEvent{Kind: "redeem", ID: "r2", Status: "completed"})
	if hub.SubscriberCount() != 0 {
		t.Fatal("phantom subscriber")
	}
}
