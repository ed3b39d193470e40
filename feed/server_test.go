package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"

	"peerlink/models"
)

func TestEventStreamDeliversJSON(t *testing.T) {
	hub := NewHub()
	server := httptest.NewServer(Handler(hub, zaptest.NewLogger(t)))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + EventsPath
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial feed: %v", err)
	}
	defer conn.Close()

	waitForSubscribers(t, hub, 1)
	hub.PublishMessage(models.Message{
		MessageID: "m1",
		PeerID:    "AA:BB",
		Body:      "hello",
		Transport: models.TransportRadio,
		Status:    models.StatusSent,
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got struct {
		Type      EventType        `json:"type"`
		Transport models.Transport `json:"transport"`
		Data      models.Message   `json:"data"`
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.Type != EventMessage || got.Transport != models.TransportRadio || got.Data.Body != "hello" {
		t.Fatalf("unexpected event %+v", got)
	}

	_ = conn.Close()
	waitForSubscribers(t, hub, 0)
}

func TestEventStreamRejectsPlainHTTP(t *testing.T) {
	server := httptest.NewServer(Handler(NewHub(), zaptest.NewLogger(t)))
	defer server.Close()

	resp, err := http.Get(server.URL + EventsPath)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without upgrade, got %d", resp.StatusCode)
	}

	resp, err = http.Post(server.URL+EventsPath, "text/plain", nil)
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for POST, got %d", resp.StatusCode)
	}
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Len() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d subscribers, got %d", want, hub.Len())
}
