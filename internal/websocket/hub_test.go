package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/logger"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(nil, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func TestHubPushesBars(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	bar := models.Bar{Symbol: "GC", TimeClose: time.Date(2024, 3, 12, 17, 1, 0, 0, time.UTC), Close: 2500.5, TFSeconds: 60}
	if err := hub.PublishBar(context.Background(), bar); err != nil {
		t.Fatal(err)
	}

	msg := read(t, conn)
	if msg.Type != TypeBar || msg.Symbol != "GC" {
		t.Fatalf("message = %+v", msg)
	}
	raw, _ := json.Marshal(msg.Data)
	var got models.Bar
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	if got.Close != 2500.5 {
		t.Fatalf("bar close = %v", got.Close)
	}
}

func TestHubFiltersBySubscription(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url+"?symbols=si", 1)

	ctx := context.Background()
	hub.PublishDecision(ctx, models.DecisionEvent{Symbol: "GC"})
	hub.PublishDecision(ctx, models.DecisionEvent{Symbol: "SI"})

	msg := read(t, conn)
	if msg.Type != TypeDecision || msg.Symbol != "SI" {
		t.Fatalf("first delivered message = %+v, want the SI decision", msg)
	}
}

func TestHubAnswersPing(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatal(err)
	}
	if msg := read(t, conn); msg.Type != TypePong {
		t.Fatalf("message = %+v", msg)
	}
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, hub, url, 1)
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ConnectionCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connections = %d after close", hub.ConnectionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://desk.example"})
	req := httptest.NewRequest("GET", "/ws", nil)
	if !check(req) {
		t.Fatal("requests without Origin are allowed")
	}
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Fatal("foreign origin accepted")
	}
	req.Header.Set("Origin", "https://desk.example")
	if !check(req) {
		t.Fatal("allowed origin rejected")
	}
	if !originChecker([]string{"*"})(req) {
		t.Fatal("wildcard rejected")
	}
}
