package sync

import (
	"bufio"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestTCPSubscriberReceivesBroadcast(t *testing.T) {
	hub := NewHub()
	srv := NewServer("127.0.0.1:0", hub)
	done := make(chan error, 1)
	go func() { done <- srv.Run() }()
	waitFor(t, func() bool { return srv.ListenAddr() != nil })

	conn, err := net.Dial("tcp", srv.ListenAddr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	rd := bufio.NewReader(conn)

	welcome, err := rd.ReadString('\n')
	if err != nil || !strings.Contains(welcome, `"welcome"`) {
		t.Fatalf("expected welcome, got %q (%v)", welcome, err)
	}
	waitFor(t, func() bool { return hub.Stats().TCPClients == 1 })

	hub.BroadcastJSON(RatingEvent{Type: EventReviewCreated, BookID: "b1", AverageRating: 4.5, TotalReviews: 2})

	line, err := rd.ReadString('\n')
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev RatingEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != EventReviewCreated || ev.BookID != "b1" || ev.AverageRating != 4.5 || ev.TotalReviews != 2 {
		t.Fatalf("unexpected event %+v", ev)
	}

	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v after close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not return after close")
	}
}

func TestWebsocketSubscriberReceivesBroadcast(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	r := gin.New()
	r.GET("/ws", WSHandler(hub, []string{"http://localhost:5173"}))
	ts := httptest.NewServer(r)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	if _, msg, err := ws.ReadMessage(); err != nil || !strings.Contains(string(msg), "welcome") {
		t.Fatalf("expected welcome, got %q (%v)", msg, err)
	}
	waitFor(t, func() bool { return hub.Stats().WSClients == 1 })

	hub.BroadcastJSON(BookEvent{Type: EventBookDeleted, BookID: "b9"})
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev BookEvent
	if err := json.Unmarshal(msg, &ev); err != nil || ev.Type != EventBookDeleted || ev.BookID != "b9" {
		t.Fatalf("unexpected event %s (%v)", msg, err)
	}
}

func TestWebsocketRejectsUnknownOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", WSHandler(NewHub(), []string{"http://localhost:5173"}))
	ts := httptest.NewServer(r)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %+v", resp)
	}
}

func TestNilHubIsNoop(t *testing.T) {
	var hub *Hub
	hub.BroadcastJSON(BookEvent{Type: EventBookCreated})
	hub.Publish(BookEvent{Type: EventBookCreated})
}

func TestPublishPreservesOrder(t *testing.T) {
	hub := NewHub()
	server, client := net.Pipe()
	defer client.Close()
	hub.Add(server)
	defer hub.Remove(server)

	const n = 200
	got := make(chan []int, 1)
	go func() {
		_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
		sc := bufio.NewScanner(client)
		var seen []int
		for len(seen) < n && sc.Scan() {
			var ev RatingEvent
			if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
				break
			}
			seen = append(seen, ev.TotalReviews)
		}
		got <- seen
	}()

	for i := 0; i < n; i++ {
		hub.Publish(RatingEvent{Type: EventReviewCreated, BookID: "b1", TotalReviews: i})
	}

	seen := <-got
	if len(seen) != n {
		t.Fatalf("received %d of %d events", len(seen), n)
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("event %d carried totalReviews=%d", i, v)
		}
	}
}

func TestStalledSubscriberIsDropped(t *testing.T) {
	hub := NewHub()
	server, client := net.Pipe()
	defer client.Close()
	// nobody reads from client, so the first write blocks
	hub.Add(server)

	start := time.Now()
	for i := 0; i < sendQueue+10; i++ {
		hub.Publish(BookEvent{Type: EventBookUpdated, BookID: "b1"})
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("publish waited on a stalled subscriber for %s", elapsed)
	}
	if got := hub.Stats().TCPClients; got != 0 {
		t.Fatalf("expected stalled subscriber to be dropped, still have %d", got)
	}
	hub.Remove(server)
}
